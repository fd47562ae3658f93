package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

// ActionRequest is the unit of work submitted by a caller
type ActionRequest struct {
	Operation      types.Operation      `json:"operation"`
	TenantID       types.TenantID       `json:"tenant_id"`
	Parameters     map[string]any       `json:"parameters"`
	IdempotencyKey types.IdempotencyKey `json:"idempotency_key,omitempty"`
	CorrelationID  types.CorrelationID  `json:"correlation_id,omitempty"`
}

// ValidatedRequest is an ActionRequest that passed ValidateRequest, with the
// operation resolved against the catalog
type ValidatedRequest struct {
	Request    ActionRequest
	Capability types.Capability
	Action     string
}

// ActionResult is the canonical success envelope. It is created once per
// non-cached execution and never mutated afterwards.
type ActionResult struct {
	ActionID      types.ActionID      `json:"action_id"`
	CorrelationID types.CorrelationID `json:"correlation_id"`
	TenantID      types.TenantID      `json:"tenant_id"`
	Operation     types.Operation     `json:"operation"`
	Status        types.ActionStatus  `json:"status"`
	DurationMS    int64               `json:"duration_ms"`
	Result        *CanonicalResult    `json:"result"`
	RetryCount    int                 `json:"retry_count"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Copy returns a deep copy of the result
func (r *ActionResult) Copy() *ActionResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Result = r.Result.Copy()
	return &c
}

// CanonicalResult is the provider-normalized payload
type CanonicalResult struct {
	ID         string         `json:"id"`
	Provider   string         `json:"provider"`
	ProviderID string         `json:"provider_id"`
	Data       map[string]any `json:"data"`
}

// Copy returns a copy of the result. Data values are shared; they are
// treated as immutable once normalized.
func (c *CanonicalResult) Copy() *CanonicalResult {
	if c == nil {
		return nil
	}
	out := *c
	if c.Data != nil {
		out.Data = make(map[string]any, len(c.Data))
		for k, v := range c.Data {
			out.Data[k] = v
		}
	}
	return &out
}

// NewCanonicalResult builds a canonical result for provider. When the vendor
// has no native identifier the provider id is derived from the raw body so
// that id, provider and provider_id are never empty.
func NewCanonicalResult(provider, providerID string, raw *RawResponse, data map[string]any) *CanonicalResult {
	if providerID == "" {
		providerID = digestRaw(raw)
	}
	if data == nil {
		data = map[string]any{}
	}
	return &CanonicalResult{
		ID:         provider + "_" + providerID,
		Provider:   provider,
		ProviderID: providerID,
		Data:       data,
	}
}

func digestRaw(raw *RawResponse) string {
	h := sha256.New()
	if raw != nil {
		_, _ = h.Write(raw.Body)
	}
	return "sha256-" + hex.EncodeToString(h.Sum(nil))[:16]
}
