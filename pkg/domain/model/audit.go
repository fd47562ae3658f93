package model

import (
	"time"

	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

// AuditOutcome is the terminal outcome of an audited request
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
)

// AuditRecord is emitted exactly once per request, whatever the outcome
type AuditRecord struct {
	ID            types.AuditID       `json:"id"`
	Timestamp     time.Time           `json:"timestamp"`
	TenantID      types.TenantID      `json:"tenant_id"`
	CorrelationID types.CorrelationID `json:"correlation_id"`
	Operation     types.Operation     `json:"operation"`
	ActionID      types.ActionID      `json:"action_id,omitempty"`
	Provider      string              `json:"provider,omitempty"`
	Outcome       AuditOutcome        `json:"outcome"`
	CacheHit      bool                `json:"cache_hit"`
	Result        *ActionResult       `json:"result,omitempty"`
	Error         *ActionError        `json:"error,omitempty"`
}

// NewSuccessAudit builds the audit record of a successful request
func NewSuccessAudit(result *ActionResult, cacheHit bool) *AuditRecord {
	rec := &AuditRecord{
		ID:            types.NewAuditID(),
		Timestamp:     time.Now().UTC(),
		TenantID:      result.TenantID,
		CorrelationID: result.CorrelationID,
		Operation:     result.Operation,
		ActionID:      result.ActionID,
		Outcome:       AuditOutcomeSuccess,
		CacheHit:      cacheHit,
		Result:        result,
	}
	if result.Result != nil {
		rec.Provider = result.Result.Provider
	}
	return rec
}

// NewFailureAudit builds the audit record of a failed request
func NewFailureAudit(req *ActionRequest, provider string, actionErr *ActionError) *AuditRecord {
	rec := &AuditRecord{
		ID:            types.NewAuditID(),
		Timestamp:     time.Now().UTC(),
		CorrelationID: actionErr.CorrelationID,
		Provider:      provider,
		Outcome:       AuditOutcomeFailure,
		Error:         actionErr,
	}
	if req != nil {
		rec.TenantID = req.TenantID
		rec.Operation = req.Operation
	}
	return rec
}
