package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

const (
	// DefaultIdempotencyTTL is the validity window of a completed record
	DefaultIdempotencyTTL = 24 * time.Hour

	// DefaultReservationLease is the lease of a pending reservation when the
	// caller gives none
	DefaultReservationLease = 5 * time.Minute
)

// IdempotencyState is the lifecycle state of an idempotency record
type IdempotencyState string

const (
	IdempotencyStatePending   IdempotencyState = "pending"
	IdempotencyStateCompleted IdempotencyState = "completed"
)

// IdempotencyRecord guards duplicate side effects for (tenant_id, key)
type IdempotencyRecord struct {
	Key            types.IdempotencyKey `json:"key"`
	TenantID       types.TenantID       `json:"tenant_id"`
	Operation      types.Operation      `json:"operation"`
	ParametersHash string               `json:"parameters_hash,omitempty"`
	State          IdempotencyState     `json:"state"`
	StoredResult   *ActionResult        `json:"stored_result,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	ExpiresAt      time.Time            `json:"expires_at"`
	LeaseExpiresAt time.Time            `json:"lease_expires_at,omitempty"`
	// Owner identifies the reservation holder. Complete and Release are
	// refused for any other owner.
	Owner string `json:"owner,omitempty"`
}

// NewPendingRecord builds the reservation written before a provider call.
// The record holds the key for lease, or DefaultReservationLease when lease
// is not positive.
func NewPendingRecord(req *ActionRequest, now time.Time, lease time.Duration) *IdempotencyRecord {
	if lease <= 0 {
		lease = DefaultReservationLease
	}
	return &IdempotencyRecord{
		Key:            req.IdempotencyKey,
		TenantID:       req.TenantID,
		Operation:      req.Operation,
		ParametersHash: HashParameters(req.Parameters),
		State:          IdempotencyStatePending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(DefaultIdempotencyTTL),
		LeaseExpiresAt: now.Add(lease),
		Owner:          uuid.NewString(),
	}
}

// Validate checks the record identity fields
func (r *IdempotencyRecord) Validate() error {
	if r == nil {
		return goerr.Wrap(ErrInvalidRecord, "record is nil")
	}
	if err := r.TenantID.Validate(); err != nil {
		return goerr.Wrap(ErrInvalidRecord, "invalid tenant", goerr.V(TenantIDKey, r.TenantID))
	}
	if r.Key == "" {
		return goerr.Wrap(ErrInvalidRecord, "idempotency key is empty", goerr.V(TenantIDKey, r.TenantID))
	}
	if r.State == IdempotencyStatePending && r.Owner == "" {
		return goerr.Wrap(ErrInvalidRecord, "pending record has no owner", goerr.V(TenantIDKey, r.TenantID))
	}
	return nil
}

// Live reports whether the record still blocks or answers requests at now.
// Completed records live until ExpiresAt, pending ones until their lease ends.
func (r *IdempotencyRecord) Live(now time.Time) bool {
	if r == nil {
		return false
	}
	switch r.State {
	case IdempotencyStateCompleted:
		return now.Before(r.ExpiresAt)
	case IdempotencyStatePending:
		return now.Before(r.LeaseExpiresAt)
	default:
		return false
	}
}

// HeldBy reports whether owner may complete or release the record at now.
// A record whose lease or validity lapsed no longer belongs to anyone else.
func (r *IdempotencyRecord) HeldBy(owner string, now time.Time) bool {
	if r == nil || !r.Live(now) {
		return true
	}
	return r.Owner == owner
}

// Copy returns a deep copy of the record
func (r *IdempotencyRecord) Copy() *IdempotencyRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.StoredResult = r.StoredResult.Copy()
	return &c
}

// HashParameters returns the SHA-256 of the canonical JSON form of params.
// encoding/json sorts map keys, which makes the encoding canonical.
func HashParameters(params map[string]any) string {
	if params == nil {
		params = map[string]any{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
