package types

import (
	"context"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// MaxIdentifierLength bounds caller supplied keys and correlation ids
const MaxIdentifierLength = 255

// TenantID identifies the tenant whose provider configuration and credentials apply
type TenantID string

// Validate checks if the TenantID is valid
func (t TenantID) Validate() error {
	if t == "" {
		return goerr.New("tenant ID cannot be empty")
	}
	if !isPrintableASCII(string(t)) || len(t) > MaxIdentifierLength {
		return goerr.New("tenant ID must be printable ASCII up to 255 characters", goerr.V("tenant_id", t))
	}
	return nil
}

// String returns the string representation of TenantID
func (t TenantID) String() string {
	return string(t)
}

// IdempotencyKey is a caller supplied token guarding at-most-once execution
type IdempotencyKey string

// Validate checks the key contract. The empty key is valid and means the
// request is not idempotent.
func (k IdempotencyKey) Validate() error {
	if k == "" {
		return nil
	}
	if len(k) > MaxIdentifierLength {
		return goerr.New("idempotency key exceeds 255 characters", goerr.V("length", len(k)))
	}
	if !isPrintableASCII(string(k)) {
		return goerr.New("idempotency key must be printable ASCII")
	}
	return nil
}

// String returns the string representation of IdempotencyKey
func (k IdempotencyKey) String() string {
	return string(k)
}

// CorrelationID is an opaque tracing token propagated across systems
type CorrelationID string

// NewCorrelationID generates a fresh correlation ID
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

// Validate checks if the CorrelationID is valid. Empty is allowed; the
// pipeline generates one.
func (c CorrelationID) Validate() error {
	if c == "" {
		return nil
	}
	if len(c) > MaxIdentifierLength || !isPrintableASCII(string(c)) {
		return goerr.New("correlation ID must be printable ASCII up to 255 characters")
	}
	return nil
}

// String returns the string representation of CorrelationID
func (c CorrelationID) String() string {
	return string(c)
}

type ctxCorrelationIDKey struct{}

// ContextWithCorrelationID stores the correlation ID in ctx
func ContextWithCorrelationID(ctx context.Context, id CorrelationID) context.Context {
	return context.WithValue(ctx, ctxCorrelationIDKey{}, id)
}

// CorrelationIDFromContext returns the correlation ID stored in ctx, if any
func CorrelationIDFromContext(ctx context.Context) CorrelationID {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxCorrelationIDKey{}).(CorrelationID)
	return id
}

// ActionID identifies one non-cached execution
type ActionID string

// NewActionID generates a new ActionID
func NewActionID() ActionID {
	return ActionID("act_" + uuid.NewString())
}

// String returns the string representation of ActionID
func (a ActionID) String() string {
	return string(a)
}

// AuditID identifies one audit record
type AuditID string

// NewAuditID generates a new AuditID
func NewAuditID() AuditID {
	return AuditID(uuid.NewString())
}

// String returns the string representation of AuditID
func (a AuditID) String() string {
	return string(a)
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
