package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

// Repository defines the interface for data persistence
type Repository interface {
	Idempotency() IdempotencyRepository
	Audit() AuditRepository

	Close() error
}

// IdempotencyRepository stores idempotency records keyed by (tenant, key)
type IdempotencyRepository interface {
	// Reserve atomically writes rec as a pending reservation. It returns nil
	// when the caller acquired the key, otherwise the live record that holds
	// it. Expired records are replaced.
	Reserve(ctx context.Context, rec *model.IdempotencyRecord) (*model.IdempotencyRecord, error)

	// Complete stores the result on owner's reservation and marks it
	// completed. It returns model.ErrReservationLost without writing when a
	// live record of another owner holds the key.
	Complete(ctx context.Context, tenantID types.TenantID, key types.IdempotencyKey, owner string, result *model.ActionResult, expiresAt time.Time) error

	// Release deletes owner's pending reservation. Completed records and
	// records of other owners are kept.
	Release(ctx context.Context, tenantID types.TenantID, key types.IdempotencyKey, owner string) error

	// Get returns the live record or nil
	Get(ctx context.Context, tenantID types.TenantID, key types.IdempotencyKey) (*model.IdempotencyRecord, error)

	// DeleteExpired removes records that are no longer live at now
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// AuditRepository persists audit records
type AuditRepository interface {
	Put(ctx context.Context, rec *model.AuditRecord) error

	// List returns up to limit records of the tenant, newest first
	List(ctx context.Context, tenantID types.TenantID, limit int) ([]*model.AuditRecord, error)
}
