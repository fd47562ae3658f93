package memory

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

type idempotencyKey struct {
	tenantID types.TenantID
	key      types.IdempotencyKey
}

type idempotencyRepository struct {
	mu      sync.Mutex
	records map[idempotencyKey]*model.IdempotencyRecord
	now     func() time.Time
}

func newIdempotencyRepository() *idempotencyRepository {
	return &idempotencyRepository{
		records: make(map[idempotencyKey]*model.IdempotencyRecord),
		now:     time.Now,
	}
}

func (r *idempotencyRepository) Reserve(ctx context.Context, rec *model.IdempotencyRecord) (*model.IdempotencyRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := idempotencyKey{tenantID: rec.TenantID, key: rec.Key}
	if existing, ok := r.records[key]; ok && existing.Live(r.now()) {
		return existing.Copy(), nil
	}

	r.records[key] = rec.Copy()
	return nil, nil
}

func (r *idempotencyRepository) Complete(ctx context.Context, tenantID types.TenantID, key types.IdempotencyKey, owner string, result *model.ActionResult, expiresAt time.Time) error {
	if result == nil {
		return goerr.Wrap(model.ErrInvalidRecord, "result is nil",
			goerr.V(model.TenantIDKey, tenantID),
			goerr.V(model.IdempotencyKeyKey, key))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := idempotencyKey{tenantID: tenantID, key: key}
	rec, ok := r.records[k]
	if ok && !rec.HeldBy(owner, r.now()) {
		return goerr.Wrap(model.ErrReservationLost, "key was taken over",
			goerr.V(model.TenantIDKey, tenantID),
			goerr.V(model.IdempotencyKeyKey, key))
	}
	if !ok || rec.Owner != owner {
		// The reservation lapsed or was swept while the provider call ran
		rec = &model.IdempotencyRecord{
			Key:       key,
			TenantID:  tenantID,
			Operation: result.Operation,
			CreatedAt: r.now().UTC(),
			Owner:     owner,
		}
		r.records[k] = rec
	}
	rec.State = model.IdempotencyStateCompleted
	rec.StoredResult = result.Copy()
	rec.ExpiresAt = expiresAt
	rec.LeaseExpiresAt = time.Time{}
	return nil
}

func (r *idempotencyRepository) Release(ctx context.Context, tenantID types.TenantID, key types.IdempotencyKey, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := idempotencyKey{tenantID: tenantID, key: key}
	if rec, ok := r.records[k]; ok && rec.State == model.IdempotencyStatePending && rec.Owner == owner {
		delete(r.records, k)
	}
	return nil
}

func (r *idempotencyRepository) Get(ctx context.Context, tenantID types.TenantID, key types.IdempotencyKey) (*model.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := idempotencyKey{tenantID: tenantID, key: key}
	rec, ok := r.records[k]
	if !ok {
		return nil, nil
	}
	if !rec.Live(r.now()) {
		delete(r.records, k)
		return nil, nil
	}
	return rec.Copy(), nil
}

func (r *idempotencyRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for k, rec := range r.records {
		if !rec.Live(now) {
			delete(r.records, k)
			deleted++
		}
	}
	return deleted, nil
}
