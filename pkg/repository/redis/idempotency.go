package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

// releaseScript deletes the record only while it is still the owner's
// reservation.
// KEYS[1] = record key, ARGV[1] = owner
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
    return 0
end
local rec = cjson.decode(v)
if rec["state"] == "pending" and rec["owner"] == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// completeScript writes the completed record unless another owner holds the
// key. Returns 0 when the key was taken over.
// KEYS[1] = record key, ARGV[1] = owner, ARGV[2] = record, ARGV[3] = ttl ms
var completeScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v then
    local rec = cjson.decode(v)
    if rec["owner"] ~= ARGV[1] then
        return 0
    end
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// reserveRetries bounds the race where a record expires between SET NX and GET
const reserveRetries = 3

type idempotencyRepository struct {
	client *redis.Client
	keys   keySpace
}

// ttlUntil converts an absolute expiry into a positive Redis TTL
func ttlUntil(t time.Time) time.Duration {
	d := time.Until(t)
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}

func (r *idempotencyRepository) Reserve(ctx context.Context, rec *model.IdempotencyRecord) (*model.IdempotencyRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode idempotency record")
	}
	key := r.keys.idempotency(rec.TenantID, rec.Key)

	for i := 0; i < reserveRetries; i++ {
		acquired, err := r.client.SetNX(ctx, key, raw, ttlUntil(rec.LeaseExpiresAt)).Result()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to reserve idempotency key",
				goerr.V(model.TenantIDKey, rec.TenantID),
				goerr.V(model.IdempotencyKeyKey, rec.Key))
		}
		if acquired {
			return nil, nil
		}

		existing, err := r.Get(ctx, rec.TenantID, rec.Key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	return nil, goerr.New("idempotency key kept expiring during reservation",
		goerr.V(model.TenantIDKey, rec.TenantID),
		goerr.V(model.IdempotencyKeyKey, rec.Key))
}

func (r *idempotencyRepository) Complete(ctx context.Context, tenantID types.TenantID, key types.IdempotencyKey, owner string, result *model.ActionResult, expiresAt time.Time) error {
	if result == nil {
		return goerr.Wrap(model.ErrInvalidRecord, "result is nil",
			goerr.V(model.TenantIDKey, tenantID),
			goerr.V(model.IdempotencyKeyKey, key))
	}

	rec, err := r.Get(ctx, tenantID, key)
	if err != nil {
		return err
	}
	if rec == nil || rec.Owner != owner {
		rec = &model.IdempotencyRecord{
			Key:       key,
			TenantID:  tenantID,
			Operation: result.Operation,
			CreatedAt: time.Now().UTC(),
			Owner:     owner,
		}
	}
	rec.State = model.IdempotencyStateCompleted
	rec.StoredResult = result
	rec.ExpiresAt = expiresAt
	rec.LeaseExpiresAt = time.Time{}

	raw, err := json.Marshal(rec)
	if err != nil {
		return goerr.Wrap(err, "failed to encode idempotency record")
	}
	ttl := ttlUntil(expiresAt).Milliseconds()
	written, err := completeScript.Run(ctx, r.client, []string{r.keys.idempotency(tenantID, key)}, owner, string(raw), ttl).Int()
	if err != nil {
		return goerr.Wrap(err, "failed to complete idempotency record",
			goerr.V(model.TenantIDKey, tenantID),
			goerr.V(model.IdempotencyKeyKey, key))
	}
	if written == 0 {
		return goerr.Wrap(model.ErrReservationLost, "key was taken over",
			goerr.V(model.TenantIDKey, tenantID),
			goerr.V(model.IdempotencyKeyKey, key))
	}
	return nil
}

func (r *idempotencyRepository) Release(ctx context.Context, tenantID types.TenantID, key types.IdempotencyKey, owner string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.keys.idempotency(tenantID, key)}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return goerr.Wrap(err, "failed to release idempotency key",
			goerr.V(model.TenantIDKey, tenantID),
			goerr.V(model.IdempotencyKeyKey, key))
	}
	return nil
}

func (r *idempotencyRepository) Get(ctx context.Context, tenantID types.TenantID, key types.IdempotencyKey) (*model.IdempotencyRecord, error) {
	raw, err := r.client.Get(ctx, r.keys.idempotency(tenantID, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get idempotency record",
			goerr.V(model.TenantIDKey, tenantID),
			goerr.V(model.IdempotencyKeyKey, key))
	}

	var rec model.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, goerr.Wrap(err, "failed to decode idempotency record",
			goerr.V(model.TenantIDKey, tenantID))
	}
	return &rec, nil
}

// DeleteExpired is a no-op; Redis expires records itself
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
