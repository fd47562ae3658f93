package redis

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

// auditRepository keeps a capped list per tenant, newest at the head
type auditRepository struct {
	client    *redis.Client
	keys      keySpace
	retention int64
}

func (r *auditRepository) Put(ctx context.Context, rec *model.AuditRecord) error {
	if rec == nil || rec.ID == "" {
		return goerr.Wrap(model.ErrInvalidRecord, "audit record has no id")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return goerr.Wrap(err, "failed to encode audit record", goerr.V("audit_id", rec.ID))
	}

	key := r.keys.audit(rec.TenantID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, raw)
		if r.retention > 0 {
			pipe.LTrim(ctx, key, 0, r.retention-1)
		}
		return nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to put audit record", goerr.V("audit_id", rec.ID))
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, tenantID types.TenantID, limit int) ([]*model.AuditRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	values, err := r.client.LRange(ctx, r.keys.audit(tenantID), 0, stop).Result()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list audit records", goerr.V(model.TenantIDKey, tenantID))
	}

	records := make([]*model.AuditRecord, 0, len(values))
	for _, v := range values {
		var rec model.AuditRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, goerr.Wrap(err, "failed to decode audit record", goerr.V(model.TenantIDKey, tenantID))
		}
		records = append(records, &rec)
	}
	return records, nil
}
