package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

// DefaultAuditRetention is the number of audit records kept per tenant
const DefaultAuditRetention = 1000

type auditRepository struct {
	mu        sync.RWMutex
	records   map[types.TenantID][]*model.AuditRecord
	retention int
}

func newAuditRepository() *auditRepository {
	return &auditRepository{
		records:   make(map[types.TenantID][]*model.AuditRecord),
		retention: DefaultAuditRetention,
	}
}

func copyAudit(rec *model.AuditRecord) *model.AuditRecord {
	c := *rec
	c.Result = rec.Result.Copy()
	c.Error = rec.Error.Copy()
	return &c
}

func (r *auditRepository) Put(ctx context.Context, rec *model.AuditRecord) error {
	if rec == nil || rec.ID == "" {
		return goerr.Wrap(model.ErrInvalidRecord, "audit record has no id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := append(r.records[rec.TenantID], copyAudit(rec))
	if r.retention > 0 && len(list) > r.retention {
		list = list[len(list)-r.retention:]
	}
	r.records[rec.TenantID] = list
	return nil
}

func (r *auditRepository) List(ctx context.Context, tenantID types.TenantID, limit int) ([]*model.AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.records[tenantID]
	result := make([]*model.AuditRecord, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		result = append(result, copyAudit(stored[i]))
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
