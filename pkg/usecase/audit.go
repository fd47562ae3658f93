package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

const (
	DefaultAuditListLimit = 50
	MaxAuditListLimit     = 500
)

// AuditUseCase reads back persisted audit records
type AuditUseCase struct {
	repo interfaces.AuditRepository
}

func NewAuditUseCase(repo interfaces.AuditRepository) *AuditUseCase {
	return &AuditUseCase{repo: repo}
}

// List returns the tenant's newest audit records. A zero limit means the
// default; limits above the maximum are rejected.
func (uc *AuditUseCase) List(ctx context.Context, tenantID types.TenantID, limit int) ([]*model.AuditRecord, error) {
	if err := tenantID.Validate(); err != nil {
		return nil, model.NewActionError(types.ErrorCodeValidation, "tenant_id is invalid",
			model.WithDetail("field", "tenant_id"))
	}
	if limit == 0 {
		limit = DefaultAuditListLimit
	}
	if limit < 0 || limit > MaxAuditListLimit {
		return nil, model.NewActionError(types.ErrorCodeValidation, "limit must be between 1 and 500",
			model.WithDetail("field", "limit"))
	}

	records, err := uc.repo.List(ctx, tenantID, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list audit records",
			goerr.V(model.TenantIDKey, tenantID),
			goerr.V(LimitKey, limit))
	}
	return records, nil
}
