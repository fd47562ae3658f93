package usecase_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/repository/memory"
	"github.com/secmon-lab/actiongate/pkg/usecase"
)

func TestAuditUseCase_List(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	for i := 0; i < usecase.DefaultAuditListLimit+5; i++ {
		rec := model.NewFailureAudit(&model.ActionRequest{TenantID: testTenant, Operation: types.OpCRMContactGet}, "mock_crm",
			model.NewActionError(types.ErrorCodeNotFound, "contact not found"))
		gt.NoError(t, repo.Audit().Put(ctx, rec)).Required()
	}
	uc := usecase.NewAuditUseCase(repo.Audit())

	t.Run("zero limit uses the default", func(t *testing.T) {
		recs, err := uc.List(ctx, testTenant, 0)
		gt.NoError(t, err).Required()
		gt.Array(t, recs).Length(usecase.DefaultAuditListLimit)
	})

	t.Run("explicit limit", func(t *testing.T) {
		recs, err := uc.List(ctx, testTenant, 3)
		gt.NoError(t, err).Required()
		gt.Array(t, recs).Length(3)
	})

	t.Run("other tenant sees nothing", func(t *testing.T) {
		recs, err := uc.List(ctx, "tenant-z", 10)
		gt.NoError(t, err).Required()
		gt.Array(t, recs).Length(0)
	})

	for _, limit := range []int{-1, usecase.MaxAuditListLimit + 1} {
		_, err := uc.List(ctx, testTenant, limit)
		ae := requireActionError(t, err)
		gt.Value(t, ae.Code).Equal(types.ErrorCodeValidation)
		gt.Value(t, ae.Detail("field")).Equal("limit")
	}

	_, err := uc.List(ctx, "", 10)
	gt.Value(t, requireActionError(t, err).Detail("field")).Equal("tenant_id")
}
