package model_test

import (
	"math"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

func validRequest() *model.ActionRequest {
	return &model.ActionRequest{
		Operation:  types.OpCRMContactCreate,
		TenantID:   "t1",
		Parameters: map[string]any{"email": "a@b.com"},
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *model.ActionRequest)
		wantField string
	}{
		{"valid", func(r *model.ActionRequest) {}, ""},
		{"missing operation", func(r *model.ActionRequest) { r.Operation = "" }, "operation"},
		{"malformed operation", func(r *model.ActionRequest) { r.Operation = "create" }, "operation"},
		{"unknown operation", func(r *model.ActionRequest) { r.Operation = "crm.deal.create" }, "operation"},
		{"missing tenant", func(r *model.ActionRequest) { r.TenantID = "" }, "tenant_id"},
		{"operation checked before tenant", func(r *model.ActionRequest) {
			r.Operation = ""
			r.TenantID = ""
		}, "operation"},
		{"empty parameter name", func(r *model.ActionRequest) { r.Parameters = map[string]any{"": 1} }, "parameters"},
		{"function parameter", func(r *model.ActionRequest) { r.Parameters = map[string]any{"cb": func() {}} }, "parameters.cb"},
		{"nested channel", func(r *model.ActionRequest) {
			r.Parameters = map[string]any{"a": map[string]any{"b": make(chan int)}}
		}, "parameters.a.b"},
		{"nan in list", func(r *model.ActionRequest) {
			r.Parameters = map[string]any{"xs": []any{1.0, math.NaN()}}
		}, "parameters.xs[1]"},
		{"typed slice is fine", func(r *model.ActionRequest) {
			r.Parameters = map[string]any{"tags": []string{"a", "b"}, "n": 3}
		}, ""},
		{"long idempotency key", func(r *model.ActionRequest) {
			r.IdempotencyKey = types.IdempotencyKey(strings.Repeat("x", 256))
		}, "idempotency_key"},
		{"bad correlation id", func(r *model.ActionRequest) { r.CorrelationID = "a\tb" }, "correlation_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			v, err := model.ValidateRequest(req)
			if tt.wantField == "" {
				gt.NoError(t, err).Required()
				gt.Value(t, v.Capability).Equal(types.CapabilityCRMContacts)
				gt.Value(t, v.Action).Equal("create_contact")
				return
			}

			gt.Value(t, v).Nil()
			ae, ok := model.ActionErrorFrom(err)
			gt.Bool(t, ok).True()
			gt.Value(t, ae.Code).Equal(types.ErrorCodeValidation)
			gt.Value(t, ae.Detail("field")).Equal(tt.wantField)
		})
	}
}

func TestValidateRequest_NilParameters(t *testing.T) {
	req := validRequest()
	req.Parameters = nil

	v, err := model.ValidateRequest(req)
	gt.NoError(t, err).Required()
	gt.Value(t, v.Request.Parameters).NotNil()
	gt.Value(t, len(v.Request.Parameters)).Equal(0)
}

func TestValidateRequest_EchoesCorrelationID(t *testing.T) {
	req := validRequest()
	req.TenantID = ""
	req.CorrelationID = "corr-1"

	_, err := model.ValidateRequest(req)
	ae, ok := model.ActionErrorFrom(err)
	gt.Bool(t, ok).True()
	gt.Value(t, ae.CorrelationID).Equal(types.CorrelationID("corr-1"))
}
