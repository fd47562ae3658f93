package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

func TestNewActionError(t *testing.T) {
	before := time.Now().UTC()
	ae := model.NewActionError(types.ErrorCodeProvider, "rate limited",
		model.WithRetryAfter(60),
		model.WithCorrelationID("c1"),
		model.WithDetail("status", 429),
	)

	gt.Value(t, ae.Code).Equal(types.ErrorCodeProvider)
	gt.Value(t, ae.CorrelationID).Equal(types.CorrelationID("c1"))
	gt.Value(t, *ae.RetryAfter).Equal(60)
	gt.Value(t, ae.Detail("status")).Equal(429)
	gt.Bool(t, !ae.Timestamp.Before(before)).True()
	gt.Value(t, ae.Timestamp.Location()).Equal(time.UTC)
	gt.Bool(t, ae.Retryable()).True()
}

func TestNewActionError_NegativeRetryAfterIgnored(t *testing.T) {
	ae := model.NewActionError(types.ErrorCodeProvider, "x", model.WithRetryAfter(-1))
	gt.Value(t, ae.RetryAfter).Nil()
}

func TestActionErrorFrom_Wrapped(t *testing.T) {
	ae := model.NewActionError(types.ErrorCodeNotFound, "no provider")
	wrapped := goerr.Wrap(ae, "resolve failed")

	got, ok := model.ActionErrorFrom(wrapped)
	gt.Bool(t, ok).True()
	gt.Value(t, got).Equal(ae)

	_, ok = model.ActionErrorFrom(goerr.New("plain"))
	gt.Bool(t, ok).False()
}

func TestErrorResponse_Shape(t *testing.T) {
	ae := model.NewActionError(types.ErrorCodeValidation, "tenant_id is required",
		model.WithDetail("field", "tenant_id"),
		model.WithCorrelationID("c1"),
	)
	b, err := json.Marshal(model.ErrorResponse{Error: ae})
	gt.NoError(t, err).Required()

	var decoded map[string]map[string]any
	gt.NoError(t, json.Unmarshal(b, &decoded)).Required()
	body := decoded["error"]
	gt.Value(t, body["code"]).Equal("VALIDATION_ERROR")
	gt.Value(t, body["message"]).Equal("tenant_id is required")
	gt.Value(t, body["correlation_id"]).Equal("c1")
	gt.Value(t, body["details"].(map[string]any)["field"]).Equal("tenant_id")
	_, hasRetryAfter := body["retry_after"]
	gt.Bool(t, hasRetryAfter).False()
	_, hasTimestamp := body["timestamp"]
	gt.Bool(t, hasTimestamp).True()
}
