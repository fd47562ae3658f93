package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

// ValidateRequest checks the envelope of req. It does no semantic validation
// of parameters; that belongs to the provider. Fields are checked in order
// operation, tenant_id, parameters, idempotency_key, correlation_id and the
// first violation is returned as a VALIDATION_ERROR naming the field.
func ValidateRequest(req *ActionRequest) (*ValidatedRequest, error) {
	if req == nil {
		return nil, validationError("body", "request body is required", nil)
	}

	corrOpt := WithCorrelationID("")
	if req.CorrelationID.Validate() == nil {
		corrOpt = WithCorrelationID(req.CorrelationID)
	}

	if err := req.Operation.Validate(); err != nil {
		reason := "invalid_format"
		msg := "operation must be a non-empty dot-namespaced identifier"
		if errors.Is(err, types.ErrUnknownOperation) {
			reason = "unknown_operation"
			msg = fmt.Sprintf("operation %q is not supported", req.Operation)
		}
		return nil, validationError("operation", msg, map[string]any{
			"reason": reason,
			"value":  req.Operation.String(),
		}, corrOpt)
	}

	if err := req.TenantID.Validate(); err != nil {
		msg := "tenant_id is required"
		if req.TenantID != "" {
			msg = "tenant_id must be printable ASCII up to 255 characters"
		}
		return nil, validationError("tenant_id", msg, nil, corrOpt)
	}

	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}
	for k, v := range req.Parameters {
		if k == "" {
			return nil, validationError("parameters", "parameter names must be non-empty", nil, corrOpt)
		}
		if path, ok := checkRepresentable("parameters."+k, v); !ok {
			return nil, validationError(path, "parameter value is not representable as JSON", nil, corrOpt)
		}
	}

	if err := req.IdempotencyKey.Validate(); err != nil {
		return nil, validationError("idempotency_key", "idempotency_key must be printable ASCII up to 255 characters", nil, corrOpt)
	}

	if err := req.CorrelationID.Validate(); err != nil {
		return nil, validationError("correlation_id", "correlation_id must be printable ASCII up to 255 characters", nil)
	}

	capability, _ := req.Operation.Capability()
	return &ValidatedRequest{
		Request:    *req,
		Capability: capability,
		Action:     req.Operation.Action(),
	}, nil
}

func validationError(field, msg string, details map[string]any, opts ...ActionErrorOption) *ActionError {
	opts = append(opts, WithDetails(details), WithDetail("field", field))
	return NewActionError(types.ErrorCodeValidation, msg, opts...)
}

// checkRepresentable walks v and returns the path of the first value that
// cannot be encoded as JSON
func checkRepresentable(path string, v any) (string, bool) {
	if v == nil {
		return "", true
	}
	switch tv := v.(type) {
	case string, bool, json.Number, json.RawMessage:
		return "", true
	case float64:
		return path, !math.IsNaN(tv) && !math.IsInf(tv, 0)
	case map[string]any:
		for k, child := range tv {
			if k == "" {
				return path, false
			}
			if p, ok := checkRepresentable(path+"."+k, child); !ok {
				return p, false
			}
		}
		return "", true
	case []any:
		for i, child := range tv {
			if p, ok := checkRepresentable(fmt.Sprintf("%s[%d]", path, i), child); !ok {
				return p, false
			}
		}
		return "", true
	}
	return checkReflect(path, reflect.ValueOf(v))
}

func checkReflect(path string, rv reflect.Value) (string, bool) {
	switch rv.Kind() {
	case reflect.Invalid:
		return "", true
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "", true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return path, !math.IsNaN(f) && !math.IsInf(f, 0)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "", true
		}
		return checkReflect(path, rv.Elem())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return "", true
		}
		for i := 0; i < rv.Len(); i++ {
			if p, ok := checkReflect(fmt.Sprintf("%s[%d]", path, i), rv.Index(i)); !ok {
				return p, false
			}
		}
		return "", true
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return path, false
		}
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			if k == "" {
				return path, false
			}
			if p, ok := checkReflect(path+"."+k, iter.Value()); !ok {
				return p, false
			}
		}
		return "", true
	case reflect.Struct:
		if !rv.CanInterface() {
			return path, false
		}
		if _, err := json.Marshal(rv.Interface()); err != nil {
			return path, false
		}
		return "", true
	default:
		return path, false
	}
}
