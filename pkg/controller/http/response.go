package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/utils/errutil"
)

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		errutil.HandleHTTP(ctx, w, goerr.Wrap(err, "failed to marshal response"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data) //nolint:errcheck // header already committed
}

// writeError writes err in the ErrorResponse shape. Errors that are not an
// ActionError are reported and answered as INTERNAL_ERROR.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	ae, ok := model.ActionErrorFrom(err)
	if !ok {
		_ = errutil.Handle(ctx, err, "unexpected error in HTTP handler")
		ae = model.NewActionError(types.ErrorCodeInternal, "internal error")
	}
	if ae.CorrelationID == "" {
		ae = ae.Copy()
		ae.CorrelationID = types.CorrelationIDFromContext(ctx)
	}
	if ae.CorrelationID != "" {
		w.Header().Set(headerCorrelationID, ae.CorrelationID.String())
	}
	if ae.RetryAfter != nil {
		w.Header().Set("Retry-After", strconv.Itoa(*ae.RetryAfter))
	}
	writeJSON(ctx, w, ae.Code.HTTPStatus(), model.ErrorResponse{Error: ae})
}

func bodyError(message string) *model.ActionError {
	return model.NewActionError(types.ErrorCodeValidation, message,
		model.WithDetail("field", "body"))
}
