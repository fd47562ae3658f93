package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
)

const headerCorrelationID = "X-Correlation-ID"

// correlationID puts the caller's X-Correlation-ID, or a new one, into the
// request context and echoes it on the response
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := types.CorrelationID(r.Header.Get(headerCorrelationID))
		if id == "" || id.Validate() != nil {
			id = types.NewCorrelationID()
		}
		w.Header().Set(headerCorrelationID, id.String())

		ctx := types.ContextWithCorrelationID(r.Context(), id)
		ctx = logging.With(ctx, logging.From(ctx).With("correlation_id", id.String()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLogger is a middleware that logs HTTP requests
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logging.From(r.Context()).Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"user_agent", r.UserAgent(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
