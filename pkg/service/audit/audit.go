// Package audit provides the sinks that receive one record per action
// request. Emission is best effort; callers dispatch it off the request path.
package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
)

// LogSink writes records to a structured logger
type LogSink struct {
	logger *slog.Logger
}

var _ interfaces.AuditSink = &LogSink{}

// NewLogSink creates a sink writing to logger. A nil logger uses the logger
// carried by each emit context.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, rec *model.AuditRecord) error {
	logger := s.logger
	if logger == nil {
		logger = logging.From(ctx)
	}

	attrs := []any{
		"audit_id", rec.ID.String(),
		"tenant_id", rec.TenantID.String(),
		"correlation_id", rec.CorrelationID.String(),
		"operation", rec.Operation.String(),
		"provider", rec.Provider,
		"outcome", string(rec.Outcome),
		"cache_hit", rec.CacheHit,
	}
	if rec.Result != nil {
		attrs = append(attrs,
			"action_id", rec.Result.ActionID.String(),
			"status", rec.Result.Status.String(),
			"retry_count", rec.Result.RetryCount,
			"duration_ms", rec.Result.DurationMS,
		)
	}
	if rec.Error != nil {
		attrs = append(attrs,
			"code", rec.Error.Code.String(),
			"message", rec.Error.Message,
			"retry_count", rec.Error.RetryCount,
		)
		logger.Warn("audit", attrs...)
		return nil
	}
	logger.Info("audit", attrs...)
	return nil
}

// RepositorySink persists records through an AuditRepository
type RepositorySink struct {
	repo interfaces.AuditRepository
}

var _ interfaces.AuditSink = &RepositorySink{}

func NewRepositorySink(repo interfaces.AuditRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) Emit(ctx context.Context, rec *model.AuditRecord) error {
	if err := s.repo.Put(ctx, rec); err != nil {
		return goerr.Wrap(err, "failed to persist audit record", goerr.V("audit_id", rec.ID))
	}
	return nil
}

// Multi fans a record out to every sink. All sinks are attempted and their
// errors are joined.
type Multi []interfaces.AuditSink

var _ interfaces.AuditSink = Multi{}

func (m Multi) Emit(ctx context.Context, rec *model.AuditRecord) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
