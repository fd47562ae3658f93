package interfaces

import (
	"context"

	"github.com/secmon-lab/actiongate/pkg/domain/model"
)

// AuditSink receives exactly one record per request
type AuditSink interface {
	Emit(ctx context.Context, rec *model.AuditRecord) error
}
