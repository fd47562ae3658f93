package audit

import (
	"context"
	"encoding/json"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
)

// GCSSink archives each record as one JSON object
type GCSSink struct {
	prefix string
	open   func(ctx context.Context, name string) io.WriteCloser
}

var _ interfaces.AuditSink = &GCSSink{}

// NewGCSSink writes into bucket under prefix
func NewGCSSink(client *storage.Client, bucket, prefix string) *GCSSink {
	handle := client.Bucket(bucket)
	return &GCSSink{
		prefix: prefix,
		open: func(ctx context.Context, name string) io.WriteCloser {
			w := handle.Object(name).NewWriter(ctx)
			w.ContentType = "application/json"
			return w
		},
	}
}

// ObjectName returns <prefix>/<tenant>/<yyyy>/<mm>/<dd>/<audit_id>.json
func ObjectName(prefix string, rec *model.AuditRecord) string {
	ts := rec.Timestamp.UTC()
	tenant := rec.TenantID.String()
	if tenant == "" {
		tenant = "_unknown"
	}
	return path.Join(prefix, tenant, ts.Format("2006"), ts.Format("01"), ts.Format("02"), rec.ID.String()+".json")
}

func (s *GCSSink) Emit(ctx context.Context, rec *model.AuditRecord) error {
	name := ObjectName(s.prefix, rec)

	w := s.open(ctx, name)
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write audit object", goerr.V("object", name))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to upload audit object", goerr.V("object", name))
	}
	return nil
}
