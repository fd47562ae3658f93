package cli_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/m-mizutani/fireconf"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/actiongate/pkg/cli"
)

func TestIndexConfig(t *testing.T) {
	cfg := cli.IndexConfig("stg")
	gt.NoError(t, cfg.Validate())
	gt.Array(t, cfg.Collections).Length(1).Required()
	gt.Value(t, cfg.Collections[0].Name).Equal("stg_audit")
}

func TestLogMigrationPlan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	gt.Value(t, cli.LogMigrationPlan(logger, nil)).Equal(0)
	gt.Value(t, cli.LogMigrationPlan(logger, &fireconf.DiffResult{})).Equal(0)

	audit := fireconf.Index{Fields: []fireconf.IndexField{
		{Path: "TenantID", Order: fireconf.OrderAscending},
		{Path: "Timestamp", Order: fireconf.OrderDescending},
	}}
	n := cli.LogMigrationPlan(logger, &fireconf.DiffResult{
		Collections: []fireconf.CollectionDiff{
			{Name: "audit", Action: fireconf.ActionAdd, IndexesToAdd: []fireconf.Index{audit}},
			{Name: "old", Action: fireconf.ActionModify, IndexesToDelete: []fireconf.Index{audit},
				TTL: &fireconf.TTL{Field: "ExpiresAt"}, TTLAction: fireconf.ActionAdd},
		},
	})
	gt.Value(t, n).Equal(3)
	gt.String(t, buf.String()).Contains("Index to add")
	gt.String(t, buf.String()).Contains("TenantID ASCENDING")
	gt.String(t, buf.String()).Contains("TTL change")
}
