package cli

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/fireconf"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/repository/firestore"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdMigrate() *cli.Command {
	var projectID string
	var databaseID string
	var collectionPrefix string
	var dryRun bool

	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"m"},
		Usage:   "Migrate Firestore indexes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "firestore-project-id",
				Usage:       "Firestore Project ID (required)",
				Required:    true,
				Sources:     cli.EnvVars("ACTIONGATE_FIRESTORE_PROJECT_ID"),
				Destination: &projectID,
			},
			&cli.StringFlag{
				Name:        "firestore-database-id",
				Usage:       "Firestore Database ID",
				Sources:     cli.EnvVars("ACTIONGATE_FIRESTORE_DATABASE_ID"),
				Destination: &databaseID,
			},
			&cli.StringFlag{
				Name:        "firestore-collection-prefix",
				Usage:       "Prefix of the collection names",
				Sources:     cli.EnvVars("ACTIONGATE_FIRESTORE_COLLECTION_PREFIX"),
				Destination: &collectionPrefix,
			},
			&cli.BoolFlag{
				Name:        "dry-run",
				Usage:       "Preview changes without applying",
				Destination: &dryRun,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()

			logger.Info("Migrate configuration",
				"projectID", projectID,
				"databaseID", databaseID,
				"collectionPrefix", collectionPrefix,
				"dryRun", dryRun)

			indexConfig := getIndexConfig(collectionPrefix)

			client, err := fireconf.New(ctx, projectID, databaseID, indexConfig,
				fireconf.WithLogger(logger),
				fireconf.WithDryRun(dryRun),
			)
			if err != nil {
				return goerr.Wrap(err, "failed to create fireconf client")
			}
			defer func() {
				if err := client.Close(); err != nil {
					logger.Error("failed to close fireconf client", "error", err.Error())
				}
			}()

			if dryRun {
				logger.Info("Dry run mode - previewing changes")
				names := make([]string, 0, len(indexConfig.Collections))
				for _, col := range indexConfig.Collections {
					names = append(names, col.Name)
				}
				current, err := client.Import(ctx, names...)
				if err != nil {
					return goerr.Wrap(err, "failed to import current indexes")
				}
				diff, err := client.DiffConfigs(current)
				if err != nil {
					return goerr.Wrap(err, "failed to diff index configuration")
				}
				if logMigrationPlan(logger, diff) == 0 {
					logger.Info("No changes required")
				}
				return nil
			}

			logger.Info("Applying migrations")
			if err := client.Migrate(ctx); err != nil {
				return goerr.Wrap(err, "failed to apply migrations")
			}
			logger.Info("Migrations applied successfully")
			return nil
		},
	}
}

// logMigrationPlan logs each pending index and TTL change and returns how
// many there are
func logMigrationPlan(logger *slog.Logger, diff *fireconf.DiffResult) int {
	if diff == nil {
		return 0
	}
	changes := 0
	for _, col := range diff.Collections {
		for _, idx := range col.IndexesToAdd {
			logger.Info("Index to add", "collection", col.Name, "fields", indexFields(idx))
			changes++
		}
		for _, idx := range col.IndexesToDelete {
			logger.Info("Index to delete", "collection", col.Name, "fields", indexFields(idx))
			changes++
		}
		if col.TTLAction != "" {
			field := ""
			if col.TTL != nil {
				field = col.TTL.Field
			}
			logger.Info("TTL change", "collection", col.Name, "action", string(col.TTLAction), "field", field)
			changes++
		}
	}
	return changes
}

func indexFields(idx fireconf.Index) []string {
	fields := make([]string, 0, len(idx.Fields))
	for _, f := range idx.Fields {
		fields = append(fields, f.Path+" "+string(f.Order))
	}
	return fields
}

// getIndexConfig returns the composite indexes the Firestore backend queries
// need. The idempotency sweep filters on LiveUntil alone, which the default
// single field index serves.
func getIndexConfig(prefix string) *fireconf.Config {
	return &fireconf.Config{
		Collections: []fireconf.Collection{
			{
				Name: firestore.AuditCollection(prefix),
				Indexes: []fireconf.Index{
					// List: TenantID ASC, Timestamp DESC
					{
						Fields: []fireconf.IndexField{
							{Path: "TenantID", Order: fireconf.OrderAscending},
							{Path: "Timestamp", Order: fireconf.OrderDescending},
						},
					},
				},
			},
		},
	}
}
