package config

import (
	"context"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/service/audit"
	"github.com/secmon-lab/actiongate/pkg/service/slack"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Audit holds CLI flags selecting where audit records go
type Audit struct {
	disableLog   bool
	slackToken   string
	slackChannel string
	gcsBucket    string
	gcsPrefix    string
}

func (x *Audit) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "audit-disable-log",
			Usage:       "Do not write audit records to the process log",
			Category:    "Audit",
			Sources:     cli.EnvVars("ACTIONGATE_AUDIT_DISABLE_LOG"),
			Destination: &x.disableLog,
		},
		&cli.StringFlag{
			Name:        "slack-bot-token",
			Usage:       "Slack bot token used for failure alerts",
			Category:    "Audit",
			Sources:     cli.EnvVars("ACTIONGATE_SLACK_BOT_TOKEN"),
			Destination: &x.slackToken,
		},
		&cli.StringFlag{
			Name:        "slack-alert-channel",
			Usage:       "Slack channel name or ID receiving failure alerts",
			Category:    "Audit",
			Sources:     cli.EnvVars("ACTIONGATE_SLACK_ALERT_CHANNEL"),
			Destination: &x.slackChannel,
		},
		&cli.StringFlag{
			Name:        "audit-gcs-bucket",
			Usage:       "Cloud Storage bucket archiving audit records",
			Category:    "Audit",
			Sources:     cli.EnvVars("ACTIONGATE_AUDIT_GCS_BUCKET"),
			Destination: &x.gcsBucket,
		},
		&cli.StringFlag{
			Name:        "audit-gcs-prefix",
			Usage:       "Object prefix inside the audit bucket",
			Category:    "Audit",
			Value:       "audit",
			Sources:     cli.EnvVars("ACTIONGATE_AUDIT_GCS_PREFIX"),
			Destination: &x.gcsPrefix,
		},
	}
}

func (x Audit) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("log", !x.disableLog),
		slog.Bool("slack", x.slackToken != ""),
		slog.String("slack-alert-channel", x.slackChannel),
		slog.String("gcs-bucket", x.gcsBucket),
		slog.String("gcs-prefix", x.gcsPrefix),
	)
}

// Configure builds the audit fan-out. Records always go to repo; the log,
// Slack and Cloud Storage sinks are added as configured. The returned
// function releases the storage client.
func (x *Audit) Configure(ctx context.Context, repo interfaces.AuditRepository) (interfaces.AuditSink, func(), error) {
	sinks := audit.Multi{audit.NewRepositorySink(repo)}
	closer := func() {}

	if !x.disableLog {
		sinks = append(sinks, audit.NewLogSink(nil))
	}

	if x.slackToken != "" {
		if x.slackChannel == "" {
			return nil, nil, goerr.Wrap(ErrInvalidConfig, "slack-alert-channel is required with slack-bot-token")
		}
		svc, err := slack.New(x.slackToken)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create slack service")
		}
		sinks = append(sinks, audit.NewSlackSink(svc, x.slackChannel))
	}

	if x.gcsBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create storage client", goerr.V("bucket", x.gcsBucket))
		}
		sinks = append(sinks, audit.NewGCSSink(client, x.gcsBucket, x.gcsPrefix))
		closer = func() {
			if err := client.Close(); err != nil {
				logging.Default().Error("failed to close storage client", "error", err)
			}
		}
	}

	logging.Default().Info("Audit sinks configured", "count", len(sinks))
	return sinks, closer, nil
}
