package config

import (
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Sentry holds CLI flags for error reporting
type Sentry struct {
	dsn         string
	environment string
	release     string
}

func (x *Sentry) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "sentry-dsn",
			Usage:       "Sentry DSN. Error reporting is disabled when empty",
			Category:    "Sentry",
			Sources:     cli.EnvVars("ACTIONGATE_SENTRY_DSN"),
			Destination: &x.dsn,
		},
		&cli.StringFlag{
			Name:        "sentry-env",
			Usage:       "Sentry environment",
			Category:    "Sentry",
			Sources:     cli.EnvVars("ACTIONGATE_SENTRY_ENV"),
			Destination: &x.environment,
		},
		&cli.StringFlag{
			Name:        "sentry-release",
			Usage:       "Sentry release",
			Category:    "Sentry",
			Sources:     cli.EnvVars("ACTIONGATE_SENTRY_RELEASE"),
			Destination: &x.release,
		},
	}
}

func (x Sentry) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("enabled", x.dsn != ""),
		slog.String("env", x.environment),
		slog.String("release", x.release),
	)
}

// Configure initializes the Sentry client when a DSN is set. The returned
// function flushes pending events.
func (x *Sentry) Configure() (func(), error) {
	if x.dsn == "" {
		return func() {}, nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         x.dsn,
		Environment: x.environment,
		Release:     x.release,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to initialize sentry")
	}
	logging.Default().Info("Sentry error reporting enabled", "env", x.environment)

	return func() {
		sentry.Flush(2 * time.Second)
	}, nil
}
