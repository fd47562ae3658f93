package config

import (
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/service/worker"
	"github.com/secmon-lab/actiongate/pkg/usecase"
	"github.com/urfave/cli/v3"
)

// Pipeline holds CLI flags tuning the execution pipeline
type Pipeline struct {
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	maxRetryAfter  time.Duration
	attemptTimeout time.Duration
	healthTimeout  time.Duration
	sweepInterval  time.Duration
}

func (x *Pipeline) Flags() []cli.Flag {
	def := usecase.DefaultRetryPolicy()
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "max-attempts",
			Usage:       "Provider attempts per request including the first",
			Category:    "Pipeline",
			Value:       def.MaxAttempts,
			Sources:     cli.EnvVars("ACTIONGATE_MAX_ATTEMPTS"),
			Destination: &x.maxAttempts,
		},
		&cli.DurationFlag{
			Name:        "retry-base-delay",
			Usage:       "Backoff before the first retry; doubled for each further retry",
			Category:    "Pipeline",
			Value:       def.BaseDelay,
			Sources:     cli.EnvVars("ACTIONGATE_RETRY_BASE_DELAY"),
			Destination: &x.baseDelay,
		},
		&cli.DurationFlag{
			Name:        "retry-max-delay",
			Usage:       "Upper bound of one backoff",
			Category:    "Pipeline",
			Value:       def.MaxDelay,
			Sources:     cli.EnvVars("ACTIONGATE_RETRY_MAX_DELAY"),
			Destination: &x.maxDelay,
		},
		&cli.DurationFlag{
			Name:        "retry-max-retry-after",
			Usage:       "Upper bound honoured for a vendor Retry-After hint",
			Category:    "Pipeline",
			Value:       def.MaxRetryAfter,
			Sources:     cli.EnvVars("ACTIONGATE_RETRY_MAX_RETRY_AFTER"),
			Destination: &x.maxRetryAfter,
		},
		&cli.DurationFlag{
			Name:        "attempt-timeout",
			Usage:       "Timeout of a single provider call",
			Category:    "Pipeline",
			Value:       usecase.DefaultAttemptTimeout,
			Sources:     cli.EnvVars("ACTIONGATE_ATTEMPT_TIMEOUT"),
			Destination: &x.attemptTimeout,
		},
		&cli.DurationFlag{
			Name:        "health-timeout",
			Usage:       "Timeout of each provider health check",
			Category:    "Pipeline",
			Value:       usecase.DefaultHealthTimeout,
			Sources:     cli.EnvVars("ACTIONGATE_HEALTH_TIMEOUT"),
			Destination: &x.healthTimeout,
		},
		&cli.DurationFlag{
			Name:        "idempotency-sweep-interval",
			Usage:       "Interval of the expired idempotency record sweep",
			Category:    "Pipeline",
			Value:       worker.DefaultSweepInterval,
			Sources:     cli.EnvVars("ACTIONGATE_IDEMPOTENCY_SWEEP_INTERVAL"),
			Destination: &x.sweepInterval,
		},
	}
}

func (x Pipeline) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("max-attempts", x.maxAttempts),
		slog.Duration("retry-base-delay", x.baseDelay),
		slog.Duration("attempt-timeout", x.attemptTimeout),
	)
}

// SweepInterval returns the idempotency sweep interval
func (x *Pipeline) SweepInterval() time.Duration {
	return x.sweepInterval
}

// Options converts the flags into use case options
func (x *Pipeline) Options() ([]usecase.Option, error) {
	if x.maxAttempts < 1 {
		return nil, goerr.Wrap(ErrInvalidConfig, "max-attempts must be at least 1", goerr.V("max_attempts", x.maxAttempts))
	}
	if x.attemptTimeout <= 0 {
		return nil, goerr.Wrap(ErrInvalidConfig, "attempt-timeout must be positive", goerr.V("attempt_timeout", x.attemptTimeout))
	}

	policy := usecase.DefaultRetryPolicy()
	policy.MaxAttempts = x.maxAttempts
	policy.BaseDelay = x.baseDelay
	policy.MaxDelay = x.maxDelay
	policy.MaxRetryAfter = x.maxRetryAfter

	return []usecase.Option{
		usecase.WithRetryPolicy(policy),
		usecase.WithAttemptTimeout(x.attemptTimeout),
		usecase.WithHealthTimeout(x.healthTimeout),
	}, nil
}
