package config

import (
	"context"
	"log/slog"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Telemetry holds CLI flags for tracing
type Telemetry struct {
	traceStdout bool
}

func (x *Telemetry) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "trace-stdout",
			Usage:       "Export pipeline spans to stderr",
			Category:    "Telemetry",
			Sources:     cli.EnvVars("ACTIONGATE_TRACE_STDOUT"),
			Destination: &x.traceStdout,
		},
	}
}

func (x Telemetry) LogValue() slog.Value {
	return slog.GroupValue(slog.Bool("trace-stdout", x.traceStdout))
}

// Configure installs the global tracer provider. Without an exporter the
// global no-op provider stays in place. The returned function flushes and
// stops the provider.
func (x *Telemetry) Configure() (func(ctx context.Context) error, error) {
	if !x.traceStdout {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create stdout trace exporter")
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	logging.Default().Info("OpenTelemetry tracing enabled", "exporter", "stdout")

	return tp.Shutdown, nil
}
