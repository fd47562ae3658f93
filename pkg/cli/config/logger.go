package config

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/masq"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Logger holds CLI flags for the process logger
type Logger struct {
	level  string
	format string
	output string
}

func (x *Logger) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Aliases:     []string{"l"},
			Usage:       "Log level (debug, info, warn, error)",
			Category:    "Logging",
			Value:       "info",
			Sources:     cli.EnvVars("ACTIONGATE_LOG_LEVEL"),
			Destination: &x.level,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Category:    "Logging",
			Value:       "console",
			Sources:     cli.EnvVars("ACTIONGATE_LOG_FORMAT"),
			Destination: &x.format,
		},
		&cli.StringFlag{
			Name:        "log-output",
			Usage:       "Log output (stdout, stderr, - or a file path)",
			Category:    "Logging",
			Value:       "stdout",
			Sources:     cli.EnvVars("ACTIONGATE_LOG_OUTPUT"),
			Destination: &x.output,
		},
	}
}

func (x Logger) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("level", x.level),
		slog.String("format", x.format),
		slog.String("output", x.output),
	)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, goerr.Wrap(ErrInvalidConfig, "invalid log level", goerr.V("level", s))
	}
}

// redactor hides secret tagged fields and credential values
func redactor() func(groups []string, a slog.Attr) slog.Attr {
	return masq.New(
		masq.WithTag("secret"),
		masq.WithFieldPrefix("secret_"),
		masq.WithType[model.Credentials](),
	)
}

// NewHandler builds the slog handler for w
func (x *Logger) NewHandler(w io.Writer) (slog.Handler, error) {
	level, err := parseLevel(x.level)
	if err != nil {
		return nil, err
	}

	switch x.format {
	case "console", "":
		return clog.New(
			clog.WithWriter(w),
			clog.WithLevel(level),
			clog.WithReplaceAttr(redactor()),
			clog.WithColor(w == os.Stdout || w == os.Stderr),
		), nil
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: redactor(),
		}), nil
	default:
		return nil, goerr.Wrap(ErrInvalidConfig, "invalid log format", goerr.V("format", x.format))
	}
}

// Configure installs the process logger. The returned function closes the
// log file when one was opened.
func (x *Logger) Configure() (func(), error) {
	closer := func() {}

	var w io.Writer
	switch x.output {
	case "stdout", "-", "":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		// #nosec G304 - path is provided by the operator
		f, err := os.OpenFile(x.output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open log file", goerr.V("path", x.output))
		}
		w = f
		closer = func() {
			if err := f.Close(); err != nil {
				logging.Default().Error("failed to close log file", "error", err)
			}
		}
	}

	handler, err := x.NewHandler(w)
	if err != nil {
		closer()
		return nil, err
	}
	logging.SetDefault(slog.New(handler))
	return closer, nil
}
