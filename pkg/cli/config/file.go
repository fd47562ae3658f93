package config

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// File holds the CLI flag locating the configuration file
type File struct {
	path string
}

func (x *File) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to the TOML file declaring providers, bindings and credentials",
			Value:       "actiongate.toml",
			Sources:     cli.EnvVars("ACTIONGATE_CONFIG"),
			Destination: &x.path,
		},
	}
}

func (x File) LogValue() slog.Value {
	return slog.GroupValue(slog.String("path", x.path))
}

// Path returns the configuration file path
func (x *File) Path() string {
	return x.path
}

// Load reads and validates the configuration file
func (x *File) Load() (*AppConfig, error) {
	if x.path == "" {
		return nil, goerr.Wrap(ErrInvalidConfig, "config path is required")
	}
	return LoadAppConfiguration(x.path)
}
