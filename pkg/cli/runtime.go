package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/cli/config"
	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/provider"
	"github.com/secmon-lab/actiongate/pkg/usecase"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// runtimeConfig is the flag set shared by commands that execute actions
type runtimeConfig struct {
	file     config.File
	repo     config.Repository
	audit    config.Audit
	pipeline config.Pipeline
}

func (x *runtimeConfig) Flags() []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, x.file.Flags()...)
	flags = append(flags, x.repo.Flags()...)
	flags = append(flags, x.audit.Flags()...)
	flags = append(flags, x.pipeline.Flags()...)
	return flags
}

// runtime is the wired pipeline and what must be released with it
type runtime struct {
	uc     *usecase.UseCases
	repo   interfaces.Repository
	closer func()
}

func (x *runtimeConfig) build(ctx context.Context) (*runtime, error) {
	appCfg, err := x.file.Load()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load configuration file")
	}

	built, err := appCfg.Build(provider.DefaultCatalog())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build providers")
	}

	pipelineOpts, err := x.pipeline.Options()
	if err != nil {
		return nil, err
	}

	repo, err := x.repo.Configure(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to initialize repository")
	}

	sink, closeAudit, err := x.audit.Configure(ctx, repo.Audit())
	if err != nil {
		if cerr := repo.Close(); cerr != nil {
			logging.Default().Error("failed to close repository", "error", cerr.Error())
		}
		return nil, goerr.Wrap(err, "failed to configure audit sinks")
	}

	opts := []usecase.Option{
		usecase.WithCredentialResolver(built.Credentials),
		usecase.WithAuditSink(sink),
	}
	opts = append(opts, pipelineOpts...)
	opts = append(opts, built.Options...)

	logging.Default().Info("Runtime configured",
		"config", x.file,
		"repository", x.repo,
		"audit", x.audit,
		"pipeline", x.pipeline,
		"providers", len(built.Registry.Providers()),
		"bindings", len(built.Registry.Bindings()))

	return &runtime{
		uc:   usecase.New(repo, built.Registry, opts...),
		repo: repo,
		closer: func() {
			closeAudit()
			if err := repo.Close(); err != nil {
				logging.Default().Error("failed to close repository", "error", err.Error())
			}
		},
	}, nil
}
