package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/cli/config"
	"github.com/secmon-lab/actiongate/pkg/provider"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdValidate() *cli.Command {
	var file config.File
	var checkCredentials bool

	var flags []cli.Flag
	flags = append(flags, file.Flags()...)
	flags = append(flags, &cli.BoolFlag{
		Name:        "check-credentials",
		Usage:       "Resolve each binding's credentials and ask its provider to accept them",
		Destination: &checkCredentials,
	})

	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate the configuration file and optionally the bound credentials",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()

			appCfg, err := file.Load()
			if err != nil {
				return goerr.Wrap(err, "configuration validation failed")
			}

			built, err := appCfg.Build(provider.DefaultCatalog())
			if err != nil {
				return goerr.Wrap(err, "configuration validation failed")
			}

			bindings := built.Registry.Bindings()
			logger.Info("Configuration validation passed",
				"path", file.Path(),
				"provider_count", len(built.Registry.Providers()),
				"binding_count", len(bindings),
				"credential_count", len(built.Credentials.Refs()),
			)

			if !checkCredentials {
				return nil
			}

			var issues int
			for _, b := range bindings {
				p, ok := built.Registry.Provider(b.ProviderName)
				if !ok {
					continue
				}
				creds, err := built.Credentials.Resolve(ctx, b.TenantID, b.ProviderName, b.CredentialsRef)
				if err != nil {
					issues++
					logger.Warn("Credentials unavailable",
						"tenant_id", b.TenantID.String(),
						"provider", b.ProviderName,
						"credentials_ref", b.CredentialsRef,
						"error", err.Error())
					continue
				}
				valid, err := p.ValidateCredentials(ctx, creds)
				if err != nil || !valid {
					issues++
					logger.Warn("Credentials rejected",
						"tenant_id", b.TenantID.String(),
						"provider", b.ProviderName,
						"credentials_ref", b.CredentialsRef,
						"error", err)
					continue
				}
				logger.Info("Credentials accepted",
					"tenant_id", b.TenantID.String(),
					"provider", b.ProviderName)
			}

			if issues > 0 {
				return fmt.Errorf("credential check found %d issue(s)", issues)
			}
			logger.Info("Credential check passed")
			return nil
		},
	}
}
