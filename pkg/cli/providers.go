package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/cli/config"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/provider"
	"github.com/secmon-lab/actiongate/pkg/usecase"
	"github.com/urfave/cli/v3"
)

var (
	headingColor = color.New(color.FgCyan, color.Bold)
	nameColor    = color.New(color.Bold)
	okColor      = color.New(color.FgGreen)
	ngColor      = color.New(color.FgRed)
	dimColor     = color.New(color.Faint)
)

func cmdProviders() *cli.Command {
	var file config.File
	var checkHealth bool

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "health",
			Usage:       "Run a health check against every configured provider",
			Destination: &checkHealth,
		},
	}
	flags = append(flags, file.Flags()...)

	return &cli.Command{
		Name:    "providers",
		Aliases: []string{"p"},
		Usage:   "Show provider types, configured providers and bindings",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			catalog := provider.DefaultCatalog()

			_, _ = headingColor.Fprintln(stdout, "Provider types")
			for _, f := range catalog.Factories() {
				_, _ = fmt.Fprintf(stdout, "  %s %s\n", nameColor.Sprintf("%-14s", f.Type), dimColor.Sprint(f.Description))
			}

			appCfg, err := file.Load()
			if err != nil {
				return goerr.Wrap(err, "failed to load configuration file")
			}
			built, err := appCfg.Build(catalog)
			if err != nil {
				return goerr.Wrap(err, "failed to build providers")
			}

			health := map[string]bool{}
			if checkHealth {
				uc := usecase.NewProviderUseCase(built.Registry, built.Credentials, usecase.DefaultHealthTimeout)
				for _, h := range uc.Health(ctx) {
					health[h.Name] = h.Healthy
				}
			}

			_, _ = headingColor.Fprintln(stdout, "\nConfigured providers")
			for _, p := range built.Registry.Providers() {
				_, _ = fmt.Fprintf(stdout, "  %s %s%s\n",
					nameColor.Sprintf("%-14s", p.Name),
					capabilityList(p),
					healthMark(checkHealth, health[p.Name]))
			}

			_, _ = headingColor.Fprintln(stdout, "\nBindings")
			bindings := built.Registry.Bindings()
			if len(bindings) == 0 {
				_, _ = dimColor.Fprintln(stdout, "  (none)")
			}
			for _, b := range bindings {
				_, _ = fmt.Fprintf(stdout, "  %-16s %-14s %s %s\n",
					scopeLabel(b),
					b.ProviderName,
					joinCapabilities(b),
					dimColor.Sprintf("ref=%s", b.CredentialsRef))
			}
			return nil
		},
	}
}

func capabilityList(p model.ProviderInfo) string {
	names := make([]string, len(p.Capabilities))
	for i, c := range p.Capabilities {
		names[i] = c.String()
	}
	return strings.Join(names, ",")
}

func joinCapabilities(b model.ProviderRegistration) string {
	names := make([]string, len(b.Capabilities))
	for i, c := range b.Capabilities {
		names[i] = c.String()
	}
	return strings.Join(names, ",")
}

func scopeLabel(b model.ProviderRegistration) string {
	if b.TenantID == "" {
		return "(global)"
	}
	return b.TenantID.String()
}

func healthMark(checked, healthy bool) string {
	switch {
	case !checked:
		return ""
	case healthy:
		return " " + okColor.Sprint("healthy")
	default:
		return " " + ngColor.Sprint("unhealthy")
	}
}
