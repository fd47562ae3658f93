package config

import (
	"errors"
	"io/fs"
	"os"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/provider"
	"github.com/secmon-lab/actiongate/pkg/service/credentials"
	"github.com/secmon-lab/actiongate/pkg/usecase"
	"golang.org/x/time/rate"
)

// AppConfig is the provider, binding and credential configuration file
type AppConfig struct {
	Providers   []ProviderEntry   `toml:"provider"`
	Bindings    []BindingEntry    `toml:"binding"`
	Credentials []CredentialEntry `toml:"credential"`
}

// ProviderEntry configures one provider instance
type ProviderEntry struct {
	Name      string         `toml:"name"`
	Type      string         `toml:"type"`
	BaseURL   string         `toml:"base_url"`
	RateLimit float64        `toml:"rate_limit"`
	Burst     int            `toml:"burst"`
	Options   map[string]any `toml:"options"`
}

// BindingEntry binds a provider to capabilities globally or for one tenant
type BindingEntry struct {
	Provider       string   `toml:"provider"`
	Tenant         string   `toml:"tenant"`
	Capabilities   []string `toml:"capabilities"`
	CredentialsRef string   `toml:"credentials_ref"`
}

// CredentialEntry is a static credential set addressed by ref
type CredentialEntry struct {
	Ref    string            `toml:"ref"`
	Values map[string]string `toml:"values" masq:"secret"`
}

// Validate checks if the ProviderEntry is valid
func (p *ProviderEntry) Validate() error {
	if p.Name == "" {
		return goerr.Wrap(ErrMissingName, "provider name is required", goerr.V("type", p.Type))
	}
	if p.Type == "" {
		return goerr.Wrap(ErrInvalidConfig, "provider type is required", goerr.V(ProviderNameKey, p.Name))
	}
	if p.RateLimit < 0 || p.Burst < 0 {
		return goerr.Wrap(ErrInvalidRateLimit, "invalid rate limit",
			goerr.V(ProviderNameKey, p.Name),
			goerr.V("rate_limit", p.RateLimit),
			goerr.V("burst", p.Burst))
	}
	return nil
}

// ProviderConfig converts the entry for the factory catalog
func (p *ProviderEntry) ProviderConfig() model.ProviderConfig {
	return model.ProviderConfig{
		Name:    p.Name,
		Type:    p.Type,
		BaseURL: p.BaseURL,
		Options: p.Options,
	}
}

// Limiter returns the outbound limiter of the provider, or nil when
// unthrottled
func (p *ProviderEntry) Limiter() *rate.Limiter {
	if p.RateLimit <= 0 {
		return nil
	}
	burst := p.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(p.RateLimit), burst)
}

// Registration converts the entry into a registry registration
func (b *BindingEntry) Registration() (model.ProviderRegistration, error) {
	reg := model.ProviderRegistration{
		ProviderName:   b.Provider,
		CredentialsRef: b.CredentialsRef,
		TenantID:       types.TenantID(b.Tenant),
	}
	for _, s := range b.Capabilities {
		c, err := types.ParseCapability(s)
		if err != nil {
			return reg, goerr.Wrap(ErrInvalidCapability, "unknown capability",
				goerr.V(ProviderNameKey, b.Provider),
				goerr.V(CapabilityKey, s))
		}
		reg.Capabilities = append(reg.Capabilities, c)
	}
	return reg, nil
}

// Validate checks if the AppConfig is valid
func (a *AppConfig) Validate() error {
	names := make(map[string]bool)
	for i := range a.Providers {
		p := &a.Providers[i]
		if err := p.Validate(); err != nil {
			return goerr.Wrap(err, "invalid provider")
		}
		if names[p.Name] {
			return goerr.Wrap(ErrDuplicateProvider, "duplicate provider name", goerr.V(ProviderNameKey, p.Name))
		}
		names[p.Name] = true
	}

	for i := range a.Bindings {
		b := &a.Bindings[i]
		if !names[b.Provider] {
			return goerr.Wrap(ErrUnknownProvider, "binding references unknown provider",
				goerr.V(BindingIndexKey, i),
				goerr.V(ProviderNameKey, b.Provider))
		}
		if b.Tenant != "" {
			if err := types.TenantID(b.Tenant).Validate(); err != nil {
				return goerr.Wrap(ErrInvalidConfig, "invalid binding tenant", goerr.V(BindingIndexKey, i))
			}
		}
		if _, err := b.Registration(); err != nil {
			return goerr.Wrap(err, "invalid binding", goerr.V(BindingIndexKey, i))
		}
	}

	refs := make(map[string]bool)
	for _, c := range a.Credentials {
		if c.Ref == "" {
			return goerr.Wrap(ErrMissingName, "credential ref is required")
		}
		if refs[c.Ref] {
			return goerr.Wrap(ErrDuplicateCredRef, "duplicate credential ref", goerr.V(CredentialRefKey, c.Ref))
		}
		refs[c.Ref] = true
	}

	return nil
}

// LoadAppConfiguration loads the configuration from a TOML file
func LoadAppConfiguration(path string) (*AppConfig, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrConfigNotFound, "config file does not exist", goerr.V(ConfigPathKey, path))
		}
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V(ConfigPathKey, path))
	}

	return ParseAppConfiguration(data, path)
}

// ParseAppConfiguration parses and validates TOML content
func ParseAppConfiguration(data []byte, path string) (*AppConfig, error) {
	var config AppConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, goerr.Wrap(ErrInvalidConfig, "failed to parse TOML config",
			goerr.V(ConfigPathKey, path),
			goerr.V("cause", err.Error()))
	}

	if err := config.Validate(); err != nil {
		return nil, goerr.Wrap(err, "config validation failed", goerr.V(ConfigPathKey, path))
	}

	return &config, nil
}

// Runtime is what the configuration file builds
type Runtime struct {
	Registry    *provider.Registry
	Credentials *credentials.Static
	Options     []usecase.Option
}

// Build instantiates providers from the catalog, registers bindings and
// loads static credentials. Placeholders are checked here so an unset
// variable fails at startup; they are still expanded on every resolve.
func (a *AppConfig) Build(catalog *provider.Catalog, credOpts ...credentials.Option) (*Runtime, error) {
	rt := &Runtime{
		Registry:    provider.NewRegistry(),
		Credentials: credentials.NewStatic(credOpts...),
	}

	for i := range a.Providers {
		entry := &a.Providers[i]
		p, err := catalog.Build(entry.ProviderConfig())
		if err != nil {
			return nil, goerr.Wrap(err, "failed to build provider", goerr.V(ProviderNameKey, entry.Name))
		}
		if err := rt.Registry.Add(p); err != nil {
			return nil, goerr.Wrap(err, "failed to add provider", goerr.V(ProviderNameKey, entry.Name))
		}
		if limiter := entry.Limiter(); limiter != nil {
			rt.Options = append(rt.Options, usecase.WithProviderLimiter(entry.Name, limiter))
		}
	}

	for i := range a.Bindings {
		b := &a.Bindings[i]
		reg, err := b.Registration()
		if err != nil {
			return nil, goerr.Wrap(err, "invalid binding", goerr.V(BindingIndexKey, i))
		}
		p, ok := rt.Registry.Provider(b.Provider)
		if !ok {
			return nil, goerr.Wrap(ErrUnknownProvider, "binding references unknown provider",
				goerr.V(ProviderNameKey, b.Provider))
		}
		if err := rt.Registry.Register(reg, p); err != nil {
			return nil, goerr.Wrap(err, "failed to register binding", goerr.V(BindingIndexKey, i))
		}
	}

	for _, c := range a.Credentials {
		keys := make([]string, 0, len(c.Values))
		for k := range c.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, err := rt.Credentials.Expand(c.Values[k]); err != nil {
				return nil, goerr.Wrap(ErrUnresolvedVariable, "failed to expand credential value",
					goerr.V(CredentialRefKey, c.Ref),
					goerr.V("key", k),
					goerr.V("cause", err.Error()))
			}
		}
		rt.Credentials.Set(c.Ref, c.Values)
	}

	return rt, nil
}
