package model

import (
	"slices"

	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

// ProviderRegistration binds capabilities to a provider for a tenant. An
// empty TenantID registers the global default.
type ProviderRegistration struct {
	ProviderName   string             `json:"provider_name"`
	Capabilities   []types.Capability `json:"capabilities"`
	CredentialsRef string             `json:"credentials_ref"`
	TenantID       types.TenantID     `json:"tenant_id,omitempty"`
}

// IsGlobal reports whether the registration is the global default
func (r ProviderRegistration) IsGlobal() bool {
	return r.TenantID == ""
}

// Scope returns a printable scope name for logs
func (r ProviderRegistration) Scope() string {
	if r.IsGlobal() {
		return "global"
	}
	return r.TenantID.String()
}

// Copy returns a copy with its own capability slice
func (r ProviderRegistration) Copy() ProviderRegistration {
	r.Capabilities = slices.Clone(r.Capabilities)
	return r
}

// ProviderInfo describes a provider instance for introspection
type ProviderInfo struct {
	Name         string             `json:"name"`
	Capabilities []types.Capability `json:"capabilities"`
	Operations   []types.Operation  `json:"operations"`
}

// ProviderHealth is the health check outcome of one provider
type ProviderHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
}

// ProviderConfig is the per-instance configuration handed to a provider
// factory
type ProviderConfig struct {
	Name    string         `json:"name" toml:"name"`
	Type    string         `json:"type" toml:"type"`
	BaseURL string         `json:"base_url,omitempty" toml:"base_url"`
	Options map[string]any `json:"options,omitempty" toml:"options"`
}

// Option returns a string option or def when unset
func (c ProviderConfig) Option(key, def string) string {
	if c.Options == nil {
		return def
	}
	if v, ok := c.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// ProviderOverview lists provider instances and the active bindings
type ProviderOverview struct {
	Providers []ProviderInfo         `json:"providers"`
	Bindings  []ProviderRegistration `json:"bindings"`
}
