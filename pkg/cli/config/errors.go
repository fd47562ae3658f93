package config

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors for configuration validation
var (
	ErrConfigNotFound     = goerr.New("configuration file not found")
	ErrInvalidConfig      = goerr.New("invalid configuration")
	ErrDuplicateProvider  = goerr.New("duplicate provider name")
	ErrDuplicateCredRef   = goerr.New("duplicate credentials ref")
	ErrUnknownProvider    = goerr.New("binding references unknown provider")
	ErrInvalidCapability  = goerr.New("invalid capability")
	ErrMissingName        = goerr.New("name is required")
	ErrInvalidRateLimit   = goerr.New("rate limit must not be negative")
	ErrUnresolvedVariable = goerr.New("credential value references an unset variable")
)

// Context keys for error values
const (
	ConfigPathKey    = "config_path"
	ProviderNameKey  = "provider_name"
	BindingIndexKey  = "binding_index"
	CredentialRefKey = "credentials_ref"
	CapabilityKey    = "capability"
)
