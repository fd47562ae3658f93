package credentials

import (
	"context"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

var (
	ErrNotFound    = goerr.New("credentials not found")
	ErrInvalidRef  = goerr.New("invalid credentials reference")
	ErrUnsetEnvVar = goerr.New("environment variable is not set")
)

// EnvRefPrefix marks a reference whose values are read from environment
// variables. "env:HUBSPOT" collects HUBSPOT_ACCESS_TOKEN as access_token.
const EnvRefPrefix = "env:"

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Static resolves credentials from an in-process table. Tenant scoped entries
// ("<tenant>/<ref>") win over unscoped ones. Values are looked up on every
// call so rotated environment variables apply to the next request.
type Static struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
	environ func() []string
	lookup  func(string) (string, bool)
}

var _ interfaces.CredentialResolver = &Static{}

type Option func(*Static)

// WithCredential registers values under ref
func WithCredential(ref string, values map[string]string) Option {
	return func(s *Static) {
		s.entries[ref] = cloneValues(values)
	}
}

// WithEnviron replaces os.Environ and os.LookupEnv, mainly for tests
func WithEnviron(env map[string]string) Option {
	return func(s *Static) {
		s.environ = func() []string {
			out := make([]string, 0, len(env))
			for k, v := range env {
				out = append(out, k+"="+v)
			}
			return out
		}
		s.lookup = func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		}
	}
}

func NewStatic(opts ...Option) *Static {
	s := &Static{
		entries: make(map[string]map[string]string),
		environ: os.Environ,
		lookup:  os.LookupEnv,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set registers or replaces the values of ref
func (s *Static) Set(ref string, values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[ref] = cloneValues(values)
}

// Refs returns the registered references
func (s *Static) Refs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := make([]string, 0, len(s.entries))
	for ref := range s.entries {
		refs = append(refs, ref)
	}
	return refs
}

func (s *Static) Resolve(ctx context.Context, tenantID types.TenantID, providerName, ref string) (model.Credentials, error) {
	if ref == "" {
		return nil, goerr.Wrap(ErrInvalidRef, "credentials reference is empty",
			goerr.V(model.ProviderNameKey, providerName))
	}

	if strings.HasPrefix(ref, EnvRefPrefix) {
		return s.fromEnv(strings.TrimPrefix(ref, EnvRefPrefix))
	}

	s.mu.RLock()
	values, ok := s.entries[tenantID.String()+"/"+ref]
	if !ok {
		values, ok = s.entries[ref]
	}
	s.mu.RUnlock()
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "no credentials registered for reference",
			goerr.V("ref", ref),
			goerr.V(model.TenantIDKey, tenantID),
			goerr.V(model.ProviderNameKey, providerName))
	}

	creds := make(model.Credentials, len(values))
	for k, v := range values {
		expanded, err := s.Expand(v)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to expand credential value",
				goerr.V("ref", ref),
				goerr.V("key", k))
		}
		creds[k] = expanded
	}
	return creds, nil
}

// Expand substitutes ${VAR} placeholders. A placeholder naming an unset
// variable is an error.
func (s *Static) Expand(v string) (string, error) {
	var missing string
	out := placeholder.ReplaceAllStringFunc(v, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		val, ok := s.lookup(name)
		if !ok && missing == "" {
			missing = name
		}
		return val
	})
	if missing != "" {
		return "", goerr.Wrap(ErrUnsetEnvVar, "placeholder refers to an unset variable", goerr.V("name", missing))
	}
	return out, nil
}

func (s *Static) fromEnv(prefix string) (model.Credentials, error) {
	if prefix == "" {
		return nil, goerr.Wrap(ErrInvalidRef, "env reference has no variable prefix")
	}
	prefix = strings.ToUpper(prefix) + "_"

	creds := model.Credentials{}
	for _, kv := range s.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) || value == "" {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, prefix))
		if key != "" {
			creds[key] = value
		}
	}
	if len(creds) == 0 {
		return nil, goerr.Wrap(ErrNotFound, "no environment variables for reference", goerr.V("prefix", prefix))
	}
	return creds, nil
}

func cloneValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
