package provider

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

var (
	ErrDuplicateBinding  = goerr.New("duplicate provider binding")
	ErrDuplicateProvider = goerr.New("duplicate provider name")
	ErrInvalidProvider   = goerr.New("invalid provider")
	ErrProviderNotFound  = goerr.New("provider not found")
	ErrBindingNotFound   = goerr.New("binding not found")
)

// Binding is the resolved (scope, capability) target
type Binding struct {
	Registration model.ProviderRegistration
	Provider     interfaces.Provider
}

type bindingKey struct {
	tenantID   types.TenantID
	capability types.Capability
}

// Registry maps (tenant, capability) to a provider instance. It is the only
// source of capability bindings and is safe for concurrent use. Bindings are
// replaced, never mutated in place.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]interfaces.Provider
	bindings  map[bindingKey]*Binding
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]interfaces.Provider),
		bindings:  make(map[bindingKey]*Binding),
	}
}

// Add makes a provider instance available by name without binding it. Adding
// the same instance twice is a no-op.
func (r *Registry) Add(p interfaces.Provider) error {
	if err := verifyProvider(p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(p)
}

func (r *Registry) addLocked(p interfaces.Provider) error {
	if existing, ok := r.providers[p.Name()]; ok {
		if existing != p {
			return goerr.Wrap(ErrDuplicateProvider, "another provider instance has this name",
				goerr.V(model.ProviderNameKey, p.Name()))
		}
		return nil
	}
	r.providers[p.Name()] = p
	return nil
}

// Provider returns a provider instance by name
func (r *Registry) Provider(name string) (interfaces.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Register binds the capabilities of reg to p in the registration scope.
// Empty reg.Capabilities binds every capability p supports. A binding that
// already exists for the same (scope, capability) is an error; nothing is
// written in that case.
func (r *Registry) Register(reg model.ProviderRegistration, p interfaces.Provider) error {
	if err := verifyProvider(p); err != nil {
		return err
	}
	if reg.ProviderName == "" {
		reg.ProviderName = p.Name()
	}
	if reg.ProviderName != p.Name() {
		return goerr.Wrap(ErrInvalidProvider, "registration name does not match provider",
			goerr.V(model.ProviderNameKey, reg.ProviderName),
			goerr.V("actual_name", p.Name()))
	}
	if reg.TenantID != "" {
		if err := reg.TenantID.Validate(); err != nil {
			return goerr.Wrap(err, "invalid registration tenant")
		}
	}

	supported := p.Capabilities()
	if len(reg.Capabilities) == 0 {
		reg.Capabilities = slices.Clone(supported)
	}
	for _, c := range reg.Capabilities {
		if !slices.Contains(supported, c) {
			return goerr.Wrap(ErrInvalidProvider, "provider does not support capability",
				goerr.V(model.ProviderNameKey, p.Name()),
				goerr.V(model.CapabilityKey, c))
		}
	}
	reg = reg.Copy()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range reg.Capabilities {
		key := bindingKey{tenantID: reg.TenantID, capability: c}
		if existing, ok := r.bindings[key]; ok {
			return goerr.Wrap(ErrDuplicateBinding, "capability already bound in scope",
				goerr.V("scope", reg.Scope()),
				goerr.V(model.CapabilityKey, c),
				goerr.V("bound_provider", existing.Registration.ProviderName),
				goerr.V(model.ProviderNameKey, reg.ProviderName))
		}
	}
	if err := r.addLocked(p); err != nil {
		return err
	}

	binding := &Binding{Registration: reg, Provider: p}
	for _, c := range reg.Capabilities {
		r.bindings[bindingKey{tenantID: reg.TenantID, capability: c}] = binding
	}
	return nil
}

// Resolve returns the tenant's binding for capability, falling back to the
// global default. A missing binding is a NOT_FOUND action error.
func (r *Registry) Resolve(tenantID types.TenantID, capability types.Capability) (*Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if tenantID != "" {
		if b, ok := r.bindings[bindingKey{tenantID: tenantID, capability: capability}]; ok {
			return b, nil
		}
	}
	if b, ok := r.bindings[bindingKey{capability: capability}]; ok {
		return b, nil
	}

	return nil, model.NewActionError(types.ErrorCodeNotFound,
		fmt.Sprintf("no provider configured for capability %s", capability),
		model.WithDetail("capability", capability.String()),
		model.WithDetail("tenant_id", tenantID.String()),
	)
}

// Unregister removes every binding of providerName in the tenant scope. An
// empty tenantID removes global bindings.
func (r *Registry) Unregister(tenantID types.TenantID, providerName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, b := range r.bindings {
		if key.tenantID == tenantID && b.Registration.ProviderName == providerName {
			delete(r.bindings, key)
			removed++
		}
	}
	if removed == 0 {
		return goerr.Wrap(ErrBindingNotFound, "no binding to remove",
			goerr.V(model.TenantIDKey, tenantID),
			goerr.V(model.ProviderNameKey, providerName))
	}
	return nil
}

// ListCapabilities returns the capabilities a named provider supports
func (r *Registry) ListCapabilities(providerName string) ([]types.Capability, error) {
	p, ok := r.Provider(providerName)
	if !ok {
		return nil, goerr.Wrap(ErrProviderNotFound, "unknown provider",
			goerr.V(model.ProviderNameKey, providerName))
	}
	return slices.Clone(p.Capabilities()), nil
}

// Providers returns every known provider instance sorted by name
func (r *Registry) Providers() []model.ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]model.ProviderInfo, 0, len(r.providers))
	for _, p := range r.providers {
		infos = append(infos, model.ProviderInfo{
			Name:         p.Name(),
			Capabilities: slices.Clone(p.Capabilities()),
			Operations:   slices.Clone(p.Operations()),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Instances returns every known provider instance sorted by name
func (r *Registry) Instances() []interfaces.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Bindings returns one registration per Register call, global scope first
func (r *Registry) Bindings() []model.ProviderRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[*Binding]struct{})
	regs := make([]model.ProviderRegistration, 0)
	for _, b := range r.bindings {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		regs = append(regs, b.Registration.Copy())
	}
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].TenantID != regs[j].TenantID {
			return regs[i].TenantID < regs[j].TenantID
		}
		return regs[i].ProviderName < regs[j].ProviderName
	})
	return regs
}

// verifyProvider checks capability claims against handled operations. Every
// claimed capability needs at least one operation in its namespace and every
// operation must belong to a claimed capability.
func verifyProvider(p interfaces.Provider) error {
	if p == nil {
		return goerr.Wrap(ErrInvalidProvider, "provider is nil")
	}
	name := p.Name()
	if name == "" {
		return goerr.Wrap(ErrInvalidProvider, "provider name is empty")
	}

	caps := p.Capabilities()
	if len(caps) == 0 {
		return goerr.Wrap(ErrInvalidProvider, "provider declares no capabilities",
			goerr.V(model.ProviderNameKey, name))
	}

	handled := make(map[types.Capability]int)
	for _, op := range p.Operations() {
		c, ok := op.Capability()
		if !ok {
			return goerr.Wrap(ErrInvalidProvider, "provider handles an unknown operation",
				goerr.V(model.ProviderNameKey, name),
				goerr.V(model.OperationKey, op))
		}
		if !slices.Contains(caps, c) {
			return goerr.Wrap(ErrInvalidProvider, "operation belongs to an undeclared capability",
				goerr.V(model.ProviderNameKey, name),
				goerr.V(model.OperationKey, op),
				goerr.V(model.CapabilityKey, c))
		}
		handled[c]++
	}

	for _, c := range caps {
		if !c.IsValid() {
			return goerr.Wrap(ErrInvalidProvider, "unknown capability",
				goerr.V(model.ProviderNameKey, name),
				goerr.V(model.CapabilityKey, c))
		}
		if handled[c] == 0 {
			return goerr.Wrap(ErrInvalidProvider, "capability has no handled operation in its namespace",
				goerr.V(model.ProviderNameKey, name),
				goerr.V(model.CapabilityKey, c),
				goerr.V("namespace", c.Namespace()))
		}
	}
	return nil
}
