package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/provider"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

// DefaultHealthTimeout bounds each provider health check
const DefaultHealthTimeout = 2 * time.Second

// ProviderUseCase administers provider bindings
type ProviderUseCase struct {
	registry      *provider.Registry
	credentials   interfaces.CredentialResolver
	healthTimeout time.Duration
}

func NewProviderUseCase(registry *provider.Registry, credentials interfaces.CredentialResolver, healthTimeout time.Duration) *ProviderUseCase {
	if healthTimeout <= 0 {
		healthTimeout = DefaultHealthTimeout
	}
	return &ProviderUseCase{
		registry:      registry,
		credentials:   credentials,
		healthTimeout: healthTimeout,
	}
}

// List returns provider instances and the current bindings
func (uc *ProviderUseCase) List() *model.ProviderOverview {
	return &model.ProviderOverview{
		Providers: uc.registry.Providers(),
		Bindings:  uc.registry.Bindings(),
	}
}

// Health checks every provider concurrently. A provider that does not answer
// within the health timeout is reported unhealthy.
func (uc *ProviderUseCase) Health(ctx context.Context) []model.ProviderHealth {
	instances := uc.registry.Instances()
	results := make([]model.ProviderHealth, len(instances))

	var eg errgroup.Group
	for i, p := range instances {
		eg.Go(func() error {
			hctx, cancel := context.WithTimeout(ctx, uc.healthTimeout)
			defer cancel()
			results[i] = model.ProviderHealth{Name: p.Name(), Healthy: checkHealth(hctx, p)}
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// checkHealth does not trust the provider to honour ctx
func checkHealth(ctx context.Context, p interfaces.Provider) bool {
	done := make(chan bool, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.From(ctx).Error("health check panicked", "provider", p.Name(), "panic", r)
				done <- false
			}
		}()
		done <- p.HealthCheck(ctx)
	}()

	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		return false
	}
}

// Activate binds providerName to capabilities for tenantID after checking
// that the referenced credentials are configured and accepted
func (uc *ProviderUseCase) Activate(ctx context.Context, tenantID types.TenantID, providerName string, capabilities []types.Capability, credentialsRef string) (*model.ProviderRegistration, error) {
	if err := tenantID.Validate(); err != nil {
		return nil, model.NewActionError(types.ErrorCodeValidation, "tenant_id is invalid",
			model.WithDetail("field", "tenant_id"))
	}
	for _, c := range capabilities {
		if !c.IsValid() {
			return nil, model.NewActionError(types.ErrorCodeValidation,
				fmt.Sprintf("unknown capability %q", c),
				model.WithDetail("field", "capabilities"))
		}
	}

	p, ok := uc.registry.Provider(providerName)
	if !ok {
		return nil, model.NewActionError(types.ErrorCodeNotFound,
			fmt.Sprintf("provider %q is not configured", providerName),
			model.WithDetail("provider", providerName))
	}

	if uc.credentials == nil {
		return nil, model.NewActionError(types.ErrorCodeAuthentication,
			fmt.Sprintf("no credentials configured for %s", providerName),
			model.WithDetail("provider", providerName))
	}
	creds, err := uc.credentials.Resolve(ctx, tenantID, providerName, credentialsRef)
	if err != nil {
		if ae, ok := model.ActionErrorFrom(err); ok {
			return nil, ae
		}
		return nil, model.NewActionError(types.ErrorCodeAuthentication,
			fmt.Sprintf("credentials for %s are unavailable", providerName),
			model.WithDetail("provider", providerName),
			model.WithDetail("credentials_ref", credentialsRef))
	}

	valid, err := p.ValidateCredentials(ctx, creds)
	if err != nil {
		if ae, ok := model.ActionErrorFrom(err); ok {
			return nil, ae
		}
		return nil, model.NewActionError(types.ErrorCodeAuthentication,
			fmt.Sprintf("%s rejected the credentials", providerName),
			model.WithDetail("provider", providerName))
	}
	if !valid {
		return nil, model.NewActionError(types.ErrorCodeValidation,
			fmt.Sprintf("credentials for %s are not configured", providerName),
			model.WithDetail("field", "credentials_ref"),
			model.WithDetail("provider", providerName))
	}

	reg := model.ProviderRegistration{
		ProviderName:   providerName,
		Capabilities:   capabilities,
		CredentialsRef: credentialsRef,
		TenantID:       tenantID,
	}
	if err := uc.registry.Register(reg, p); err != nil {
		switch {
		case errors.Is(err, provider.ErrDuplicateBinding):
			return nil, model.NewActionError(types.ErrorCodeConflict,
				"capability is already bound for this tenant",
				model.WithDetail("provider", providerName))
		case errors.Is(err, provider.ErrInvalidProvider):
			return nil, model.NewActionError(types.ErrorCodeValidation,
				fmt.Sprintf("%s does not support the requested capabilities", providerName),
				model.WithDetail("field", "capabilities"))
		default:
			return nil, err
		}
	}

	logging.From(ctx).Info("provider activated",
		"tenant_id", tenantID.String(),
		"provider", providerName,
		"capabilities", capabilities)

	bound := uc.registry.Bindings()
	for i := range bound {
		if bound[i].TenantID == tenantID && bound[i].ProviderName == providerName {
			return &bound[i], nil
		}
	}
	return &reg, nil
}

// Deactivate removes the tenant's bindings of providerName
func (uc *ProviderUseCase) Deactivate(ctx context.Context, tenantID types.TenantID, providerName string) error {
	if err := tenantID.Validate(); err != nil {
		return model.NewActionError(types.ErrorCodeValidation, "tenant_id is invalid",
			model.WithDetail("field", "tenant_id"))
	}
	if err := uc.registry.Unregister(tenantID, providerName); err != nil {
		if errors.Is(err, provider.ErrBindingNotFound) {
			return model.NewActionError(types.ErrorCodeNotFound,
				fmt.Sprintf("%s is not bound for tenant %s", providerName, tenantID),
				model.WithDetail("provider", providerName))
		}
		return err
	}

	logging.From(ctx).Info("provider deactivated",
		"tenant_id", tenantID.String(),
		"provider", providerName)
	return nil
}
