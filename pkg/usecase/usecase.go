package usecase

import (
	"time"

	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/provider"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

type UseCases struct {
	repo     interfaces.Repository
	registry *provider.Registry

	actionCfg     ActionConfig
	healthTimeout time.Duration

	Action   *ActionUseCase
	Provider *ProviderUseCase
	Audit    *AuditUseCase
}

type Option func(*UseCases)

func WithCredentialResolver(resolver interfaces.CredentialResolver) Option {
	return func(uc *UseCases) {
		uc.actionCfg.Credentials = resolver
	}
}

func WithAuditSink(sink interfaces.AuditSink) Option {
	return func(uc *UseCases) {
		uc.actionCfg.Audit = sink
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(uc *UseCases) {
		uc.actionCfg.Policy = policy
	}
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(uc *UseCases) {
		uc.actionCfg.AttemptTimeout = d
	}
}

// WithAuditTimeout bounds delivery of each audit record
func WithAuditTimeout(d time.Duration) Option {
	return func(uc *UseCases) {
		uc.actionCfg.AuditTimeout = d
	}
}

// WithProviderLimiter throttles outbound calls to the named provider
func WithProviderLimiter(providerName string, limiter *rate.Limiter) Option {
	return func(uc *UseCases) {
		if uc.actionCfg.Limiters == nil {
			uc.actionCfg.Limiters = make(map[string]*rate.Limiter)
		}
		uc.actionCfg.Limiters[providerName] = limiter
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(uc *UseCases) {
		uc.actionCfg.Tracer = tracer
	}
}

// WithSleeper replaces the backoff sleep, mainly for tests
func WithSleeper(sleep Sleeper) Option {
	return func(uc *UseCases) {
		uc.actionCfg.Sleep = sleep
	}
}

func WithClock(now func() time.Time) Option {
	return func(uc *UseCases) {
		uc.actionCfg.Now = now
	}
}

func WithHealthTimeout(d time.Duration) Option {
	return func(uc *UseCases) {
		uc.healthTimeout = d
	}
}

func New(repo interfaces.Repository, registry *provider.Registry, opts ...Option) *UseCases {
	uc := &UseCases{
		repo:     repo,
		registry: registry,
	}

	for _, opt := range opts {
		opt(uc)
	}

	uc.Action = NewActionUseCase(registry, repo.Idempotency(), uc.actionCfg)
	uc.Provider = NewProviderUseCase(registry, uc.actionCfg.Credentials, uc.healthTimeout)
	uc.Audit = NewAuditUseCase(repo.Audit())

	return uc
}

// Repository returns the backing repository
func (uc *UseCases) Repository() interfaces.Repository {
	return uc.repo
}

// Registry returns the provider registry
func (uc *UseCases) Registry() *provider.Registry {
	return uc.registry
}
