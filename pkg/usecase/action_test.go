package usecase_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/provider"
	"github.com/secmon-lab/actiongate/pkg/provider/mockcrm"
	"github.com/secmon-lab/actiongate/pkg/repository/memory"
	"github.com/secmon-lab/actiongate/pkg/service/credentials"
	"github.com/secmon-lab/actiongate/pkg/usecase"
	"github.com/secmon-lab/actiongate/pkg/utils/async"
)

const testTenant types.TenantID = "tenant-a"

type captureSink struct {
	mu   sync.Mutex
	recs []*model.AuditRecord
}

func (s *captureSink) Emit(_ context.Context, rec *model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *captureSink) Records() []*model.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.AuditRecord(nil), s.recs...)
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type fixture struct {
	crm     *mockcrm.Provider
	repo    *memory.Memory
	sink    *captureSink
	sleeper *recordingSleeper
	uc      *usecase.UseCases
}

func newFixture(t *testing.T, crm *mockcrm.Provider, opts ...usecase.Option) *fixture {
	t.Helper()
	if crm == nil {
		crm = mockcrm.New()
	}

	registry := provider.NewRegistry()
	gt.NoError(t, registry.Register(model.ProviderRegistration{
		TenantID:       testTenant,
		CredentialsRef: "crm",
	}, crm)).Required()

	f := &fixture{
		crm:     crm,
		repo:    memory.New(),
		sink:    &captureSink{},
		sleeper: &recordingSleeper{},
	}
	base := []usecase.Option{
		usecase.WithCredentialResolver(credentials.NewStatic(
			credentials.WithCredential("crm", map[string]string{"api_key": "k-123"}),
		)),
		usecase.WithAuditSink(f.sink),
		usecase.WithSleeper(f.sleeper.Sleep),
	}
	f.uc = usecase.New(f.repo, registry, append(base, opts...)...)
	return f
}

func createRequest(key types.IdempotencyKey) *model.ActionRequest {
	return &model.ActionRequest{
		Operation:      types.OpCRMContactCreate,
		TenantID:       testTenant,
		Parameters:     map[string]any{"email": "alice@example.com", "first_name": "Alice"},
		IdempotencyKey: key,
	}
}

func requireActionError(t *testing.T, err error) *model.ActionError {
	t.Helper()
	ae, ok := model.ActionErrorFrom(err)
	gt.Bool(t, ok).True()
	gt.Value(t, ae).NotNil()
	return ae
}

func waitAudit(t *testing.T) {
	t.Helper()
	gt.Bool(t, async.Wait(time.Second)).True()
}

func TestActionUseCase_Success(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.uc.Action.Execute(ctx, createRequest(""))
	gt.NoError(t, err).Required()

	gt.Value(t, result.Status).Equal(types.ActionStatusSuccess)
	gt.Value(t, result.TenantID).Equal(testTenant)
	gt.Value(t, result.Operation).Equal(types.OpCRMContactCreate)
	gt.Value(t, result.RetryCount).Equal(1)
	gt.Value(t, result.ActionID).NotEqual(types.ActionID(""))
	gt.Value(t, result.CorrelationID).NotEqual(types.CorrelationID(""))
	gt.Value(t, result.Result.Provider).Equal(mockcrm.Type)
	gt.Value(t, result.Result.ID).Equal("mock_crm_c_1")
	gt.Value(t, result.Result.ProviderID).Equal("c_1")
	gt.Value(t, result.Result.Data["email"]).Equal("alice@example.com")

	waitAudit(t)
	recs := f.sink.Records()
	gt.Array(t, recs).Length(1)
	gt.Value(t, recs[0].Outcome).Equal(model.AuditOutcomeSuccess)
	gt.Value(t, recs[0].ActionID).Equal(result.ActionID)
	gt.Value(t, recs[0].Provider).Equal(mockcrm.Type)
	gt.Bool(t, recs[0].CacheHit).False()
}

func TestActionUseCase_CorrelationID(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("caller supplied id is echoed", func(t *testing.T) {
		req := createRequest("")
		req.Parameters["email"] = "one@example.com"
		req.CorrelationID = "corr-from-caller"
		result, err := f.uc.Action.Execute(context.Background(), req)
		gt.NoError(t, err).Required()
		gt.Value(t, result.CorrelationID).Equal(types.CorrelationID("corr-from-caller"))
	})

	t.Run("context id is used when request has none", func(t *testing.T) {
		ctx := types.ContextWithCorrelationID(context.Background(), "corr-from-ctx")
		req := createRequest("")
		req.Parameters["email"] = "two@example.com"
		result, err := f.uc.Action.Execute(ctx, req)
		gt.NoError(t, err).Required()
		gt.Value(t, result.CorrelationID).Equal(types.CorrelationID("corr-from-ctx"))
	})

	t.Run("errors carry the correlation id", func(t *testing.T) {
		req := &model.ActionRequest{Operation: "crm.deal.create", TenantID: testTenant, CorrelationID: "corr-err"}
		_, err := f.uc.Action.Execute(context.Background(), req)
		ae := requireActionError(t, err)
		gt.Value(t, ae.CorrelationID).Equal(types.CorrelationID("corr-err"))
	})

	t.Run("caller request is not modified", func(t *testing.T) {
		req := createRequest("")
		req.Parameters["email"] = "three@example.com"
		_, err := f.uc.Action.Execute(context.Background(), req)
		gt.NoError(t, err).Required()
		gt.Value(t, req.CorrelationID).Equal(types.CorrelationID(""))
	})
}

func TestActionUseCase_IdempotentReplay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.uc.Action.Execute(ctx, createRequest("key-1"))
	gt.NoError(t, err).Required()

	second, err := f.uc.Action.Execute(ctx, createRequest("key-1"))
	gt.NoError(t, err).Required()

	gt.Value(t, second.ActionID).Equal(first.ActionID)
	gt.Value(t, second.Result.ID).Equal(first.Result.ID)
	gt.Value(t, second.RetryCount).Equal(first.RetryCount)
	gt.Value(t, f.crm.Calls("create_contact")).Equal(1)

	waitAudit(t)
	recs := f.sink.Records()
	gt.Array(t, recs).Length(2)
	hits := 0
	for _, rec := range recs {
		if rec.CacheHit {
			hits++
		}
	}
	gt.Value(t, hits).Equal(1)

	t.Run("keys are scoped by tenant", func(t *testing.T) {
		registry := f.uc.Registry()
		other := mockcrm.New(mockcrm.WithName("crm_b"))
		gt.NoError(t, registry.Register(model.ProviderRegistration{TenantID: "tenant-b", CredentialsRef: "crm"}, other)).Required()

		req := createRequest("key-1")
		req.TenantID = "tenant-b"
		result, err := f.uc.Action.Execute(ctx, req)
		gt.NoError(t, err).Required()
		gt.Value(t, result.ActionID).NotEqual(first.ActionID)
		gt.Value(t, other.Calls("create_contact")).Equal(1)
	})
}

func TestActionUseCase_FailedRequestIsNotCached(t *testing.T) {
	crm := mockcrm.New(mockcrm.WithFailures(
		model.NewActionError(types.ErrorCodeAuthentication, "bad key"),
	))
	f := newFixture(t, crm)
	ctx := context.Background()

	_, err := f.uc.Action.Execute(ctx, createRequest("key-retry"))
	gt.Value(t, requireActionError(t, err).Code).Equal(types.ErrorCodeAuthentication)

	rec, err := f.repo.Idempotency().Get(ctx, testTenant, "key-retry")
	gt.NoError(t, err).Required()
	gt.Value(t, rec).Nil()

	result, err := f.uc.Action.Execute(ctx, createRequest("key-retry"))
	gt.NoError(t, err).Required()
	gt.Value(t, result.Status).Equal(types.ActionStatusSuccess)
	gt.Value(t, crm.Calls("create_contact")).Equal(2)
}

func TestActionUseCase_InFlightElsewhere(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Another instance holds the key
	holder := model.NewPendingRecord(createRequest("key-busy"), time.Now().UTC(), 0)
	existing, err := f.repo.Idempotency().Reserve(ctx, holder)
	gt.NoError(t, err).Required()
	gt.Value(t, existing).Nil()

	_, err = f.uc.Action.Execute(ctx, createRequest("key-busy"))
	ae := requireActionError(t, err)
	gt.Value(t, ae.Code).Equal(types.ErrorCodeConflict)
	gt.Value(t, ae.Detail("reason")).Equal("idempotency_key_in_flight")
	gt.Value(t, ae.RetryAfter).NotNil()
	gt.Value(t, *ae.RetryAfter).Equal(1)
	gt.Value(t, f.crm.Calls("")).Equal(0)
}

func TestActionUseCase_ConcurrentDuplicates(t *testing.T) {
	crm := mockcrm.New(mockcrm.WithLatency(50 * time.Millisecond))
	f := newFixture(t, crm)
	ctx := context.Background()

	const n = 10
	results := make([]*model.ActionResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.uc.Action.Execute(ctx, createRequest("key-dup"))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		gt.NoError(t, errs[i]).Required()
		gt.Value(t, results[i].ActionID).Equal(results[0].ActionID)
	}
	gt.Value(t, crm.Calls("create_contact")).Equal(1)

	waitAudit(t)
	gt.Array(t, f.sink.Records()).Length(n)
}

func TestActionUseCase_Retry(t *testing.T) {
	transient := func() error {
		return model.NewActionError(types.ErrorCodeProvider, "upstream 503")
	}

	t.Run("transient failures then success", func(t *testing.T) {
		crm := mockcrm.New(mockcrm.WithFailures(transient(), transient()))
		f := newFixture(t, crm)

		result, err := f.uc.Action.Execute(context.Background(), createRequest(""))
		gt.NoError(t, err).Required()
		gt.Value(t, result.RetryCount).Equal(3)
		gt.Value(t, crm.Calls("create_contact")).Equal(3)

		delays := f.sleeper.Delays()
		gt.Array(t, delays).Length(2)
		gt.Value(t, delays[0]).Equal(time.Second)
		gt.Value(t, delays[1]).Equal(2 * time.Second)
	})

	t.Run("exhausted after four attempts", func(t *testing.T) {
		crm := mockcrm.New(mockcrm.WithFailures(transient(), transient(), transient(), transient(), transient()))
		f := newFixture(t, crm)

		_, err := f.uc.Action.Execute(context.Background(), createRequest(""))
		ae := requireActionError(t, err)
		gt.Value(t, ae.Code).Equal(types.ErrorCodeProvider)
		gt.Value(t, ae.RetryCount).Equal(4)
		gt.Value(t, crm.Calls("create_contact")).Equal(4)

		delays := f.sleeper.Delays()
		gt.Array(t, delays).Length(3)
		gt.Value(t, delays[2]).Equal(4 * time.Second)

		waitAudit(t)
		recs := f.sink.Records()
		gt.Array(t, recs).Length(1)
		gt.Value(t, recs[0].Outcome).Equal(model.AuditOutcomeFailure)
		gt.Value(t, recs[0].Provider).Equal(mockcrm.Type)
		gt.Value(t, recs[0].Error.RetryCount).Equal(4)
	})

	t.Run("non-retryable failure stops immediately", func(t *testing.T) {
		crm := mockcrm.New(mockcrm.WithFailures(
			model.NewActionError(types.ErrorCodePermission, "scope missing"),
		))
		f := newFixture(t, crm)

		_, err := f.uc.Action.Execute(context.Background(), createRequest(""))
		ae := requireActionError(t, err)
		gt.Value(t, ae.Code).Equal(types.ErrorCodePermission)
		gt.Value(t, ae.RetryCount).Equal(1)
		gt.Value(t, crm.Calls("create_contact")).Equal(1)
		gt.Array(t, f.sleeper.Delays()).Length(0)
	})

	t.Run("retry_after hint stretches the backoff", func(t *testing.T) {
		crm := mockcrm.New(mockcrm.WithFailures(
			model.NewActionError(types.ErrorCodeProvider, "rate limited", model.WithRetryAfter(3)),
			model.NewActionError(types.ErrorCodeProvider, "rate limited", model.WithRetryAfter(600)),
		))
		f := newFixture(t, crm)

		_, err := f.uc.Action.Execute(context.Background(), createRequest(""))
		gt.NoError(t, err).Required()

		delays := f.sleeper.Delays()
		gt.Array(t, delays).Length(2)
		gt.Value(t, delays[0]).Equal(3 * time.Second)
		gt.Value(t, delays[1]).Equal(10 * time.Second)
	})

	t.Run("custom policy", func(t *testing.T) {
		crm := mockcrm.New(mockcrm.WithFailures(transient(), transient()))
		f := newFixture(t, crm, usecase.WithRetryPolicy(usecase.RetryPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, Factor: 2}))

		_, err := f.uc.Action.Execute(context.Background(), createRequest(""))
		ae := requireActionError(t, err)
		gt.Value(t, ae.RetryCount).Equal(2)
		gt.Value(t, f.sleeper.Delays()[0]).Equal(10 * time.Millisecond)
	})

	t.Run("cancelled context ends the loop", func(t *testing.T) {
		crm := mockcrm.New(mockcrm.WithFailures(transient(), transient()))
		f := newFixture(t, crm)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := f.uc.Action.Execute(ctx, createRequest(""))
		ae := requireActionError(t, err)
		gt.Value(t, ae.RetryCount).Equal(1)
		gt.Value(t, crm.Calls("create_contact")).Equal(1)
	})
}

func TestActionUseCase_ResolutionFailures(t *testing.T) {
	t.Run("unbound capability is not found", func(t *testing.T) {
		f := newFixture(t, nil)
		req := &model.ActionRequest{
			Operation:  types.OpHelpdeskTicketCreate,
			TenantID:   testTenant,
			Parameters: map[string]any{"subject": "help"},
		}
		_, err := f.uc.Action.Execute(context.Background(), req)
		ae := requireActionError(t, err)
		gt.Value(t, ae.Code).Equal(types.ErrorCodeNotFound)
		gt.Value(t, f.crm.Calls("")).Equal(0)
	})

	t.Run("missing credentials is an authentication error", func(t *testing.T) {
		f := newFixture(t, nil, usecase.WithCredentialResolver(credentials.NewStatic()))
		_, err := f.uc.Action.Execute(context.Background(), createRequest(""))
		ae := requireActionError(t, err)
		gt.Value(t, ae.Code).Equal(types.ErrorCodeAuthentication)
		gt.Value(t, f.crm.Calls("")).Equal(0)
	})
}

type countingResolver struct {
	registry *provider.Registry
	lookups  atomic.Int32
}

func (r *countingResolver) Resolve(tenantID types.TenantID, capability types.Capability) (*provider.Binding, error) {
	r.lookups.Add(1)
	return r.registry.Resolve(tenantID, capability)
}

func TestActionUseCase_ValidationBeforeLookup(t *testing.T) {
	registry := provider.NewRegistry()
	gt.NoError(t, registry.Register(model.ProviderRegistration{CredentialsRef: "crm"}, mockcrm.New())).Required()
	resolver := &countingResolver{registry: registry}
	sink := &captureSink{}

	uc := usecase.NewActionUseCase(resolver, memory.New().Idempotency(), usecase.ActionConfig{
		Credentials: credentials.NewStatic(credentials.WithCredential("crm", map[string]string{"api_key": "k"})),
		Audit:       sink,
	})

	cases := []struct {
		name  string
		req   *model.ActionRequest
		field string
	}{
		{"nil request", nil, "body"},
		{"unknown operation", &model.ActionRequest{Operation: "crm.deal.create", TenantID: testTenant}, "operation"},
		{"missing tenant", &model.ActionRequest{Operation: types.OpCRMContactCreate}, "tenant_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := uc.Execute(context.Background(), tc.req)
			ae := requireActionError(t, err)
			gt.Value(t, ae.Code).Equal(types.ErrorCodeValidation)
			gt.Value(t, ae.Detail("field")).Equal(tc.field)
			gt.Value(t, ae.CorrelationID).NotEqual(types.CorrelationID(""))
		})
	}
	gt.Value(t, resolver.lookups.Load()).Equal(int32(0))

	waitAudit(t)
	gt.Array(t, sink.Records()).Length(len(cases))

	t.Run("valid request resolves once", func(t *testing.T) {
		_, err := uc.Execute(context.Background(), createRequest(""))
		gt.NoError(t, err).Required()
		gt.Value(t, resolver.lookups.Load()).Equal(int32(1))
	})
}

type scriptedProvider struct {
	*mockcrm.Provider
	exec func(ctx context.Context) (*model.RawResponse, error)
}

func newScripted(exec func(ctx context.Context) (*model.RawResponse, error)) *scriptedProvider {
	return &scriptedProvider{Provider: mockcrm.New(mockcrm.WithName("scripted")), exec: exec}
}

func (p *scriptedProvider) ExecuteAction(ctx context.Context, _ string, _ map[string]any, _ model.Credentials, _ types.IdempotencyKey) (*model.RawResponse, error) {
	return p.exec(ctx)
}

func TestActionUseCase_ProviderBehaviour(t *testing.T) {
	newUC := func(t *testing.T, p *scriptedProvider, opts ...usecase.Option) *usecase.UseCases {
		t.Helper()
		registry := provider.NewRegistry()
		gt.NoError(t, registry.Register(model.ProviderRegistration{CredentialsRef: "crm"}, p)).Required()
		base := []usecase.Option{
			usecase.WithCredentialResolver(credentials.NewStatic(
				credentials.WithCredential("crm", map[string]string{"api_key": "k"}))),
			usecase.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		}
		return usecase.New(memory.New(), registry, append(base, opts...)...)
	}

	t.Run("queued response", func(t *testing.T) {
		p := newScripted(func(context.Context) (*model.RawResponse, error) {
			raw, err := model.NewRawResponse(202, map[string]any{"contact": map[string]any{"id": "c_9"}})
			if err != nil {
				return nil, err
			}
			raw.Queued = true
			return raw, nil
		})
		result, err := newUC(t, p).Action.Execute(context.Background(), createRequest(""))
		gt.NoError(t, err).Required()
		gt.Value(t, result.Status).Equal(types.ActionStatusQueued)
		gt.Value(t, result.Result.ID).Equal("scripted_c_9")
		gt.Value(t, result.Result.ProviderID).Equal("c_9")
	})

	t.Run("attempt timeout", func(t *testing.T) {
		p := newScripted(func(ctx context.Context) (*model.RawResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		uc := newUC(t, p,
			usecase.WithAttemptTimeout(20*time.Millisecond),
			usecase.WithRetryPolicy(usecase.RetryPolicy{MaxAttempts: 1}),
		)
		_, err := uc.Action.Execute(context.Background(), createRequest(""))
		ae := requireActionError(t, err)
		gt.Value(t, ae.Code).Equal(types.ErrorCodeTimeout)
		gt.Value(t, ae.Detail("timeout_ms")).Equal(int64(20))
		gt.Value(t, ae.RetryCount).Equal(1)
	})

	t.Run("panic becomes internal error", func(t *testing.T) {
		p := newScripted(func(context.Context) (*model.RawResponse, error) {
			panic("boom")
		})
		_, err := newUC(t, p).Action.Execute(context.Background(), createRequest(""))
		ae := requireActionError(t, err)
		gt.Value(t, ae.Code).Equal(types.ErrorCodeInternal)
		gt.Value(t, ae.Message).Equal("internal error")
	})

	t.Run("unclassified error becomes provider error", func(t *testing.T) {
		var calls atomic.Int32
		p := newScripted(func(context.Context) (*model.RawResponse, error) {
			calls.Add(1)
			return nil, context.Canceled
		})
		_, err := newUC(t, p).Action.Execute(context.Background(), createRequest(""))
		ae := requireActionError(t, err)
		gt.Value(t, ae.Code).Equal(types.ErrorCodeProvider)
		gt.Value(t, calls.Load()).Equal(int32(4))
	})
}

type partialProvider struct {
	*mockcrm.Provider
}

func (p *partialProvider) Operations() []types.Operation {
	return []types.Operation{types.OpCRMContactCreate}
}

func TestActionUseCase_UnsupportedOperation(t *testing.T) {
	crm := mockcrm.New()
	registry := provider.NewRegistry()
	gt.NoError(t, registry.Register(model.ProviderRegistration{
		TenantID:       testTenant,
		CredentialsRef: "crm",
	}, &partialProvider{Provider: crm})).Required()

	creds := &countingCredentials{}
	uc := usecase.New(memory.New(), registry, usecase.WithCredentialResolver(creds))

	_, err := uc.Action.Execute(context.Background(), &model.ActionRequest{
		Operation:      types.OpCRMContactSearch,
		TenantID:       testTenant,
		Parameters:     map[string]any{"query": "alice"},
		IdempotencyKey: "key-search",
	})
	ae := requireActionError(t, err)
	gt.Value(t, ae.Code).Equal(types.ErrorCodeNotFound)
	gt.Value(t, ae.Detail("operation")).Equal(types.OpCRMContactSearch.String())
	gt.Value(t, crm.Calls("")).Equal(0)
	gt.Value(t, creds.calls.Load()).Equal(int32(0))

	t.Run("supported operation still runs", func(t *testing.T) {
		_, err := uc.Action.Execute(context.Background(), createRequest(""))
		gt.NoError(t, err).Required()
		gt.Value(t, crm.Calls("create_contact")).Equal(1)
	})
}

type countingCredentials struct {
	calls atomic.Int32
}

func (c *countingCredentials) Resolve(_ context.Context, _ types.TenantID, _ string, _ string) (model.Credentials, error) {
	c.calls.Add(1)
	return model.Credentials{"api_key": "k"}, nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestActionUseCase_LeaseCoversSlowProvider(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo := memory.New(memory.WithClock(clock.Now))

	var calls atomic.Int32
	entered := make(chan struct{})
	unblock := make(chan struct{})
	p := newScripted(func(ctx context.Context) (*model.RawResponse, error) {
		calls.Add(1)
		close(entered)
		<-unblock
		return model.NewRawResponse(200, map[string]any{"contact": map[string]any{"id": "c_1"}})
	})
	registry := provider.NewRegistry()
	gt.NoError(t, registry.Register(model.ProviderRegistration{CredentialsRef: "crm"}, p)).Required()

	// two gateway processes sharing one store
	newInstance := func() *usecase.UseCases {
		return usecase.New(repo, registry,
			usecase.WithCredentialResolver(credentials.NewStatic(
				credentials.WithCredential("crm", map[string]string{"api_key": "k"}))),
			usecase.WithAttemptTimeout(time.Hour),
			usecase.WithRetryPolicy(usecase.RetryPolicy{MaxAttempts: 1}),
			usecase.WithClock(clock.Now),
		)
	}
	first, second := newInstance(), newInstance()

	done := make(chan error, 1)
	go func() {
		_, err := first.Action.Execute(context.Background(), createRequest("key-slow"))
		done <- err
	}()
	<-entered

	clock.Advance(model.DefaultReservationLease + time.Minute)
	_, err := second.Action.Execute(context.Background(), createRequest("key-slow"))
	ae := requireActionError(t, err)
	gt.Value(t, ae.Code).Equal(types.ErrorCodeConflict)
	gt.Value(t, ae.Detail("reason")).Equal("idempotency_key_in_flight")

	close(unblock)
	gt.NoError(t, <-done).Required()
	gt.Value(t, calls.Load()).Equal(int32(1))

	rec, err := repo.Idempotency().Get(context.Background(), testTenant, "key-slow")
	gt.NoError(t, err).Required()
	gt.Value(t, rec.State).Equal(model.IdempotencyStateCompleted)
}

type blockingSink struct {
	err chan error
}

func (s *blockingSink) Emit(ctx context.Context, _ *model.AuditRecord) error {
	<-ctx.Done()
	s.err <- ctx.Err()
	return ctx.Err()
}

func TestActionUseCase_AuditTimeout(t *testing.T) {
	sink := &blockingSink{err: make(chan error, 1)}
	f := newFixture(t, nil,
		usecase.WithAuditSink(sink),
		usecase.WithAuditTimeout(20*time.Millisecond),
	)

	_, err := f.uc.Action.Execute(context.Background(), createRequest(""))
	gt.NoError(t, err).Required()

	waitAudit(t)
	select {
	case err := <-sink.err:
		gt.Error(t, err).Is(context.DeadlineExceeded)
	default:
		t.Fatal("audit sink was never cancelled")
	}
}

func TestRetryPolicy_Budget(t *testing.T) {
	p := usecase.DefaultRetryPolicy()
	// 4 attempts of 2x30s, three retries of at most 10s each, one minute margin
	gt.Value(t, p.Budget(30*time.Second)).Equal(5*time.Minute + 30*time.Second)

	slow := usecase.RetryPolicy{MaxAttempts: 1}
	gt.Value(t, slow.Budget(time.Hour)).Equal(2*time.Hour + time.Minute)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := usecase.DefaultRetryPolicy()
	gt.Value(t, p.MaxAttempts).Equal(4)

	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 30 * time.Second},
	}
	for _, tc := range cases {
		gt.Value(t, p.Delay(tc.retry)).Equal(tc.want)
	}

	gt.Value(t, usecase.RetryPolicy{}.Delay(3)).Equal(time.Duration(0))
	gt.Value(t, usecase.RetryPolicy{BaseDelay: time.Second, Factor: 0.5}.Delay(3)).Equal(time.Second)
}
