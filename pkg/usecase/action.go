package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/provider"
	"github.com/secmon-lab/actiongate/pkg/utils/async"
	"github.com/secmon-lab/actiongate/pkg/utils/errutil"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// DefaultAttemptTimeout bounds a single provider call
	DefaultAttemptTimeout = 30 * time.Second

	// DefaultAuditTimeout bounds delivery of one audit record
	DefaultAuditTimeout = 10 * time.Second

	tracerName = "github.com/secmon-lab/actiongate/pkg/usecase"
)

var errProviderPanic = goerr.New("provider panicked")

// Span attribute keys
var (
	AttrTenantID      = attribute.Key("actiongate.tenant_id")
	AttrOperation     = attribute.Key("actiongate.operation")
	AttrCorrelationID = attribute.Key("actiongate.correlation_id")
	AttrProvider      = attribute.Key("actiongate.provider")
	AttrAttempt       = attribute.Key("actiongate.attempt")
	AttrCacheHit      = attribute.Key("actiongate.cache_hit")
	AttrErrorCode     = attribute.Key("actiongate.error_code")
)

// BindingResolver resolves the provider bound to a tenant's capability
type BindingResolver interface {
	Resolve(tenantID types.TenantID, capability types.Capability) (*provider.Binding, error)
}

// ActionConfig holds the collaborators and tuning of ActionUseCase. Zero
// values fall back to defaults.
type ActionConfig struct {
	Credentials    interfaces.CredentialResolver
	Audit          interfaces.AuditSink
	Policy         RetryPolicy
	AttemptTimeout time.Duration
	AuditTimeout   time.Duration
	Limiters       map[string]*rate.Limiter
	Tracer         trace.Tracer
	Sleep          Sleeper
	Now            func() time.Time
}

// ActionUseCase is the execution pipeline turning an action request into
// exactly one result or one error
type ActionUseCase struct {
	resolver    BindingResolver
	idempotency interfaces.IdempotencyRepository
	cfg         ActionConfig
	flight      singleflight.Group
}

func NewActionUseCase(resolver BindingResolver, idempotency interfaces.IdempotencyRepository, cfg ActionConfig) *ActionUseCase {
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = DefaultRetryPolicy()
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = DefaultAuditTimeout
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ActionUseCase{
		resolver:    resolver,
		idempotency: idempotency,
		cfg:         cfg,
	}
}

// outcome is what one pipeline run produced. provider is kept on failure for
// the audit record.
type outcome struct {
	result   *model.ActionResult
	cacheHit bool
	provider string
}

// Execute runs req through validation, idempotency, provider resolution and
// the retry loop. The returned error is always a *model.ActionError.
func (uc *ActionUseCase) Execute(ctx context.Context, req *model.ActionRequest) (*model.ActionResult, error) {
	correlationID := correlationIDFor(ctx, req)

	var in *model.ActionRequest
	if req != nil {
		copied := *req
		if copied.CorrelationID == "" {
			copied.CorrelationID = correlationID
		}
		in = &copied
	}

	ctx = types.ContextWithCorrelationID(ctx, correlationID)
	ctx = logging.With(ctx, logging.From(ctx).With("correlation_id", correlationID.String()))

	ctx, span := uc.cfg.Tracer.Start(ctx, "actiongate.action",
		trace.WithAttributes(AttrCorrelationID.String(correlationID.String())))
	defer span.End()

	vr, err := model.ValidateRequest(in)
	if err != nil {
		actionErr := uc.finishError(ctx, span, err, correlationID)
		uc.emit(ctx, model.NewFailureAudit(in, "", actionErr))
		return nil, actionErr
	}

	span.SetAttributes(
		AttrTenantID.String(vr.Request.TenantID.String()),
		AttrOperation.String(vr.Request.Operation.String()),
	)
	ctx = logging.With(ctx, logging.From(ctx).With(
		"tenant_id", vr.Request.TenantID.String(),
		"operation", vr.Request.Operation.String(),
	))

	var out *outcome
	if vr.Request.IdempotencyKey == "" {
		out, err = uc.run(ctx, vr)
	} else {
		out, err = uc.executeOnce(ctx, vr)
	}

	if err != nil {
		providerName := ""
		if out != nil {
			providerName = out.provider
		}
		actionErr := uc.finishError(ctx, span, err, correlationID)
		uc.emit(ctx, model.NewFailureAudit(&vr.Request, providerName, actionErr))
		return nil, actionErr
	}

	span.SetAttributes(AttrCacheHit.Bool(out.cacheHit))
	if out.result.Result != nil {
		span.SetAttributes(AttrProvider.String(out.result.Result.Provider))
	}
	uc.emit(ctx, model.NewSuccessAudit(out.result.Copy(), out.cacheHit))
	return out.result.Copy(), nil
}

func correlationIDFor(ctx context.Context, req *model.ActionRequest) types.CorrelationID {
	if req != nil && req.CorrelationID != "" && req.CorrelationID.Validate() == nil {
		return req.CorrelationID
	}
	if id := types.CorrelationIDFromContext(ctx); id != "" {
		return id
	}
	return types.NewCorrelationID()
}

// executeOnce guards a keyed request. Duplicates in this process wait for the
// leader; duplicates across processes are answered from the idempotency
// store or rejected while the key is in flight.
func (uc *ActionUseCase) executeOnce(ctx context.Context, vr *model.ValidatedRequest) (*outcome, error) {
	flightKey := vr.Request.TenantID.String() + "\x00" + vr.Request.IdempotencyKey.String()

	leader := false
	v, err, _ := uc.flight.Do(flightKey, func() (any, error) {
		leader = true
		return uc.reserveAndRun(ctx, vr)
	})

	out, _ := v.(*outcome)
	if leader {
		return out, err
	}

	logging.From(ctx).Info("idempotency in-flight join",
		"idempotency_key", vr.Request.IdempotencyKey.String())
	if err != nil {
		return out, err
	}
	return &outcome{result: out.result, cacheHit: true, provider: out.provider}, nil
}

func (uc *ActionUseCase) reserveAndRun(ctx context.Context, vr *model.ValidatedRequest) (*outcome, error) {
	logger := logging.From(ctx)
	req := &vr.Request

	// The lease outlasts the whole attempt loop so no other process can take
	// the key over while a provider call may still be in flight
	lease := uc.cfg.Policy.Budget(uc.cfg.AttemptTimeout)
	pending := model.NewPendingRecord(req, uc.cfg.Now().UTC(), lease)
	existing, err := uc.idempotency.Reserve(ctx, pending)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to reserve idempotency key",
			goerr.V(model.TenantIDKey, req.TenantID),
			goerr.V(model.IdempotencyKeyKey, req.IdempotencyKey))
	}

	if existing != nil {
		if existing.State != model.IdempotencyStateCompleted || existing.StoredResult == nil {
			return nil, model.NewActionError(types.ErrorCodeConflict,
				"a request with this idempotency key is already in progress",
				model.WithDetail("reason", "idempotency_key_in_flight"),
				model.WithDetail("idempotency_key", req.IdempotencyKey.String()),
				model.WithRetryAfter(1),
			)
		}

		if existing.ParametersHash != "" && existing.ParametersHash != pending.ParametersHash {
			logger.Warn("idempotency key reused with different parameters",
				"idempotency_key", req.IdempotencyKey.String(),
				"stored_operation", existing.Operation.String(),
			)
		}

		out := &outcome{result: existing.StoredResult, cacheHit: true}
		if existing.StoredResult.Result != nil {
			out.provider = existing.StoredResult.Result.Provider
		}
		logger.Info("idempotency cache hit",
			"idempotency_key", req.IdempotencyKey.String(),
			"action_id", existing.StoredResult.ActionID.String(),
		)
		return out, nil
	}

	out, runErr := uc.run(ctx, vr)

	// Bookkeeping must survive a caller that went away mid-call
	storeCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		if err := uc.idempotency.Release(storeCtx, req.TenantID, req.IdempotencyKey, pending.Owner); err != nil {
			logger.Error("failed to release idempotency reservation",
				"error", err.Error(),
				"idempotency_key", req.IdempotencyKey.String())
		}
		return out, runErr
	}

	expiresAt := uc.cfg.Now().UTC().Add(model.DefaultIdempotencyTTL)
	if err := uc.idempotency.Complete(storeCtx, req.TenantID, req.IdempotencyKey, pending.Owner, out.result, expiresAt); err != nil {
		// The provider call already happened, so the result is still returned
		_ = errutil.Handle(ctx, goerr.Wrap(err, "failed to store idempotent result",
			goerr.V(model.TenantIDKey, req.TenantID),
			goerr.V(model.IdempotencyKeyKey, req.IdempotencyKey)),
			"idempotency store failed after provider call")
	}
	return out, nil
}

// run resolves the provider and drives the attempt loop
func (uc *ActionUseCase) run(ctx context.Context, vr *model.ValidatedRequest) (*outcome, error) {
	logger := logging.From(ctx)
	req := &vr.Request

	binding, err := uc.resolver.Resolve(req.TenantID, vr.Capability)
	if err != nil {
		return nil, err
	}
	p := binding.Provider
	out := &outcome{provider: p.Name()}
	ctx = logging.With(ctx, logger.With("provider", p.Name()))
	logger = logging.From(ctx)

	if !slices.Contains(p.Operations(), req.Operation) {
		return out, model.NewActionError(types.ErrorCodeNotFound,
			fmt.Sprintf("%s does not support %s", p.Name(), req.Operation),
			model.WithDetail("provider", p.Name()),
			model.WithDetail("operation", req.Operation.String()))
	}

	creds, err := uc.resolveCredentials(ctx, req.TenantID, p.Name(), binding.Registration.CredentialsRef)
	if err != nil {
		return out, err
	}

	logger.Info("fresh execution", "capability", vr.Capability.String())

	policy := uc.cfg.Policy
	started := uc.cfg.Now()
	var lastErr *model.ActionError
	attempts := 0

	for attempt := 1; attempt <= policy.attempts(); attempt++ {
		if attempt > 1 {
			delay := policy.wait(attempt-1, lastErr)
			logger.Warn("retrying provider call",
				"attempt", attempt,
				"delay", delay.String(),
				"last_code", lastErr.Code.String(),
			)
			if err := uc.cfg.Sleep(ctx, delay); err != nil {
				break
			}
		}

		attempts = attempt
		raw, actionErr := uc.attempt(ctx, p, vr, creds, attempt)
		if actionErr == nil {
			canonical, normErr := normalize(p, raw, vr.Action)
			if normErr != nil {
				return out, normErr
			}

			status := types.ActionStatusSuccess
			if raw != nil && raw.Queued {
				status = types.ActionStatusQueued
			}
			out.result = &model.ActionResult{
				ActionID:      types.NewActionID(),
				CorrelationID: req.CorrelationID,
				TenantID:      req.TenantID,
				Operation:     req.Operation,
				Status:        status,
				DurationMS:    uc.cfg.Now().Sub(started).Milliseconds(),
				Result:        canonical,
				RetryCount:    attempts,
				CreatedAt:     uc.cfg.Now().UTC(),
			}
			return out, nil
		}

		lastErr = actionErr
		if !actionErr.Retryable() {
			break
		}
	}

	final := lastErr.Copy()
	final.RetryCount = attempts
	return out, final
}

// attempt performs one bounded provider call
func (uc *ActionUseCase) attempt(ctx context.Context, p interfaces.Provider, vr *model.ValidatedRequest, creds model.Credentials, n int) (raw *model.RawResponse, actionErr *model.ActionError) {
	ctx, span := uc.cfg.Tracer.Start(ctx, "actiongate.attempt", trace.WithAttributes(
		AttrProvider.String(p.Name()),
		AttrAttempt.Int(n),
	))
	defer func() {
		if actionErr != nil {
			span.SetAttributes(AttrErrorCode.String(actionErr.Code.String()))
			span.SetStatus(otelcodes.Error, actionErr.Message)
		}
		span.End()
	}()

	if limiter := uc.cfg.Limiters[p.Name()]; limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, uc.cfg.AttemptTimeout)
		err := limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			return nil, model.NewActionError(types.ErrorCodeTimeout,
				"gave up waiting for the provider rate limit",
				model.WithDetail("provider", p.Name()))
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, uc.cfg.AttemptTimeout)
	defer cancel()

	raw, err := callProvider(attemptCtx, p, vr, creds)
	if err == nil {
		return raw, nil
	}

	if errors.Is(err, errProviderPanic) {
		_ = errutil.Handle(ctx, err, "provider panicked")
		return nil, model.NewActionError(types.ErrorCodeInternal, "internal error")
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, model.NewActionError(types.ErrorCodeTimeout,
			fmt.Sprintf("%s did not respond within %s", p.Name(), uc.cfg.AttemptTimeout),
			model.WithDetail("provider", p.Name()),
			model.WithDetail("timeout_ms", uc.cfg.AttemptTimeout.Milliseconds()))
	}
	if ae, ok := model.ActionErrorFrom(err); ok {
		return nil, ae.Copy()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, model.NewActionError(types.ErrorCodeTimeout,
			fmt.Sprintf("%s call timed out", p.Name()),
			model.WithDetail("provider", p.Name()))
	}
	logging.From(ctx).Warn("provider returned an unclassified error", "error", err.Error())
	return nil, model.NewActionError(types.ErrorCodeProvider,
		fmt.Sprintf("%s call failed", p.Name()),
		model.WithDetail("provider", p.Name()))
}

func callProvider(ctx context.Context, p interfaces.Provider, vr *model.ValidatedRequest, creds model.Credentials) (raw *model.RawResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = goerr.Wrap(errProviderPanic, "recovered from provider",
				goerr.V(model.ProviderNameKey, p.Name()),
				goerr.V("panic", fmt.Sprint(r)))
			raw = nil
		}
	}()
	return p.ExecuteAction(ctx, vr.Action, vr.Request.Parameters, creds, vr.Request.IdempotencyKey)
}

func normalize(p interfaces.Provider, raw *model.RawResponse, action string) (result *model.CanonicalResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = goerr.New("provider failed to normalize response",
				goerr.V(model.ProviderNameKey, p.Name()),
				goerr.V("panic", fmt.Sprint(r)))
			result = nil
		}
	}()
	if raw == nil {
		raw = &model.RawResponse{}
	}
	result = p.NormalizeResponse(raw, action)
	if result == nil {
		return nil, goerr.New("provider returned no canonical result",
			goerr.V(model.ProviderNameKey, p.Name()))
	}
	return result, nil
}

func (uc *ActionUseCase) resolveCredentials(ctx context.Context, tenantID types.TenantID, providerName, ref string) (model.Credentials, error) {
	if uc.cfg.Credentials == nil {
		return nil, model.NewActionError(types.ErrorCodeAuthentication,
			fmt.Sprintf("no credentials configured for %s", providerName),
			model.WithDetail("provider", providerName))
	}

	creds, err := uc.cfg.Credentials.Resolve(ctx, tenantID, providerName, ref)
	if err != nil {
		if ae, ok := model.ActionErrorFrom(err); ok {
			return nil, ae
		}
		logging.From(ctx).Warn("credentials lookup failed",
			"error", err.Error(),
			"credentials_ref", ref)
		return nil, model.NewActionError(types.ErrorCodeAuthentication,
			fmt.Sprintf("credentials for %s are unavailable", providerName),
			model.WithDetail("provider", providerName))
	}
	if len(creds) == 0 {
		return nil, model.NewActionError(types.ErrorCodeAuthentication,
			fmt.Sprintf("no credentials configured for %s", providerName),
			model.WithDetail("provider", providerName))
	}
	return creds, nil
}

// finishError converts err into the caller-facing ActionError stamped with
// the request's correlation id
func (uc *ActionUseCase) finishError(ctx context.Context, span trace.Span, err error, correlationID types.CorrelationID) *model.ActionError {
	actionErr, ok := model.ActionErrorFrom(err)
	if ok {
		actionErr = actionErr.Copy()
	} else {
		actionErr = model.NewActionError(types.ErrorCodeInternal, "internal error")
	}
	if actionErr.Code == types.ErrorCodeInternal {
		_ = errutil.Handle(ctx, err, "action pipeline internal error")
	}
	actionErr.CorrelationID = correlationID

	span.SetAttributes(AttrErrorCode.String(actionErr.Code.String()))
	span.SetStatus(otelcodes.Error, actionErr.Message)
	logging.From(ctx).Info("action failed",
		"code", actionErr.Code.String(),
		"message", actionErr.Message,
		"retry_count", actionErr.RetryCount,
	)
	return actionErr
}

func (uc *ActionUseCase) emit(ctx context.Context, rec *model.AuditRecord) {
	if uc.cfg.Audit == nil {
		return
	}
	sink := uc.cfg.Audit
	timeout := uc.cfg.AuditTimeout
	async.Dispatch(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := sink.Emit(ctx, rec); err != nil {
			return goerr.Wrap(err, "failed to emit audit record",
				goerr.V("audit_id", rec.ID),
				goerr.V(model.TenantIDKey, rec.TenantID))
		}
		return nil
	})
}
