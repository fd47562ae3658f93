// Package mockcrm is an in-memory CRM provider. It keeps contacts in process,
// honours idempotency keys natively and can be told to fail, which makes it
// the provider of choice for tests and exec dry runs.
package mockcrm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

// Type is the factory type and default provider name
const Type = "mock_crm"

const (
	actionCreate = "create_contact"
	actionGet    = "get_contact"
	actionUpdate = "update_contact"
	actionSearch = "search_contacts"
)

// Provider is the in-memory CRM
type Provider struct {
	name    string
	latency time.Duration

	mu       sync.Mutex
	contacts map[string]map[string]any
	byKey    map[types.IdempotencyKey]string
	nextID   int
	calls    map[string]int
	failures []error
	healthy  bool
}

// Option configures Provider
type Option func(*Provider)

// WithName overrides the provider name
func WithName(name string) Option {
	return func(p *Provider) {
		p.name = name
	}
}

// WithLatency delays each call, honouring context cancellation
func WithLatency(d time.Duration) Option {
	return func(p *Provider) {
		p.latency = d
	}
}

// WithFailures queues errors returned by the next calls, one per call
func WithFailures(errs ...error) Option {
	return func(p *Provider) {
		p.failures = append(p.failures, errs...)
	}
}

// New creates an empty in-memory CRM
func New(opts ...Option) *Provider {
	p := &Provider{
		name:     Type,
		contacts: make(map[string]map[string]any),
		byKey:    make(map[types.IdempotencyKey]string),
		calls:    make(map[string]int),
		healthy:  true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Factory builds a Provider from configuration. Option "fail_first" queues
// that many PROVIDER_ERROR failures.
func Factory(cfg model.ProviderConfig) (*Provider, error) {
	opts := []Option{WithName(cfg.Name)}
	if n, ok := model.Params(cfg.Options).Int("fail_first"); ok {
		for i := 0; i < n; i++ {
			opts = append(opts, WithFailures(model.NewActionError(types.ErrorCodeProvider, "injected failure")))
		}
	}
	if ms, ok := model.Params(cfg.Options).Int("latency_ms"); ok {
		opts = append(opts, WithLatency(time.Duration(ms)*time.Millisecond))
	}
	return New(opts...), nil
}

// InjectFailures queues errors returned by the next calls
func (p *Provider) InjectFailures(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, errs...)
}

// SetHealthy sets the HealthCheck result
func (p *Provider) SetHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

// Calls returns how many times ExecuteAction was invoked for action. An empty
// action counts every call.
func (p *Provider) Calls(action string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if action == "" {
		total := 0
		for _, n := range p.calls {
			total += n
		}
		return total
	}
	return p.calls[action]
}

// Name implements interfaces.Provider
func (p *Provider) Name() string { return p.name }

// Capabilities implements interfaces.Provider
func (p *Provider) Capabilities() []types.Capability {
	return []types.Capability{types.CapabilityCRMContacts}
}

// Operations implements interfaces.Provider
func (p *Provider) Operations() []types.Operation {
	return []types.Operation{
		types.OpCRMContactCreate,
		types.OpCRMContactGet,
		types.OpCRMContactUpdate,
		types.OpCRMContactSearch,
	}
}

// ValidateCredentials accepts any non-empty api_key except "invalid"
func (p *Provider) ValidateCredentials(ctx context.Context, creds model.Credentials) (bool, error) {
	key := creds.Get("api_key")
	if key == "" {
		return false, nil
	}
	if key == "invalid" {
		return false, model.NewActionError(types.ErrorCodeAuthentication, "mock_crm rejected the api key")
	}
	return true, nil
}

// HealthCheck implements interfaces.Provider
func (p *Provider) HealthCheck(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy
}

// ExecuteAction implements interfaces.Provider
func (p *Provider) ExecuteAction(ctx context.Context, action string, params map[string]any, creds model.Credentials, key types.IdempotencyKey) (*model.RawResponse, error) {
	p.mu.Lock()
	p.calls[action]++
	var injected error
	if len(p.failures) > 0 {
		injected = p.failures[0]
		p.failures = p.failures[1:]
	}
	p.mu.Unlock()

	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, model.NewActionError(types.ErrorCodeTimeout, "mock_crm call timed out")
		case <-timer.C:
		}
	}
	if injected != nil {
		return nil, injected
	}

	switch action {
	case actionCreate:
		return p.create(model.Params(params), key)
	case actionGet:
		return p.get(model.Params(params))
	case actionUpdate:
		return p.update(model.Params(params))
	case actionSearch:
		return p.search(model.Params(params))
	default:
		return nil, model.NewActionError(types.ErrorCodeValidation,
			fmt.Sprintf("mock_crm does not handle %s", action),
			model.WithDetail("field", "operation"))
	}
}

func (p *Provider) create(params model.Params, key types.IdempotencyKey) (*model.RawResponse, error) {
	email := params.String("email")
	if email == "" {
		return nil, model.NewActionError(types.ErrorCodeValidation, "email is required",
			model.WithDetail("field", "parameters.email"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if key != "" {
		if id, ok := p.byKey[key]; ok {
			return model.NewRawResponse(200, map[string]any{"contact": p.contacts[id]})
		}
	}
	for _, c := range p.contacts {
		if c["email"] == email {
			return nil, model.NewActionError(types.ErrorCodeConflict, "contact with this email already exists",
				model.WithDetail("existing_id", c["id"]))
		}
	}

	p.nextID++
	id := fmt.Sprintf("c_%d", p.nextID)
	contact := map[string]any{"id": id}
	for k, v := range params {
		contact[k] = v
	}
	contact["created_at"] = time.Now().UTC().Format(time.RFC3339)
	p.contacts[id] = contact
	if key != "" {
		p.byKey[key] = id
	}
	return model.NewRawResponse(201, map[string]any{"contact": contact})
}

func (p *Provider) get(params model.Params) (*model.RawResponse, error) {
	id := params.String("id")
	if id == "" {
		return nil, model.NewActionError(types.ErrorCodeValidation, "id is required",
			model.WithDetail("field", "parameters.id"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	contact, ok := p.contacts[id]
	if !ok {
		return nil, model.NewActionError(types.ErrorCodeNotFound, "contact not found", model.WithDetail("id", id))
	}
	return model.NewRawResponse(200, map[string]any{"contact": contact})
}

func (p *Provider) update(params model.Params) (*model.RawResponse, error) {
	id := params.String("id")
	if id == "" {
		return nil, model.NewActionError(types.ErrorCodeValidation, "id is required",
			model.WithDetail("field", "parameters.id"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	contact, ok := p.contacts[id]
	if !ok {
		return nil, model.NewActionError(types.ErrorCodeNotFound, "contact not found", model.WithDetail("id", id))
	}

	updated := make(map[string]any, len(contact)+len(params))
	for k, v := range contact {
		updated[k] = v
	}
	for k, v := range params {
		if k == "id" {
			continue
		}
		updated[k] = v
	}
	p.contacts[id] = updated
	return model.NewRawResponse(200, map[string]any{"contact": updated})
}

func (p *Provider) search(params model.Params) (*model.RawResponse, error) {
	query := strings.ToLower(params.String("query"))

	p.mu.Lock()
	defer p.mu.Unlock()

	results := make([]map[string]any, 0)
	for _, c := range p.contacts {
		if query == "" || matches(c, query) {
			results = append(results, c)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return fmt.Sprint(results[i]["id"]) < fmt.Sprint(results[j]["id"])
	})
	return model.NewRawResponse(200, map[string]any{"results": results, "total": len(results)})
}

func matches(contact map[string]any, query string) bool {
	for _, field := range []string{"email", "first_name", "last_name", "company"} {
		if s, ok := contact[field].(string); ok && strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	return false
}

type contactBody struct {
	Contact map[string]any   `json:"contact"`
	Results []map[string]any `json:"results"`
	Total   *int             `json:"total"`
}

// NormalizeResponse implements interfaces.Provider
func (p *Provider) NormalizeResponse(raw *model.RawResponse, action string) *model.CanonicalResult {
	var body contactBody
	if err := raw.Decode(&body); err != nil {
		return model.NewCanonicalResult(p.name, "", raw, nil)
	}

	if action == actionSearch {
		data := map[string]any{"results": body.Results}
		if body.Total != nil {
			data["total"] = *body.Total
		}
		return model.NewCanonicalResult(p.name, "", raw, data)
	}

	data := make(map[string]any, len(body.Contact))
	var id string
	for k, v := range body.Contact {
		if k == "id" {
			id, _ = v.(string)
			continue
		}
		data[k] = v
	}
	return model.NewCanonicalResult(p.name, id, raw, data)
}
