// Package zendesk adapts Zendesk Support tickets to the HELPDESK_TICKETS
// capability
package zendesk

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/provider/internal/vendorhttp"
	"github.com/secmon-lab/actiongate/pkg/utils/safe"
)

// Type is the factory type and default provider name
const Type = "zendesk"

var ErrMissingEndpoint = goerr.New("zendesk needs a subdomain or base_url")

// Provider calls the Zendesk Support API v2
type Provider struct {
	name    string
	baseURL string
	client  *http.Client
}

// Option configures Provider
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithName overrides the provider name
func WithName(name string) Option {
	return func(p *Provider) {
		if name != "" {
			p.name = name
		}
	}
}

// New creates a Zendesk provider for baseURL, e.g. https://acme.zendesk.com
func New(baseURL string, opts ...Option) *Provider {
	p := &Provider{
		name:    Type,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Factory builds a Provider from configuration. base_url wins over the
// subdomain option.
func Factory(cfg model.ProviderConfig) (*Provider, error) {
	base := cfg.BaseURL
	if base == "" {
		sub := cfg.Option("subdomain", "")
		if sub == "" {
			return nil, goerr.Wrap(ErrMissingEndpoint, "no endpoint configured", goerr.V(model.ProviderNameKey, cfg.Name))
		}
		base = "https://" + sub + ".zendesk.com"
	}
	return New(base, WithName(cfg.Name)), nil
}

// Name implements interfaces.Provider
func (p *Provider) Name() string { return p.name }

// Capabilities implements interfaces.Provider
func (p *Provider) Capabilities() []types.Capability {
	return []types.Capability{types.CapabilityHelpdeskTickets}
}

// Operations implements interfaces.Provider
func (p *Provider) Operations() []types.Operation {
	return []types.Operation{
		types.OpHelpdeskTicketCreate,
		types.OpHelpdeskTicketGet,
		types.OpHelpdeskTicketUpdate,
	}
}

// authorize sets bearer auth for access_token, or API token basic auth for
// email plus api_token
func authorize(req *http.Request, creds model.Credentials) bool {
	if token := creds.Get("access_token"); token != "" {
		vendorhttp.Bearer(req, token)
		return true
	}
	if creds.Has("email", "api_token") {
		req.SetBasicAuth(creds.Get("email")+"/token", creds.Get("api_token"))
		return true
	}
	return false
}

func hasCredentials(creds model.Credentials) bool {
	return creds.Get("access_token") != "" || creds.Has("email", "api_token")
}

// ValidateCredentials fetches the authenticated user
func (p *Provider) ValidateCredentials(ctx context.Context, creds model.Credentials) (bool, error) {
	if !hasCredentials(creds) {
		return false, nil
	}
	req, err := vendorhttp.NewJSONRequest(ctx, http.MethodGet, p.baseURL+"/api/v2/users/me.json", nil)
	if err != nil {
		return false, err
	}
	authorize(req, creds)
	if _, err := vendorhttp.Do(p.client, p.name, req); err != nil {
		return false, err
	}
	return true, nil
}

// HealthCheck reports whether the API endpoint answers
func (p *Provider) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v2/tickets.json", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	safe.Drain(ctx, resp.Body)
	return resp.StatusCode < 500
}

// ExecuteAction implements interfaces.Provider. Ticket creation forwards the
// idempotency key so Zendesk itself deduplicates retried calls.
func (p *Provider) ExecuteAction(ctx context.Context, action string, params map[string]any, creds model.Credentials, key types.IdempotencyKey) (*model.RawResponse, error) {
	if !hasCredentials(creds) {
		return nil, model.NewActionError(types.ErrorCodeAuthentication, "zendesk credentials are not configured")
	}
	in := model.Params(params)

	var (
		req *http.Request
		err error
	)
	switch action {
	case "create_ticket":
		subject := in.String("subject")
		description := in.String("description")
		if subject == "" {
			return nil, validation("parameters.subject", "subject is required")
		}
		if description == "" {
			return nil, validation("parameters.description", "description is required")
		}
		ticket := map[string]any{
			"subject": subject,
			"comment": map[string]any{"body": description},
		}
		copyFields(ticket, in, "priority", "type", "status")
		if tags := in.Strings("tags"); len(tags) > 0 {
			ticket["tags"] = tags
		}
		if email := in.String("requester_email"); email != "" {
			requester := map[string]any{"email": email}
			if name := in.String("requester_name"); name != "" {
				requester["name"] = name
			}
			ticket["requester"] = requester
		}
		req, err = vendorhttp.NewJSONRequest(ctx, http.MethodPost, p.baseURL+"/api/v2/tickets.json",
			map[string]any{"ticket": ticket})
		if err == nil && key != "" {
			req.Header.Set("Idempotency-Key", key.String())
		}

	case "get_ticket":
		id, verr := ticketID(in)
		if verr != nil {
			return nil, verr
		}
		req, err = vendorhttp.NewJSONRequest(ctx, http.MethodGet, p.baseURL+"/api/v2/tickets/"+url.PathEscape(id)+".json", nil)

	case "update_ticket":
		id, verr := ticketID(in)
		if verr != nil {
			return nil, verr
		}
		ticket := map[string]any{}
		copyFields(ticket, in, "status", "priority", "subject", "type")
		if c := in.String("comment"); c != "" {
			comment := map[string]any{"body": c}
			if v, ok := in["public"].(bool); ok {
				comment["public"] = v
			}
			ticket["comment"] = comment
		}
		if len(ticket) == 0 {
			return nil, validation("parameters", "nothing to update")
		}
		req, err = vendorhttp.NewJSONRequest(ctx, http.MethodPut, p.baseURL+"/api/v2/tickets/"+url.PathEscape(id)+".json",
			map[string]any{"ticket": ticket})

	default:
		return nil, validation("operation", "zendesk does not handle "+action)
	}
	if err != nil {
		return nil, model.NewActionError(types.ErrorCodeInternal, "failed to build zendesk request",
			model.WithDetail("error", err.Error()))
	}

	authorize(req, creds)
	return vendorhttp.Do(p.client, p.name, req)
}

func validation(field, msg string) *model.ActionError {
	return model.NewActionError(types.ErrorCodeValidation, msg, model.WithDetail("field", field))
}

func ticketID(in model.Params) (string, *model.ActionError) {
	if id := in.String("id"); id != "" {
		return id, nil
	}
	if n, ok := in.Int("id"); ok {
		return strconv.Itoa(n), nil
	}
	return "", validation("parameters.id", "id is required")
}

func copyFields(dst map[string]any, in model.Params, keys ...string) {
	for _, k := range keys {
		if v := in.String(k); v != "" {
			dst[k] = v
		}
	}
}

type ticket struct {
	ID          int64    `json:"id"`
	URL         string   `json:"url"`
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	Type        string   `json:"type"`
	RequesterID int64    `json:"requester_id"`
	Tags        []string `json:"tags"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

type ticketBody struct {
	Ticket *ticket `json:"ticket"`
}

// NormalizeResponse implements interfaces.Provider
func (p *Provider) NormalizeResponse(raw *model.RawResponse, action string) *model.CanonicalResult {
	var body ticketBody
	if err := raw.Decode(&body); err != nil || body.Ticket == nil {
		return model.NewCanonicalResult(p.name, "", raw, nil)
	}
	t := body.Ticket

	data := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			data[k] = v
		}
	}
	set("subject", t.Subject)
	set("description", t.Description)
	set("status", t.Status)
	set("priority", t.Priority)
	set("type", t.Type)
	set("url", t.URL)
	set("created_at", t.CreatedAt)
	set("updated_at", t.UpdatedAt)
	if t.RequesterID != 0 {
		data["requester_id"] = strconv.FormatInt(t.RequesterID, 10)
	}
	if len(t.Tags) > 0 {
		data["tags"] = t.Tags
	}

	var id string
	if t.ID != 0 {
		id = strconv.FormatInt(t.ID, 10)
	}
	return model.NewCanonicalResult(p.name, id, raw, data)
}
