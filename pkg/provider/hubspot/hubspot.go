// Package hubspot adapts HubSpot CRM contacts to the CRM_CONTACTS capability
package hubspot

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/provider/internal/vendorhttp"
	"github.com/secmon-lab/actiongate/pkg/utils/safe"
)

// Type is the factory type and default provider name
const Type = "hubspot"

// DefaultBaseURL is the HubSpot API endpoint
const DefaultBaseURL = "https://api.hubapi.com"

const contactsPath = "/crm/v3/objects/contacts"

// canonical parameter name to HubSpot property name
var propertyNames = map[string]string{
	"email":      "email",
	"first_name": "firstname",
	"last_name":  "lastname",
	"phone":      "phone",
	"company":    "company",
}

// Provider calls the HubSpot CRM v3 API
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

// WithBaseURL overrides the API endpoint
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
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

// New creates a HubSpot provider
func New(opts ...Option) *Provider {
	p := &Provider{
		name:    Type,
		baseURL: DefaultBaseURL,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Factory builds a Provider from configuration
func Factory(cfg model.ProviderConfig) (*Provider, error) {
	return New(WithName(cfg.Name), WithBaseURL(cfg.BaseURL)), nil
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

// ValidateCredentials issues a minimal list call with the access token
func (p *Provider) ValidateCredentials(ctx context.Context, creds model.Credentials) (bool, error) {
	token := creds.Get("access_token")
	if token == "" {
		return false, nil
	}

	req, err := vendorhttp.NewJSONRequest(ctx, http.MethodGet, p.baseURL+contactsPath+"?limit=1", nil)
	if err != nil {
		return false, err
	}
	vendorhttp.Bearer(req, token)
	if _, err := vendorhttp.Do(p.client, p.name, req); err != nil {
		return false, err
	}
	return true, nil
}

// HealthCheck reports whether the API endpoint answers
func (p *Provider) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL, nil)
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

// ExecuteAction implements interfaces.Provider
func (p *Provider) ExecuteAction(ctx context.Context, action string, params map[string]any, creds model.Credentials, _ types.IdempotencyKey) (*model.RawResponse, error) {
	token := creds.Get("access_token")
	if token == "" {
		return nil, model.NewActionError(types.ErrorCodeAuthentication, "hubspot access_token is not configured")
	}
	in := model.Params(params)

	var (
		req *http.Request
		err error
	)
	switch action {
	case "create_contact":
		if in.String("email") == "" {
			return nil, model.NewActionError(types.ErrorCodeValidation, "email is required",
				model.WithDetail("field", "parameters.email"))
		}
		req, err = vendorhttp.NewJSONRequest(ctx, http.MethodPost, p.baseURL+contactsPath,
			map[string]any{"properties": toProperties(in)})

	case "get_contact":
		id := in.String("id")
		if id == "" {
			return nil, missingID()
		}
		q := url.Values{"properties": {"email,firstname,lastname,phone,company"}}
		req, err = vendorhttp.NewJSONRequest(ctx, http.MethodGet,
			p.baseURL+contactsPath+"/"+url.PathEscape(id)+"?"+q.Encode(), nil)

	case "update_contact":
		id := in.String("id")
		if id == "" {
			return nil, missingID()
		}
		req, err = vendorhttp.NewJSONRequest(ctx, http.MethodPatch,
			p.baseURL+contactsPath+"/"+url.PathEscape(id),
			map[string]any{"properties": toProperties(in)})

	case "search_contacts":
		body := map[string]any{"query": in.String("query")}
		if limit, ok := in.Int("limit"); ok && limit > 0 {
			body["limit"] = limit
		}
		req, err = vendorhttp.NewJSONRequest(ctx, http.MethodPost, p.baseURL+contactsPath+"/search", body)

	default:
		return nil, model.NewActionError(types.ErrorCodeValidation, "hubspot does not handle "+action,
			model.WithDetail("field", "operation"))
	}
	if err != nil {
		return nil, model.NewActionError(types.ErrorCodeInternal, "failed to build hubspot request",
			model.WithDetail("error", err.Error()))
	}

	vendorhttp.Bearer(req, token)
	return vendorhttp.Do(p.client, p.name, req)
}

func missingID() *model.ActionError {
	return model.NewActionError(types.ErrorCodeValidation, "id is required",
		model.WithDetail("field", "parameters.id"))
}

func toProperties(in model.Params) map[string]any {
	props := make(map[string]any)
	for canonical, vendor := range propertyNames {
		if v, ok := in[canonical]; ok {
			props[vendor] = v
		}
	}
	for k, v := range in.Map("properties") {
		props[k] = v
	}
	return props
}

type contact struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
	CreatedAt  string            `json:"createdAt"`
	UpdatedAt  string            `json:"updatedAt"`
	Archived   bool              `json:"archived"`
}

type searchResponse struct {
	Total   int       `json:"total"`
	Results []contact `json:"results"`
}

func (c contact) data() map[string]any {
	data := make(map[string]any)
	for canonical, vendor := range propertyNames {
		if v := c.Properties[vendor]; v != "" {
			data[canonical] = v
		}
	}
	if c.CreatedAt != "" {
		data["created_at"] = c.CreatedAt
	}
	if c.UpdatedAt != "" {
		data["updated_at"] = c.UpdatedAt
	}
	return data
}

// NormalizeResponse implements interfaces.Provider
func (p *Provider) NormalizeResponse(raw *model.RawResponse, action string) *model.CanonicalResult {
	if action == "search_contacts" {
		var body searchResponse
		if err := raw.Decode(&body); err != nil {
			return model.NewCanonicalResult(p.name, "", raw, nil)
		}
		results := make([]map[string]any, 0, len(body.Results))
		for _, c := range body.Results {
			item := c.data()
			item["id"] = c.ID
			results = append(results, item)
		}
		return model.NewCanonicalResult(p.name, "", raw, map[string]any{
			"total":   body.Total,
			"results": results,
		})
	}

	var c contact
	if err := raw.Decode(&c); err != nil {
		return model.NewCanonicalResult(p.name, "", raw, nil)
	}
	return model.NewCanonicalResult(p.name, c.ID, raw, c.data())
}
