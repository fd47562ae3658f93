// Package notion adapts Notion workspace search to the KNOWLEDGE_SEARCH
// capability. It is read-only.
package notion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/provider/internal/vendorhttp"
	"github.com/secmon-lab/actiongate/pkg/utils/safe"
)

// Type is the factory type and default provider name
const Type = "notion"

const (
	defaultPageSize  = 10
	maxPageSize      = 100
	defaultHealthURL = "https://api.notion.com/v1/"
)

// Provider searches a Notion workspace
type Provider struct {
	name    string
	baseURL *url.URL
	client  *http.Client
	retries int
}

// Option configures Provider
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithBaseURL sends API calls to u instead of api.notion.com
func WithBaseURL(u *url.URL) Option {
	return func(p *Provider) {
		p.baseURL = u
	}
}

// WithRetry sets how many times the Notion client retries a 429 itself
func WithRetry(n int) Option {
	return func(p *Provider) {
		p.retries = n
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

// New creates a Notion provider
func New(opts ...Option) *Provider {
	p := &Provider{
		name:   Type,
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Factory builds a Provider from configuration
func Factory(cfg model.ProviderConfig) (*Provider, error) {
	opts := []Option{WithName(cfg.Name)}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid notion base_url", goerr.V("base_url", cfg.BaseURL))
		}
		opts = append(opts, WithBaseURL(u))
	}
	return New(opts...), nil
}

// Name implements interfaces.Provider
func (p *Provider) Name() string { return p.name }

// Capabilities implements interfaces.Provider
func (p *Provider) Capabilities() []types.Capability {
	return []types.Capability{types.CapabilityKnowledgeSearch}
}

// Operations implements interfaces.Provider
func (p *Provider) Operations() []types.Operation {
	return []types.Operation{types.OpKnowledgeSearch}
}

// rewriteTransport points every request at base while keeping the path
type rewriteTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.base.Scheme
	r.URL.Host = t.base.Host
	r.Host = t.base.Host
	return t.next.RoundTrip(r)
}

func (p *Provider) api(creds model.Credentials) (*notionapi.Client, bool) {
	token := creds.Get("token")
	if token == "" {
		token = creds.Get("access_token")
	}
	if token == "" {
		return nil, false
	}

	hc := p.client
	if p.baseURL != nil {
		next := http.DefaultTransport
		if p.client.Transport != nil {
			next = p.client.Transport
		}
		hc = &http.Client{Transport: &rewriteTransport{base: p.baseURL, next: next}, Timeout: p.client.Timeout}
	}

	opts := []notionapi.ClientOption{notionapi.WithHTTPClient(hc)}
	if p.retries > 0 {
		opts = append(opts, notionapi.WithRetry(p.retries))
	}
	return notionapi.NewClient(notionapi.Token(token), opts...), true
}

// ValidateCredentials reads the bot user of the integration token
func (p *Provider) ValidateCredentials(ctx context.Context, creds model.Credentials) (bool, error) {
	client, ok := p.api(creds)
	if !ok {
		return false, nil
	}
	if _, err := client.User.Me(ctx); err != nil {
		return false, p.classify(err)
	}
	return true, nil
}

// HealthCheck reports whether the API endpoint answers
func (p *Provider) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	target := defaultHealthURL
	if p.baseURL != nil {
		target = p.baseURL.String()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
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

// searchResult is the shape stored in RawResponse bodies
type searchResult struct {
	Query      string       `json:"query"`
	Results    []searchItem `json:"results"`
	HasMore    bool         `json:"has_more"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type searchItem struct {
	ID             string    `json:"id"`
	Object         string    `json:"object"`
	Title          string    `json:"title,omitempty"`
	URL            string    `json:"url,omitempty"`
	LastEditedTime time.Time `json:"last_edited_time,omitempty"`
}

// ExecuteAction implements interfaces.Provider
func (p *Provider) ExecuteAction(ctx context.Context, action string, params map[string]any, creds model.Credentials, _ types.IdempotencyKey) (*model.RawResponse, error) {
	if action != "search_knowledge" {
		return nil, model.NewActionError(types.ErrorCodeValidation, "notion does not handle "+action,
			model.WithDetail("field", "operation"))
	}
	client, ok := p.api(creds)
	if !ok {
		return nil, model.NewActionError(types.ErrorCodeAuthentication, "notion token is not configured")
	}

	in := model.Params(params)
	pageSize := defaultPageSize
	if n, ok := in.Int("limit"); ok && n > 0 {
		pageSize = min(n, maxPageSize)
	}
	objectType := in.String("object")

	resp, err := client.Search.Do(ctx, &notionapi.SearchRequest{
		Query:       in.String("query"),
		PageSize:    pageSize,
		StartCursor: notionapi.Cursor(in.String("cursor")),
	})
	if err != nil {
		return nil, p.classify(err)
	}

	out := searchResult{
		Query:      in.String("query"),
		Results:    make([]searchItem, 0, len(resp.Results)),
		HasMore:    resp.HasMore,
		NextCursor: string(resp.NextCursor),
	}
	for _, obj := range resp.Results {
		item, ok := toItem(obj)
		if !ok || (objectType != "" && item.Object != objectType) {
			continue
		}
		out.Results = append(out.Results, item)
	}

	raw, err := model.NewRawResponse(http.StatusOK, out)
	if err != nil {
		return nil, model.NewActionError(types.ErrorCodeInternal, "failed to encode notion response")
	}
	return raw, nil
}

func toItem(obj notionapi.Object) (searchItem, bool) {
	switch v := obj.(type) {
	case *notionapi.Page:
		return searchItem{
			ID:             v.ID.String(),
			Object:         "page",
			Title:          pageTitle(v.Properties),
			URL:            v.URL,
			LastEditedTime: time.Time(v.LastEditedTime),
		}, true
	case *notionapi.Database:
		return searchItem{
			ID:             v.ID.String(),
			Object:         "database",
			Title:          plainText(v.Title),
			URL:            v.URL,
			LastEditedTime: time.Time(v.LastEditedTime),
		}, true
	}
	return searchItem{}, false
}

func pageTitle(props notionapi.Properties) string {
	for _, prop := range props {
		if t, ok := prop.(*notionapi.TitleProperty); ok {
			return plainText(t.Title)
		}
	}
	return ""
}

func plainText(rts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range rts {
		b.WriteString(rt.PlainText)
	}
	return b.String()
}

func (p *Provider) classify(err error) *model.ActionError {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		return vendorhttp.ClassifyStatus(p.name, apiErr.Status, nil, []byte(string(apiErr.Code)+": "+apiErr.Message))
	}
	var rlErr *notionapi.RateLimitedError
	if errors.As(err, &rlErr) {
		return vendorhttp.ClassifyStatus(p.name, http.StatusTooManyRequests, nil, []byte(rlErr.Message))
	}
	return vendorhttp.ClassifyTransport(p.name, err)
}

// NormalizeResponse implements interfaces.Provider. Search has no native
// identifier, so the provider id is derived from the response body.
func (p *Provider) NormalizeResponse(raw *model.RawResponse, action string) *model.CanonicalResult {
	var body searchResult
	if raw == nil || json.Unmarshal(raw.Body, &body) != nil {
		return model.NewCanonicalResult(p.name, "", raw, nil)
	}

	results := make([]map[string]any, 0, len(body.Results))
	for _, item := range body.Results {
		r := map[string]any{"id": item.ID, "object": item.Object}
		if item.Title != "" {
			r["title"] = item.Title
		}
		if item.URL != "" {
			r["url"] = item.URL
		}
		if !item.LastEditedTime.IsZero() {
			r["last_edited_time"] = item.LastEditedTime.Format(time.RFC3339)
		}
		results = append(results, r)
	}

	data := map[string]any{
		"query":    body.Query,
		"results":  results,
		"has_more": body.HasMore,
	}
	if body.NextCursor != "" {
		data["next_cursor"] = body.NextCursor
	}
	return model.NewCanonicalResult(p.name, "", raw, data)
}
