// Package githubissue adapts GitHub issues to the HELPDESK_TICKETS capability
// through the GraphQL v4 API
package githubissue

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/utils/safe"
	"github.com/shurcooL/githubv4"
)

// Type is the factory type and default provider name
const Type = "github_issues"

const defaultHealthURL = "https://api.github.com/"

var ErrMissingRepository = goerr.New("repository must be owner/name")

// Provider manages issues of GitHub repositories
type Provider struct {
	name       string
	graphqlURL string
	client     *http.Client
	owner      string
	repo       string
}

// Option configures Provider
type Option func(*Provider)

// WithHTTPClient sets the base HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithGraphQLURL targets a GitHub Enterprise or test endpoint
func WithGraphQLURL(u string) Option {
	return func(p *Provider) {
		p.graphqlURL = u
	}
}

// WithRepository sets the default repository for tickets
func WithRepository(owner, repo string) Option {
	return func(p *Provider) {
		p.owner = owner
		p.repo = repo
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

// New creates a GitHub issues provider
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

// Factory builds a Provider from configuration. Option "repository" is the
// default owner/name.
func Factory(cfg model.ProviderConfig) (*Provider, error) {
	opts := []Option{WithName(cfg.Name), WithGraphQLURL(cfg.BaseURL)}
	if repo := cfg.Option("repository", ""); repo != "" {
		owner, name, ok := splitRepository(repo)
		if !ok {
			return nil, goerr.Wrap(ErrMissingRepository, "invalid repository option", goerr.V("repository", repo))
		}
		opts = append(opts, WithRepository(owner, name))
	}
	return New(opts...), nil
}

func splitRepository(s string) (string, string, bool) {
	owner, repo, ok := strings.Cut(s, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", false
	}
	return owner, repo, true
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

func hasCredentials(creds model.Credentials) bool {
	return creds.Get("token") != "" || creds.Has("app_id", "installation_id", "private_key")
}

// transport returns a round tripper authenticated with a personal or
// installation token
func (p *Provider) transport(creds model.Credentials) (http.RoundTripper, error) {
	base := http.DefaultTransport
	if p.client.Transport != nil {
		base = p.client.Transport
	}

	if token := creds.Get("token"); token != "" {
		return &tokenTransport{token: token, next: base}, nil
	}

	appID, err := strconv.ParseInt(creds.Get("app_id"), 10, 64)
	if err != nil {
		return nil, model.NewActionError(types.ErrorCodeAuthentication, "app_id must be an integer")
	}
	installationID, err := strconv.ParseInt(creds.Get("installation_id"), 10, 64)
	if err != nil {
		return nil, model.NewActionError(types.ErrorCodeAuthentication, "installation_id must be an integer")
	}

	key := []byte(creds.Get("private_key"))
	// #nosec G304 -- path comes from operator configuration
	if data, err := os.ReadFile(creds.Get("private_key")); err == nil {
		key = data
	}
	tr, err := ghinstallation.New(base, appID, installationID, key)
	if err != nil {
		return nil, model.NewActionError(types.ErrorCodeAuthentication, "invalid GitHub App credentials",
			model.WithDetail("error", err.Error()))
	}
	return tr, nil
}

type tokenTransport struct {
	token string
	next  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+t.token)
	return t.next.RoundTrip(r)
}

func (p *Provider) api(creds model.Credentials) (*githubv4.Client, *statusRecorder, error) {
	if !hasCredentials(creds) {
		return nil, nil, model.NewActionError(types.ErrorCodeAuthentication, "github credentials are not configured")
	}
	tr, err := p.transport(creds)
	if err != nil {
		return nil, nil, err
	}
	rec := &statusRecorder{next: tr}
	hc := &http.Client{Transport: rec, Timeout: p.client.Timeout}
	if p.graphqlURL != "" {
		return githubv4.NewEnterpriseClient(p.graphqlURL, hc), rec, nil
	}
	return githubv4.NewClient(hc), rec, nil
}

// ValidateCredentials queries the viewer or, for app installations, the
// configured repository
func (p *Provider) ValidateCredentials(ctx context.Context, creds model.Credentials) (bool, error) {
	if !hasCredentials(creds) {
		return false, nil
	}
	client, rec, err := p.api(creds)
	if err != nil {
		return false, err
	}

	var q struct {
		RateLimit struct {
			Remaining githubv4.Int
		}
	}
	if err := client.Query(ctx, &q, nil); err != nil {
		return false, p.classify(rec, err)
	}
	return true, nil
}

// HealthCheck reports whether the API endpoint answers
func (p *Provider) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	target := defaultHealthURL
	if p.graphqlURL != "" {
		target = p.graphqlURL
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

func (p *Provider) repository(in model.Params) (string, string, *model.ActionError) {
	if repo := in.String("repository"); repo != "" {
		owner, name, ok := splitRepository(repo)
		if !ok {
			return "", "", validation("parameters.repository", "repository must be owner/name")
		}
		return owner, name, nil
	}
	if p.owner == "" || p.repo == "" {
		return "", "", validation("parameters.repository", "repository is required")
	}
	return p.owner, p.repo, nil
}

// ExecuteAction implements interfaces.Provider
func (p *Provider) ExecuteAction(ctx context.Context, action string, params map[string]any, creds model.Credentials, _ types.IdempotencyKey) (*model.RawResponse, error) {
	in := model.Params(params)
	owner, repo, verr := p.repository(in)
	if verr != nil {
		return nil, verr
	}

	switch action {
	case "create_ticket":
		title := in.String("subject")
		if title == "" {
			title = in.String("title")
		}
		if title == "" {
			return nil, validation("parameters.subject", "subject is required")
		}
		client, rec, err := p.api(creds)
		if err != nil {
			return nil, err
		}
		return p.createIssue(ctx, client, rec, owner, repo, title, in.String("description"))

	case "get_ticket":
		number, verr := issueNumber(in)
		if verr != nil {
			return nil, verr
		}
		client, rec, err := p.api(creds)
		if err != nil {
			return nil, err
		}
		issue, aerr := p.getIssue(ctx, client, rec, owner, repo, number)
		if aerr != nil {
			return nil, aerr
		}
		return encode(issue)

	case "update_ticket":
		number, verr := issueNumber(in)
		if verr != nil {
			return nil, verr
		}
		client, rec, err := p.api(creds)
		if err != nil {
			return nil, err
		}
		return p.updateIssue(ctx, client, rec, owner, repo, number, in)

	default:
		return nil, validation("operation", "github_issues does not handle "+action)
	}
}

func (p *Provider) createIssue(ctx context.Context, client *githubv4.Client, rec *statusRecorder, owner, repo, title, body string) (*model.RawResponse, error) {
	var q struct {
		Repository struct {
			ID githubv4.ID
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := map[string]interface{}{
		"owner": githubv4.String(owner),
		"name":  githubv4.String(repo),
	}
	if err := client.Query(ctx, &q, vars); err != nil {
		return nil, p.classify(rec, err)
	}

	var m struct {
		CreateIssue struct {
			Issue issueNode
		} `graphql:"createIssue(input: $input)"`
	}
	input := githubv4.CreateIssueInput{
		RepositoryID: q.Repository.ID,
		Title:        githubv4.String(title),
	}
	if body != "" {
		b := githubv4.String(body)
		input.Body = &b
	}
	if err := client.Mutate(ctx, &m, input, nil); err != nil {
		return nil, p.classify(rec, err)
	}
	return encode(&m.CreateIssue.Issue)
}

func (p *Provider) getIssue(ctx context.Context, client *githubv4.Client, rec *statusRecorder, owner, repo string, number int) (*issueNode, *model.ActionError) {
	var q struct {
		Repository struct {
			Issue *issueNode `graphql:"issue(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := map[string]interface{}{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(repo),
		"number": githubv4.Int(int32(number)),
	}
	if err := client.Query(ctx, &q, vars); err != nil {
		return nil, p.classify(rec, err)
	}
	if q.Repository.Issue == nil {
		return nil, model.NewActionError(types.ErrorCodeNotFound, "issue not found",
			model.WithDetail("number", number))
	}
	return q.Repository.Issue, nil
}

func (p *Provider) updateIssue(ctx context.Context, client *githubv4.Client, rec *statusRecorder, owner, repo string, number int, in model.Params) (*model.RawResponse, error) {
	issue, aerr := p.getIssue(ctx, client, rec, owner, repo, number)
	if aerr != nil {
		return nil, aerr
	}

	input := githubv4.UpdateIssueInput{ID: issue.ID}
	changed := false
	if v := in.String("subject"); v != "" {
		s := githubv4.String(v)
		input.Title = &s
		changed = true
	}
	if v := in.String("description"); v != "" {
		s := githubv4.String(v)
		input.Body = &s
		changed = true
	}
	if v := in.String("status"); v != "" {
		state, ok := issueState(v)
		if !ok {
			return nil, validation("parameters.status", "status must be open or closed")
		}
		input.State = &state
		changed = true
	}
	if !changed {
		return nil, validation("parameters", "nothing to update")
	}

	var m struct {
		UpdateIssue struct {
			Issue issueNode
		} `graphql:"updateIssue(input: $input)"`
	}
	if err := client.Mutate(ctx, &m, input, nil); err != nil {
		return nil, p.classify(rec, err)
	}
	return encode(&m.UpdateIssue.Issue)
}

func issueState(s string) (githubv4.IssueState, bool) {
	switch strings.ToLower(s) {
	case "open", "opened", "new", "pending":
		return githubv4.IssueStateOpen, true
	case "closed", "solved", "resolved":
		return githubv4.IssueStateClosed, true
	}
	return "", false
}

func issueNumber(in model.Params) (int, *model.ActionError) {
	if n, ok := in.Int("id"); ok && n > 0 {
		return n, nil
	}
	if s := in.String("id"); s != "" {
		if n, err := strconv.Atoi(strings.TrimPrefix(s, "#")); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, validation("parameters.id", "id must be an issue number")
}

func validation(field, msg string) *model.ActionError {
	return model.NewActionError(types.ErrorCodeValidation, msg, model.WithDetail("field", field))
}
