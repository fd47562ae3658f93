// Package slack adapts Slack channel messages to the MESSAGING capability
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/provider/internal/vendorhttp"
	"github.com/secmon-lab/actiongate/pkg/utils/safe"
	goslack "github.com/slack-go/slack"
)

// Type is the factory type and default provider name
const Type = "slack"

// DefaultAPIURL is the Slack Web API base
const DefaultAPIURL = "https://slack.com/api/"

// Provider posts messages with the Slack Web API
type Provider struct {
	name   string
	apiURL string
	client *http.Client
}

// Option configures Provider
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithAPIURL overrides the Web API base
func WithAPIURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			if !strings.HasSuffix(u, "/") {
				u += "/"
			}
			p.apiURL = u
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

// New creates a Slack provider
func New(opts ...Option) *Provider {
	p := &Provider{
		name:   Type,
		apiURL: DefaultAPIURL,
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Factory builds a Provider from configuration
func Factory(cfg model.ProviderConfig) (*Provider, error) {
	return New(WithName(cfg.Name), WithAPIURL(cfg.BaseURL)), nil
}

// Name implements interfaces.Provider
func (p *Provider) Name() string { return p.name }

// Capabilities implements interfaces.Provider
func (p *Provider) Capabilities() []types.Capability {
	return []types.Capability{types.CapabilityMessaging}
}

// Operations implements interfaces.Provider
func (p *Provider) Operations() []types.Operation {
	return []types.Operation{types.OpMessagingMessagePost}
}

func (p *Provider) api(creds model.Credentials) (*goslack.Client, bool) {
	token := creds.Get("bot_token")
	if token == "" {
		token = creds.Get("access_token")
	}
	if token == "" {
		return nil, false
	}
	return goslack.New(token, goslack.OptionAPIURL(p.apiURL), goslack.OptionHTTPClient(p.client)), true
}

// ValidateCredentials calls auth.test
func (p *Provider) ValidateCredentials(ctx context.Context, creds model.Credentials) (bool, error) {
	api, ok := p.api(creds)
	if !ok {
		return false, nil
	}
	if _, err := api.AuthTestContext(ctx); err != nil {
		return false, p.classify(err)
	}
	return true, nil
}

// HealthCheck calls api.test, which needs no token
func (p *Provider) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"api.test", nil)
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

type postedMessage struct {
	Channel  string `json:"channel"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Text     string `json:"text"`
}

// ExecuteAction implements interfaces.Provider
func (p *Provider) ExecuteAction(ctx context.Context, action string, params map[string]any, creds model.Credentials, _ types.IdempotencyKey) (*model.RawResponse, error) {
	if action != "post_message" {
		return nil, validation("operation", "slack does not handle "+action)
	}
	in := model.Params(params)
	channel := in.String("channel")
	if channel == "" {
		return nil, validation("parameters.channel", "channel is required")
	}
	text := in.String("text")
	if text == "" {
		return nil, validation("parameters.text", "text is required")
	}

	api, ok := p.api(creds)
	if !ok {
		return nil, model.NewActionError(types.ErrorCodeAuthentication, "slack bot_token is not configured")
	}

	opts := []goslack.MsgOption{goslack.MsgOptionText(text, false)}
	threadTS := in.String("thread_ts")
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}
	chID, ts, err := api.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return nil, p.classify(err)
	}

	raw, err := model.NewRawResponse(http.StatusOK, postedMessage{
		Channel:  chID,
		TS:       ts,
		ThreadTS: threadTS,
		Text:     text,
	})
	if err != nil {
		return nil, model.NewActionError(types.ErrorCodeInternal, "failed to encode slack response")
	}
	return raw, nil
}

func validation(field, msg string) *model.ActionError {
	return model.NewActionError(types.ErrorCodeValidation, msg, model.WithDetail("field", field))
}

func (p *Provider) classify(err error) *model.ActionError {
	var rl *goslack.RateLimitedError
	if errors.As(err, &rl) {
		return model.NewActionError(types.ErrorCodeProvider, "slack rate limited the request",
			model.WithDetail("provider", p.name),
			model.WithDetail("reason", "rate_limited"),
			model.WithRetryAfter(int(rl.RetryAfter.Round(time.Second)/time.Second)))
	}
	var sc goslack.StatusCodeError
	if errors.As(err, &sc) {
		return vendorhttp.ClassifyStatus(p.name, sc.Code, nil, []byte(sc.Status))
	}
	var se goslack.SlackErrorResponse
	if errors.As(err, &se) {
		return p.classifyCode(se.Err)
	}
	if vendorhttp.IsTimeout(err) {
		return vendorhttp.ClassifyTransport(p.name, err)
	}
	// slack-go reports most API failures as plain errors carrying the code
	return p.classifyCode(err.Error())
}

func (p *Provider) classifyCode(code string) *model.ActionError {
	var ec types.ErrorCode
	switch code {
	case "invalid_auth", "not_authed", "token_revoked", "token_expired", "account_inactive":
		ec = types.ErrorCodeAuthentication
	case "missing_scope", "not_in_channel", "restricted_action", "is_archived", "ekm_access_denied":
		ec = types.ErrorCodePermission
	case "channel_not_found", "thread_not_found", "user_not_found":
		ec = types.ErrorCodeNotFound
	case "msg_too_long", "no_text", "invalid_blocks", "too_many_attachments", "invalid_arguments":
		ec = types.ErrorCodeValidation
	default:
		ec = types.ErrorCodeProvider
	}
	return model.NewActionError(ec, "slack API error: "+code,
		model.WithDetail("provider", p.name),
		model.WithDetail("provider_error", code))
}

// NormalizeResponse implements interfaces.Provider
func (p *Provider) NormalizeResponse(raw *model.RawResponse, action string) *model.CanonicalResult {
	var msg postedMessage
	if raw == nil || json.Unmarshal(raw.Body, &msg) != nil || msg.TS == "" {
		return model.NewCanonicalResult(p.name, "", raw, nil)
	}

	data := map[string]any{"channel": msg.Channel, "ts": msg.TS}
	if msg.ThreadTS != "" {
		data["thread_ts"] = msg.ThreadTS
	}
	return model.NewCanonicalResult(p.name, msg.Channel+":"+msg.TS, raw, data)
}
