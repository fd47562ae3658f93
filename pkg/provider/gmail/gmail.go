// Package gmail adapts Gmail outbound mail to the EMAIL capability
package gmail

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/http"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/provider/internal/googleauth"
	"github.com/secmon-lab/actiongate/pkg/utils/safe"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Type is the factory type and default provider name
const Type = "gmail"

// DefaultEndpoint is the Gmail API base path
const DefaultEndpoint = "https://gmail.googleapis.com/"

// Provider sends mail through the Gmail API v1
type Provider struct {
	name     string
	endpoint string
	client   *http.Client
}

// Option configures Provider
type Option func(*Provider)

// WithHTTPClient sets the base HTTP client the OAuth transport wraps
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithEndpoint overrides the API endpoint
func WithEndpoint(u string) Option {
	return func(p *Provider) {
		if u != "" {
			if !strings.HasSuffix(u, "/") {
				u += "/"
			}
			p.endpoint = u
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

// New creates a Gmail provider
func New(opts ...Option) *Provider {
	p := &Provider{
		name:     Type,
		endpoint: DefaultEndpoint,
		client:   &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Factory builds a Provider from configuration
func Factory(cfg model.ProviderConfig) (*Provider, error) {
	return New(WithName(cfg.Name), WithEndpoint(cfg.BaseURL)), nil
}

// Name implements interfaces.Provider
func (p *Provider) Name() string { return p.name }

// Capabilities implements interfaces.Provider
func (p *Provider) Capabilities() []types.Capability {
	return []types.Capability{types.CapabilityEmail}
}

// Operations implements interfaces.Provider
func (p *Provider) Operations() []types.Operation {
	return []types.Operation{types.OpEmailMessageSend}
}

func (p *Provider) service(ctx context.Context, creds model.Credentials) (*gmail.Service, error) {
	hc, ok := googleauth.HTTPClient(ctx, p.client, creds)
	if !ok {
		return nil, model.NewActionError(types.ErrorCodeAuthentication, "gmail credentials are not configured")
	}
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(hc), option.WithEndpoint(p.endpoint))
	if err != nil {
		return nil, model.NewActionError(types.ErrorCodeInternal, "failed to create gmail client",
			model.WithDetail("error", err.Error()))
	}
	return svc, nil
}

// ValidateCredentials reads the mailbox profile
func (p *Provider) ValidateCredentials(ctx context.Context, creds model.Credentials) (bool, error) {
	if !googleauth.HasCredentials(creds) {
		return false, nil
	}
	svc, err := p.service(ctx, creds)
	if err != nil {
		return false, err
	}
	if _, err := svc.Users.GetProfile("me").Context(ctx).Do(); err != nil {
		return false, googleauth.Classify(p.name, err)
	}
	return true, nil
}

// HealthCheck reports whether the API endpoint answers
func (p *Provider) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
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
func (p *Provider) ExecuteAction(ctx context.Context, action string, params map[string]any, creds model.Credentials, key types.IdempotencyKey) (*model.RawResponse, error) {
	if action != "send_email" {
		return nil, validation("operation", "gmail does not handle "+action)
	}

	msg, verr := BuildMessage(model.Params(params), key)
	if verr != nil {
		return nil, verr
	}

	svc, err := p.service(ctx, creds)
	if err != nil {
		return nil, err
	}
	sent, err := svc.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(msg),
	}).Context(ctx).Do()
	if err != nil {
		return nil, googleauth.Classify(p.name, err)
	}

	raw, err := model.NewRawResponse(http.StatusOK, sent)
	if err != nil {
		return nil, model.NewActionError(types.ErrorCodeInternal, "failed to encode gmail response")
	}
	return raw, nil
}

// BuildMessage renders an RFC 5322 message from send_email parameters. A
// non-empty key becomes a stable Message-ID.
func BuildMessage(in model.Params, key types.IdempotencyKey) ([]byte, *model.ActionError) {
	to, verr := addressList(in, "to", true)
	if verr != nil {
		return nil, verr
	}
	cc, verr := addressList(in, "cc", false)
	if verr != nil {
		return nil, verr
	}
	bcc, verr := addressList(in, "bcc", false)
	if verr != nil {
		return nil, verr
	}
	subject := in.String("subject")
	if subject == "" {
		return nil, validation("parameters.subject", "subject is required")
	}
	text, html := in.String("body"), in.String("html_body")
	if text == "" && html == "" {
		return nil, validation("parameters.body", "body or html_body is required")
	}

	var buf bytes.Buffer
	header := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
		}
	}
	if from := in.String("from"); from != "" {
		addr, err := mail.ParseAddress(from)
		if err != nil {
			return nil, validation("parameters.from", "from is not a valid address")
		}
		header("From", addr.String())
	}
	header("To", strings.Join(to, ", "))
	header("Cc", strings.Join(cc, ", "))
	header("Bcc", strings.Join(bcc, ", "))
	header("Reply-To", in.String("reply_to"))
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	if key != "" {
		sum := sha256.Sum256([]byte(key))
		header("Message-ID", "<"+hex.EncodeToString(sum[:16])+"@actiongate>")
	}
	header("MIME-Version", "1.0")

	if html == "" {
		header("Content-Type", "text/plain; charset=UTF-8")
		header("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQP(&buf, text); err != nil {
			return nil, model.NewActionError(types.ErrorCodeInternal, "failed to encode body")
		}
		return buf.Bytes(), nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct{ ctype, content string }{
		{"text/plain; charset=UTF-8", text},
		{"text/html; charset=UTF-8", html},
	} {
		if part.content == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.ctype},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err == nil {
			err = writeQP(w, part.content)
		}
		if err != nil {
			return nil, model.NewActionError(types.ErrorCodeInternal, "failed to encode body")
		}
	}
	if err := mw.Close(); err != nil {
		return nil, model.NewActionError(types.ErrorCodeInternal, "failed to encode body")
	}
	header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	buf.WriteString("\r\n")
	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}

func writeQP(w io.Writer, s string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(s)); err != nil {
		return err
	}
	return qp.Close()
}

func addressList(in model.Params, key string, required bool) ([]string, *model.ActionError) {
	values := in.Strings(key)
	if len(values) == 0 {
		if required {
			return nil, validation("parameters."+key, key+" is required")
		}
		return nil, nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		addr, err := mail.ParseAddress(v)
		if err != nil {
			return nil, validation("parameters."+key, fmt.Sprintf("%q is not a valid address", v))
		}
		out = append(out, addr.String())
	}
	return out, nil
}

func validation(field, msg string) *model.ActionError {
	return model.NewActionError(types.ErrorCodeValidation, msg, model.WithDetail("field", field))
}

// NormalizeResponse implements interfaces.Provider
func (p *Provider) NormalizeResponse(raw *model.RawResponse, action string) *model.CanonicalResult {
	if raw == nil || len(raw.Body) == 0 {
		return model.NewCanonicalResult(p.name, "", raw, nil)
	}
	var msg gmail.Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		return model.NewCanonicalResult(p.name, "", raw, nil)
	}

	data := map[string]any{}
	if msg.ThreadId != "" {
		data["thread_id"] = msg.ThreadId
	}
	if len(msg.LabelIds) > 0 {
		data["label_ids"] = msg.LabelIds
	}
	return model.NewCanonicalResult(p.name, msg.Id, raw, data)
}
