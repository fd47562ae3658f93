package slack_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/provider/slack"
)

var creds = model.Credentials{"bot_token": "xoxb-test"}

func newProvider(t *testing.T, handler http.HandlerFunc) *slack.Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return slack.New(slack.WithAPIURL(srv.URL), slack.WithHTTPClient(srv.Client()))
}

func TestPostMessage(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gt.Value(t, r.URL.Path).Equal("/chat.postMessage")
		gt.NoError(t, r.ParseForm())
		gt.Value(t, r.PostForm.Get("channel")).Equal("C123")
		gt.Value(t, r.PostForm.Get("text")).Equal("hello")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	})

	raw, err := p.ExecuteAction(context.Background(), "post_message",
		map[string]any{"channel": "C123", "text": "hello"}, creds, "")
	gt.NoError(t, err).Required()

	res := p.NormalizeResponse(raw, "post_message")
	gt.Value(t, res.ProviderID).Equal("C123:1700000000.000100")
	gt.Value(t, res.Data["channel"]).Equal("C123")
}

func TestPostMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want types.ErrorCode
	}{
		{"channel not found", `{"ok":false,"error":"channel_not_found"}`, types.ErrorCodeNotFound},
		{"invalid auth", `{"ok":false,"error":"invalid_auth"}`, types.ErrorCodeAuthentication},
		{"not in channel", `{"ok":false,"error":"not_in_channel"}`, types.ErrorCodePermission},
		{"internal", `{"ok":false,"error":"internal_error"}`, types.ErrorCodeProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := p.ExecuteAction(context.Background(), "post_message",
				map[string]any{"channel": "C1", "text": "x"}, creds, "")
			ae, ok := model.ActionErrorFrom(err)
			gt.Bool(t, ok).True()
			gt.Value(t, ae.Code).Equal(tt.want)
		})
	}
}

func TestPostMessage_RateLimited(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := p.ExecuteAction(context.Background(), "post_message",
		map[string]any{"channel": "C1", "text": "x"}, creds, "")
	ae, ok := model.ActionErrorFrom(err)
	gt.Bool(t, ok).True()
	gt.Value(t, ae.Code).Equal(types.ErrorCodeProvider)
	gt.Value(t, *ae.RetryAfter).Equal(30)
}

func TestPostMessage_Validation(t *testing.T) {
	p := slack.New()
	_, err := p.ExecuteAction(context.Background(), "post_message", map[string]any{"channel": "C1"}, creds, "")
	ae, _ := model.ActionErrorFrom(err)
	gt.Value(t, ae.Detail("field")).Equal("parameters.text")
}
