package hubspot_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/provider/hubspot"
)

var creds = model.Credentials{"access_token": "tok"}

func newServer(t *testing.T, handler http.HandlerFunc) *hubspot.Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return hubspot.New(hubspot.WithBaseURL(srv.URL), hubspot.WithHTTPClient(srv.Client()))
}

func TestCreateContact(t *testing.T) {
	var got map[string]map[string]any
	p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gt.Value(t, r.Method).Equal(http.MethodPost)
		gt.Value(t, r.URL.Path).Equal("/crm/v3/objects/contacts")
		gt.Value(t, r.Header.Get("Authorization")).Equal("Bearer tok")
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"512","properties":{"email":"a@b.com","firstname":"Ann"},"createdAt":"2026-01-01T00:00:00Z"}`))
	})

	raw, err := p.ExecuteAction(context.Background(), "create_contact",
		map[string]any{"email": "a@b.com", "first_name": "Ann"}, creds, "k1")
	gt.NoError(t, err).Required()
	gt.Value(t, got["properties"]["firstname"]).Equal("Ann")

	res := p.NormalizeResponse(raw, "create_contact")
	gt.Value(t, res.ID).Equal("hubspot_512")
	gt.Value(t, res.ProviderID).Equal("512")
	gt.Value(t, res.Data["first_name"]).Equal("Ann")
	_, hasPhone := res.Data["phone"]
	gt.Bool(t, hasPhone).False()
}

func TestSearchContacts(t *testing.T) {
	p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gt.Value(t, r.URL.Path).Equal("/crm/v3/objects/contacts/search")
		_, _ = w.Write([]byte(`{"total":1,"results":[{"id":"1","properties":{"email":"a@b.com"}}]}`))
	})

	raw, err := p.ExecuteAction(context.Background(), "search_contacts", map[string]any{"query": "a@b"}, creds, "")
	gt.NoError(t, err).Required()
	res := p.NormalizeResponse(raw, "search_contacts")
	gt.Value(t, res.Data["total"]).Equal(1)
	gt.Bool(t, res.ProviderID != "").True()
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		want       types.ErrorCode
	}{
		{"invalid", http.StatusBadRequest, "", types.ErrorCodeValidation},
		{"unauthorized", http.StatusUnauthorized, "", types.ErrorCodeAuthentication},
		{"missing", http.StatusNotFound, "", types.ErrorCodeNotFound},
		{"conflict", http.StatusConflict, "", types.ErrorCodeConflict},
		{"rate limited", http.StatusTooManyRequests, "3", types.ErrorCodeProvider},
		{"unavailable", http.StatusServiceUnavailable, "", types.ErrorCodeProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"status":"error","message":"nope"}`))
			})

			_, err := p.ExecuteAction(context.Background(), "get_contact", map[string]any{"id": "1"}, creds, "")
			ae, ok := model.ActionErrorFrom(err)
			gt.Bool(t, ok).True()
			gt.Value(t, ae.Code).Equal(tt.want)
			if tt.retryAfter != "" {
				gt.Value(t, *ae.RetryAfter).Equal(3)
			}
		})
	}
}

func TestMissingParameters(t *testing.T) {
	p := hubspot.New()

	_, err := p.ExecuteAction(context.Background(), "get_contact", map[string]any{}, creds, "")
	ae, _ := model.ActionErrorFrom(err)
	gt.Value(t, ae.Code).Equal(types.ErrorCodeValidation)
	gt.Value(t, ae.Detail("field")).Equal("parameters.id")

	_, err = p.ExecuteAction(context.Background(), "get_contact", map[string]any{"id": "1"}, model.Credentials{}, "")
	ae, _ = model.ActionErrorFrom(err)
	gt.Value(t, ae.Code).Equal(types.ErrorCodeAuthentication)
}

func TestValidateCredentials(t *testing.T) {
	p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	})
	ctx := context.Background()

	ok, err := p.ValidateCredentials(ctx, model.Credentials{})
	gt.NoError(t, err)
	gt.Bool(t, ok).False()

	ok, err = p.ValidateCredentials(ctx, creds)
	gt.NoError(t, err)
	gt.Bool(t, ok).True()

	_, err = p.ValidateCredentials(ctx, model.Credentials{"access_token": "bad"})
	ae, _ := model.ActionErrorFrom(err)
	gt.Value(t, ae.Code).Equal(types.ErrorCodeAuthentication)
}

func TestHealthCheck(t *testing.T) {
	p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	gt.Bool(t, p.HealthCheck(context.Background())).True()
}

func TestNormalizeTotality(t *testing.T) {
	p := hubspot.New()
	for _, raw := range []*model.RawResponse{
		nil,
		{StatusCode: 204},
		{StatusCode: 200, Body: []byte("garbage")},
	} {
		res := p.NormalizeResponse(raw, "get_contact")
		gt.Value(t, res.Provider).Equal("hubspot")
		gt.Bool(t, res.ID != "" && res.ProviderID != "").True()
	}
}
