// Package googleauth builds authorized clients for Google API adapters and
// classifies Google API errors
package googleauth

import (
	"context"
	"errors"
	"net/http"

	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/provider/internal/vendorhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
)

// HasCredentials reports whether creds carry an access token or a refresh
// token with its client
func HasCredentials(creds model.Credentials) bool {
	return creds.Get("access_token") != "" ||
		creds.Has("refresh_token", "client_id", "client_secret")
}

// TokenSource returns the token source described by creds, or nil
func TokenSource(ctx context.Context, creds model.Credentials) oauth2.TokenSource {
	if creds.Has("refresh_token", "client_id", "client_secret") {
		cfg := &oauth2.Config{
			ClientID:     creds.Get("client_id"),
			ClientSecret: creds.Get("client_secret"),
			Endpoint:     google.Endpoint,
		}
		return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.Get("refresh_token")})
	}
	if token := creds.Get("access_token"); token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	}
	return nil
}

// HTTPClient wraps base with the token source of creds. The returned client
// is per request; credentials are never cached.
func HTTPClient(ctx context.Context, base *http.Client, creds model.Credentials) (*http.Client, bool) {
	ts := TokenSource(oauth2ctx(ctx, base), creds)
	if ts == nil {
		return nil, false
	}
	var rt http.RoundTripper = http.DefaultTransport
	if base != nil && base.Transport != nil {
		rt = base.Transport
	}
	c := &http.Client{Transport: &oauth2.Transport{Source: ts, Base: rt}}
	if base != nil {
		c.Timeout = base.Timeout
	}
	return c, true
}

func oauth2ctx(ctx context.Context, base *http.Client) context.Context {
	if base == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, base)
}

// Classify maps a Google API client error to the action error taxonomy
func Classify(provider string, err error) *model.ActionError {
	if ae, ok := model.ActionErrorFrom(err); ok {
		return ae
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return vendorhttp.ClassifyStatus(provider, gerr.Code, gerr.Header, []byte(firstNonEmpty(gerr.Body, gerr.Message)))
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return vendorhttp.ClassifyStatus(provider, http.StatusUnauthorized, nil, rerr.Body)
	}
	return vendorhttp.ClassifyTransport(provider, err)
}

// IsStatus reports whether err is a Google API error with the given status
func IsStatus(err error, status int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == status
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
