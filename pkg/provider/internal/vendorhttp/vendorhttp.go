// Package vendorhttp holds the HTTP plumbing shared by REST adapters: request
// building, status classification into the action error taxonomy and
// Retry-After parsing.
package vendorhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
	"github.com/secmon-lab/actiongate/pkg/utils/safe"
)

const (
	maxBodySize    = 4 << 20
	maxErrorDetail = 512
)

// NewJSONRequest builds a request with an optional JSON body
func NewJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal request body")
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build request", goerr.V("url", url))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends req and returns the raw response. Non-2xx statuses and transport
// failures come back as classified *model.ActionError.
func Do(client *http.Client, provider string, req *http.Request) (*model.RawResponse, error) {
	ctx := req.Context()
	started := time.Now()

	resp, err := client.Do(req)
	if err != nil {
		return nil, ClassifyTransport(provider, err)
	}
	defer safe.Close(ctx, resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, ClassifyTransport(provider, err)
	}

	logging.From(ctx).Debug("vendor call",
		"provider", provider,
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(started),
	)

	if resp.StatusCode >= 300 {
		return nil, ClassifyStatus(provider, resp.StatusCode, resp.Header, body)
	}

	raw := &model.RawResponse{StatusCode: resp.StatusCode}
	if len(bytes.TrimSpace(body)) > 0 {
		raw.Body = body
	}
	return raw, nil
}

// ClassifyStatus maps a vendor HTTP status to the error taxonomy
func ClassifyStatus(provider string, status int, header http.Header, body []byte) *model.ActionError {
	opts := []model.ActionErrorOption{
		model.WithDetail("provider", provider),
		model.WithDetail("status", status),
	}
	if excerpt := Excerpt(body); excerpt != "" {
		opts = append(opts, model.WithDetail("provider_error", excerpt))
	}

	var code types.ErrorCode
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		code = types.ErrorCodeValidation
	case status == http.StatusUnauthorized:
		code = types.ErrorCodeAuthentication
	case status == http.StatusForbidden:
		code = types.ErrorCodePermission
	case status == http.StatusNotFound, status == http.StatusGone:
		code = types.ErrorCodeNotFound
	case status == http.StatusConflict:
		code = types.ErrorCodeConflict
	case status == http.StatusTooManyRequests:
		code = types.ErrorCodeProvider
		opts = append(opts, model.WithDetail("reason", "rate_limited"))
		if header != nil {
			if sec, ok := ParseRetryAfter(header.Get("Retry-After"), time.Now()); ok {
				opts = append(opts, model.WithRetryAfter(sec))
			}
		}
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		code = types.ErrorCodeTimeout
	case status >= 500:
		code = types.ErrorCodeProvider
	default:
		code = types.ErrorCodeProvider
	}

	return model.NewActionError(code, fmt.Sprintf("%s returned HTTP %d", provider, status), opts...)
}

// ClassifyTransport maps a transport failure to TIMEOUT_ERROR or PROVIDER_ERROR
func ClassifyTransport(provider string, err error) *model.ActionError {
	if IsTimeout(err) {
		return model.NewActionError(types.ErrorCodeTimeout,
			fmt.Sprintf("%s did not respond in time", provider),
			model.WithDetail("provider", provider))
	}
	return model.NewActionError(types.ErrorCodeProvider,
		fmt.Sprintf("%s request failed", provider),
		model.WithDetail("provider", provider),
		model.WithDetail("provider_error", err.Error()))
}

// IsTimeout reports whether err is a deadline or network timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an
// HTTP date
func ParseRetryAfter(v string, now time.Time) (int, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if sec, err := strconv.Atoi(v); err == nil {
		if sec < 0 {
			return 0, false
		}
		return sec, true
	}
	if t, err := http.ParseTime(v); err == nil {
		sec := int(t.Sub(now).Round(time.Second) / time.Second)
		if sec < 0 {
			sec = 0
		}
		return sec, true
	}
	return 0, false
}

// Excerpt trims a vendor error body for error details
func Excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorDetail {
		s = s[:maxErrorDetail]
	}
	return s
}

// Bearer sets an Authorization bearer header
func Bearer(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
}
