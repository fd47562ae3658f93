package githubissue

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/provider/internal/vendorhttp"
	"github.com/shurcooL/githubv4"
)

type issueNode struct {
	ID        githubv4.ID       `json:"node_id"`
	Number    githubv4.Int      `json:"number"`
	Title     githubv4.String   `json:"title"`
	Body      githubv4.String   `json:"body"`
	State     githubv4.String   `json:"state"`
	URL       githubv4.String   `json:"url"`
	CreatedAt githubv4.DateTime `json:"created_at"`
	UpdatedAt githubv4.DateTime `json:"updated_at"`
	Author    struct {
		Login githubv4.String `json:"login"`
	} `json:"author"`
	Labels struct {
		Nodes []struct {
			Name githubv4.String `json:"name"`
		} `json:"nodes"`
	} `graphql:"labels(first: 20)" json:"labels"`
}

func encode(issue *issueNode) (*model.RawResponse, error) {
	raw, err := model.NewRawResponse(http.StatusOK, issue)
	if err != nil {
		return nil, model.NewActionError(types.ErrorCodeInternal, "failed to encode issue")
	}
	return raw, nil
}

// statusRecorder remembers the last non-2xx status so GraphQL transport
// errors can be classified
type statusRecorder struct {
	next http.RoundTripper

	mu     sync.Mutex
	status int
	header http.Header
}

func (r *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.next.RoundTrip(req)
	if err == nil && resp.StatusCode >= 300 {
		r.mu.Lock()
		r.status = resp.StatusCode
		r.header = resp.Header.Clone()
		r.mu.Unlock()
	}
	return resp, err
}

func (r *statusRecorder) last() (int, http.Header) {
	if r == nil {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.header
}

func (p *Provider) classify(rec *statusRecorder, err error) *model.ActionError {
	if ae, ok := model.ActionErrorFrom(err); ok {
		return ae
	}
	if status, header := rec.last(); status != 0 {
		return vendorhttp.ClassifyStatus(p.name, status, header, []byte(err.Error()))
	}
	if vendorhttp.IsTimeout(err) {
		return vendorhttp.ClassifyTransport(p.name, err)
	}

	msg := err.Error()
	code := types.ErrorCodeProvider
	switch {
	case strings.Contains(msg, "Could not resolve to"):
		code = types.ErrorCodeNotFound
	case strings.Contains(msg, "Resource not accessible"):
		code = types.ErrorCodePermission
	}
	return model.NewActionError(code, "github GraphQL request failed",
		model.WithDetail("provider", p.name),
		model.WithDetail("provider_error", vendorhttp.Excerpt([]byte(msg))))
}

// NormalizeResponse implements interfaces.Provider
func (p *Provider) NormalizeResponse(raw *model.RawResponse, action string) *model.CanonicalResult {
	var issue issueNode
	if raw == nil || json.Unmarshal(raw.Body, &issue) != nil || issue.Number == 0 {
		return model.NewCanonicalResult(p.name, "", raw, nil)
	}

	data := map[string]any{
		"number": int(issue.Number),
		"status": strings.ToLower(string(issue.State)),
	}
	set := func(k string, v githubv4.String) {
		if v != "" {
			data[k] = string(v)
		}
	}
	set("subject", issue.Title)
	set("description", issue.Body)
	set("url", issue.URL)
	set("author", issue.Author.Login)
	if !issue.CreatedAt.IsZero() {
		data["created_at"] = issue.CreatedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	if !issue.UpdatedAt.IsZero() {
		data["updated_at"] = issue.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	if len(issue.Labels.Nodes) > 0 {
		labels := make([]string, 0, len(issue.Labels.Nodes))
		for _, l := range issue.Labels.Nodes {
			labels = append(labels, string(l.Name))
		}
		data["tags"] = labels
	}
	return model.NewCanonicalResult(p.name, strconv.Itoa(int(issue.Number)), raw, data)
}
