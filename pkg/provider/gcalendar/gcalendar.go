// Package gcalendar adapts Google Calendar events to the CALENDAR_EVENTS
// capability
package gcalendar

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/provider/internal/googleauth"
	"github.com/secmon-lab/actiongate/pkg/utils/safe"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Type is the factory type and default provider name
const Type = "google_calendar"

// DefaultEndpoint is the Calendar API base path
const DefaultEndpoint = "https://www.googleapis.com/calendar/v3/"

var eventIDEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// Provider calls the Google Calendar API v3
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

// New creates a Google Calendar provider
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
	return []types.Capability{types.CapabilityCalendarEvents}
}

// Operations implements interfaces.Provider
func (p *Provider) Operations() []types.Operation {
	return []types.Operation{
		types.OpCalendarEventCreate,
		types.OpCalendarEventCancel,
		types.OpCalendarEventList,
	}
}

func (p *Provider) service(ctx context.Context, creds model.Credentials) (*calendar.Service, error) {
	hc, ok := googleauth.HTTPClient(ctx, p.client, creds)
	if !ok {
		return nil, model.NewActionError(types.ErrorCodeAuthentication, "google calendar credentials are not configured")
	}
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(hc), option.WithEndpoint(p.endpoint))
	if err != nil {
		return nil, model.NewActionError(types.ErrorCodeInternal, "failed to create calendar client",
			model.WithDetail("error", err.Error()))
	}
	return svc, nil
}

// ValidateCredentials lists one calendar with the credentials
func (p *Provider) ValidateCredentials(ctx context.Context, creds model.Credentials) (bool, error) {
	if !googleauth.HasCredentials(creds) {
		return false, nil
	}
	svc, err := p.service(ctx, creds)
	if err != nil {
		return false, err
	}
	if _, err := svc.CalendarList.List().MaxResults(1).Context(ctx).Do(); err != nil {
		return false, googleauth.Classify(p.name, err)
	}
	return true, nil
}

// HealthCheck reports whether the API endpoint answers
func (p *Provider) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"colors", nil)
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

// EventID derives a valid Calendar event id from an idempotency key. Calendar
// rejects a second insert with the same id, which makes creation idempotent
// on the vendor side.
func EventID(key types.IdempotencyKey) string {
	sum := sha256.Sum256([]byte(key))
	return strings.ToLower(eventIDEncoding.EncodeToString(sum[:]))
}

// ExecuteAction implements interfaces.Provider
func (p *Provider) ExecuteAction(ctx context.Context, action string, params map[string]any, creds model.Credentials, key types.IdempotencyKey) (*model.RawResponse, error) {
	in := model.Params(params)
	calendarID := in.String("calendar_id")
	if calendarID == "" {
		calendarID = "primary"
	}

	switch action {
	case "create_event":
		ev, verr := buildEvent(in)
		if verr != nil {
			return nil, verr
		}
		if key != "" {
			ev.Id = EventID(key)
		}
		svc, err := p.service(ctx, creds)
		if err != nil {
			return nil, err
		}
		created, err := svc.Events.Insert(calendarID, ev).SendUpdates(sendUpdates(in)).Context(ctx).Do()
		if err != nil && key != "" && googleauth.IsStatus(err, http.StatusConflict) {
			// the event exists from an earlier attempt with this key
			created, err = svc.Events.Get(calendarID, ev.Id).Context(ctx).Do()
		}
		if err != nil {
			return nil, googleauth.Classify(p.name, err)
		}
		return encode(http.StatusOK, created)

	case "cancel_event":
		eventID := in.String("event_id")
		if eventID == "" {
			return nil, validation("parameters.event_id", "event_id is required")
		}
		svc, err := p.service(ctx, creds)
		if err != nil {
			return nil, err
		}
		err = svc.Events.Delete(calendarID, eventID).SendUpdates(sendUpdates(in)).Context(ctx).Do()
		if err != nil && !googleauth.IsStatus(err, http.StatusGone) {
			return nil, googleauth.Classify(p.name, err)
		}
		return encode(http.StatusOK, &calendar.Event{Id: eventID, Status: "cancelled"})

	case "list_events":
		svc, err := p.service(ctx, creds)
		if err != nil {
			return nil, err
		}
		call := svc.Events.List(calendarID).SingleEvents(true).OrderBy("startTime").Context(ctx)
		if v := in.String("time_min"); v != "" {
			call = call.TimeMin(v)
		}
		if v := in.String("time_max"); v != "" {
			call = call.TimeMax(v)
		}
		if v := in.String("query"); v != "" {
			call = call.Q(v)
		}
		if n, ok := in.Int("max_results"); ok && n > 0 {
			call = call.MaxResults(int64(n))
		}
		events, err := call.Do()
		if err != nil {
			return nil, googleauth.Classify(p.name, err)
		}
		return encode(http.StatusOK, events)

	default:
		return nil, validation("operation", "google_calendar does not handle "+action)
	}
}

func buildEvent(in model.Params) (*calendar.Event, *model.ActionError) {
	summary := in.String("summary")
	if summary == "" {
		summary = in.String("title")
	}
	if summary == "" {
		return nil, validation("parameters.summary", "summary is required")
	}
	start, end := in.String("start"), in.String("end")
	if _, err := time.Parse(time.RFC3339, start); err != nil {
		return nil, validation("parameters.start", "start must be an RFC 3339 timestamp")
	}
	if _, err := time.Parse(time.RFC3339, end); err != nil {
		return nil, validation("parameters.end", "end must be an RFC 3339 timestamp")
	}
	tz := in.String("time_zone")

	ev := &calendar.Event{
		Summary:     summary,
		Description: in.String("description"),
		Location:    in.String("location"),
		Start:       &calendar.EventDateTime{DateTime: start, TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: end, TimeZone: tz},
	}
	for _, email := range in.Strings("attendees") {
		ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: email})
	}
	return ev, nil
}

func sendUpdates(in model.Params) string {
	if v := in.String("send_updates"); v != "" {
		return v
	}
	return "none"
}

func validation(field, msg string) *model.ActionError {
	return model.NewActionError(types.ErrorCodeValidation, msg, model.WithDetail("field", field))
}

func encode(status int, v any) (*model.RawResponse, error) {
	raw, err := model.NewRawResponse(status, v)
	if err != nil {
		return nil, model.NewActionError(types.ErrorCodeInternal, "failed to encode calendar response")
	}
	return raw, nil
}

func eventData(ev *calendar.Event) map[string]any {
	data := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			data[k] = v
		}
	}
	set("summary", ev.Summary)
	set("description", ev.Description)
	set("location", ev.Location)
	set("status", ev.Status)
	set("html_link", ev.HtmlLink)
	if ev.Start != nil {
		set("start", firstNonEmpty(ev.Start.DateTime, ev.Start.Date))
	}
	if ev.End != nil {
		set("end", firstNonEmpty(ev.End.DateTime, ev.End.Date))
	}
	if len(ev.Attendees) > 0 {
		attendees := make([]string, 0, len(ev.Attendees))
		for _, a := range ev.Attendees {
			attendees = append(attendees, a.Email)
		}
		data["attendees"] = attendees
	}
	return data
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// NormalizeResponse implements interfaces.Provider
func (p *Provider) NormalizeResponse(raw *model.RawResponse, action string) *model.CanonicalResult {
	if raw == nil || len(raw.Body) == 0 {
		return model.NewCanonicalResult(p.name, "", raw, nil)
	}

	if action == "list_events" {
		var events calendar.Events
		if err := json.Unmarshal(raw.Body, &events); err != nil {
			return model.NewCanonicalResult(p.name, "", raw, nil)
		}
		items := make([]map[string]any, 0, len(events.Items))
		for _, ev := range events.Items {
			item := eventData(ev)
			item["id"] = ev.Id
			items = append(items, item)
		}
		return model.NewCanonicalResult(p.name, "", raw, map[string]any{
			"events": items,
			"count":  len(items),
		})
	}

	var ev calendar.Event
	if err := json.Unmarshal(raw.Body, &ev); err != nil {
		return model.NewCanonicalResult(p.name, "", raw, nil)
	}
	return model.NewCanonicalResult(p.name, ev.Id, raw, eventData(&ev))
}
