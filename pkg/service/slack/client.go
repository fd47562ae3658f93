package slack

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/slack-go/slack"
)

const (
	// DefaultCacheTTL is the default TTL for the channel name cache
	DefaultCacheTTL = 5 * time.Minute
)

var (
	ErrChannelNotFound = goerr.New("slack channel not found")
)

// client implements Service interface
type client struct {
	api      *slack.Client
	cacheTTL time.Duration
	apiURL   string
	http     *http.Client

	mu        sync.RWMutex
	byName    map[string]string
	expiresAt time.Time
}

// Option is a functional option for client configuration
type Option func(*client)

// WithCacheTTL sets the TTL for channel name cache
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *client) {
		c.cacheTTL = ttl
	}
}

// WithAPIURL points the client at another Web API base, e.g. a test server
func WithAPIURL(u string) Option {
	return func(c *client) {
		if u != "" && !strings.HasSuffix(u, "/") {
			u += "/"
		}
		c.apiURL = u
	}
}

// WithHTTPClient sets the HTTP client used for API calls
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.http = hc
	}
}

// New creates a new Slack service with the provided bot token
func New(token string, opts ...Option) (Service, error) {
	if token == "" {
		return nil, goerr.New("Slack bot token is required")
	}

	c := &client{
		cacheTTL: DefaultCacheTTL,
		byName:   make(map[string]string),
	}

	for _, opt := range opts {
		opt(c)
	}

	apiOpts := []slack.Option{}
	if c.apiURL != "" {
		apiOpts = append(apiOpts, slack.OptionAPIURL(c.apiURL))
	}
	if c.http != nil {
		apiOpts = append(apiOpts, slack.OptionHTTPClient(c.http))
	}
	c.api = slack.New(token, apiOpts...)

	return c, nil
}

// ListJoinedChannels retrieves the list of channels the bot has joined
func (c *client) ListJoinedChannels(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	var cursor string

	for {
		params := &slack.GetConversationsParameters{
			Types:           []string{"public_channel", "private_channel"},
			ExcludeArchived: true,
			Limit:           200,
			Cursor:          cursor,
		}

		convs, nextCursor, err := c.api.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get conversations")
		}

		for _, conv := range convs {
			// Only include channels the bot is a member of
			if conv.IsMember {
				channels = append(channels, Channel{
					ID:   conv.ID,
					Name: conv.Name,
				})
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	return channels, nil
}

func (c *client) ResolveChannelID(ctx context.Context, channel string) (string, error) {
	if !strings.HasPrefix(channel, "#") {
		if channel == "" {
			return "", goerr.Wrap(ErrChannelNotFound, "channel is empty")
		}
		return channel, nil
	}
	name := strings.ToLower(strings.TrimPrefix(channel, "#"))

	c.mu.RLock()
	id, ok := c.byName[name]
	fresh := time.Now().Before(c.expiresAt)
	c.mu.RUnlock()
	if ok && fresh {
		return id, nil
	}

	channels, err := c.ListJoinedChannels(ctx)
	if err != nil {
		return "", err
	}

	byName := make(map[string]string, len(channels))
	for _, ch := range channels {
		byName[strings.ToLower(ch.Name)] = ch.ID
	}

	c.mu.Lock()
	c.byName = byName
	c.expiresAt = time.Now().Add(c.cacheTTL)
	c.mu.Unlock()

	id, ok = byName[name]
	if !ok {
		return "", goerr.Wrap(ErrChannelNotFound, "bot has not joined the channel", goerr.V("channel", channel))
	}
	return id, nil
}

func (c *client) PostMessage(ctx context.Context, channelID string, blocks []slack.Block, text string) (string, error) {
	_, ts, err := c.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return "", goerr.Wrap(err, "failed to post message", goerr.V("channel_id", channelID))
	}
	return ts, nil
}
