package slack

import (
	"context"

	"github.com/slack-go/slack"
)

// Service is the part of the Slack Web API the audit alert sink uses
type Service interface {
	// ResolveChannelID accepts a channel ID or a "#name" and returns the ID.
	// Names are looked up among channels the bot has joined, with caching.
	ResolveChannelID(ctx context.Context, channel string) (string, error)

	// ListJoinedChannels retrieves the channels the bot is a member of
	ListJoinedChannels(ctx context.Context) ([]Channel, error)

	// PostMessage posts a Block Kit message and returns the message timestamp.
	// text is the notification fallback.
	PostMessage(ctx context.Context, channelID string, blocks []slack.Block, text string) (string, error)
}

// Channel represents a Slack channel
type Channel struct {
	ID   string
	Name string
}
