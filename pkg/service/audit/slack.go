package audit

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/service/slack"
	goslack "github.com/slack-go/slack"
)

// SlackSink alerts a channel about failed requests. Validation failures are
// caller mistakes and are not posted.
type SlackSink struct {
	svc     slack.Service
	channel string
}

var _ interfaces.AuditSink = &SlackSink{}

// NewSlackSink posts to channel, given as an ID or "#name"
func NewSlackSink(svc slack.Service, channel string) *SlackSink {
	return &SlackSink{svc: svc, channel: channel}
}

func (s *SlackSink) Emit(ctx context.Context, rec *model.AuditRecord) error {
	if !ShouldAlert(rec) {
		return nil
	}

	channelID, err := s.svc.ResolveChannelID(ctx, s.channel)
	if err != nil {
		return goerr.Wrap(err, "failed to resolve alert channel", goerr.V("channel", s.channel))
	}

	blocks, text := BuildAlertBlocks(rec)
	if _, err := s.svc.PostMessage(ctx, channelID, blocks, text); err != nil {
		return goerr.Wrap(err, "failed to post audit alert",
			goerr.V("audit_id", rec.ID),
			goerr.V("channel_id", channelID))
	}
	return nil
}

// ShouldAlert reports whether rec is a failure worth a channel alert
func ShouldAlert(rec *model.AuditRecord) bool {
	if rec == nil || rec.Outcome != model.AuditOutcomeFailure || rec.Error == nil {
		return false
	}
	return rec.Error.Code != types.ErrorCodeValidation
}

// BuildAlertBlocks renders the alert message and its notification fallback
func BuildAlertBlocks(rec *model.AuditRecord) ([]goslack.Block, string) {
	text := fmt.Sprintf("%s failed for tenant %s: %s", rec.Operation, rec.TenantID, rec.Error.Code)

	provider := rec.Provider
	if provider == "" {
		provider = "-"
	}
	fields := []*goslack.TextBlockObject{
		goslack.NewTextBlockObject(goslack.MarkdownType, "*Tenant*\n"+rec.TenantID.String(), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, "*Operation*\n`"+rec.Operation.String()+"`", false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, "*Code*\n"+rec.Error.Code.String(), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, "*Provider*\n"+provider, false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Attempts*\n%d", rec.Error.RetryCount), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, "*Correlation ID*\n`"+rec.CorrelationID.String()+"`", false, false),
	}

	blocks := []goslack.Block{
		goslack.NewHeaderBlock(goslack.NewTextBlockObject(goslack.PlainTextType, "Action failed", false, false)),
		goslack.NewSectionBlock(nil, fields, nil),
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, "> "+rec.Error.Message, false, false), nil, nil),
	}
	return blocks, text
}
