// Package notify posts moderation alerts to Slack. A nil *SlackNotifier is
// a valid no-op, so callers never guard the call site.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

type SlackNotifier struct {
	client  *slack.Client
	channel string
	log     *slog.Logger
}

// NewSlackNotifier creates a notifier posting to the given channel. Returns
// nil when token or channel is empty, which disables notifications.
func NewSlackNotifier(log *slog.Logger, token, channel string) *SlackNotifier {
	if token == "" || channel == "" {
		return nil
	}
	return &SlackNotifier{
		client:  slack.New(token),
		channel: channel,
		log:     log,
	}
}

// NotifyFlaggedPost posts an alert for a post flagged as spam or farming.
func (n *SlackNotifier) NotifyFlaggedPost(ctx context.Context, postID, authorID string, totalScore float64, spam, farming bool) {
	if n == nil {
		return
	}

	kind := "farming"
	if spam {
		kind = "spam"
	}
	text := fmt.Sprintf(":rotating_light: *%s flagged* — post `%s` by `%s` scored %.2f", kind, postID, authorID, totalScore)

	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		n.log.Error("failed to post Slack alert", "postID", postID, "error", err)
		return
	}
	n.log.Debug("posted Slack alert", "postID", postID, "kind", kind)
}
