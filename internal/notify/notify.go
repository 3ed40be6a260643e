// Package notify tells the support team about new tickets.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"gwi.com/drive-chat/internal/store"
)

type Notifier interface {
	TicketCreated(ctx context.Context, t store.Ticket) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) TicketCreated(context.Context, store.Ticket) error { return nil }

// SlackPoster is the subset of *slack.Client used here.
type SlackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type SlackNotifier struct {
	client  SlackPoster
	channel string
}

func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token), channel: channel}
}

func NewSlackNotifierWith(client SlackPoster, channel string) *SlackNotifier {
	return &SlackNotifier{client: client, channel: channel}
}

func (n *SlackNotifier) TicketCreated(ctx context.Context, t store.Ticket) error {
	requester := "anonymous"
	if t.UserEmail != nil && *t.UserEmail != "" {
		requester = *t.UserEmail
	}
	fallback := fmt.Sprintf("New support ticket %s from %s: %s", t.ID, requester, t.Question)

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "New support ticket "+t.ID, false, false)),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Question*\n>%s", t.Question), false, false),
			[]*slack.TextBlockObject{
				slack.NewTextBlockObject(slack.MarkdownType, "*Requester*\n"+requester, false, false),
				slack.NewTextBlockObject(slack.MarkdownType, "*Status*\n"+string(t.Status), false, false),
			},
			nil,
		),
	}

	_, ts, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("failed to post ticket %s to slack: %w", t.ID, err)
	}
	slog.InfoContext(ctx, "ticket posted to slack", "ticket_id", t.ID, "channel", n.channel, "ts", ts)
	return nil
}
