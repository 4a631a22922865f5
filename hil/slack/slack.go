// Package slack delivers HIL prompts as Slack messages with approve and
// reject buttons. Button clicks arrive through the resume endpoint carrying
// the token embedded in the action value.
package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"goa.design/flow/hil"
)

// API is the subset of the Slack client the channel uses.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Channel implements hil.Channel over the Slack Web API.
type Channel struct {
	api API
}

// New constructs a channel from a bot token.
func New(token string) *Channel {
	return &Channel{api: slack.New(token)}
}

// NewWithAPI constructs a channel around an existing client, used in tests.
func NewWithAPI(api API) *Channel {
	return &Channel{api: api}
}

// Send implements hil.Channel. The returned correlation carries the Slack
// channel and message timestamp so replies can be threaded.
func (c *Channel) Send(ctx context.Context, msg hil.Message) (hil.Correlation, error) {
	if msg.Recipient == "" {
		return nil, fmt.Errorf("slack channel id is required")
	}
	text := slack.NewTextBlockObject(slack.MarkdownType, msg.Text, false, false)
	approve := slack.NewButtonBlockElement("approve", msg.Token,
		slack.NewTextBlockObject(slack.PlainTextType, "Approve", false, false))
	approve.Style = slack.StylePrimary
	reject := slack.NewButtonBlockElement("reject", msg.Token,
		slack.NewTextBlockObject(slack.PlainTextType, "Reject", false, false))
	reject.Style = slack.StyleDanger

	channelID, ts, err := c.api.PostMessageContext(ctx, msg.Recipient,
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionBlocks(
			slack.NewSectionBlock(text, nil, nil),
			slack.NewActionBlock("hil_decision", approve, reject),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("post slack message: %w", err)
	}
	return hil.Correlation{"channel": channelID, "message_ts": ts}, nil
}
