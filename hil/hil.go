// Package hil implements human-in-the-loop support: delivery channels for
// approval prompts, resume token issuance and classification of human
// responses. A HIL node renders its prompt, sends it through a channel,
// parks the execution and hands the engine a single-use resume token; the
// human's eventual reply is classified into one of the HIL outcome keys.
package hil

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/google/uuid"
	"goa.design/flow/execution"
)

// DefaultTimeout applies when a HIL node configures no timeout.
const DefaultTimeout = 24 * time.Hour

type (
	// Message is a prompt delivered to a human.
	Message struct {
		// Text is the rendered prompt.
		Text string
		// Recipient addresses the human, channel specific (Slack channel
		// id, email address).
		Recipient string
		// Token is the resume token the responder must present.
		Token string
		// Metadata carries channel specific extras.
		Metadata map[string]any
	}

	// Correlation is channel data binding later replies to the sent
	// message, for example a Slack message timestamp.
	Correlation map[string]any

	// Channel delivers prompts to humans.
	Channel interface {
		Send(ctx context.Context, msg Message) (Correlation, error)
	}

	// Response is a human reply delivered through the resume endpoint.
	Response struct {
		// Text is the free-form reply, if any.
		Text string
		// Approved short-circuits classification for structured replies
		// such as button clicks.
		Approved *bool
		// Raw preserves the original payload.
		Raw map[string]any
	}
)

// RenderMessage renders a prompt template against the node input payload
// using text/template syntax.
func RenderMessage(tmpl string, input map[string]any) (string, error) {
	t, err := template.New("prompt").Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, input); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

// IssueToken mints a single-use resume token for a paused HIL node.
func IssueToken(executionID, nodeID string, channel execution.Channel, ttl time.Duration, now time.Time) execution.ResumeToken {
	if ttl <= 0 {
		ttl = DefaultTimeout
	}
	return execution.ResumeToken{
		Token:       uuid.NewString(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		Channel:     channel,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
}

// Manual is a channel that delivers nothing; responses arrive out of band
// through the resume endpoint. It serves workflows reviewed in an external
// UI and tests.
type Manual struct{}

// Send implements Channel.
func (Manual) Send(_ context.Context, msg Message) (Correlation, error) {
	return Correlation{"channel": "manual", "token": msg.Token}, nil
}
