package node

import (
	"context"
	"time"

	"goa.design/flow/execution"
	"goa.design/flow/hil"
	hilslack "goa.design/flow/hil/slack"
)

// HIL executes human-in-the-loop nodes: it renders the prompt, delivers it
// through the subtype's channel, mints a single-use resume token and asks
// the engine to park the node.
type HIL struct {
	// NewSlackChannel builds a Slack channel from a workspace bot token.
	// Overridable in tests.
	NewSlackChannel func(token string) hil.Channel
	// Manual delivers MANUAL_REVIEW prompts.
	Manual hil.Channel

	now func() time.Time
}

// NewHIL constructs the executor.
func NewHIL() *HIL {
	return &HIL{
		NewSlackChannel: func(token string) hil.Channel { return hilslack.New(token) },
		Manual:          hil.Manual{},
		now:             time.Now,
	}
}

// SetClock overrides the clock used to stamp tokens.
func (h *HIL) SetClock(now func() time.Time) { h.now = now }

// Execute implements Executor.
func (h *HIL) Execute(ctx context.Context, in *Input) (*Output, error) {
	timeout := time.Duration(configInt(in.Config, "timeout_minutes")) * time.Minute

	var (
		prompt    string
		channel   hil.Channel
		chanKind  execution.Channel
		recipient string
		err       error
	)
	switch in.Subtype {
	case "SLACK_INTERACTION":
		prompt, err = hil.RenderMessage(configString(in.Config, "message_template"), unwrap(in.Payload))
		if err != nil {
			return nil, execution.NewError(execution.KindInvalidRequest, "%v", err)
		}
		token, ok := in.Secrets.Secret("slack", configString(in.Config, "workspace"))
		if !ok {
			return nil, execution.NewError(execution.KindAuth, "no slack credential for workspace %q", configString(in.Config, "workspace"))
		}
		channel = h.NewSlackChannel(token)
		chanKind = execution.ChannelSlack
		recipient = configString(in.Config, "channel")
	case "MANUAL_REVIEW":
		prompt, err = hil.RenderMessage(configString(in.Config, "title"), unwrap(in.Payload))
		if err != nil {
			return nil, execution.NewError(execution.KindInvalidRequest, "%v", err)
		}
		if instr := configString(in.Config, "instructions"); instr != "" {
			rendered, err := hil.RenderMessage(instr, unwrap(in.Payload))
			if err != nil {
				return nil, execution.NewError(execution.KindInvalidRequest, "%v", err)
			}
			prompt = prompt + "\n\n" + rendered
		}
		channel = h.Manual
		chanKind = execution.ChannelManual
	default:
		return nil, execution.NewError(execution.KindInvalidRequest, "unknown hil subtype %s", in.Subtype)
	}

	token := hil.IssueToken(in.ExecutionID, in.NodeID, chanKind, timeout, h.now())
	corr, err := channel.Send(ctx, hil.Message{
		Text:      prompt,
		Recipient: recipient,
		Token:     token.Token,
	})
	if err != nil {
		return nil, execution.NewError(execution.KindNetwork, "deliver prompt: %v", err)
	}
	token.Correlation = corr

	return &Output{Waiting: &Wait{
		Token:       token,
		Correlation: corr,
		Prompt:      prompt,
		Timeout:     timeout,
	}}, nil
}
