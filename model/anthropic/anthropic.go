// Package anthropic adapts the anthropic-sdk-go SDK to the model.Client
// contract.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"goa.design/flow/model"
)

const defaultMaxTokens = 1024

// Client implements model.Client over the Anthropic messages API.
type Client struct {
	sdk anthropic.Client
}

// New constructs the adapter.
func New(apiKey string) *Client {
	return &Client{sdk: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

// Call implements model.Client.
func (c *Client) Call(ctx context.Context, req model.Request) (*model.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  c.messages(req),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: t.InputSchema["properties"]},
			},
		})
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, c.classify(err)
	}
	resp := &model.Response{
		FinishReason: string(msg.StopReason),
		Usage: model.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(variant.Input) > 0 {
				if err := json.Unmarshal(variant.Input, &args); err != nil {
					return nil, model.NewProviderError("anthropic", model.KindResponseError, 0,
						fmt.Sprintf("tool use %q carries malformed input", variant.Name), err)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}
	return resp, nil
}

func (c *Client) messages(req model.Request) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				raw, _ := json.Marshal(tc.Arguments)
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: json.RawMessage(raw),
					},
				})
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case model.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func (c *Client) classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return model.NewProviderError("anthropic", model.ClassifyHTTP(apierr.StatusCode), apierr.StatusCode, apierr.Error(), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewProviderError("anthropic", model.KindTimeout, 0, "request deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return model.NewProviderError("anthropic", model.KindTimeout, 0, "request canceled", err)
	}
	return model.NewProviderError("anthropic", model.KindNetwork, 0, err.Error(), err)
}
