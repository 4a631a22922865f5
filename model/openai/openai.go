// Package openai adapts the openai-go SDK to the model.Client contract.
// Because the constructor accepts a base URL override, the same adapter
// serves any OpenAI-compatible endpoint, including Gemini's.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"goa.design/flow/model"
)

// Client implements model.Client over the OpenAI chat completions API.
type Client struct {
	sdk      openai.Client
	provider string
}

// Options configures the adapter.
type Options struct {
	// APIKey authenticates requests.
	APIKey string
	// BaseURL overrides the endpoint for OpenAI-compatible providers.
	BaseURL string
	// Provider names the provider in errors; empty means "openai".
	Provider string
}

// New constructs the adapter.
func New(opts Options) *Client {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	provider := opts.Provider
	if provider == "" {
		provider = "openai"
	}
	return &Client{sdk: openai.NewClient(reqOpts...), provider: provider}
}

// Call implements model.Client.
func (c *Client) Call(ctx context.Context, req model.Request) (*model.Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: c.messages(req),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.InputSchema),
		}))
	}

	completion, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, c.classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, model.NewProviderError(c.provider, model.KindResponseError, 0, "completion has no choices", nil)
	}
	choice := completion.Choices[0]
	resp := &model.Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: model.TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if raw := tc.Function.Arguments; raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, model.NewProviderError(c.provider, model.KindResponseError, 0,
					fmt.Sprintf("tool call %q carries malformed arguments", tc.Function.Name), err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return resp, nil
}

func (c *Client) messages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		out = append(out, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(args),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case model.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (c *Client) classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return model.NewProviderError(c.provider, model.ClassifyHTTP(apierr.StatusCode), apierr.StatusCode, apierr.Message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewProviderError(c.provider, model.KindTimeout, 0, "request deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return model.NewProviderError(c.provider, model.KindTimeout, 0, "request canceled", err)
	}
	return model.NewProviderError(c.provider, model.KindNetwork, 0, err.Error(), err)
}
