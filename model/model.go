// Package model defines the provider-agnostic contract AI agent nodes use to
// invoke LLM chat completions. Implementations wrap provider SDKs (OpenAI,
// Anthropic, OpenAI-compatible endpoints such as Gemini) and translate the
// normalized Request/Response types to provider-specific formats. Clients
// must be thread-safe and reusable across node executions.
package model

import (
	"context"
)

type (
	// Client is the uniform provider interface consumed by AI agent nodes.
	Client interface {
		// Call sends one chat completion request and returns the model's
		// response, including any tool call requests. Failures are returned
		// as *ProviderError so the engine can classify and retry.
		Call(ctx context.Context, req Request) (*Response, error)
	}

	// Request captures the normalized parameters for one model invocation.
	Request struct {
		// Model is the provider-specific model identifier.
		Model string
		// SystemPrompt is the system instruction, already augmented with
		// memory context by the agent orchestrator.
		SystemPrompt string
		// Messages is the ordered conversation history.
		Messages []Message
		// Tools advertises the callable tools for this turn. Empty when the
		// agent has no attached TOOL nodes.
		Tools []ToolDefinition
		// Temperature controls sampling; zero means provider default.
		Temperature float64
		// MaxTokens caps completion length; zero means provider default.
		MaxTokens int
	}

	// Message is one chat message. Role is "user", "assistant", or "tool".
	// Tool result messages carry the ToolCallID they answer.
	Message struct {
		Role       string
		Content    string
		ToolCallID string
		// ToolCalls is set on assistant messages that requested tools, so
		// the history replayed to the provider stays faithful.
		ToolCalls []ToolCall
	}

	// ToolCall is a tool invocation requested by the model.
	ToolCall struct {
		ID        string
		Name      string
		Arguments map[string]any
	}

	// ToolDefinition describes one callable tool advertised to the model.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema map[string]any
	}

	// Response wraps the generated content and tool call requests.
	Response struct {
		Content      string
		ToolCalls    []ToolCall
		Usage        TokenUsage
		FinishReason string
	}

	// TokenUsage reports token consumption when the provider exposes it.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
	}
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)
