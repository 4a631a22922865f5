package node

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/flow/agent"
	"goa.design/flow/execution"
	"goa.design/flow/mcp"
	"goa.design/flow/memory"
	"goa.design/flow/memory/buffer"
	"goa.design/flow/memory/rediskv"
	"goa.design/flow/model"
	"goa.design/flow/spec"
)

type (
	// MemoryProvider builds memory adapters for attached MEMORY nodes.
	MemoryProvider interface {
		ForNode(n AttachedNode) (mem memory.Memory, write bool, err error)
	}

	// ToolsetProvider builds toolsets for attached TOOL nodes.
	ToolsetProvider interface {
		ForNode(ctx context.Context, in *Input, n AttachedNode) (mcp.Toolset, error)
	}

	// AIAgent executes AI_AGENT nodes by delegating to the agent
	// orchestrator. The client map is keyed by subtype (OPENAI, ANTHROPIC,
	// GEMINI).
	AIAgent struct {
		clients  map[string]model.Client
		memories MemoryProvider
		toolsets ToolsetProvider
	}
)

// NewAIAgent constructs the executor. Nil providers fall back to the
// defaults.
func NewAIAgent(clients map[string]model.Client, memories MemoryProvider, toolsets ToolsetProvider) *AIAgent {
	if memories == nil {
		memories = NewDefaultMemoryProvider(nil)
	}
	if toolsets == nil {
		toolsets = NewDefaultToolsetProvider()
	}
	return &AIAgent{clients: clients, memories: memories, toolsets: toolsets}
}

// Execute implements Executor.
func (a *AIAgent) Execute(ctx context.Context, in *Input) (*Output, error) {
	client, ok := a.clients[in.Subtype]
	if !ok {
		return nil, execution.NewError(execution.KindInvalidRequest, "no model client for provider %s", in.Subtype)
	}
	message, _ := in.Payload["message"].(string)
	agentCtx, _ := in.Payload["context"].(map[string]any)

	req := agent.Request{
		SessionID:    in.WorkflowID,
		Model:        configString(in.Config, "model"),
		SystemPrompt: configString(in.Config, "system_prompt"),
		Message:      message,
		Context:      agentCtx,
		Temperature:  configFloat(in.Config, "temperature"),
		MaxTokens:    configInt(in.Config, "max_tokens"),
		MaxToolTurns: configInt(in.Config, "max_tool_turns"),
	}
	var appendix []string
	for _, att := range in.Attached {
		if att.Appendix != "" {
			appendix = append(appendix, att.Appendix)
		}
		switch att.Type {
		case spec.TypeMemory:
			mem, write, err := a.memories.ForNode(att)
			if err != nil {
				return nil, execution.NewError(execution.KindInvalidRequest, "attached memory %s: %v", att.ID, err)
			}
			req.Memories = append(req.Memories, agent.AttachedMemory{NodeID: att.ID, Memory: mem, Write: write})
		case spec.TypeTool:
			ts, err := a.toolsets.ForNode(ctx, in, att)
			if err != nil {
				return nil, execution.NewError(execution.KindNetwork, "attached toolset %s: %v", att.ID, err)
			}
			req.Toolsets = append(req.Toolsets, agent.AttachedToolset{NodeID: att.ID, Toolset: ts})
		}
	}
	req.Appendix = strings.Join(appendix, "\n\n")

	res, err := a.orchestrate(ctx, client, req)
	out := &Output{Attached: res.Attached}
	if err != nil {
		return out, classifyAgentError(err)
	}
	out.Values = map[string]any{
		"result":  res.Content,
		"content": res.Content,
		"usage": map[string]any{
			"input_tokens":  res.Usage.InputTokens,
			"output_tokens": res.Usage.OutputTokens,
			"turns":         res.Turns,
		},
	}
	return out, nil
}

func (a *AIAgent) orchestrate(ctx context.Context, client model.Client, req agent.Request) (*agent.Result, error) {
	return agent.New(client).Run(ctx, req)
}

// classifyAgentError maps provider failures to execution error kinds so the
// engine's retry policy can act on them.
func classifyAgentError(err error) *execution.Error {
	pe, ok := model.AsProviderError(err)
	if !ok {
		return execution.NewError(execution.KindUnknown, "%v", err)
	}
	var kind execution.ErrorKind
	switch pe.Kind() {
	case model.KindAuth:
		kind = execution.KindAuth
	case model.KindRateLimit:
		kind = execution.KindRateLimit
	case model.KindInvalidRequest:
		kind = execution.KindInvalidRequest
	case model.KindNetwork:
		kind = execution.KindNetwork
	case model.KindTimeout:
		kind = execution.KindTimeout
	case model.KindModelError:
		kind = execution.KindModelError
	case model.KindResponseError:
		kind = execution.KindResponseError
	default:
		kind = execution.KindUnknown
	}
	return execution.NewError(kind, "%v", err).WithContext("provider", pe.Provider())
}

// DefaultMemoryProvider builds the shipped memory subtypes. Conversation
// buffers are per-node process memory; key-value memories require a Redis
// client.
type DefaultMemoryProvider struct {
	redis *redis.Client

	mu      sync.Mutex
	buffers map[string]*buffer.Buffer
}

// NewDefaultMemoryProvider constructs the provider. client may be nil when
// no KEY_VALUE_STORE memory is used.
func NewDefaultMemoryProvider(client *redis.Client) *DefaultMemoryProvider {
	return &DefaultMemoryProvider{redis: client, buffers: make(map[string]*buffer.Buffer)}
}

// ForNode implements MemoryProvider.
func (p *DefaultMemoryProvider) ForNode(n AttachedNode) (memory.Memory, bool, error) {
	write := configBool(n.Config, "write")
	switch n.Subtype {
	case "CONVERSATION_BUFFER":
		p.mu.Lock()
		defer p.mu.Unlock()
		buf, ok := p.buffers[n.ID]
		if !ok {
			buf = buffer.New(configInt(n.Config, "max_messages"))
			p.buffers[n.ID] = buf
		}
		return buf, write, nil
	case "KEY_VALUE_STORE":
		if p.redis == nil {
			return nil, false, fmt.Errorf("key-value memory requires redis")
		}
		return rediskv.New(p.redis, rediskv.Options{
			Namespace: configString(n.Config, "namespace"),
			TTL:       time.Duration(configInt(n.Config, "ttl_seconds")) * time.Second,
		}), write, nil
	}
	return nil, false, fmt.Errorf("unknown memory subtype %s", n.Subtype)
}

// DefaultToolsetProvider builds MCP toolsets, caching clients per node so
// the initialize handshake runs once.
type DefaultToolsetProvider struct {
	mu      sync.Mutex
	clients map[string]mcp.Toolset
}

// NewDefaultToolsetProvider constructs the provider.
func NewDefaultToolsetProvider() *DefaultToolsetProvider {
	return &DefaultToolsetProvider{clients: make(map[string]mcp.Toolset)}
}

// ForNode implements ToolsetProvider.
func (p *DefaultToolsetProvider) ForNode(ctx context.Context, in *Input, n AttachedNode) (mcp.Toolset, error) {
	if n.Subtype != "MCP" {
		return nil, fmt.Errorf("unknown tool subtype %s", n.Subtype)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if ts, ok := p.clients[n.ID]; ok {
		return ts, nil
	}
	opts := mcp.HTTPOptions{
		Endpoint:  configString(n.Config, "endpoint"),
		AuthToken: configString(n.Config, "auth_token"),
	}
	var (
		ts  mcp.Toolset
		err error
	)
	if configString(n.Config, "transport") == "sse" {
		ts, err = mcp.NewSSEClient(ctx, opts)
	} else {
		ts, err = mcp.NewHTTPClient(ctx, opts)
	}
	if err != nil {
		return nil, err
	}
	p.clients[n.ID] = ts
	return ts, nil
}
