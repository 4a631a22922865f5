// Package agent orchestrates AI_AGENT nodes. A run loads attached memories,
// advertises attached toolsets to the model, drives a bounded tool-call loop
// and persists the finished turn back into writable memories. Every attached
// node interaction is recorded so executions expose the full trace.
//
// # Attached node isolation
//
// Attached MEMORY and TOOL nodes never run on their own: the orchestrator is
// their only caller and each operation becomes an execution.AttachedExecution
// on the owning agent's node execution.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"goa.design/clue/log"
	"goa.design/flow/execution"
	"goa.design/flow/mcp"
	"goa.design/flow/memory"
	"goa.design/flow/model"
)

// DefaultMaxToolTurns bounds the tool-call loop when the node does not
// configure a limit.
const DefaultMaxToolTurns = 8

type (
	// AttachedMemory pairs a MEMORY node with its adapter.
	AttachedMemory struct {
		NodeID string
		Memory memory.Memory
		// Write enables persisting the finished turn.
		Write bool
	}

	// AttachedToolset pairs a TOOL node with its toolset.
	AttachedToolset struct {
		NodeID  string
		Toolset mcp.Toolset
	}

	// Request describes one agent run.
	Request struct {
		// SessionID scopes memory, usually the workflow id.
		SessionID string
		// Model is the provider model identifier.
		Model string
		// SystemPrompt is the node-configured system prompt.
		SystemPrompt string
		// Appendix is extra system prompt text from the node spec.
		Appendix string
		// Message is the user message.
		Message string
		// Context is optional structured context appended to the message.
		Context map[string]any
		// Temperature and MaxTokens pass through to the provider.
		Temperature float64
		MaxTokens   int
		// MaxToolTurns bounds the loop; non positive means
		// DefaultMaxToolTurns.
		MaxToolTurns int
		Memories     []AttachedMemory
		Toolsets     []AttachedToolset
	}

	// Result is the outcome of a run. Attached records are populated even
	// when the run errors so the partial trace survives.
	Result struct {
		Content  string
		Usage    model.TokenUsage
		Turns    int
		Attached []execution.AttachedExecution

		replayed []memory.Message
	}

	// Orchestrator runs agent requests against one model client.
	Orchestrator struct {
		client model.Client
		now    func() time.Time
	}
)

// New constructs an orchestrator.
func New(client model.Client) *Orchestrator {
	return &Orchestrator{client: client, now: time.Now}
}

// SetClock overrides the clock used to stamp attached records.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Run executes the agent loop. The returned Result is non-nil even on error
// so callers can persist the attached execution trace.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{}
	if req.Message == "" {
		return res, fmt.Errorf("agent request has no message")
	}

	system := o.loadMemories(ctx, req, res)
	tools, dispatch, err := o.listTools(ctx, req, res)
	if err != nil {
		return res, err
	}

	userMsg := req.Message
	if len(req.Context) > 0 {
		raw, err := json.Marshal(req.Context)
		if err != nil {
			return res, fmt.Errorf("encode agent context: %w", err)
		}
		userMsg = userMsg + "\n\nContext:\n" + string(raw)
	}
	messages := append(res.memoryMessages(), model.Message{Role: model.RoleUser, Content: userMsg})

	maxTurns := req.MaxToolTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxToolTurns
	}
	for turn := 0; turn < maxTurns; turn++ {
		res.Turns = turn + 1
		resp, err := o.client.Call(ctx, model.Request{
			Model:        req.Model,
			SystemPrompt: system,
			Messages:     messages,
			Tools:        tools,
			Temperature:  req.Temperature,
			MaxTokens:    req.MaxTokens,
		})
		if err != nil {
			return res, err
		}
		res.Usage.InputTokens += resp.Usage.InputTokens
		res.Usage.OutputTokens += resp.Usage.OutputTokens

		if len(resp.ToolCalls) == 0 {
			res.Content = resp.Content
			o.storeMemories(ctx, req, res)
			return res, nil
		}

		messages = append(messages, model.Message{
			Role:      model.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			content := o.invoke(ctx, call, dispatch, res)
			messages = append(messages, model.Message{
				Role:       model.RoleTool,
				ToolCallID: call.ID,
				Content:    content,
			})
		}
	}
	return res, fmt.Errorf("tool turn budget exhausted after %d turns", maxTurns)
}

// loadMemories loads every attached memory and returns the composed system
// prompt. Load failures are recorded but do not fail the run; the agent can
// still answer without memory.
func (o *Orchestrator) loadMemories(ctx context.Context, req Request, res *Result) string {
	var fragments []string
	if req.SystemPrompt != "" {
		fragments = append(fragments, req.SystemPrompt)
	}
	if req.Appendix != "" {
		fragments = append(fragments, req.Appendix)
	}
	for _, am := range req.Memories {
		rec := execution.AttachedExecution{
			NodeID:    am.NodeID,
			Operation: execution.AttachedLoad,
			Input:     map[string]any{"session_id": req.SessionID},
			StartedAt: o.now(),
		}
		loaded, err := am.Memory.Load(ctx, memory.LoadInput{SessionID: req.SessionID, Input: req.Context})
		rec.EndedAt = o.now()
		if err != nil {
			rec.Error = err.Error()
			log.Warnf(ctx, "memory load failed: node %s: %v", am.NodeID, err)
			res.Attached = append(res.Attached, rec)
			continue
		}
		rec.Output = map[string]any{"messages": len(loaded.Messages)}
		res.Attached = append(res.Attached, rec)
		if loaded.SystemPrompt != "" {
			fragments = append(fragments, loaded.SystemPrompt)
		}
		res.replayed = append(res.replayed, loaded.Messages...)
	}
	return strings.Join(fragments, "\n\n")
}

// listTools collects tool descriptors from every attached toolset and builds
// the name to toolset dispatch table. A listing failure fails the run since
// the model would otherwise act on an incomplete tool surface.
func (o *Orchestrator) listTools(ctx context.Context, req Request, res *Result) ([]model.ToolDefinition, map[string]toolTarget, error) {
	var defs []model.ToolDefinition
	dispatch := make(map[string]toolTarget)
	for _, at := range req.Toolsets {
		rec := execution.AttachedExecution{
			NodeID:    at.NodeID,
			Operation: execution.AttachedListTools,
			StartedAt: o.now(),
		}
		tools, err := at.Toolset.ListTools(ctx)
		rec.EndedAt = o.now()
		if err != nil {
			rec.Error = err.Error()
			res.Attached = append(res.Attached, rec)
			return nil, nil, fmt.Errorf("list tools on node %s: %w", at.NodeID, err)
		}
		names := make([]string, 0, len(tools))
		for _, t := range tools {
			names = append(names, t.Name)
			defs = append(defs, model.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
			dispatch[t.Name] = toolTarget{nodeID: at.NodeID, toolset: at.Toolset}
		}
		rec.Output = map[string]any{"tools": names}
		res.Attached = append(res.Attached, rec)
	}
	return defs, dispatch, nil
}

// invoke runs one tool call and returns the content fed back to the model.
// Invocation failures become error text the model can react to.
func (o *Orchestrator) invoke(ctx context.Context, call model.ToolCall, dispatch map[string]toolTarget, res *Result) string {
	target, ok := dispatch[call.Name]
	if !ok {
		rec := execution.AttachedExecution{
			Operation: execution.AttachedInvoke,
			Tool:      call.Name,
			Input:     call.Arguments,
			Error:     "unknown tool",
			StartedAt: o.now(),
			EndedAt:   o.now(),
		}
		res.Attached = append(res.Attached, rec)
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}
	rec := execution.AttachedExecution{
		NodeID:    target.nodeID,
		Operation: execution.AttachedInvoke,
		Tool:      call.Name,
		Input:     call.Arguments,
		StartedAt: o.now(),
	}
	raw, err := target.toolset.Invoke(ctx, call.Name, call.Arguments)
	rec.EndedAt = o.now()
	if err != nil {
		rec.Error = err.Error()
		res.Attached = append(res.Attached, rec)
		return fmt.Sprintf("error: %s", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		rec.Output = map[string]any{"result": decoded}
	} else {
		rec.Output = map[string]any{"result": string(raw)}
	}
	res.Attached = append(res.Attached, rec)
	return string(raw)
}

// storeMemories persists the finished turn into writable memories. Store
// failures are recorded but do not fail a run that already produced content.
func (o *Orchestrator) storeMemories(ctx context.Context, req Request, res *Result) {
	for _, am := range req.Memories {
		if !am.Write {
			continue
		}
		rec := execution.AttachedExecution{
			NodeID:    am.NodeID,
			Operation: execution.AttachedStore,
			Input:     map[string]any{"session_id": req.SessionID},
			StartedAt: o.now(),
		}
		err := am.Memory.Store(ctx, memory.Turn{
			SessionID: req.SessionID,
			User:      req.Message,
			Assistant: res.Content,
			At:        o.now(),
		})
		rec.EndedAt = o.now()
		if err != nil {
			rec.Error = err.Error()
			log.Warnf(ctx, "memory store failed: node %s: %v", am.NodeID, err)
		}
		res.Attached = append(res.Attached, rec)
	}
}

// memoryMessages converts replayed memory messages into model messages,
// oldest first.
func (r *Result) memoryMessages() []model.Message {
	out := make([]model.Message, 0, len(r.replayed))
	for _, m := range r.replayed {
		role := m.Role
		if role != model.RoleAssistant {
			role = model.RoleUser
		}
		out = append(out, model.Message{Role: role, Content: m.Content})
	}
	return out
}

type toolTarget struct {
	nodeID  string
	toolset mcp.Toolset
}
