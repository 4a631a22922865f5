package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Static is an in-process Toolset backed by Go handler functions. It serves
// tests and deployments that expose local capabilities without an MCP server.
type Static struct {
	mu    sync.RWMutex
	tools map[string]staticTool
}

type staticTool struct {
	tool    Tool
	handler func(ctx context.Context, args map[string]any) (any, error)
}

// NewStatic constructs an empty static toolset.
func NewStatic() *Static {
	return &Static{tools: make(map[string]staticTool)}
}

// Register adds a tool. Registering a name twice replaces the handler.
func (s *Static) Register(tool Tool, handler func(ctx context.Context, args map[string]any) (any, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[tool.Name] = staticTool{tool: tool, handler: handler}
}

// ListTools implements Toolset. Tools are returned sorted by name.
func (s *Static) ListTools(_ context.Context) ([]Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Invoke implements Toolset.
func (s *Static) Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	s.mu.RLock()
	st, ok := s.tools[tool]
	s.mu.RUnlock()
	if !ok {
		return nil, &Error{Code: JSONRPCMethodNotFound, Message: fmt.Sprintf("unknown tool %q", tool)}
	}
	res, err := st.handler(ctx, args)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("tool %q result: %w", tool, err)
	}
	return raw, nil
}
