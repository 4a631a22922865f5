// Package mcp provides MCP (Model Context Protocol) clients used by attached
// TOOL nodes. A Toolset advertises tool descriptors the agent forwards to the
// model and invokes tools on the model's behalf. Transport-specific clients
// (JSON-RPC HTTP, HTTP SSE) adapt MCP servers to the Toolset contract.
package mcp

import (
	"context"
	"encoding/json"
)

const (
	// JSON-RPC canonical error codes.
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

type (
	// Tool describes one tool the server exposes. InputSchema is a JSON
	// Schema object forwarded verbatim to the model provider.
	Tool struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"inputSchema"`
	}

	// Toolset is the contract attached TOOL nodes expose to the agent
	// orchestrator.
	Toolset interface {
		// ListTools returns the tools the server currently advertises.
		ListTools(ctx context.Context) ([]Tool, error)
		// Invoke calls one tool and returns its decoded result payload.
		Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error)
	}

	// Error represents a JSON-RPC error returned by the MCP server.
	Error struct {
		Code    int
		Message string
	}
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}
