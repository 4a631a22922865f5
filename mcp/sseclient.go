package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SSEClient implements Toolset using HTTP SSE streams for tools/call. The
// tools/list and initialize exchanges use plain JSON-RPC.
type SSEClient struct{ transport *httpTransport }

// NewSSEClient creates an SSE-based Toolset and performs the MCP initialize
// handshake.
func NewSSEClient(ctx context.Context, opts HTTPOptions) (*SSEClient, error) {
	transport, err := newHTTPTransport(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &SSEClient{transport: transport}, nil
}

// ListTools invokes tools/list over plain JSON-RPC.
func (c *SSEClient) ListTools(ctx context.Context) ([]Tool, error) {
	var result toolsListResult
	if err := c.transport.call(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// Invoke invokes tools/call via SSE and normalizes the final response.
func (c *SSEClient) Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	params := map[string]any{
		"name":      tool,
		"arguments": args,
	}
	rpcReq := rpcRequest{JSONRPC: "2.0", Method: "tools/call", ID: c.transport.nextID(), Params: params}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, err
	}
	httpReq, err := c.transport.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := c.transport.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("mcp rpc status %d: %s", resp.StatusCode, string(raw))
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected content type %q: %s", resp.Header.Get("Content-Type"), string(raw))
	}
	reader := bufio.NewReader(resp.Body)
	for {
		event, data, err := readSSEEvent(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("sse stream closed before response")
			}
			return nil, err
		}
		switch event {
		case "response":
			var rpcResp rpcResponse
			if err := json.Unmarshal(data, &rpcResp); err != nil {
				return nil, err
			}
			if rpcResp.Error != nil {
				return nil, rpcResp.Error.clientError()
			}
			return decodeToolCallResult(rpcResp.Result)
		case "error":
			var rpcResp rpcResponse
			if err := json.Unmarshal(data, &rpcResp); err != nil {
				return nil, fmt.Errorf("mcp error event: %w", err)
			}
			if rpcResp.Error != nil {
				return nil, rpcResp.Error.clientError()
			}
			return nil, errors.New("mcp error event")
		case "", "notification":
			continue
		case "close":
			return nil, errors.New("sse stream closed without response")
		default:
			continue
		}
	}
}

func readSSEEvent(reader *bufio.Reader) (string, []byte, error) {
	var event string
	var data []byte
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if event == "" && len(data) == 0 {
				continue
			}
			return event, data, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if after, ok := strings.CutPrefix(line, "event:"); ok {
			event = strings.TrimSpace(after)
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, after...)
			continue
		}
	}
}
