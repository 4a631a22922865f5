package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      uint64 `json:"id"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      uint64          `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

func (e *rpcError) clientError() *Error {
	if e == nil {
		return nil
	}
	return &Error{Code: e.Code, Message: e.Message}
}

type toolsListResult struct {
	Tools []Tool `json:"tools"`
}

type toolsCallResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError"`
}

type contentItem struct {
	Type     string  `json:"type"`
	Text     *string `json:"text"`
	MimeType *string `json:"mimeType"`
}

func (c contentItem) text() string {
	if c.Text == nil {
		return ""
	}
	return *c.Text
}

func decodeToolCallResult(raw json.RawMessage) (json.RawMessage, error) {
	var result toolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return normalizeToolResult(result)
}

// normalizeToolResult extracts the first content block and returns it as a
// JSON payload. Plain text becomes a JSON string so callers always receive
// valid JSON.
func normalizeToolResult(result toolsCallResult) (json.RawMessage, error) {
	if len(result.Content) == 0 {
		return nil, errors.New("empty MCP response")
	}
	item := result.Content[0]
	text := item.text()
	if text == "" {
		return nil, errors.New("tool returned no content")
	}
	textBytes := []byte(text)
	if json.Valid(textBytes) {
		payload := append(json.RawMessage(nil), textBytes...)
		if result.IsError {
			return payload, fmt.Errorf("tool reported failure: %s", text)
		}
		return payload, nil
	}
	marshaled, err := json.Marshal(text)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return marshaled, fmt.Errorf("tool reported failure: %s", text)
	}
	return marshaled, nil
}
