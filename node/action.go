package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"goa.design/flow/execution"
)

// maxResponseBody bounds how much of a response an action keeps.
const maxResponseBody = 4 << 20

// HTTPAction performs an HTTP request and exposes status, headers and the
// decoded body. Transport failures map to NETWORK, deadline hits to TIMEOUT,
// 4xx statuses to the non-retryable HTTP_4XX and 5xx to PROVIDER_5XX.
type HTTPAction struct {
	client *http.Client
}

// NewHTTPAction constructs the executor. A nil client uses a default with a
// 30 second safety timeout; per-node budgets arrive via the context.
func NewHTTPAction(client *http.Client) *HTTPAction {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPAction{client: client}
}

// Execute implements Executor.
func (a *HTTPAction) Execute(ctx context.Context, in *Input) (*Output, error) {
	method := configString(in.Config, "method")
	if method == "" {
		method = http.MethodGet
	}
	target, err := url.Parse(configString(in.Config, "url"))
	if err != nil {
		return nil, execution.NewError(execution.KindInvalidRequest, "invalid url: %v", err)
	}
	if q, ok := in.Config["query"].(map[string]any); ok {
		query := target.Query()
		for k, v := range q {
			query.Set(k, fmt.Sprint(v))
		}
		target.RawQuery = query.Encode()
	}

	var body io.Reader
	if raw, ok := in.Payload["body"]; ok && raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, execution.NewError(execution.KindInvalidRequest, "encode request body: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, execution.NewError(execution.KindInvalidRequest, "build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if hs, ok := in.Config["headers"].(map[string]any); ok {
		for k, v := range hs {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, execution.NewError(execution.KindTimeout, "request timed out: %v", err)
		}
		return nil, execution.NewError(execution.KindNetwork, "request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, execution.NewError(execution.KindNetwork, "read response: %v", err)
	}
	if kind, ok := classifyStatus(resp.StatusCode); ok {
		return nil, execution.NewError(kind, "http status %d", resp.StatusCode).
			WithContext("status_code", resp.StatusCode).
			WithContext("body", string(raw))
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	var decoded any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			decoded = string(raw)
		}
	}
	return &Output{Values: map[string]any{
		"result":      decoded,
		"status_code": resp.StatusCode,
		"headers":     headers,
	}}, nil
}

func classifyStatus(status int) (execution.ErrorKind, bool) {
	switch {
	case status == 408:
		return execution.KindTimeout, true
	case status == 429:
		return execution.KindRateLimit, true
	case status >= 500:
		return execution.KindProvider5xx, true
	case status >= 400:
		return execution.KindHTTP4xx, true
	}
	return "", false
}
