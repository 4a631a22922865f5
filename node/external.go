package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"goa.design/flow/execution"
)

// Invoker performs one external action subtype against its provider.
type Invoker interface {
	Invoke(ctx context.Context, in *Input) (map[string]any, error)
}

// External dispatches EXTERNAL_ACTION nodes to per-subtype invokers.
type External struct {
	invokers map[string]Invoker
}

// NewExternal constructs the executor with the default invokers.
func NewExternal() *External {
	return &External{invokers: map[string]Invoker{
		"SLACK_POST_MESSAGE":  &SlackInvoker{},
		"GITHUB_CREATE_ISSUE": &GitHubInvoker{},
	}}
}

// SetInvoker replaces the invoker for one subtype, used to stub providers in
// tests.
func (e *External) SetInvoker(subtype string, inv Invoker) {
	e.invokers[subtype] = inv
}

// Execute implements Executor.
func (e *External) Execute(ctx context.Context, in *Input) (*Output, error) {
	inv, ok := e.invokers[in.Subtype]
	if !ok {
		return nil, execution.NewError(execution.KindInvalidRequest, "no invoker for subtype %s", in.Subtype)
	}
	values, err := inv.Invoke(ctx, in)
	if err != nil {
		return nil, err
	}
	return &Output{Values: values}, nil
}

// SlackInvoker posts a message through the Slack Web API using the bot token
// resolved from the node's credential workspace.
type SlackInvoker struct {
	// NewAPI overrides client construction in tests.
	NewAPI func(token string) SlackPoster
}

// SlackPoster is the Slack client surface the invoker uses.
type SlackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Invoke implements Invoker.
func (s *SlackInvoker) Invoke(ctx context.Context, in *Input) (map[string]any, error) {
	token, ok := in.Secrets.Secret("slack", configString(in.Config, "workspace"))
	if !ok {
		return nil, execution.NewError(execution.KindAuth, "no slack credential for workspace %q", configString(in.Config, "workspace"))
	}
	message, _ := in.Payload["message"].(string)
	if message == "" {
		return nil, execution.NewError(execution.KindInvalidRequest, "message input is required")
	}
	options := []slack.MsgOption{slack.MsgOptionText(message, false)}
	if raw, ok := in.Payload["blocks"]; ok && raw != nil {
		if encoded, err := json.Marshal(raw); err == nil {
			var blocks slack.Blocks
			if err := json.Unmarshal(encoded, &blocks); err == nil && len(blocks.BlockSet) > 0 {
				options = append(options, slack.MsgOptionBlocks(blocks.BlockSet...))
			}
		}
	}

	api := SlackPoster(slack.New(token))
	if s.NewAPI != nil {
		api = s.NewAPI(token)
	}
	_, ts, err := api.PostMessageContext(ctx, configString(in.Config, "channel"), options...)
	if err != nil {
		return nil, classifySlackError(err)
	}
	return map[string]any{
		"result":     map[string]any{"message_ts": ts},
		"success":    true,
		"message_ts": ts,
	}, nil
}

func classifySlackError(err error) *execution.Error {
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return execution.NewError(execution.KindRateLimit, "slack rate limited: %v", err)
	}
	var serr slack.SlackErrorResponse
	if errors.As(err, &serr) {
		switch serr.Err {
		case "invalid_auth", "not_authed", "token_revoked", "account_inactive":
			return execution.NewError(execution.KindAuth, "slack auth failed: %s", serr.Err)
		case "channel_not_found", "is_archived", "msg_too_long", "no_text":
			return execution.NewError(execution.KindInvalidRequest, "slack rejected message: %s", serr.Err)
		}
		return execution.NewError(execution.KindUnknown, "slack error: %s", serr.Err)
	}
	return execution.NewError(execution.KindNetwork, "slack request failed: %v", err)
}

// GitHubInvoker opens an issue through the GitHub REST API.
type GitHubInvoker struct {
	// BaseURL overrides the API root in tests.
	BaseURL string
	// Client overrides the HTTP client.
	Client *http.Client
}

// Invoke implements Invoker.
func (g *GitHubInvoker) Invoke(ctx context.Context, in *Input) (map[string]any, error) {
	token, ok := in.Secrets.Secret("github", configString(in.Config, "workspace"))
	if !ok {
		return nil, execution.NewError(execution.KindAuth, "no github credential for workspace %q", configString(in.Config, "workspace"))
	}
	title, _ := in.Payload["title"].(string)
	if title == "" {
		return nil, execution.NewError(execution.KindInvalidRequest, "title input is required")
	}
	repo := configString(in.Config, "repository")
	payload := map[string]any{"title": title}
	if body, _ := in.Payload["body"].(string); body != "" {
		payload["body"] = body
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, execution.NewError(execution.KindInvalidRequest, "encode issue: %v", err)
	}

	base := g.BaseURL
	if base == "" {
		base = "https://api.github.com"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/repos/%s/issues", base, repo), bytes.NewReader(encoded))
	if err != nil {
		return nil, execution.NewError(execution.KindInvalidRequest, "build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	if key := configString(in.Config, "idempotency_key"); key != "" {
		req.Header.Set("X-Idempotency-Key", key)
	}

	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, execution.NewError(execution.KindNetwork, "github request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode != http.StatusCreated {
		kind, _ := classifyStatus(resp.StatusCode)
		if kind == "" {
			kind = execution.KindUnknown
		}
		return nil, execution.NewError(kind, "github status %d", resp.StatusCode).
			WithContext("status_code", resp.StatusCode).
			WithContext("body", string(raw))
	}
	var issue struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.Unmarshal(raw, &issue); err != nil {
		return nil, execution.NewError(execution.KindResponseError, "decode issue response: %v", err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	return map[string]any{
		"result":       decoded,
		"issue_number": issue.Number,
		"url":          issue.HTMLURL,
	}, nil
}
