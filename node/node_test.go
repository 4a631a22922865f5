package node

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/require"
	"goa.design/flow/execution"
	"goa.design/flow/hil"
	"goa.design/flow/model"
	"goa.design/flow/spec"
)

func TestRegistryLookupPrecedence(t *testing.T) {
	r := NewRegistry()
	typeLevel := NewFlow(nil)
	exact := NewFlow(nil)
	r.RegisterType(spec.TypeFlow, typeLevel)
	r.Register(spec.TypeFlow, "IF", exact)

	got, err := r.Lookup(spec.TypeFlow, "IF")
	require.NoError(t, err)
	require.Same(t, exact, got)

	got, err = r.Lookup(spec.TypeFlow, "MERGE")
	require.NoError(t, err)
	require.Same(t, typeLevel, got)

	_, err = r.Lookup(spec.TypeAction, "HTTP_REQUEST")
	require.Error(t, err)
}

func TestTriggerOutputs(t *testing.T) {
	at := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	out, err := Trigger{}.Execute(context.Background(), &Input{
		ExecutionID: "exec-1",
		NodeID:      "start",
		Type:        spec.TypeTrigger,
		Subtype:     "MANUAL",
		Trigger:     map[string]any{"order_id": "o-42", "user_id": "u-7"},
		TriggerTime: at,
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"order_id": "o-42", "user_id": "u-7"}, out.Values["result"])
	require.Equal(t, "2026-08-24T12:00:00Z", out.Values["trigger_time"])
	require.Equal(t, "exec-1", out.Values["execution_id"])
	require.Equal(t, "u-7", out.Values["user_id"])
}

func TestFlowIf(t *testing.T) {
	flow := NewFlow(nil)
	in := &Input{
		Subtype: "IF",
		Config:  map[string]any{"condition_expression": "score > 40"},
		Payload: map[string]any{"input": map[string]any{"score": 42}},
	}
	out, err := flow.Execute(context.Background(), in)
	require.NoError(t, err)
	require.Contains(t, out.Values, "true")
	require.NotContains(t, out.Values, "false")
	require.Equal(t, map[string]any{"score": 42}, out.Values["true"])

	in.Payload = map[string]any{"input": map[string]any{"score": 10}}
	out, err = flow.Execute(context.Background(), in)
	require.NoError(t, err)
	require.Contains(t, out.Values, "false")
}

func TestFlowSwitch(t *testing.T) {
	flow := NewFlow(nil)
	in := &Input{
		Subtype: "SWITCH",
		Config: map[string]any{
			"switch_expression": "tier",
			"cases":             []any{"gold", "silver"},
			"default_case":      "other",
		},
		Payload: map[string]any{"input": map[string]any{"tier": "gold"}},
	}
	out, err := flow.Execute(context.Background(), in)
	require.NoError(t, err)
	require.Contains(t, out.Values, "gold")

	in.Payload = map[string]any{"input": map[string]any{"tier": "bronze"}}
	out, err = flow.Execute(context.Background(), in)
	require.NoError(t, err)
	require.Contains(t, out.Values, "other")
}

func TestFlowLoop(t *testing.T) {
	flow := NewFlow(nil)
	out, err := flow.Execute(context.Background(), &Input{
		Subtype: "LOOP",
		Config:  map[string]any{"max_iterations": 10},
		Payload: map[string]any{"items": []any{"a", "b", "c"}},
	})
	require.NoError(t, err)
	require.Len(t, out.Items, 3)
	require.Equal(t, map[string]any{"item": "b", "index": 1}, out.Items[1])
	require.Equal(t, []any{"a", "b", "c"}, out.Values["result"])
}

func TestFlowLoopBound(t *testing.T) {
	flow := NewFlow(nil)
	_, err := flow.Execute(context.Background(), &Input{
		Subtype: "LOOP",
		Config:  map[string]any{"max_iterations": 2},
		Payload: map[string]any{"items": []any{1, 2, 3}},
	})
	require.Error(t, err)
	require.Equal(t, execution.KindInvalidRequest, execution.AsError(err).Kind)
}

func TestFlowFilterAndSort(t *testing.T) {
	flow := NewFlow(nil)
	out, err := flow.Execute(context.Background(), &Input{
		Subtype: "FILTER",
		Config:  map[string]any{"predicate_expression": "item > 2"},
		Payload: map[string]any{"items": []any{1, 3, 2, 5}},
	})
	require.NoError(t, err)
	require.Equal(t, []any{3, 5}, out.Values["result"])

	out, err = flow.Execute(context.Background(), &Input{
		Subtype: "SORT",
		Config:  map[string]any{"key_expression": "item.rank", "order": "desc"},
		Payload: map[string]any{"items": []any{
			map[string]any{"name": "x", "rank": 1},
			map[string]any{"name": "y", "rank": 3},
			map[string]any{"name": "z", "rank": 2},
		}},
	})
	require.NoError(t, err)
	sorted := out.Values["result"].([]any)
	require.Equal(t, "y", sorted[0].(map[string]any)["name"])
	require.Equal(t, "x", sorted[2].(map[string]any)["name"])
}

func TestFlowSortDescKeepsTieOrder(t *testing.T) {
	flow := NewFlow(nil)
	out, err := flow.Execute(context.Background(), &Input{
		Subtype: "SORT",
		Config:  map[string]any{"key_expression": "item.rank", "order": "desc"},
		Payload: map[string]any{"items": []any{
			map[string]any{"name": "a", "rank": 2},
			map[string]any{"name": "b", "rank": 1},
			map[string]any{"name": "c", "rank": 2},
		}},
	})
	require.NoError(t, err)
	sorted := out.Values["result"].([]any)
	names := make([]string, len(sorted))
	for i, it := range sorted {
		names[i] = it.(map[string]any)["name"].(string)
	}
	require.Equal(t, []string{"a", "c", "b"}, names)
}

func TestFlowMerge(t *testing.T) {
	flow := NewFlow(nil)
	out, err := flow.Execute(context.Background(), &Input{
		Subtype: "MERGE",
		Payload: map[string]any{"items": []any{"a", "b"}},
	})
	require.NoError(t, err)
	require.Equal(t, []any{"a", "b"}, out.Values["result"])

	out, err = flow.Execute(context.Background(), &Input{
		Subtype: "MERGE",
		Payload: map[string]any{"input": map[string]any{"joined": true}},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"joined": true}, out.Values["result"])
}

func TestFlowWaitDelay(t *testing.T) {
	flow := NewFlow(nil)
	out, err := flow.Execute(context.Background(), &Input{
		Subtype: "WAIT",
		Config:  map[string]any{"duration_seconds": 90},
		Payload: map[string]any{"input": "carried"},
	})
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, out.Delay)
	require.Equal(t, "carried", out.Values["result"])
}

func TestHTTPActionSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "1", r.URL.Query().Get("page"))
		require.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	action := NewHTTPAction(nil)
	out, err := action.Execute(context.Background(), &Input{
		Subtype: "HTTP_REQUEST",
		Config: map[string]any{
			"method":  "POST",
			"url":     srv.URL,
			"query":   map[string]any{"page": 1},
			"headers": map[string]any{"X-Api-Key": "secret"},
		},
		Payload: map[string]any{"body": map[string]any{"name": "widget"}},
	})
	require.NoError(t, err)
	require.Equal(t, 200, out.Values["status_code"])
	require.Equal(t, map[string]any{"ok": true}, out.Values["result"])
}

func TestHTTPActionStatusClassification(t *testing.T) {
	for status, kind := range map[int]execution.ErrorKind{
		404: execution.KindHTTP4xx,
		429: execution.KindRateLimit,
		503: execution.KindProvider5xx,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		action := NewHTTPAction(nil)
		_, err := action.Execute(context.Background(), &Input{
			Subtype: "HTTP_REQUEST",
			Config:  map[string]any{"url": srv.URL},
			Payload: map[string]any{},
		})
		srv.Close()
		require.Error(t, err)
		ee := execution.AsError(err)
		require.Equal(t, kind, ee.Kind, "status %d", status)
		require.Equal(t, status, ee.Context["status_code"])
	}
}

func TestHTTPActionNetworkError(t *testing.T) {
	action := NewHTTPAction(&http.Client{Timeout: 200 * time.Millisecond})
	_, err := action.Execute(context.Background(), &Input{
		Subtype: "HTTP_REQUEST",
		Config:  map[string]any{"url": "http://127.0.0.1:1"},
		Payload: map[string]any{},
	})
	require.Error(t, err)
	require.True(t, execution.AsError(err).Kind.Retryable())
}

type fakePoster struct {
	channel string
	err     error
}

func (f *fakePoster) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	f.channel = channelID
	if f.err != nil {
		return "", "", f.err
	}
	return channelID, "1724490000.000100", nil
}

func TestExternalSlack(t *testing.T) {
	poster := &fakePoster{}
	ext := NewExternal()
	ext.SetInvoker("SLACK_POST_MESSAGE", &SlackInvoker{NewAPI: func(string) SlackPoster { return poster }})

	out, err := ext.Execute(context.Background(), &Input{
		Subtype: "SLACK_POST_MESSAGE",
		Config:  map[string]any{"workspace": "default", "channel": "C123"},
		Payload: map[string]any{"message": "deploy done"},
		Secrets: StaticSecrets{"slack/default": "xoxb-test"},
	})
	require.NoError(t, err)
	require.Equal(t, "C123", poster.channel)
	require.Equal(t, true, out.Values["success"])
	require.Equal(t, "1724490000.000100", out.Values["message_ts"])
}

func TestExternalSlackMissingCredential(t *testing.T) {
	ext := NewExternal()
	_, err := ext.Execute(context.Background(), &Input{
		Subtype: "SLACK_POST_MESSAGE",
		Config:  map[string]any{"workspace": "prod", "channel": "C123"},
		Payload: map[string]any{"message": "hi"},
		Secrets: StaticSecrets{},
	})
	require.Error(t, err)
	require.Equal(t, execution.KindAuth, execution.AsError(err).Kind)
}

func TestExternalGitHubCreateIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/widgets/issues", r.URL.Path)
		require.Equal(t, "Bearer ghp-test", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"number":7,"html_url":"https://github.com/acme/widgets/issues/7"}`))
	}))
	t.Cleanup(srv.Close)

	ext := NewExternal()
	ext.SetInvoker("GITHUB_CREATE_ISSUE", &GitHubInvoker{BaseURL: srv.URL})
	out, err := ext.Execute(context.Background(), &Input{
		Subtype: "GITHUB_CREATE_ISSUE",
		Config:  map[string]any{"workspace": "default", "repository": "acme/widgets"},
		Payload: map[string]any{"title": "flaky test", "body": "details"},
		Secrets: StaticSecrets{"github/default": "ghp-test"},
	})
	require.NoError(t, err)
	require.Equal(t, 7, out.Values["issue_number"])
	require.Equal(t, "https://github.com/acme/widgets/issues/7", out.Values["url"])
}

type captureChannel struct {
	msg hil.Message
}

func (c *captureChannel) Send(_ context.Context, msg hil.Message) (hil.Correlation, error) {
	c.msg = msg
	return hil.Correlation{"channel": msg.Recipient, "message_ts": "123.456"}, nil
}

func TestHILSlackInteraction(t *testing.T) {
	captured := &captureChannel{}
	h := NewHIL()
	h.NewSlackChannel = func(token string) hil.Channel {
		require.Equal(t, "xoxb-test", token)
		return captured
	}
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	h.SetClock(func() time.Time { return now })

	out, err := h.Execute(context.Background(), &Input{
		ExecutionID: "exec-1",
		NodeID:      "approval",
		Subtype:     "SLACK_INTERACTION",
		Config: map[string]any{
			"workspace":        "default",
			"channel":          "C123",
			"message_template": "Deploy {{.service}}?",
			"timeout_minutes":  30,
		},
		Payload: map[string]any{"input": map[string]any{"service": "billing"}},
		Secrets: StaticSecrets{"slack/default": "xoxb-test"},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Waiting)
	require.Equal(t, "Deploy billing?", out.Waiting.Prompt)
	require.Equal(t, "Deploy billing?", captured.msg.Text)
	require.Equal(t, out.Waiting.Token.Token, captured.msg.Token)
	require.Equal(t, "exec-1", out.Waiting.Token.ExecutionID)
	require.Equal(t, execution.ChannelSlack, out.Waiting.Token.Channel)
	require.Equal(t, now.Add(30*time.Minute), out.Waiting.Token.ExpiresAt)
	require.Equal(t, 30*time.Minute, out.Waiting.Timeout)
	require.Equal(t, "123.456", out.Waiting.Correlation["message_ts"])
}

func TestHILManualReview(t *testing.T) {
	h := NewHIL()
	out, err := h.Execute(context.Background(), &Input{
		ExecutionID: "exec-1",
		NodeID:      "review",
		Subtype:     "MANUAL_REVIEW",
		Config: map[string]any{
			"title":           "Review refund {{.amount}}",
			"instructions":    "Check the ledger first.",
			"timeout_minutes": 60,
		},
		Payload: map[string]any{"input": map[string]any{"amount": 250}},
		Secrets: StaticSecrets{},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Waiting)
	require.Contains(t, out.Waiting.Prompt, "Review refund 250")
	require.Contains(t, out.Waiting.Prompt, "Check the ledger first.")
	require.Equal(t, execution.ChannelManual, out.Waiting.Token.Channel)
}

type agentStubClient struct {
	resp *model.Response
	err  error
}

func (c *agentStubClient) Call(_ context.Context, _ model.Request) (*model.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.resp, nil
}

func TestAIAgentSuccess(t *testing.T) {
	exec := NewAIAgent(map[string]model.Client{
		"OPENAI": &agentStubClient{resp: &model.Response{
			Content: "summary text",
			Usage:   model.TokenUsage{InputTokens: 12, OutputTokens: 8},
		}},
	}, nil, nil)

	out, err := exec.Execute(context.Background(), &Input{
		WorkflowID: "wf-1",
		NodeID:     "agent",
		Subtype:    "OPENAI",
		Config:     map[string]any{"model": "gpt-4o", "max_tool_turns": 8},
		Payload:    map[string]any{"message": "summarize this"},
	})
	require.NoError(t, err)
	require.Equal(t, "summary text", out.Values["content"])
	require.Equal(t, "summary text", out.Values["result"])
	usage := out.Values["usage"].(map[string]any)
	require.Equal(t, 12, usage["input_tokens"])
}

type recordingClient struct{ requests []model.Request }

func (c *recordingClient) Call(_ context.Context, req model.Request) (*model.Response, error) {
	c.requests = append(c.requests, req)
	return &model.Response{Content: "done"}, nil
}

func TestAIAgentAppendixFromAttachedNodes(t *testing.T) {
	rec := &recordingClient{}
	exec := NewAIAgent(map[string]model.Client{"OPENAI": rec}, nil, nil)

	_, err := exec.Execute(context.Background(), &Input{
		WorkflowID: "wf-1",
		NodeID:     "agent",
		Subtype:    "OPENAI",
		Config:     map[string]any{"model": "gpt-4o", "system_prompt": "You are terse."},
		Payload:    map[string]any{"message": "summarize"},
		Attached: []AttachedNode{
			{ID: "mem", Type: spec.TypeMemory, Subtype: "CONVERSATION_BUFFER",
				Appendix: "Prefer bullet lists."},
		},
	})
	require.NoError(t, err)
	require.Len(t, rec.requests, 1)
	require.Equal(t, "You are terse.\n\nPrefer bullet lists.", rec.requests[0].SystemPrompt)
}

func TestAIAgentErrorMapping(t *testing.T) {
	exec := NewAIAgent(map[string]model.Client{
		"OPENAI": &agentStubClient{err: model.NewProviderError("openai", model.KindRateLimit, 429, "slow down", nil)},
	}, nil, nil)

	_, err := exec.Execute(context.Background(), &Input{
		WorkflowID: "wf-1",
		Subtype:    "OPENAI",
		Config:     map[string]any{"model": "gpt-4o"},
		Payload:    map[string]any{"message": "hi"},
	})
	require.Error(t, err)
	ee := execution.AsError(err)
	require.Equal(t, execution.KindRateLimit, ee.Kind)
	require.Equal(t, "openai", ee.Context["provider"])
	require.True(t, ee.Kind.Retryable())
}

func TestAIAgentUnknownProvider(t *testing.T) {
	exec := NewAIAgent(map[string]model.Client{}, nil, nil)
	_, err := exec.Execute(context.Background(), &Input{Subtype: "MISTRAL", Payload: map[string]any{"message": "hi"}})
	require.Error(t, err)
	require.Equal(t, execution.KindInvalidRequest, execution.AsError(err).Kind)
}
