package engine_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/flow/engine"
	"goa.design/flow/execution"
	"goa.design/flow/hil"
	lockmem "goa.design/flow/lock/inmem"
	"goa.design/flow/model"
	"goa.design/flow/node"
	"goa.design/flow/spec"
	"goa.design/flow/spec/builtin"
	storemem "goa.design/flow/store/inmem"
	"goa.design/flow/timer"
	"goa.design/flow/workflow"
)

type execFunc func(ctx context.Context, in *node.Input) (*node.Output, error)

func (f execFunc) Execute(ctx context.Context, in *node.Input) (*node.Output, error) {
	return f(ctx, in)
}

type env struct {
	engine *engine.Engine
	store  *storemem.Store
	clock  *timer.Fake
}

func newEnv(t *testing.T, executors *node.Registry, wf *workflow.Workflow) *env {
	t.Helper()
	clock := timer.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	st := storemem.New()
	eng := engine.New(engine.Options{
		Store:     st,
		Locker:    lockmem.New(),
		Registry:  builtin.Registry(),
		Executors: executors,
		Timers:    timer.NewService(clock),
	})
	require.NoError(t, st.SaveWorkflow(context.Background(), wf))
	return &env{engine: eng, store: st, clock: clock}
}

func baseExecutors(clock *timer.Fake) *node.Registry {
	r := node.NewRegistry()
	r.RegisterType(spec.TypeTrigger, node.Trigger{})
	r.RegisterType(spec.TypeFlow, node.NewFlow(nil))
	h := node.NewHIL()
	if clock != nil {
		h.SetClock(clock.Now)
	}
	r.RegisterType(spec.TypeHumanInTheLoop, h)
	return r
}

func nodeIDs(exec *execution.Execution, ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = exec.NodeExecutions[id].NodeID
	}
	return out
}

func attemptsFor(exec *execution.Execution, nodeID string) []*execution.NodeExecution {
	var out []*execution.NodeExecution
	for _, ne := range exec.NodeExecutions {
		if ne.NodeID == nodeID {
			out = append(out, ne)
		}
	}
	return out
}

func TestStartRunsLinearWorkflow(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "wf-linear",
		Nodes: []workflow.Node{
			{ID: "intake", Type: spec.TypeTrigger, Subtype: "MANUAL"},
			{ID: "draft", Type: spec.TypeAIAgent, Subtype: "OPENAI",
				Configurations: map[string]any{"system_prompt": "You summarize."}},
			{ID: "notify", Type: spec.TypeExternalAction, Subtype: "SLACK_POST_MESSAGE",
				Configurations: map[string]any{"channel": "#general"}},
		},
		Connections: []workflow.Connection{
			{ID: "e1", FromNode: "intake", ToNode: "draft",
				ConversionFunction: `function convert(input_data) { return { message: "Summarize " + input_data.topic }; }`},
			{ID: "e2", FromNode: "draft", ToNode: "notify",
				ConversionFunction: `function convert(input_data) { return { message: input_data }; }`},
		},
	}

	var posted string
	r := baseExecutors(nil)
	r.RegisterType(spec.TypeAIAgent, execFunc(func(_ context.Context, in *node.Input) (*node.Output, error) {
		msg, _ := in.Payload["message"].(string)
		return &node.Output{Values: map[string]any{
			"result":  "summary of " + msg,
			"content": "summary of " + msg,
		}}, nil
	}))
	r.RegisterType(spec.TypeExternalAction, execFunc(func(_ context.Context, in *node.Input) (*node.Output, error) {
		posted, _ = in.Payload["message"].(string)
		return &node.Output{Values: map[string]any{
			"result":     map[string]any{"message_ts": "1718000000.000100"},
			"success":    true,
			"message_ts": "1718000000.000100",
		}}, nil
	}))

	e := newEnv(t, r, wf)
	exec, err := e.engine.Start(context.Background(), "wf-linear", engine.StartRequest{
		Mode:        execution.ModeManual,
		TriggeredBy: "user-1",
		Payload:     map[string]any{"topic": "workflow engines"},
	})
	require.NoError(t, err)

	require.Equal(t, execution.StatusSuccess, exec.Status)
	require.NotNil(t, exec.EndTime)
	require.Equal(t, "summary of Summarize workflow engines", posted)
	require.Len(t, exec.Sequence, 3)
	require.ElementsMatch(t, []string{"intake", "draft", "notify"}, nodeIDs(exec, exec.Sequence))

	// The agent saw the converted per-key delivery, not a wrapped payload.
	agent := exec.Latest("draft")
	require.Equal(t, "Summarize workflow engines", agent.InputSnapshot["message"])
	require.Equal(t, "intake", agent.InputSources["message"])
}

func TestIfBranchSkipsUntaken(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "wf-branch",
		Nodes: []workflow.Node{
			{ID: "start", Type: spec.TypeTrigger, Subtype: "MANUAL"},
			{ID: "gate", Type: spec.TypeFlow, Subtype: "IF",
				Configurations: map[string]any{"condition_expression": "score > 40"}},
			{ID: "approve", Type: spec.TypeAction, Subtype: "HTTP_REQUEST",
				Configurations: map[string]any{"url": "https://api.test/approve"}},
			{ID: "reject", Type: spec.TypeAction, Subtype: "HTTP_REQUEST",
				Configurations: map[string]any{"url": "https://api.test/reject"}},
		},
		Connections: []workflow.Connection{
			{ID: "e1", FromNode: "start", ToNode: "gate"},
			{ID: "e2", FromNode: "gate", ToNode: "approve", OutputKey: "true"},
			{ID: "e3", FromNode: "gate", ToNode: "reject", OutputKey: "false"},
		},
	}

	r := baseExecutors(nil)
	r.Register(spec.TypeAction, "HTTP_REQUEST", execFunc(func(_ context.Context, in *node.Input) (*node.Output, error) {
		return &node.Output{Values: map[string]any{"result": "ok"}}, nil
	}))

	e := newEnv(t, r, wf)
	exec, err := e.engine.Start(context.Background(), "wf-branch", engine.StartRequest{
		Payload: map[string]any{"score": 42},
	})
	require.NoError(t, err)

	require.Equal(t, execution.StatusSuccess, exec.Status)
	require.Len(t, exec.Sequence, 3)
	require.ElementsMatch(t, []string{"start", "gate", "approve"}, nodeIDs(exec, exec.Sequence))

	rejected := exec.Latest("reject")
	require.NotNil(t, rejected)
	require.Equal(t, execution.NodeSkipped, rejected.Status)
}

func reviewWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		ID: "wf-review",
		Nodes: []workflow.Node{
			{ID: "start", Type: spec.TypeTrigger, Subtype: "MANUAL"},
			{ID: "review", Type: spec.TypeHumanInTheLoop, Subtype: "MANUAL_REVIEW",
				Configurations: map[string]any{"title": "Ship it?", "timeout_minutes": 60}},
			{ID: "ship", Type: spec.TypeAction, Subtype: "HTTP_REQUEST",
				Configurations: map[string]any{"url": "https://api.test/ship"}},
			{ID: "expired", Type: spec.TypeAction, Subtype: "HTTP_REQUEST",
				Configurations: map[string]any{"url": "https://api.test/expired"}},
		},
		Connections: []workflow.Connection{
			{ID: "e1", FromNode: "start", ToNode: "review"},
			{ID: "e2", FromNode: "review", ToNode: "ship", OutputKey: "confirmed"},
			{ID: "e3", FromNode: "review", ToNode: "expired", OutputKey: "timeout"},
		},
	}
}

func TestResumeConfirmed(t *testing.T) {
	clock := timer.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	r := baseExecutors(clock)
	var shipped bool
	r.Register(spec.TypeAction, "HTTP_REQUEST", execFunc(func(_ context.Context, in *node.Input) (*node.Output, error) {
		shipped = true
		return &node.Output{Values: map[string]any{"result": "shipped"}}, nil
	}))

	e := newEnv(t, r, reviewWorkflow())
	e.clock = clock

	exec, err := e.engine.Start(context.Background(), "wf-review", engine.StartRequest{
		Payload: map[string]any{"change": "v2"},
	})
	require.NoError(t, err)
	require.Equal(t, execution.StatusWaiting, exec.Status)
	require.Equal(t, execution.NodeWaitingHuman, exec.Latest("review").Status)

	token := exec.ResumeTokens["review"]
	require.NotEmpty(t, token)

	approved := true
	resumed, err := e.engine.Resume(context.Background(), token, hil.Response{Approved: &approved})
	require.NoError(t, err)
	require.Equal(t, execution.StatusSuccess, resumed.Status)
	require.True(t, shipped)

	review := resumed.Latest("review")
	require.Equal(t, execution.NodeSuccess, review.Status)
	require.Contains(t, review.OutputSnapshot, "confirmed")
	require.Empty(t, resumed.ResumeTokens)

	// Tokens are single use: replaying the same delivery is stale.
	_, err = e.engine.Resume(context.Background(), token, hil.Response{Approved: &approved})
	require.Error(t, err)
	require.Equal(t, execution.KindResumeStale, execution.AsError(err).Kind)
}

func TestHILTimeoutRoutesTimeoutBranch(t *testing.T) {
	clock := timer.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	r := baseExecutors(clock)
	var hit []string
	r.Register(spec.TypeAction, "HTTP_REQUEST", execFunc(func(_ context.Context, in *node.Input) (*node.Output, error) {
		hit = append(hit, in.NodeID)
		return &node.Output{Values: map[string]any{"result": "ok"}}, nil
	}))

	wf := reviewWorkflow()
	e := newEnv(t, r, wf)
	e.clock = clock
	// Rebuild the engine on the shared fake clock so the deadline fires when
	// the test advances time.
	e.engine = engine.New(engine.Options{
		Store:     e.store,
		Locker:    lockmem.New(),
		Registry:  builtin.Registry(),
		Executors: r,
		Timers:    timer.NewService(clock),
	})

	exec, err := e.engine.Start(context.Background(), "wf-review", engine.StartRequest{
		Payload: map[string]any{"change": "v3"},
	})
	require.NoError(t, err)
	require.Equal(t, execution.StatusWaiting, exec.Status)
	token := exec.ResumeTokens["review"]

	clock.Advance(61 * time.Minute)

	stored, err := e.store.LoadExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, execution.StatusSuccess, stored.Status)
	require.Equal(t, []string{"expired"}, hit)
	require.Contains(t, stored.Latest("review").OutputSnapshot, "timeout")
	require.Equal(t, execution.NodeSkipped, stored.Latest("ship").Status)

	// The outstanding token was invalidated by the timeout.
	_, err = e.engine.Resume(context.Background(), token, hil.Response{Text: "yes"})
	require.Error(t, err)
	require.Equal(t, execution.KindResumeStale, execution.AsError(err).Kind)
}

func TestLoopFanOutIntoMerge(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "wf-loop",
		Nodes: []workflow.Node{
			{ID: "start", Type: spec.TypeTrigger, Subtype: "MANUAL"},
			{ID: "each", Type: spec.TypeFlow, Subtype: "LOOP"},
			{ID: "shout", Type: spec.TypeAction, Subtype: "HTTP_REQUEST",
				Configurations: map[string]any{"url": "https://api.test/shout"}},
			{ID: "collect", Type: spec.TypeFlow, Subtype: "MERGE"},
		},
		Connections: []workflow.Connection{
			{ID: "e1", FromNode: "start", ToNode: "each"},
			{ID: "e2", FromNode: "each", ToNode: "shout", OutputKey: "item"},
			{ID: "e3", FromNode: "shout", ToNode: "collect"},
		},
	}

	r := baseExecutors(nil)
	r.Register(spec.TypeAction, "HTTP_REQUEST", execFunc(func(_ context.Context, in *node.Input) (*node.Output, error) {
		wave, _ := in.Payload["input"].(map[string]any)
		item, _ := wave["item"].(string)
		return &node.Output{Values: map[string]any{"result": strings.ToUpper(item)}}, nil
	}))

	e := newEnv(t, r, wf)
	exec, err := e.engine.Start(context.Background(), "wf-loop", engine.StartRequest{
		Payload: map[string]any{"items": []any{"a", "b", "c"}},
	})
	require.NoError(t, err)

	require.Equal(t, execution.StatusSuccess, exec.Status)
	require.Len(t, attemptsFor(exec, "shout"), 3)
	require.Equal(t, []any{"A", "B", "C"}, exec.Latest("collect").OutputSnapshot["result"])
}

func TestRetriesTransientFailures(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "wf-retry",
		Nodes: []workflow.Node{
			{ID: "start", Type: spec.TypeTrigger, Subtype: "MANUAL"},
			{ID: "flaky", Type: spec.TypeAction, Subtype: "HTTP_REQUEST",
				Configurations: map[string]any{
					"url":                   "https://api.test/flaky",
					"retry_max_tries":       3,
					"retry_backoff_seconds": 0,
				}},
		},
		Connections: []workflow.Connection{
			{ID: "e1", FromNode: "start", ToNode: "flaky"},
		},
	}

	calls := 0
	r := baseExecutors(nil)
	r.Register(spec.TypeAction, "HTTP_REQUEST", execFunc(func(_ context.Context, in *node.Input) (*node.Output, error) {
		calls++
		if calls < 3 {
			return nil, execution.NewError(execution.KindNetwork, "connection reset")
		}
		return &node.Output{Values: map[string]any{"result": "ok"}}, nil
	}))

	e := newEnv(t, r, wf)
	exec, err := e.engine.Start(context.Background(), "wf-retry", engine.StartRequest{Payload: map[string]any{}})
	require.NoError(t, err)

	require.Equal(t, execution.StatusSuccess, exec.Status)
	attempts := attemptsFor(exec, "flaky")
	require.Len(t, attempts, 3)
	var errored, succeeded int
	for _, a := range attempts {
		switch a.Status {
		case execution.NodeError:
			errored++
			require.Equal(t, execution.KindNetwork, a.Error.Kind)
		case execution.NodeSuccess:
			succeeded++
		}
	}
	require.Equal(t, 2, errored)
	require.Equal(t, 1, succeeded)
}

func TestStopOnErrorFailsExecution(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "wf-fail",
		Nodes: []workflow.Node{
			{ID: "start", Type: spec.TypeTrigger, Subtype: "MANUAL"},
			{ID: "broken", Type: spec.TypeAction, Subtype: "HTTP_REQUEST",
				Configurations: map[string]any{"url": "https://api.test/broken"}},
			{ID: "after", Type: spec.TypeAction, Subtype: "HTTP_REQUEST",
				Configurations: map[string]any{"url": "https://api.test/after"}},
		},
		Connections: []workflow.Connection{
			{ID: "e1", FromNode: "start", ToNode: "broken"},
			{ID: "e2", FromNode: "broken", ToNode: "after"},
		},
	}

	r := baseExecutors(nil)
	r.Register(spec.TypeAction, "HTTP_REQUEST", execFunc(func(_ context.Context, in *node.Input) (*node.Output, error) {
		return nil, execution.NewError(execution.KindInvalidRequest, "bad payload")
	}))

	e := newEnv(t, r, wf)
	exec, err := e.engine.Start(context.Background(), "wf-fail", engine.StartRequest{Payload: map[string]any{}})
	require.NoError(t, err)

	require.Equal(t, execution.StatusError, exec.Status)
	require.NotNil(t, exec.Error)
	require.Equal(t, execution.KindInvalidRequest, exec.Error.Kind)
	require.Equal(t, "broken", exec.Error.Context["node_id"])
	require.Nil(t, exec.Latest("after"), "downstream never scheduled")
}

func TestContinueErrorOutputRoutesErrorEdge(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "wf-onerr",
		Settings: workflow.Settings{
			ErrorPolicy: workflow.ContinueErrorOutput,
		},
		Nodes: []workflow.Node{
			{ID: "start", Type: spec.TypeTrigger, Subtype: "MANUAL"},
			{ID: "broken", Type: spec.TypeAction, Subtype: "HTTP_REQUEST",
				Configurations: map[string]any{"url": "https://api.test/broken"}},
			{ID: "alert", Type: spec.TypeExternalAction, Subtype: "SLACK_POST_MESSAGE",
				Configurations: map[string]any{"channel": "#alerts"}},
		},
		Connections: []workflow.Connection{
			{ID: "e1", FromNode: "start", ToNode: "broken"},
			{ID: "e2", FromNode: "broken", ToNode: "alert", OutputKey: workflow.ErrorOutputKey},
		},
	}

	var alerted map[string]any
	r := baseExecutors(nil)
	r.Register(spec.TypeAction, "HTTP_REQUEST", execFunc(func(_ context.Context, in *node.Input) (*node.Output, error) {
		return nil, execution.NewError(execution.KindHTTP4xx, "404 from upstream")
	}))
	r.RegisterType(spec.TypeExternalAction, execFunc(func(_ context.Context, in *node.Input) (*node.Output, error) {
		alerted, _ = in.Payload["input"].(map[string]any)
		return &node.Output{Values: map[string]any{"result": "sent", "success": true}}, nil
	}))

	e := newEnv(t, r, wf)
	exec, err := e.engine.Start(context.Background(), "wf-onerr", engine.StartRequest{Payload: map[string]any{}})
	require.NoError(t, err)

	require.Equal(t, execution.StatusSuccess, exec.Status)
	require.Equal(t, execution.NodeError, exec.Latest("broken").Status)
	require.Equal(t, string(execution.KindHTTP4xx), alerted["kind"])
	require.Equal(t, "404 from upstream", alerted["message"])
}

func TestHILTimeoutSurvivesBusyLease(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "wf-busy",
		Nodes: []workflow.Node{
			{ID: "start", Type: spec.TypeTrigger, Subtype: "MANUAL"},
			{ID: "review", Type: spec.TypeHumanInTheLoop, Subtype: "MANUAL_REVIEW",
				Configurations: map[string]any{"title": "Ship it?", "timeout_minutes": 60}},
			{ID: "expired", Type: spec.TypeAction, Subtype: "HTTP_REQUEST",
				Configurations: map[string]any{"url": "https://api.test/expired"}},
			{ID: "side", Type: spec.TypeAction, Subtype: "HTTP_REQUEST",
				Configurations: map[string]any{"url": "https://api.test/side"}},
			{ID: "slow", Type: spec.TypeAction, Subtype: "HTTP_REQUEST",
				Configurations: map[string]any{"url": "https://api.test/slow"}},
		},
		Connections: []workflow.Connection{
			{ID: "e1", FromNode: "start", ToNode: "review"},
			{ID: "e2", FromNode: "review", ToNode: "expired", OutputKey: "timeout"},
			{ID: "e3", FromNode: "start", ToNode: "side"},
			{ID: "e4", FromNode: "side", ToNode: "slow"},
		},
	}

	clock := timer.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	r := baseExecutors(clock)
	started := make(chan struct{})
	release := make(chan struct{})
	var expiredRan bool
	r.Register(spec.TypeAction, "HTTP_REQUEST", execFunc(func(_ context.Context, in *node.Input) (*node.Output, error) {
		switch in.NodeID {
		case "slow":
			close(started)
			<-release
		case "expired":
			expiredRan = true
		}
		return &node.Output{Values: map[string]any{"result": "ok"}}, nil
	}))

	e := newEnv(t, r, wf)
	e.clock = clock
	e.engine = engine.New(engine.Options{
		Store:     e.store,
		Locker:    lockmem.New(),
		Registry:  builtin.Registry(),
		Executors: r,
		Timers:    timer.NewService(clock),
	})

	type outcome struct {
		exec *execution.Execution
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		exec, err := e.engine.Start(context.Background(), "wf-busy", engine.StartRequest{
			Payload: map[string]any{"change": "v5"},
		})
		done <- outcome{exec, err}
	}()

	// The sibling branch holds the lease while the HIL deadline fires; the
	// deadline must be held and re-delivered, not dropped.
	<-started
	clock.Advance(61 * time.Minute)
	close(release)

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, execution.StatusWaiting, res.exec.Status)
	require.False(t, expiredRan)

	clock.Advance(2 * time.Second)

	stored, err := e.store.LoadExecution(context.Background(), res.exec.ID)
	require.NoError(t, err)
	require.Equal(t, execution.StatusSuccess, stored.Status)
	require.True(t, expiredRan)
	require.Contains(t, stored.Latest("review").OutputSnapshot, "timeout")
}

type flakyClassifierClient struct{ calls int }

func (c *flakyClassifierClient) Call(_ context.Context, _ model.Request) (*model.Response, error) {
	c.calls++
	return nil, model.NewProviderError("openai", model.KindNetwork, 0, "connection reset", nil)
}

func TestResumeRetriesAfterClassifierFailure(t *testing.T) {
	clock := timer.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	r := baseExecutors(clock)
	r.Register(spec.TypeAction, "HTTP_REQUEST", execFunc(func(_ context.Context, in *node.Input) (*node.Output, error) {
		return &node.Output{Values: map[string]any{"result": "ok"}}, nil
	}))

	analysis := &flakyClassifierClient{}
	e := newEnv(t, r, reviewWorkflow())
	e.clock = clock
	e.engine = engine.New(engine.Options{
		Store:          e.store,
		Locker:         lockmem.New(),
		Registry:       builtin.Registry(),
		Executors:      r,
		Timers:         timer.NewService(clock),
		AnalysisClient: analysis,
	})

	exec, err := e.engine.Start(context.Background(), "wf-review", engine.StartRequest{
		Payload: map[string]any{"change": "v6"},
	})
	require.NoError(t, err)
	require.Equal(t, execution.StatusWaiting, exec.Status)
	token := exec.ResumeTokens["review"]

	// A transient classifier failure must not burn the single-use token.
	_, err = e.engine.Resume(context.Background(), token, hil.Response{Text: "let me check with finance first"})
	require.Error(t, err)
	require.Equal(t, 1, analysis.calls)

	approved := true
	resumed, err := e.engine.Resume(context.Background(), token, hil.Response{Approved: &approved})
	require.NoError(t, err)
	require.Equal(t, execution.StatusSuccess, resumed.Status)
	require.Contains(t, resumed.Latest("review").OutputSnapshot, "confirmed")
}

func TestParallelRetriesKeepAttemptNumbers(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "wf-parallel",
		Nodes: []workflow.Node{
			{ID: "start", Type: spec.TypeTrigger, Subtype: "MANUAL"},
		},
	}
	for _, id := range []string{"n1", "n2", "n3", "n4"} {
		wf.Nodes = append(wf.Nodes, workflow.Node{
			ID: id, Type: spec.TypeAction, Subtype: "HTTP_REQUEST",
			Configurations: map[string]any{
				"url":                   "https://api.test/" + id,
				"retry_max_tries":       2,
				"retry_backoff_seconds": 0,
			},
		})
		wf.Connections = append(wf.Connections, workflow.Connection{
			ID: "e-" + id, FromNode: "start", ToNode: id,
		})
	}

	var mu sync.Mutex
	calls := make(map[string]int)
	r := baseExecutors(nil)
	r.Register(spec.TypeAction, "HTTP_REQUEST", execFunc(func(_ context.Context, in *node.Input) (*node.Output, error) {
		mu.Lock()
		calls[in.NodeID]++
		n := calls[in.NodeID]
		mu.Unlock()
		if n == 1 {
			return nil, execution.NewError(execution.KindNetwork, "connection reset")
		}
		return &node.Output{Values: map[string]any{"result": in.NodeID}}, nil
	}))

	e := newEnv(t, r, wf)
	exec, err := e.engine.Start(context.Background(), "wf-parallel", engine.StartRequest{Payload: map[string]any{}})
	require.NoError(t, err)

	require.Equal(t, execution.StatusSuccess, exec.Status)
	for _, id := range []string{"n1", "n2", "n3", "n4"} {
		attempts := attemptsFor(exec, id)
		require.Len(t, attempts, 2, "node %s", id)
		numbers := []int{attempts[0].Attempt, attempts[1].Attempt}
		require.ElementsMatch(t, []int{1, 2}, numbers, "node %s", id)
		require.Equal(t, execution.NodeSuccess, exec.Latest(id).Status, "node %s", id)
	}
}

func TestCancelWaitingExecution(t *testing.T) {
	clock := timer.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	r := baseExecutors(clock)
	r.Register(spec.TypeAction, "HTTP_REQUEST", execFunc(func(_ context.Context, in *node.Input) (*node.Output, error) {
		return &node.Output{Values: map[string]any{"result": "ok"}}, nil
	}))

	e := newEnv(t, r, reviewWorkflow())
	exec, err := e.engine.Start(context.Background(), "wf-review", engine.StartRequest{
		Payload: map[string]any{"change": "v4"},
	})
	require.NoError(t, err)
	require.Equal(t, execution.StatusWaiting, exec.Status)
	token := exec.ResumeTokens["review"]

	canceled, err := e.engine.Cancel(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, execution.StatusCanceled, canceled.Status)
	require.Equal(t, execution.NodeCanceled, canceled.Latest("review").Status)
	require.Empty(t, canceled.ResumeTokens)

	// Cancel is idempotent.
	again, err := e.engine.Cancel(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, execution.StatusCanceled, again.Status)

	// Resuming a canceled execution is stale.
	yes := true
	_, err = e.engine.Resume(context.Background(), token, hil.Response{Approved: &yes})
	require.Error(t, err)
	require.Equal(t, execution.KindResumeStale, execution.AsError(err).Kind)
}
