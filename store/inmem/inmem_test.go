package inmem

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/flow/execution"
	"goa.design/flow/store"
	"goa.design/flow/workflow"
)

func TestExecutionRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exec := &execution.Execution{
		ID: "e1", WorkflowID: "wf1", Status: execution.StatusRunning,
		Mode: execution.ModeManual, StartTime: &start,
		NodeExecutions: map[string]*execution.NodeExecution{
			"a-1": {AttemptID: "a-1", NodeID: "a", Attempt: 1, Status: execution.NodeSuccess,
				OutputSnapshot: map[string]any{"result": "ok"}},
		},
		Sequence: []string{"a-1"},
	}
	require.NoError(t, s.SaveExecution(ctx, exec))
	loaded, err := s.LoadExecution(ctx, "e1")
	require.NoError(t, err)

	// Persist-then-load is byte-equal on the observable fields.
	want, err := json.Marshal(exec)
	require.NoError(t, err)
	got, err := json.Marshal(loaded)
	require.NoError(t, err)
	require.JSONEq(t, string(want), string(got))
}

func TestLoadMissing(t *testing.T) {
	s := New()
	_, err := s.LoadExecution(context.Background(), "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.LoadWorkflow(context.Background(), "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDefensiveCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	wf := &workflow.Workflow{ID: "wf1", Nodes: []workflow.Node{{ID: "n1"}}}
	require.NoError(t, s.SaveWorkflow(ctx, wf))
	wf.Nodes[0].ID = "mutated"
	loaded, err := s.LoadWorkflow(ctx, "wf1")
	require.NoError(t, err)
	require.Equal(t, "n1", loaded.Nodes[0].ID)
}

func TestSaveNodeExecutionUpsert(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SaveExecution(ctx, &execution.Execution{ID: "e1"}))
	ne := &execution.NodeExecution{AttemptID: "n-1", NodeID: "n", Attempt: 1, Status: execution.NodeRunning}
	require.NoError(t, s.SaveNodeExecution(ctx, "e1", ne))
	ne.Status = execution.NodeSuccess
	require.NoError(t, s.SaveNodeExecution(ctx, "e1", ne))
	loaded, err := s.LoadExecution(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, execution.NodeSuccess, loaded.NodeExecutions["n-1"].Status)

	require.ErrorIs(t, s.SaveNodeExecution(ctx, "ghost", ne), store.ErrNotFound)
}

func TestListExecutionsFilterAndPage(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, st := range []execution.Status{execution.StatusSuccess, execution.StatusError, execution.StatusSuccess} {
		ts := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.SaveExecution(ctx, &execution.Execution{
			ID: string(rune('a' + i)), WorkflowID: "wf1", Status: st, StartTime: &ts,
		}))
	}
	require.NoError(t, s.SaveExecution(ctx, &execution.Execution{ID: "other", WorkflowID: "wf2"}))

	got, err := s.ListExecutions(ctx, store.Filter{WorkflowID: "wf1", Status: execution.StatusSuccess}, store.Page{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c", got[0].ID, "newest first")

	got, err = s.ListExecutions(ctx, store.Filter{WorkflowID: "wf1"}, store.Page{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "b", got[0].ID)
}

func TestConsumeResumeTokenSingleUse(t *testing.T) {
	s := New()
	ctx := context.Background()
	tok := &execution.ResumeToken{
		Token: "tok-1", ExecutionID: "e1", NodeID: "hil",
		Channel:   execution.ChannelSlack,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.StoreResumeToken(ctx, tok))

	got, err := s.ConsumeResumeToken(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, "e1", got.ExecutionID)

	_, err = s.ConsumeResumeToken(ctx, "tok-1")
	require.ErrorIs(t, err, store.ErrTokenNotFound)
}

func TestConsumeExpiredToken(t *testing.T) {
	s := New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()
	require.NoError(t, s.StoreResumeToken(ctx, &execution.ResumeToken{
		Token: "tok-1", ExpiresAt: now.Add(-time.Minute),
	}))
	_, err := s.ConsumeResumeToken(ctx, "tok-1")
	require.ErrorIs(t, err, store.ErrTokenNotFound)
}
