package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/flow/api"
	"goa.design/flow/condition"
	"goa.design/flow/convert"
	"goa.design/flow/engine"
	"goa.design/flow/execution"
	lockmem "goa.design/flow/lock/inmem"
	"goa.design/flow/node"
	"goa.design/flow/spec"
	"goa.design/flow/spec/builtin"
	storemem "goa.design/flow/store/inmem"
	"goa.design/flow/workflow"
)

type okExec struct{}

func (okExec) Execute(_ context.Context, in *node.Input) (*node.Output, error) {
	return &node.Output{Values: map[string]any{"result": "ok"}}, nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry := builtin.Registry()
	st := storemem.New()

	executors := node.NewRegistry()
	executors.RegisterType(spec.TypeTrigger, node.Trigger{})
	executors.RegisterType(spec.TypeFlow, node.NewFlow(nil))
	executors.RegisterType(spec.TypeHumanInTheLoop, node.NewHIL())
	executors.Register(spec.TypeAction, "HTTP_REQUEST", okExec{})

	eng := engine.New(engine.Options{
		Store:     st,
		Locker:    lockmem.New(),
		Registry:  registry,
		Executors: executors,
	})
	validator := workflow.NewValidator(registry, condition.New(), convert.New(0))
	srv := httptest.NewServer(api.New(registry, validator, st, eng).Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func simpleWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		ID: "wf-api",
		Nodes: []workflow.Node{
			{ID: "start", Type: spec.TypeTrigger, Subtype: "MANUAL"},
			{ID: "act", Type: spec.TypeAction, Subtype: "HTTP_REQUEST",
				Configurations: map[string]any{"url": "https://api.test/x"}},
		},
		Connections: []workflow.Connection{
			{ID: "e1", FromNode: "start", ToNode: "act"},
		},
	}
}

func TestListNodeTypes(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/node-types")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	index := decode[map[string][]string](t, resp)
	require.Contains(t, index["TRIGGER"], "MANUAL")
	require.Contains(t, index["FLOW"], "IF")
	require.Contains(t, index["AI_AGENT"], "OPENAI")

	resp, err = http.Get(srv.URL + "/node-types/catalog")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]map[string]any](t, resp)
	require.NotEmpty(t, list)
	seen := map[string]bool{}
	for _, entry := range list {
		seen[entry["type"].(string)+"/"+entry["subtype"].(string)] = true
	}
	require.True(t, seen["EXTERNAL_ACTION/SLACK_POST_MESSAGE"])
	require.True(t, seen["HUMAN_IN_THE_LOOP/MANUAL_REVIEW"])
}

func TestNodeSpecDetail(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Get(srv.URL + "/node-types/FLOW/IF/spec")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	detail := decode[map[string]any](t, resp)
	cfg := detail["configurations"].(map[string]any)
	cond := cfg["condition_expression"].(map[string]any)
	require.Equal(t, true, cond["required"])

	resp, err = http.Get(srv.URL + "/node-types/FLOW/NOPE/spec")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateWorkflowValidates(t *testing.T) {
	srv := newServer(t)

	resp := postJSON(t, srv.URL+"/workflows", simpleWorkflow())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// A workflow without a trigger is rejected with the findings.
	broken := simpleWorkflow()
	broken.Nodes = broken.Nodes[1:]
	broken.Connections = nil
	resp = postJSON(t, srv.URL+"/workflows", broken)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	res := decode[workflow.Result](t, resp)
	require.NotEmpty(t, res.Errors)
}

func TestStartListAndGetExecution(t *testing.T) {
	srv := newServer(t)
	resp := postJSON(t, srv.URL+"/workflows", simpleWorkflow())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/executions", map[string]any{
		"workflow_id": "wf-api",
		"payload":     map[string]any{"k": "v"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	exec := decode[execution.Execution](t, resp)
	require.Equal(t, execution.StatusSuccess, exec.Status)

	resp, err := http.Get(srv.URL + "/executions/" + exec.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[execution.Execution](t, resp)
	require.Equal(t, exec.ID, got.ID)

	resp, err = http.Get(srv.URL + "/executions?workflow_id=wf-api")
	require.NoError(t, err)
	list := decode[[]execution.Execution](t, resp)
	require.Len(t, list, 1)

	// Unknown workflow id is a 404, not an internal error.
	resp = postJSON(t, srv.URL+"/executions", map[string]any{"workflow_id": "missing"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestResumeRoundTrip(t *testing.T) {
	srv := newServer(t)
	wf := &workflow.Workflow{
		ID: "wf-hil",
		Nodes: []workflow.Node{
			{ID: "start", Type: spec.TypeTrigger, Subtype: "MANUAL"},
			{ID: "review", Type: spec.TypeHumanInTheLoop, Subtype: "MANUAL_REVIEW",
				Configurations: map[string]any{"title": "Approve?"}},
			{ID: "act", Type: spec.TypeAction, Subtype: "HTTP_REQUEST",
				Configurations: map[string]any{"url": "https://api.test/x"}},
		},
		Connections: []workflow.Connection{
			{ID: "e1", FromNode: "start", ToNode: "review"},
			{ID: "e2", FromNode: "review", ToNode: "act", OutputKey: "confirmed"},
		},
	}
	resp := postJSON(t, srv.URL+"/workflows", wf)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/executions", map[string]any{"workflow_id": "wf-hil"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	exec := decode[execution.Execution](t, resp)
	require.Equal(t, execution.StatusWaiting, exec.Status)
	token := exec.ResumeTokens["review"]
	require.NotEmpty(t, token)

	resp = postJSON(t, srv.URL+"/resume", map[string]any{"token": token, "approved": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resumed := decode[execution.Execution](t, resp)
	require.Equal(t, execution.StatusSuccess, resumed.Status)

	// Replaying the consumed token is gone.
	resp = postJSON(t, srv.URL+"/resume", map[string]any{"token": token, "approved": true})
	require.Equal(t, http.StatusGone, resp.StatusCode)
	resp.Body.Close()
}

func TestCancelExecution(t *testing.T) {
	srv := newServer(t)
	wf := &workflow.Workflow{
		ID: "wf-cancel",
		Nodes: []workflow.Node{
			{ID: "start", Type: spec.TypeTrigger, Subtype: "MANUAL"},
			{ID: "review", Type: spec.TypeHumanInTheLoop, Subtype: "MANUAL_REVIEW",
				Configurations: map[string]any{"title": "Hold"}},
		},
		Connections: []workflow.Connection{
			{ID: "e1", FromNode: "start", ToNode: "review"},
		},
	}
	resp := postJSON(t, srv.URL+"/workflows", wf)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/executions", map[string]any{"workflow_id": "wf-cancel"})
	exec := decode[execution.Execution](t, resp)
	require.Equal(t, execution.StatusWaiting, exec.Status)

	resp = postJSON(t, srv.URL+"/executions/"+exec.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	canceled := decode[execution.Execution](t, resp)
	require.Equal(t, execution.StatusCanceled, canceled.Status)
}
