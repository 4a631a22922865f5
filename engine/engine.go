// Package engine schedules workflow executions. The scheduler walks the
// execution graph frontier by frontier: nodes whose inputs are satisfied run
// concurrently on a bounded worker pool, their outputs are routed along
// matching edges, and the loop repeats until the graph completes, fails, or
// parks on a human-in-the-loop node. Every execution is driven under a
// distributed lease so exactly one engine instance owns it at a time.
//
// # Lifecycle
//
// NEW -> RUNNING -> {SUCCESS, ERROR, CANCELED} with WAITING in between
// whenever the frontier drains while a node is parked on a human response or
// a timed wait. Resume deliveries and timer callbacks re-enter the loop
// under a fresh lease.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
	"goa.design/flow/convert"
	"goa.design/flow/execution"
	"goa.design/flow/hil"
	"goa.design/flow/lock"
	"goa.design/flow/model"
	"goa.design/flow/node"
	"goa.design/flow/spec"
	"goa.design/flow/store"
	"goa.design/flow/timer"
	"goa.design/flow/workflow"
	"goa.design/flow/workflow/graph"
)

const (
	// DefaultMaxWorkers bounds concurrent node dispatch per execution.
	DefaultMaxWorkers = 8
	// DefaultLeaseTTL is the execution lease duration; the scheduler renews
	// it between ticks.
	DefaultLeaseTTL = 30 * time.Second

	resumeLeaseRetries = 3
	resumeLeaseBackoff = 50 * time.Millisecond

	// deadlineRetryInterval spaces out re-delivery of a deadline callback
	// that found the execution lease held.
	deadlineRetryInterval = time.Second
)

type (
	// Options configures an Engine.
	Options struct {
		Store    store.Store
		Locker   lock.Locker
		Registry *spec.Registry
		// Executors dispatches node attempts.
		Executors *node.Registry
		// Converter runs edge conversion functions. Nil uses the default
		// budget.
		Converter *convert.Runtime
		// Timers drives HIL timeouts and WAIT/DELAY deadlines. Nil uses the
		// wall clock.
		Timers *timer.Service
		// AnalysisClient classifies free-form HIL replies. Nil restricts
		// classification to structured replies and keywords.
		AnalysisClient model.Client
		// Secrets resolves provider credentials for executors.
		Secrets node.SecretSource
		// MaxWorkers bounds concurrent node dispatch; non positive means
		// DefaultMaxWorkers.
		MaxWorkers int
		// LeaseTTL overrides the execution lease duration.
		LeaseTTL time.Duration
	}

	// StartRequest describes how an execution is triggered.
	StartRequest struct {
		Mode        execution.Mode
		TriggeredBy string
		// Payload is the trigger data delivered to the trigger node.
		Payload map[string]any
	}

	// Engine schedules executions.
	Engine struct {
		store      store.Store
		locker     lock.Locker
		registry   *spec.Registry
		executors  *node.Registry
		converter  *convert.Runtime
		timers     *timer.Service
		analysis   model.Client
		secrets    node.SecretSource
		maxWorkers int
		leaseTTL   time.Duration
		tracer     trace.Tracer
	}
)

// New constructs an Engine.
func New(opts Options) *Engine {
	if opts.Store == nil || opts.Locker == nil || opts.Registry == nil || opts.Executors == nil {
		panic("engine: Store, Locker, Registry and Executors are required")
	}
	converter := opts.Converter
	if converter == nil {
		converter = convert.New(0)
	}
	timers := opts.Timers
	if timers == nil {
		timers = timer.NewService(nil)
	}
	secrets := opts.Secrets
	if secrets == nil {
		secrets = node.StaticSecrets{}
	}
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	leaseTTL := opts.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	return &Engine{
		store:      opts.Store,
		locker:     opts.Locker,
		registry:   opts.Registry,
		executors:  opts.Executors,
		converter:  converter,
		timers:     timers,
		analysis:   opts.AnalysisClient,
		secrets:    secrets,
		maxWorkers: maxWorkers,
		leaseTTL:   leaseTTL,
		tracer:     otel.Tracer("goa.design/flow/engine"),
	}
}

// Start creates and drives a new execution of the stored workflow. It
// returns when the execution reaches a terminal status or parks WAITING.
func (e *Engine) Start(ctx context.Context, workflowID string, req StartRequest) (*execution.Execution, error) {
	wf, err := e.store.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %q: %w", workflowID, err)
	}
	g, err := graph.Build(wf, e.registry)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}

	mode := req.Mode
	if mode == "" {
		mode = execution.ModeManual
	}
	now := e.timers.Clock().Now()
	exec := &execution.Execution{
		ID:             uuid.NewString(),
		WorkflowID:     wf.ID,
		Status:         execution.StatusNew,
		Mode:           mode,
		TriggeredBy:    req.TriggeredBy,
		StartTime:      &now,
		NodeExecutions: make(map[string]*execution.NodeExecution),
		PendingInputs:  make(map[string]map[string]any),
		ResumeTokens:   make(map[string]string),
		SettingsSnapshot: map[string]any{
			"timeout_seconds":         wf.Settings.TimeoutSeconds,
			"timezone":                wf.Settings.Timezone,
			"error_policy":            string(wf.Settings.ErrorPolicy.OrDefault()),
			"save_execution_progress": wf.Settings.SaveExecutionProgress,
		},
	}
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("save execution: %w", err)
	}

	lease, err := e.locker.Acquire(ctx, exec.ID, e.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	defer func() { _ = lease.Release(ctx) }()

	ctx, span := e.tracer.Start(ctx, "engine.start", trace.WithAttributes(
		attribute.String("workflow.id", wf.ID),
		attribute.String("execution.id", exec.ID),
	))
	defer span.End()
	log.Printf(ctx, "execution %s: starting workflow %s", exec.ID, wf.ID)

	if secs := wf.Settings.TimeoutSeconds; secs > 0 {
		execID := exec.ID
		e.timers.Schedule(workflowTimerID(execID), now.Add(time.Duration(secs)*time.Second), func() {
			e.workflowTimeoutExpired(execID)
		})
	}

	r := e.newRun(wf, g, exec, lease)
	r.seed(ctx, req)
	r.loop(ctx)
	if exec.Status.Terminal() {
		e.timers.Cancel(workflowTimerID(exec.ID))
	}
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		return exec, fmt.Errorf("persist execution: %w", err)
	}
	return exec, nil
}

// workflowTimeoutExpired fires when a workflow-level deadline elapses while
// the execution is still live. It behaves like Cancel with a
// TIMEOUT_WORKFLOW reason.
func (e *Engine) workflowTimeoutExpired(executionID string) {
	ctx := context.Background()
	lease, err := e.acquireWithRetry(ctx, executionID)
	if err != nil {
		e.holdDeadline(ctx, workflowTimerID(executionID), "workflow timeout for "+executionID, func() {
			e.workflowTimeoutExpired(executionID)
		})
		return
	}
	defer func() { _ = lease.Release(ctx) }()

	exec, err := e.store.LoadExecution(ctx, executionID)
	if err != nil {
		log.Errorf(ctx, err, "workflow timeout: load execution %s", executionID)
		return
	}
	if exec.Status.Terminal() {
		return
	}
	now := e.timers.Clock().Now()
	for _, ne := range exec.NodeExecutions {
		if ne.Status == execution.NodeRunning || ne.Status == execution.NodeWaitingHuman {
			ne.Status = execution.NodeCanceled
			ended := now
			ne.EndedAt = &ended
			e.timers.Cancel(timerID(exec.ID, ne.NodeID))
		}
	}
	exec.Status = execution.StatusCanceled
	exec.EndTime = &now
	exec.Error = execution.NewError(execution.KindTimeoutWorkflow, "workflow timeout exceeded")
	exec.ResumeTokens = map[string]string{}
	log.Printf(ctx, "execution %s: canceled on workflow timeout", executionID)
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		log.Errorf(ctx, err, "workflow timeout: persist execution %s", executionID)
	}
}

// Resume delivers a human response to a paused execution. The token is
// consumed atomically; replays and expired tokens fail with RESUME_STALE,
// and a lease held elsewhere fails with RESUME_BUSY after restoring the
// token so the caller can retry.
func (e *Engine) Resume(ctx context.Context, token string, resp hil.Response) (*execution.Execution, error) {
	tok, err := e.store.ConsumeResumeToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return nil, execution.NewError(execution.KindResumeStale, "resume token unknown, expired or already used")
		}
		return nil, fmt.Errorf("consume token: %w", err)
	}
	if e.timers.Clock().Now().After(tok.ExpiresAt) {
		return nil, execution.NewError(execution.KindResumeStale, "resume token expired")
	}

	lease, err := e.acquireWithRetry(ctx, tok.ExecutionID)
	if err != nil {
		// Put the token back so the deliverer can retry once the holder
		// releases the lease.
		if serr := e.store.StoreResumeToken(ctx, tok); serr != nil {
			log.Errorf(ctx, serr, "restore resume token for %s", tok.ExecutionID)
		}
		return nil, execution.NewError(execution.KindResumeBusy, "execution %s is busy", tok.ExecutionID)
	}
	defer func() { _ = lease.Release(ctx) }()

	exec, err := e.store.LoadExecution(ctx, tok.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %q: %w", tok.ExecutionID, err)
	}
	if exec.Status.Terminal() {
		return exec, execution.NewError(execution.KindResumeStale, "execution %s already ended", exec.ID)
	}
	if exec.ResumeTokens[tok.NodeID] != tok.Token {
		return exec, execution.NewError(execution.KindResumeStale, "token does not match the paused node")
	}
	attempt := exec.Latest(tok.NodeID)
	if attempt == nil || attempt.Status != execution.NodeWaitingHuman {
		return exec, execution.NewError(execution.KindResumeStale, "node %s is not waiting", tok.NodeID)
	}

	wf, g, err := e.reload(ctx, exec.WorkflowID)
	if err != nil {
		return exec, err
	}
	ctx, span := e.tracer.Start(ctx, "engine.resume", trace.WithAttributes(
		attribute.String("execution.id", exec.ID),
		attribute.String("node.id", tok.NodeID),
	))
	defer span.End()

	prompt, _ := tok.Correlation["prompt"].(string)
	class, err := e.classifier(g, tok.NodeID).Classify(ctx, prompt, resp)
	if err != nil {
		// The reply must stay deliverable: put the token back so the caller
		// can retry after a transient classifier failure.
		if serr := e.store.StoreResumeToken(ctx, tok); serr != nil {
			log.Errorf(ctx, serr, "restore resume token for %s", tok.ExecutionID)
		}
		return exec, fmt.Errorf("classify response: %w", err)
	}
	log.Printf(ctx, "execution %s: node %s resumed as %s", exec.ID, tok.NodeID, class)

	r := e.newRun(wf, g, exec, lease)
	r.restore()
	r.completeWaiting(ctx, attempt, class, resp)
	r.loop(ctx)
	if exec.Status.Terminal() {
		e.timers.Cancel(workflowTimerID(exec.ID))
	}
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		return exec, fmt.Errorf("persist execution: %w", err)
	}
	return exec, nil
}

// Cancel stops a running or waiting execution. Terminal executions are left
// untouched.
func (e *Engine) Cancel(ctx context.Context, executionID string) (*execution.Execution, error) {
	lease, err := e.acquireWithRetry(ctx, executionID)
	if err != nil {
		return nil, execution.NewError(execution.KindResumeBusy, "execution %s is busy", executionID)
	}
	defer func() { _ = lease.Release(ctx) }()

	exec, err := e.store.LoadExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %q: %w", executionID, err)
	}
	if exec.Status.Terminal() {
		return exec, nil
	}
	now := e.timers.Clock().Now()
	for _, ne := range exec.NodeExecutions {
		if ne.Status == execution.NodeRunning || ne.Status == execution.NodeWaitingHuman {
			ne.Status = execution.NodeCanceled
			ended := now
			ne.EndedAt = &ended
			e.timers.Cancel(timerID(exec.ID, ne.NodeID))
		}
	}
	exec.Status = execution.StatusCanceled
	exec.EndTime = &now
	exec.ResumeTokens = map[string]string{}
	e.timers.Cancel(workflowTimerID(exec.ID))
	log.Printf(ctx, "execution %s: canceled", exec.ID)
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		return exec, fmt.Errorf("persist execution: %w", err)
	}
	return exec, nil
}

func (e *Engine) acquireWithRetry(ctx context.Context, executionID string) (lock.Lease, error) {
	var last error
	for i := 0; i < resumeLeaseRetries; i++ {
		lease, err := e.locker.Acquire(ctx, executionID, e.leaseTTL)
		if err == nil {
			return lease, nil
		}
		last = err
		if !errors.Is(err, lock.ErrHeld) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(resumeLeaseBackoff):
		}
	}
	return nil, last
}

func (e *Engine) reload(ctx context.Context, workflowID string) (*workflow.Workflow, *graph.Graph, error) {
	wf, err := e.store.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("load workflow %q: %w", workflowID, err)
	}
	g, err := graph.Build(wf, e.registry)
	if err != nil {
		return nil, nil, fmt.Errorf("build graph: %w", err)
	}
	return wf, g, nil
}

// classifier builds the response classifier for a HIL node using its
// configured analysis model.
func (e *Engine) classifier(g *graph.Graph, nodeID string) *hil.Classifier {
	modelID := "gpt-4o-mini"
	if n, ok := g.Node(nodeID); ok {
		if m, ok := n.Configurations["ai_analysis_model"].(string); ok && m != "" {
			modelID = m
		}
	}
	return hil.NewClassifier(e.analysis, modelID)
}

// timeoutExpired handles a HIL deadline firing for a still-waiting node. It
// re-enters the execution under a fresh lease; a lease held elsewhere means
// a resume is racing the timeout, in which case the resume wins.
func (e *Engine) timeoutExpired(executionID, nodeID string) {
	ctx := context.Background()
	lease, err := e.acquireWithRetry(ctx, executionID)
	if err != nil {
		e.holdDeadline(ctx, timerID(executionID, nodeID), "hil timeout for "+executionID+"/"+nodeID, func() {
			e.timeoutExpired(executionID, nodeID)
		})
		return
	}
	defer func() { _ = lease.Release(ctx) }()

	exec, err := e.store.LoadExecution(ctx, executionID)
	if err != nil {
		log.Errorf(ctx, err, "hil timeout: load execution %s", executionID)
		return
	}
	if exec.Status.Terminal() {
		return
	}
	attempt := exec.Latest(nodeID)
	if attempt == nil || attempt.Status != execution.NodeWaitingHuman {
		return
	}
	wf, g, err := e.reload(ctx, exec.WorkflowID)
	if err != nil {
		log.Errorf(ctx, err, "hil timeout: reload workflow for %s", executionID)
		return
	}
	// Invalidate the outstanding token; a later resume must be stale.
	if tokID := exec.ResumeTokens[nodeID]; tokID != "" {
		_, _ = e.store.ConsumeResumeToken(ctx, tokID)
	}
	log.Printf(ctx, "execution %s: node %s timed out waiting for a response", executionID, nodeID)

	r := e.newRun(wf, g, exec, lease)
	r.restore()
	r.completeWaiting(ctx, attempt, hil.ClassTimeout, hil.Response{})
	r.loop(ctx)
	if exec.Status.Terminal() {
		e.timers.Cancel(workflowTimerID(exec.ID))
	}
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		log.Errorf(ctx, err, "hil timeout: persist execution %s", executionID)
	}
}

// delayExpired finalizes a WAIT or DELAY node whose deadline fired and
// continues the execution.
func (e *Engine) delayExpired(executionID, nodeID, attemptID string, values map[string]any) {
	ctx := context.Background()
	lease, err := e.acquireWithRetry(ctx, executionID)
	if err != nil {
		e.holdDeadline(ctx, timerID(executionID, nodeID), "delay deadline for "+executionID+"/"+nodeID, func() {
			e.delayExpired(executionID, nodeID, attemptID, values)
		})
		return
	}
	defer func() { _ = lease.Release(ctx) }()

	exec, err := e.store.LoadExecution(ctx, executionID)
	if err != nil {
		log.Errorf(ctx, err, "delay deadline: load execution %s", executionID)
		return
	}
	if exec.Status.Terminal() {
		return
	}
	attempt := exec.NodeExecutions[attemptID]
	if attempt == nil || attempt.Status != execution.NodeRunning {
		return
	}
	wf, g, err := e.reload(ctx, exec.WorkflowID)
	if err != nil {
		log.Errorf(ctx, err, "delay deadline: reload workflow for %s", executionID)
		return
	}
	r := e.newRun(wf, g, exec, lease)
	r.restore()
	r.completeDelay(ctx, attempt, values)
	r.loop(ctx)
	if exec.Status.Terminal() {
		e.timers.Cancel(workflowTimerID(exec.ID))
	}
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		log.Errorf(ctx, err, "delay deadline: persist execution %s", executionID)
	}
}

// holdDeadline reschedules a deadline callback that lost the lease race. The
// holder may be a sibling branch that never observes this deadline, so
// dropping the callback would strand the execution.
func (e *Engine) holdDeadline(ctx context.Context, id, what string, fn func()) {
	log.Warnf(ctx, "%s: lease busy, deadline held", what)
	e.timers.Schedule(id, e.timers.Clock().Now().Add(deadlineRetryInterval), fn)
}

func timerID(executionID, nodeID string) string {
	return executionID + "/" + nodeID
}

func workflowTimerID(executionID string) string {
	return executionID + "/workflow"
}
