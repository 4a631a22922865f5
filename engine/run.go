package engine

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"
	"goa.design/flow/execution"
	"goa.design/flow/hil"
	"goa.design/flow/lock"
	"goa.design/flow/node"
	"goa.design/flow/spec"
	"goa.design/flow/workflow"
	"goa.design/flow/workflow/graph"
)

// run is the in-memory scheduler state for one execution. It is rebuilt from
// the persisted record on every re-entry (resume, timeout, delay) so the
// engine itself stays stateless across pauses.
type run struct {
	e     *Engine
	wf    *workflow.Workflow
	g     *graph.Graph
	exec  *execution.Execution
	lease lock.Lease

	policy       workflow.ErrorPolicy
	saveProgress bool
	deadline     *time.Time

	// mu guards the execution record maps and the source attributions while
	// dispatch workers run concurrently.
	mu sync.Mutex

	// delivered tracks which upstream node delivered into each node.
	delivered map[string]map[string]bool
	// sources attributes each pending input key to its writer.
	sources map[string]map[string]string

	done    map[string]bool
	failed  map[string]bool
	dead    map[string]bool
	waiting map[string]bool

	fatal *execution.Error
}

// result is the outcome of one dispatched node.
type result struct {
	nodeID   string
	attempt  *execution.NodeExecution
	out      *node.Output
	err      *execution.Error
	canceled bool
}

func (e *Engine) newRun(wf *workflow.Workflow, g *graph.Graph, exec *execution.Execution, lease lock.Lease) *run {
	r := &run{
		e:         e,
		wf:        wf,
		g:         g,
		exec:      exec,
		lease:     lease,
		policy:    wf.Settings.ErrorPolicy.OrDefault(),
		delivered: make(map[string]map[string]bool),
		sources:   make(map[string]map[string]string),
		done:      make(map[string]bool),
		failed:    make(map[string]bool),
		dead:      make(map[string]bool),
		waiting:   make(map[string]bool),
	}
	if snap := exec.SettingsSnapshot; snap != nil {
		if p, ok := snap["error_policy"].(string); ok && p != "" {
			r.policy = workflow.ErrorPolicy(p)
		}
		if v, ok := snap["save_execution_progress"].(bool); ok {
			r.saveProgress = v
		}
		if secs := asInt(snap["timeout_seconds"]); secs > 0 && exec.StartTime != nil {
			d := exec.StartTime.Add(time.Duration(secs) * time.Second)
			r.deadline = &d
		}
	}
	if exec.PendingInputs == nil {
		exec.PendingInputs = make(map[string]map[string]any)
	}
	if exec.ResumeTokens == nil {
		exec.ResumeTokens = make(map[string]string)
	}
	return r
}

// restore rebuilds the in-memory scheduler state from the persisted record.
// A predecessor counts as delivered wherever its recorded output snapshot
// carries a key some edge routes on.
func (r *run) restore() {
	for _, ne := range r.exec.NodeExecutions {
		switch ne.Status {
		case execution.NodeSuccess:
			r.done[ne.NodeID] = true
			for key := range ne.OutputSnapshot {
				for _, edge := range r.g.SuccessorsFor(ne.NodeID, key) {
					r.markDelivered(edge.To, ne.NodeID)
				}
			}
		case execution.NodeError:
			latest := r.exec.Latest(ne.NodeID)
			if latest != nil && latest.AttemptID == ne.AttemptID {
				r.failed[ne.NodeID] = true
				for _, edge := range r.g.SuccessorsFor(ne.NodeID, workflow.ErrorOutputKey) {
					if r.exec.PendingInputs[edge.To] != nil {
						r.markDelivered(edge.To, ne.NodeID)
					}
				}
			}
		case execution.NodeSkipped:
			r.dead[ne.NodeID] = true
		case execution.NodeWaitingHuman:
			r.waiting[ne.NodeID] = true
		}
	}
}

// seed runs the trigger node and routes its outputs.
func (r *run) seed(ctx context.Context, req StartRequest) {
	r.exec.Status = execution.StatusRunning
	entry := r.g.Entry()
	out, attempt, eerr := r.runAttempts(ctx, entry, map[string]any{}, map[string]string{}, req.Payload)
	if eerr != nil {
		r.fatal = eerr.WithContext("node_id", entry)
		return
	}
	r.finishAttempt(ctx, attempt, out.Values, nil)
	r.done[entry] = true
	r.route(ctx, entry, out.Values)
}

// loop drives ticks until the execution finishes or parks.
func (r *run) loop(ctx context.Context) {
	for {
		if r.fatal != nil {
			r.finalize(execution.StatusError, r.fatal)
			return
		}
		if r.deadline != nil && r.e.timers.Clock().Now().After(*r.deadline) {
			// Equivalent to Cancel with a TIMEOUT_WORKFLOW reason.
			r.finalize(execution.StatusCanceled,
				execution.NewError(execution.KindTimeoutWorkflow, "workflow timeout exceeded"))
			return
		}
		r.propagateSkips()
		frontier := r.frontier()
		if len(frontier) == 0 {
			if len(r.waiting) > 0 {
				r.exec.Status = execution.StatusWaiting
				r.exec.SortSequence(r.exec.Sequence)
				return
			}
			if r.allSettled() {
				r.finalize(execution.StatusSuccess, nil)
				return
			}
			r.finalize(execution.StatusError,
				execution.NewError(execution.KindSchedulerDeadlock,
					"no node is ready and none is waiting"))
			return
		}
		if err := r.lease.Renew(ctx, r.e.leaseTTL); err != nil {
			log.Warnf(ctx, "execution %s: lease lost, stopping: %v", r.exec.ID, err)
			r.exec.SortSequence(r.exec.Sequence)
			return
		}
		for _, res := range r.dispatch(ctx, frontier) {
			r.handle(ctx, res)
		}
	}
}

// frontier returns the ready nodes, deterministically ordered.
func (r *run) frontier() []string {
	var out []string
	for _, id := range r.g.ScheduledNodes() {
		if r.done[id] || r.failed[id] || r.dead[id] || r.waiting[id] {
			continue
		}
		if r.g.Ready(id, r.delivered[id], r.exec.PendingInputs[id]) {
			out = append(out, id)
		}
	}
	return out
}

// dispatch runs the frontier concurrently on the bounded worker pool. Under
// STOP_ON_ERROR the first failure cancels the remaining siblings.
func (r *run) dispatch(ctx context.Context, frontier []string) []result {
	tickCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, r.e.maxWorkers)
	results := make([]result, len(frontier))
	var wg sync.WaitGroup
	for i, id := range frontier {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = r.runScheduled(tickCtx, id)
			if results[i].err != nil && r.policy == workflow.StopOnError {
				cancel()
			}
		}(i, id)
	}
	wg.Wait()
	return results
}

// runScheduled executes one frontier node using its accumulated pending
// inputs.
func (r *run) runScheduled(ctx context.Context, id string) result {
	r.mu.Lock()
	payload := r.exec.PendingInputs[id]
	if payload == nil {
		payload = map[string]any{}
	}
	sources := r.sources[id]
	delete(r.exec.PendingInputs, id)
	delete(r.sources, id)
	r.mu.Unlock()

	out, attempt, eerr := r.runAttempts(ctx, id, payload, sources, nil)
	res := result{nodeID: id, attempt: attempt, out: out, err: eerr}
	if eerr != nil && eerr.Kind == execution.KindCanceled {
		res.canceled = true
	}
	return res
}

// runAttempts executes a node with per-node retry. Each attempt gets its own
// record; only transient error kinds retry and each retry is a fresh
// attempt.
func (r *run) runAttempts(ctx context.Context, id string, payload map[string]any, sources map[string]string, trigger map[string]any) (*node.Output, *execution.NodeExecution, *execution.Error) {
	n, ok := r.g.Node(id)
	if !ok {
		return nil, nil, execution.NewError(execution.KindUnknown, "node %q not in workflow", id)
	}
	s := r.g.Spec(id)
	inst, err := r.e.registry.Materialize(s, id, n.Configurations)
	if err != nil {
		return nil, nil, execution.NewError(execution.KindInvalidRequest, "materialize %q: %v", id, err)
	}
	executor, err := r.e.executors.Lookup(n.Type, n.Subtype)
	if err != nil {
		return nil, nil, execution.NewError(execution.KindInvalidRequest, "%v", err)
	}

	maxTries := asInt(inst.Configurations["retry_max_tries"])
	if maxTries <= 0 {
		maxTries = 1
	}
	backoff := time.Duration(asFloat(inst.Configurations["retry_backoff_seconds"]) * float64(time.Second))
	budget := time.Duration(asInt(inst.Configurations["timeout_seconds"])) * time.Second

	base := 0
	r.mu.Lock()
	if prev := r.exec.Latest(id); prev != nil {
		base = prev.Attempt
	}
	r.mu.Unlock()

	var lastErr *execution.Error
	for try := 1; try <= maxTries; try++ {
		attempt := r.newAttempt(id, base+try, payload, sources)
		in := &node.Input{
			ExecutionID: r.exec.ID,
			WorkflowID:  r.wf.ID,
			NodeID:      id,
			Type:        n.Type,
			Subtype:     n.Subtype,
			Attempt:     attempt.Attempt,
			Config:      inst.Configurations,
			Payload:     payload,
			Secrets:     r.e.secrets,
			Trigger:     trigger,
			Attached:    r.attachedNodes(n),
		}
		if r.exec.StartTime != nil {
			in.TriggerTime = *r.exec.StartTime
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if budget > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, budget)
		}
		out, execErr := executor.Execute(attemptCtx, in)
		if cancel != nil {
			cancel()
		}
		if out != nil && len(out.Attached) > 0 {
			attempt.AttachedExecutions = out.Attached
		}
		if execErr == nil {
			return out, attempt, nil
		}

		eerr := execution.AsError(execErr)
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			eerr = execution.NewError(execution.KindTimeoutNode,
				"node budget of %s exceeded", budget).WithContext("cause", execErr.Error())
		}
		if ctx.Err() == context.Canceled {
			eerr = execution.NewError(execution.KindCanceled, "attempt canceled")
			r.finishAttempt(ctx, attempt, nil, eerr)
			return nil, attempt, eerr
		}
		r.finishAttempt(ctx, attempt, nil, eerr)
		lastErr = eerr
		if !eerr.Kind.Retryable() || try == maxTries {
			return nil, attempt, eerr
		}
		if backoff > 0 {
			waitCh := make(chan struct{})
			r.e.timers.Clock().AfterFunc(backoff, func() { close(waitCh) })
			select {
			case <-ctx.Done():
				return nil, attempt, execution.NewError(execution.KindCanceled, "attempt canceled")
			case <-waitCh:
			}
		}
	}
	return nil, nil, lastErr
}

// attachedNodes resolves the MEMORY and TOOL nodes owned by an AI agent,
// with their configurations materialized.
func (r *run) attachedNodes(n workflow.Node) []node.AttachedNode {
	if len(n.AttachedNodes) == 0 {
		return nil
	}
	out := make([]node.AttachedNode, 0, len(n.AttachedNodes))
	for _, id := range n.AttachedNodes {
		an, ok := r.g.Node(id)
		if !ok {
			continue
		}
		cfg := an.Configurations
		if inst, err := r.e.registry.Materialize(r.g.Spec(id), id, an.Configurations); err == nil {
			cfg = inst.Configurations
		}
		out = append(out, node.AttachedNode{
			ID:       an.ID,
			Type:     an.Type,
			Subtype:  an.Subtype,
			Config:   cfg,
			Appendix: r.g.Spec(id).SystemPromptAppendix,
		})
	}
	return out
}

func (r *run) newAttempt(id string, attempt int, payload map[string]any, sources map[string]string) *execution.NodeExecution {
	now := r.e.timers.Clock().Now()
	ne := &execution.NodeExecution{
		AttemptID:     uuid.NewString(),
		NodeID:        id,
		Attempt:       attempt,
		Status:        execution.NodeRunning,
		StartedAt:     &now,
		InputSnapshot: maps.Clone(payload),
		InputSources:  maps.Clone(sources),
	}
	r.mu.Lock()
	r.exec.NodeExecutions[ne.AttemptID] = ne
	r.mu.Unlock()
	return ne
}

// finishAttempt records the terminal state of an attempt and checkpoints it
// when progress persistence is on.
func (r *run) finishAttempt(ctx context.Context, ne *execution.NodeExecution, values map[string]any, eerr *execution.Error) {
	now := r.e.timers.Clock().Now()
	r.mu.Lock()
	ne.EndedAt = &now
	switch {
	case eerr == nil:
		ne.Status = execution.NodeSuccess
		ne.OutputSnapshot = values
		r.exec.Sequence = append(r.exec.Sequence, ne.AttemptID)
	case eerr.Kind == execution.KindCanceled:
		ne.Status = execution.NodeCanceled
	default:
		ne.Status = execution.NodeError
		ne.Error = eerr
		r.exec.Sequence = append(r.exec.Sequence, ne.AttemptID)
	}
	r.mu.Unlock()
	if r.saveProgress {
		if err := r.e.store.SaveNodeExecution(ctx, r.exec.ID, ne); err != nil {
			log.Errorf(ctx, err, "checkpoint node execution %s", ne.AttemptID)
		}
	}
}

// handle applies one dispatch result to the scheduler state.
func (r *run) handle(ctx context.Context, res result) {
	if res.canceled {
		return
	}
	if res.err != nil {
		r.handleFailure(ctx, res)
		return
	}
	out := res.out
	switch {
	case out.Waiting != nil:
		r.park(ctx, res.attempt, out.Waiting)
	case out.Delay > 0:
		// The attempt stays open; the deadline callback finalizes it and
		// routes the held values.
		values := out.Values
		attemptID := res.attempt.AttemptID
		execID := r.exec.ID
		nodeID := res.nodeID
		r.waiting[nodeID] = true
		at := r.e.timers.Clock().Now().Add(out.Delay)
		r.e.timers.Schedule(timerID(execID, nodeID), at, func() {
			r.e.delayExpired(execID, nodeID, attemptID, values)
		})
	default:
		r.finishAttempt(ctx, res.attempt, out.Values, nil)
		r.done[res.nodeID] = true
		if len(out.Items) > 0 {
			r.fanOut(ctx, res.nodeID, out)
		}
		r.route(ctx, res.nodeID, out.Values)
	}
}

// handleFailure applies the workflow error policy to a finally-failed node.
func (r *run) handleFailure(ctx context.Context, res result) {
	switch r.policy {
	case workflow.ContinueErrorOutput:
		r.failed[res.nodeID] = true
		r.route(ctx, res.nodeID, map[string]any{
			workflow.ErrorOutputKey: map[string]any{
				"kind":    string(res.err.Kind),
				"message": res.err.Message,
			},
		})
	case workflow.ContinueRegularOutput:
		// The error stays on the node record; downstream sees the spec's
		// declared output defaults.
		r.failed[res.nodeID] = true
		defaults := r.outputDefaults(res.nodeID)
		if len(defaults) > 0 {
			r.route(ctx, res.nodeID, defaults)
		}
	default:
		r.fatal = res.err.WithContext("node_id", res.nodeID)
	}
}

func (r *run) outputDefaults(id string) map[string]any {
	s := r.g.Spec(id)
	out := make(map[string]any)
	for key, ps := range s.Output {
		if ps.Default != nil {
			out[key] = ps.Default
		}
	}
	return out
}

// park records a WAITING_HUMAN node: the attempt stays open, the token is
// persisted and the timeout deadline scheduled.
func (r *run) park(ctx context.Context, attempt *execution.NodeExecution, w *node.Wait) {
	attempt.Status = execution.NodeWaitingHuman
	tok := w.Token
	if tok.Correlation == nil {
		tok.Correlation = map[string]any{}
	}
	tok.Correlation["prompt"] = w.Prompt
	if err := r.e.store.StoreResumeToken(ctx, &tok); err != nil {
		log.Errorf(ctx, err, "store resume token for %s", attempt.NodeID)
		r.fatal = execution.NewError(execution.KindUnknown, "store resume token: %v", err)
		return
	}
	r.exec.ResumeTokens[attempt.NodeID] = tok.Token
	r.waiting[attempt.NodeID] = true

	execID := r.exec.ID
	nodeID := attempt.NodeID
	r.e.timers.Schedule(timerID(execID, nodeID), tok.ExpiresAt, func() {
		r.e.timeoutExpired(execID, nodeID)
	})
	log.Printf(ctx, "execution %s: node %s waiting for human response", execID, nodeID)
}

// completeWaiting finalizes a parked HIL attempt with its classified
// outcome and routes the matching output key. A timeout without a timeout
// edge fails the node under the workflow policy.
func (r *run) completeWaiting(ctx context.Context, attempt *execution.NodeExecution, class hil.Class, resp hil.Response) {
	nodeID := attempt.NodeID
	delete(r.exec.ResumeTokens, nodeID)
	delete(r.waiting, nodeID)
	r.e.timers.Cancel(timerID(r.exec.ID, nodeID))
	r.exec.Status = execution.StatusRunning

	if class == hil.ClassTimeout && len(r.g.SuccessorsFor(nodeID, string(hil.ClassTimeout))) == 0 {
		eerr := execution.NewError(execution.KindHILTimeout, "no response before the deadline")
		r.finishAttempt(ctx, attempt, nil, eerr)
		r.handleFailure(ctx, result{nodeID: nodeID, attempt: attempt, err: eerr})
		return
	}

	// The resolved output carries the original input payload through,
	// annotated with the classification and the human's words.
	value := maps.Clone(attempt.InputSnapshot)
	if value == nil {
		value = map[string]any{}
	}
	value["ai_classification"] = string(class)
	value["user_response"] = resp.Text
	if resp.Raw != nil {
		value["raw_response"] = resp.Raw
	}
	values := map[string]any{string(class): value}
	r.finishAttempt(ctx, attempt, values, nil)
	r.done[nodeID] = true
	r.route(ctx, nodeID, values)
}

// completeDelay finalizes a WAIT or DELAY attempt whose deadline fired and
// routes the held values.
func (r *run) completeDelay(ctx context.Context, attempt *execution.NodeExecution, values map[string]any) {
	delete(r.waiting, attempt.NodeID)
	r.exec.Status = execution.StatusRunning
	r.finishAttempt(ctx, attempt, values, nil)
	r.done[attempt.NodeID] = true
	r.route(ctx, attempt.NodeID, values)
}

// route delivers output values along matching edges.
func (r *run) route(ctx context.Context, from string, values map[string]any) {
	for key, value := range values {
		if key == "item" {
			// Fan-out keys are delivered by fanOut, never routed directly.
			continue
		}
		for _, edge := range r.g.SuccessorsFor(from, key) {
			converted, eerr := r.convertValue(ctx, edge, value)
			if eerr != nil {
				r.handleConversionError(ctx, edge, eerr)
				continue
			}
			r.deliver(edge.To, from, converted)
		}
	}
}

func (r *run) convertValue(ctx context.Context, edge graph.Edge, value any) (any, *execution.Error) {
	if edge.Conversion == "" {
		return value, nil
	}
	out, err := r.e.converter.Convert(ctx, edge.Conversion, value)
	if err != nil {
		return nil, execution.NewError(execution.KindConversionError, "edge %s: %v", edge.ID, err).
			WithContext("edge_id", edge.ID)
	}
	return out, nil
}

// handleConversionError scopes a conversion failure to its edge: under
// STOP_ON_ERROR it fails the execution, otherwise the edge simply does not
// deliver.
func (r *run) handleConversionError(ctx context.Context, edge graph.Edge, eerr *execution.Error) {
	if r.policy == workflow.StopOnError {
		r.fatal = eerr
		return
	}
	log.Warnf(ctx, "execution %s: conversion on edge %s failed, dropping delivery: %s",
		r.exec.ID, edge.ID, eerr.Message)
}

// deliver merges a value into the target's pending inputs. A mapping whose
// keys all belong to the target's declared inputs merges per key; everything
// else is stored whole under the input sentinel.
func (r *run) deliver(to, from string, value any) {
	pi := r.exec.PendingInputs[to]
	if pi == nil {
		pi = make(map[string]any)
		r.exec.PendingInputs[to] = pi
	}
	src := r.sources[to]
	if src == nil {
		src = make(map[string]string)
		r.sources[to] = src
	}
	s := r.g.Spec(to)
	if m, ok := value.(map[string]any); ok && len(m) > 0 && keysDeclared(m, s) {
		for k, v := range m {
			pi[k] = v
			src[k] = from
		}
	} else {
		pi[spec.DefaultInputKey] = value
		src[spec.DefaultInputKey] = from
	}
	r.markDelivered(to, from)
}

func (r *run) markDelivered(to, from string) {
	if r.delivered[to] == nil {
		r.delivered[to] = make(map[string]bool)
	}
	r.delivered[to][from] = true
}

func keysDeclared(m map[string]any, s spec.Spec) bool {
	if len(s.Input) == 0 {
		return false
	}
	for k := range m {
		if _, ok := s.Input[k]; !ok {
			return false
		}
	}
	return true
}

// fanOut runs the "item" successors once per collection element. Chains run
// depth first; a chain delivery into a MERGE node accumulates under its
// "items" input instead of re-running the merge per element.
func (r *run) fanOut(ctx context.Context, loopID string, out *node.Output) {
	itemEdges := r.g.SuccessorsFor(loopID, "item")
	if len(itemEdges) == 0 {
		return
	}
	for _, item := range out.Items {
		for _, edge := range itemEdges {
			if r.fatal != nil {
				return
			}
			converted, eerr := r.convertValue(ctx, edge, item)
			if eerr != nil {
				r.handleConversionError(ctx, edge, eerr)
				continue
			}
			r.runChain(ctx, edge, converted)
		}
	}
}

// runChain executes one wave hop. Waves cannot park: a HIL or timed wait
// inside a loop body fails the execution.
func (r *run) runChain(ctx context.Context, edge graph.Edge, value any) {
	to := edge.To
	if r.isMerge(to) {
		pi := r.exec.PendingInputs[to]
		if pi == nil {
			pi = make(map[string]any)
			r.exec.PendingInputs[to] = pi
		}
		items, _ := pi["items"].([]any)
		pi["items"] = append(items, value)
		r.markDelivered(to, edge.From)
		return
	}

	payload := map[string]any{}
	sources := map[string]string{}
	s := r.g.Spec(to)
	if m, ok := value.(map[string]any); ok && len(m) > 0 && keysDeclared(m, s) {
		for k, v := range m {
			payload[k] = v
			sources[k] = edge.From
		}
	} else {
		payload[spec.DefaultInputKey] = value
		sources[spec.DefaultInputKey] = edge.From
	}

	out, attempt, eerr := r.runAttempts(ctx, to, payload, sources, nil)
	if eerr != nil {
		if eerr.Kind == execution.KindCanceled {
			return
		}
		r.handleFailure(ctx, result{nodeID: to, attempt: attempt, err: eerr})
		return
	}
	if out.Waiting != nil || out.Delay > 0 {
		r.fatal = execution.NewError(execution.KindSchedulerDeadlock,
			"node %s cannot pause inside a loop body", to)
		return
	}
	r.finishAttempt(ctx, attempt, out.Values, nil)
	r.done[to] = true
	for key, v := range out.Values {
		for _, next := range r.g.SuccessorsFor(to, key) {
			converted, cerr := r.convertValue(ctx, next, v)
			if cerr != nil {
				r.handleConversionError(ctx, next, cerr)
				continue
			}
			r.runChain(ctx, next, converted)
		}
	}
}

func (r *run) isMerge(id string) bool {
	n, ok := r.g.Node(id)
	return ok && n.Type == spec.TypeFlow && n.Subtype == "MERGE"
}

// propagateSkips marks nodes that can never become ready because an
// upstream branch settled without delivering to them. Skips cascade until a
// fixpoint.
func (r *run) propagateSkips() {
	for {
		changed := false
		for _, id := range r.g.ScheduledNodes() {
			if id == r.g.Entry() || r.done[id] || r.failed[id] || r.dead[id] || r.waiting[id] {
				continue
			}
			preds := r.g.PredecessorNodes(id)
			if len(preds) == 0 {
				continue
			}
			anyMerge := r.isMerge(id) && r.g.MergeMode(id) == "any"
			deadPreds := 0
			for _, p := range preds {
				settled := r.done[p] || r.failed[p] || r.dead[p]
				if settled && !r.deliveredBy(id, p) {
					deadPreds++
				}
			}
			skip := false
			if anyMerge {
				skip = deadPreds == len(preds)
			} else {
				skip = deadPreds > 0
			}
			if skip {
				r.dead[id] = true
				r.recordSkip(id)
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

func (r *run) deliveredBy(to, from string) bool {
	return r.delivered[to][from]
}

// recordSkip writes a SKIPPED record for a node that will never run.
// Skipped records never join the sequence.
func (r *run) recordSkip(id string) {
	now := r.e.timers.Clock().Now()
	ne := &execution.NodeExecution{
		AttemptID: uuid.NewString(),
		NodeID:    id,
		Attempt:   1,
		Status:    execution.NodeSkipped,
		StartedAt: &now,
		EndedAt:   &now,
	}
	r.exec.NodeExecutions[ne.AttemptID] = ne
}

// allSettled reports whether every scheduled node reached an end state.
func (r *run) allSettled() bool {
	for _, id := range r.g.ScheduledNodes() {
		if !r.done[id] && !r.failed[id] && !r.dead[id] {
			return false
		}
	}
	return true
}

// finalize sets the terminal status, closes open attempts and cancels
// outstanding deadlines and tokens.
func (r *run) finalize(status execution.Status, eerr *execution.Error) {
	now := r.e.timers.Clock().Now()
	for _, ne := range r.exec.NodeExecutions {
		if ne.Status == execution.NodeRunning || ne.Status == execution.NodeWaitingHuman {
			ne.Status = execution.NodeCanceled
			ended := now
			ne.EndedAt = &ended
			r.e.timers.Cancel(timerID(r.exec.ID, ne.NodeID))
		}
	}
	r.exec.Status = status
	r.exec.EndTime = &now
	r.exec.Error = eerr
	r.exec.ResumeTokens = map[string]string{}
	r.exec.SortSequence(r.exec.Sequence)
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
