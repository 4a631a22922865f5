// Package inmem provides the in-memory store.Store implementation used by
// tests and single-process deployments. Records are deep-copied through
// their JSON form on both write and read, which doubles as a round-trip
// guarantee: loading an execution yields exactly the bytes that were
// persisted.
package inmem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"goa.design/flow/execution"
	"goa.design/flow/store"
	"goa.design/flow/workflow"
)

// Store implements store.Store in memory. All operations are thread-safe.
type Store struct {
	mu         sync.RWMutex
	workflows  map[string]*workflow.Workflow
	executions map[string]*execution.Execution
	tokens     map[string]*execution.ResumeToken

	now func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		workflows:  make(map[string]*workflow.Workflow),
		executions: make(map[string]*execution.Execution),
		tokens:     make(map[string]*execution.ResumeToken),
		now:        time.Now,
	}
}

// SetClock overrides the wall clock used for token expiry. Tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// SaveWorkflow upserts a workflow definition.
func (s *Store) SaveWorkflow(_ context.Context, wf *workflow.Workflow) error {
	cp, err := clone(wf)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = cp
	return nil
}

// LoadWorkflow returns the workflow with the given id or store.ErrNotFound.
func (s *Store) LoadWorkflow(_ context.Context, id string) (*workflow.Workflow, error) {
	s.mu.RLock()
	wf, ok := s.workflows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", id, store.ErrNotFound)
	}
	return clone(wf)
}

// SaveExecution upserts the full execution aggregate.
func (s *Store) SaveExecution(_ context.Context, exec *execution.Execution) error {
	cp, err := clone(exec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = cp
	return nil
}

// LoadExecution returns the execution with the given id or store.ErrNotFound.
func (s *Store) LoadExecution(_ context.Context, id string) (*execution.Execution, error) {
	s.mu.RLock()
	exec, ok := s.executions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("execution %q: %w", id, store.ErrNotFound)
	}
	return clone(exec)
}

// SaveNodeExecution upserts one node attempt into a stored execution.
func (s *Store) SaveNodeExecution(_ context.Context, executionID string, ne *execution.NodeExecution) error {
	cp, err := clone(ne)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return fmt.Errorf("execution %q: %w", executionID, store.ErrNotFound)
	}
	if exec.NodeExecutions == nil {
		exec.NodeExecutions = make(map[string]*execution.NodeExecution)
	}
	exec.NodeExecutions[ne.AttemptID] = cp
	return nil
}

// ListExecutions returns executions matching f, ordered by start time
// descending, bounded by p.
func (s *Store) ListExecutions(_ context.Context, f store.Filter, p store.Page) ([]*execution.Execution, error) {
	s.mu.RLock()
	var matched []*execution.Execution
	for _, exec := range s.executions {
		if f.WorkflowID != "" && exec.WorkflowID != f.WorkflowID {
			continue
		}
		if f.Status != "" && exec.Status != f.Status {
			continue
		}
		matched = append(matched, exec)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		switch {
		case a.StartTime == nil:
			return false
		case b.StartTime == nil:
			return true
		case !a.StartTime.Equal(*b.StartTime):
			return a.StartTime.After(*b.StartTime)
		}
		return a.ID < b.ID
	})
	if p.Offset > len(matched) {
		return nil, nil
	}
	matched = matched[p.Offset:]
	if p.Limit > 0 && p.Limit < len(matched) {
		matched = matched[:p.Limit]
	}
	out := make([]*execution.Execution, len(matched))
	for i, exec := range matched {
		cp, err := clone(exec)
		if err != nil {
			return nil, err
		}
		out[i] = cp
	}
	return out, nil
}

// StoreResumeToken persists a resume token.
func (s *Store) StoreResumeToken(_ context.Context, tok *execution.ResumeToken) error {
	cp, err := clone(tok)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tok.Token] = cp
	return nil
}

// ConsumeResumeToken atomically removes and returns the token. Expired or
// already-consumed tokens yield store.ErrTokenNotFound.
func (s *Store) ConsumeResumeToken(_ context.Context, token string) (*execution.ResumeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[token]
	if !ok {
		return nil, store.ErrTokenNotFound
	}
	delete(s.tokens, token)
	if !tok.ExpiresAt.IsZero() && s.now().After(tok.ExpiresAt) {
		return nil, store.ErrTokenNotFound
	}
	return tok, nil
}

// clone deep-copies a record through its JSON form.
func clone[T any](v *T) (*T, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}
	return out, nil
}
