// Package store defines the persistence contracts the engine consumes:
// workflow definitions, execution records, node-execution records, and
// single-use resume tokens. Backends are pluggable; the inmem subpackage
// provides the in-memory implementation used by tests and local runs, and
// redistoken provides a Redis-backed token store whose consumption is atomic
// across processes.
package store

import (
	"context"
	"errors"

	"goa.design/flow/execution"
	"goa.design/flow/workflow"
)

var (
	// ErrNotFound indicates the requested workflow or execution does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTokenNotFound indicates the resume token is missing, expired, or
	// already consumed. Callers surface this as RESUME_STALE.
	ErrTokenNotFound = errors.New("resume token not found")
)

type (
	// Filter narrows ListExecutions. Zero fields match everything.
	Filter struct {
		WorkflowID string
		Status     execution.Status
	}

	// Page bounds ListExecutions results. A zero Limit means no bound.
	Page struct {
		Offset int
		Limit  int
	}

	// WorkflowStore persists workflow definitions.
	WorkflowStore interface {
		SaveWorkflow(ctx context.Context, wf *workflow.Workflow) error
		LoadWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
	}

	// ExecutionStore persists execution aggregates and node attempts.
	// SaveNodeExecution upserts a single attempt into an already-saved
	// execution so checkpointing does not rewrite the whole aggregate.
	ExecutionStore interface {
		SaveExecution(ctx context.Context, exec *execution.Execution) error
		LoadExecution(ctx context.Context, id string) (*execution.Execution, error)
		SaveNodeExecution(ctx context.Context, executionID string, ne *execution.NodeExecution) error
		ListExecutions(ctx context.Context, f Filter, p Page) ([]*execution.Execution, error)
	}

	// TokenStore persists resume tokens. ConsumeResumeToken atomically
	// retrieves and invalidates a token; a second consumption of the same
	// token must return ErrTokenNotFound.
	TokenStore interface {
		StoreResumeToken(ctx context.Context, tok *execution.ResumeToken) error
		ConsumeResumeToken(ctx context.Context, token string) (*execution.ResumeToken, error)
	}

	// Store aggregates the three persistence contracts.
	Store interface {
		WorkflowStore
		ExecutionStore
		TokenStore
	}
)
