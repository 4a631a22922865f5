// Package memory defines the contract attached MEMORY nodes expose to the
// AI agent orchestrator: Load to fetch context before the model turn, Store
// to persist the finished conversation turn after it. Memory adapters never
// appear on the scheduler frontier; the owning agent drives them and records
// each operation as an attached execution.
package memory

import (
	"context"
	"time"
)

type (
	// LoadInput carries what the agent knows when it loads memory.
	LoadInput struct {
		// SessionID scopes the memory; by default the workflow id, so
		// executions of the same workflow share memory.
		SessionID string
		// Input is the agent node's input payload.
		Input map[string]any
	}

	// LoadResult is the loaded memory context.
	LoadResult struct {
		// SystemPrompt is a context fragment appended to the agent's system
		// prompt. Empty when the memory holds nothing relevant.
		SystemPrompt string
		// Messages are prior conversation messages replayed ahead of the
		// current user message. Role values follow the model package.
		Messages []Message
	}

	// Message is one remembered conversation message.
	Message struct {
		Role    string    `json:"role"`
		Content string    `json:"content"`
		At      time.Time `json:"at"`
	}

	// Turn is one completed user/assistant exchange to persist.
	Turn struct {
		SessionID string    `json:"session_id"`
		User      string    `json:"user"`
		Assistant string    `json:"assistant"`
		At        time.Time `json:"at"`
	}

	// Memory is the attached-memory contract.
	Memory interface {
		Load(ctx context.Context, in LoadInput) (*LoadResult, error)
		Store(ctx context.Context, turn Turn) error
	}
)
