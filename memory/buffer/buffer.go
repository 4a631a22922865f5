// Package buffer implements an in-process conversation buffer memory. It
// keeps the most recent turns per session and replays them as prior
// messages. The buffer backs the CONVERSATION_BUFFER memory subtype and is
// also the memory used in tests.
package buffer

import (
	"context"
	"sync"

	"goa.design/flow/memory"
)

// DefaultMaxMessages bounds replayed messages when no limit is configured.
const DefaultMaxMessages = 20

// Buffer is a bounded per-session conversation memory. Safe for concurrent
// use.
type Buffer struct {
	mu       sync.Mutex
	max      int
	sessions map[string][]memory.Message
}

// New constructs a buffer keeping at most max messages per session. A non
// positive max falls back to DefaultMaxMessages.
func New(max int) *Buffer {
	if max <= 0 {
		max = DefaultMaxMessages
	}
	return &Buffer{max: max, sessions: make(map[string][]memory.Message)}
}

// Load implements memory.Memory.
func (b *Buffer) Load(_ context.Context, in memory.LoadInput) (*memory.LoadResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.sessions[in.SessionID]
	out := make([]memory.Message, len(msgs))
	copy(out, msgs)
	return &memory.LoadResult{Messages: out}, nil
}

// Store implements memory.Memory. Each turn appends a user and an assistant
// message; the oldest messages are evicted past the configured limit.
func (b *Buffer) Store(_ context.Context, turn memory.Turn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.sessions[turn.SessionID]
	if turn.User != "" {
		msgs = append(msgs, memory.Message{Role: "user", Content: turn.User, At: turn.At})
	}
	if turn.Assistant != "" {
		msgs = append(msgs, memory.Message{Role: "assistant", Content: turn.Assistant, At: turn.At})
	}
	if over := len(msgs) - b.max; over > 0 {
		msgs = append([]memory.Message(nil), msgs[over:]...)
	}
	b.sessions[turn.SessionID] = msgs
	return nil
}
