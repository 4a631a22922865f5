// Package rediskv implements a Redis-backed key-value memory. Turns are
// appended to a per-session Redis list and replayed on load, so memory
// survives process restarts and is shared across engine replicas. The store
// backs the KEY_VALUE_STORE memory subtype.
package rediskv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/flow/memory"
)

// DefaultMaxMessages bounds replayed messages when no limit is configured.
const DefaultMaxMessages = 50

// Store is a Redis list backed conversation memory.
type Store struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	max       int
}

// Options configures the store.
type Options struct {
	// Namespace isolates keys; required so workflows sharing a Redis do not
	// read each other's memory.
	Namespace string
	// TTL expires idle sessions. Zero keeps them forever.
	TTL time.Duration
	// MaxMessages bounds replay; non positive falls back to
	// DefaultMaxMessages.
	MaxMessages int
}

// New constructs the store.
func New(client *redis.Client, opts Options) *Store {
	max := opts.MaxMessages
	if max <= 0 {
		max = DefaultMaxMessages
	}
	ns := opts.Namespace
	if ns == "" {
		ns = "default"
	}
	return &Store{client: client, namespace: ns, ttl: opts.TTL, max: max}
}

func (s *Store) key(session string) string {
	return fmt.Sprintf("flow:mem:%s:%s", s.namespace, session)
}

// Load implements memory.Memory. It replays at most MaxMessages of the
// newest stored messages, oldest first.
func (s *Store) Load(ctx context.Context, in memory.LoadInput) (*memory.LoadResult, error) {
	raw, err := s.client.LRange(ctx, s.key(in.SessionID), int64(-s.max), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load memory %q: %w", in.SessionID, err)
	}
	res := &memory.LoadResult{}
	for _, item := range raw {
		var msg memory.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("load memory %q: corrupt entry: %w", in.SessionID, err)
		}
		res.Messages = append(res.Messages, msg)
	}
	return res, nil
}

// Store implements memory.Memory. Messages are pushed in conversation order
// and the list is trimmed to the retention bound.
func (s *Store) Store(ctx context.Context, turn memory.Turn) error {
	var items []any
	if turn.User != "" {
		raw, err := json.Marshal(memory.Message{Role: "user", Content: turn.User, At: turn.At})
		if err != nil {
			return fmt.Errorf("store memory %q: %w", turn.SessionID, err)
		}
		items = append(items, raw)
	}
	if turn.Assistant != "" {
		raw, err := json.Marshal(memory.Message{Role: "assistant", Content: turn.Assistant, At: turn.At})
		if err != nil {
			return fmt.Errorf("store memory %q: %w", turn.SessionID, err)
		}
		items = append(items, raw)
	}
	if len(items) == 0 {
		return nil
	}
	key := s.key(turn.SessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, items...)
	pipe.LTrim(ctx, key, int64(-s.max), -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store memory %q: %w", turn.SessionID, err)
	}
	return nil
}
