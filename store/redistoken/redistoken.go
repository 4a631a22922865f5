// Package redistoken implements store.TokenStore on Redis. Tokens are stored
// as JSON values whose TTL matches the token expiry, and consumption uses
// GETDEL so a token observed by one consumer atomically disappears for every
// other process. Use this backend whenever more than one engine instance can
// receive resume deliveries.
package redistoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/flow/execution"
	"goa.design/flow/store"
)

// Store implements store.TokenStore on a Redis client.
type Store struct {
	client *redis.Client
	prefix string
}

// New constructs a Store. The prefix namespaces keys so multiple engines can
// share one Redis; empty means "flow:token:".
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "flow:token:"
	}
	return &Store{client: client, prefix: prefix}
}

// StoreResumeToken persists the token with a TTL matching its expiry.
func (s *Store) StoreResumeToken(ctx context.Context, tok *execution.ResumeToken) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal resume token: %w", err)
	}
	ttl := time.Until(tok.ExpiresAt)
	if !tok.ExpiresAt.IsZero() && ttl <= 0 {
		return fmt.Errorf("resume token %q already expired", tok.Token)
	}
	if tok.ExpiresAt.IsZero() {
		ttl = 0 // no expiry
	}
	if err := s.client.Set(ctx, s.prefix+tok.Token, b, ttl).Err(); err != nil {
		return fmt.Errorf("store resume token: %w", err)
	}
	return nil
}

// ConsumeResumeToken atomically removes and returns the token via GETDEL.
func (s *Store) ConsumeResumeToken(ctx context.Context, token string) (*execution.ResumeToken, error) {
	b, err := s.client.GetDel(ctx, s.prefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume resume token: %w", err)
	}
	var tok execution.ResumeToken
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("decode resume token: %w", err)
	}
	return &tok, nil
}
