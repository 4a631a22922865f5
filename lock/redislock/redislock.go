// Package redislock implements the execution lease on Redis using the
// SET NX PX pattern with owner-checked renewal and release. Renew and
// Release run as Lua scripts so a lease taken over by another process is
// never extended or deleted by the previous owner.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"goa.design/flow/lock"
)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type (
	// Locker implements lock.Locker on a Redis client.
	Locker struct {
		client *redis.Client
		prefix string
	}

	lease struct {
		locker      *Locker
		executionID string
		owner       string
	}
)

// New constructs a Locker. Empty prefix means "flow:lease:".
func New(client *redis.Client, prefix string) *Locker {
	if prefix == "" {
		prefix = "flow:lease:"
	}
	return &Locker{client: client, prefix: prefix}
}

// Acquire takes the lease via SET NX PX.
func (l *Locker) Acquire(ctx context.Context, executionID string, ttl time.Duration) (lock.Lease, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+executionID, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, lock.ErrHeld
	}
	return &lease{locker: l, executionID: executionID, owner: owner}, nil
}

func (s *lease) ExecutionID() string { return s.executionID }

func (s *lease) Renew(ctx context.Context, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, s.locker.client,
		[]string{s.locker.prefix + s.executionID}, s.owner, ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("renew lease: %w", err)
	}
	if n == 0 {
		return lock.ErrLost
	}
	return nil
}

func (s *lease) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, s.locker.client,
		[]string{s.locker.prefix + s.executionID}, s.owner).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
