// Package lock defines the distributed execution lease. One engine instance
// owns one execution at a time: the scheduler acquires the lease before its
// loop, renews it while iterations run, and releases it on exit. Resume
// deliveries acquire the same lease so a paused execution is never re-entered
// by two processes at once.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrHeld indicates another holder currently owns the lease.
	ErrHeld = errors.New("execution lease held")
	// ErrLost indicates the lease expired or was taken over; the holder must
	// stop driving the execution.
	ErrLost = errors.New("execution lease lost")
)

type (
	// Lease is an acquired lock on one execution.
	Lease interface {
		// ExecutionID returns the execution this lease guards.
		ExecutionID() string
		// Renew extends the lease TTL. Returns ErrLost when the lease is no
		// longer held by this owner.
		Renew(ctx context.Context, ttl time.Duration) error
		// Release relinquishes the lease. Releasing a lost lease is a no-op.
		Release(ctx context.Context) error
	}

	// Locker acquires execution leases.
	Locker interface {
		// Acquire takes the lease for the execution, or returns ErrHeld.
		Acquire(ctx context.Context, executionID string, ttl time.Duration) (Lease, error)
	}
)
