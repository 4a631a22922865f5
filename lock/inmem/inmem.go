// Package inmem implements the execution lease in process memory for tests
// and single-instance deployments.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"goa.design/flow/lock"
)

type (
	// Locker implements lock.Locker in memory.
	Locker struct {
		mu     sync.Mutex
		owners map[string]entry
		now    func() time.Time
	}

	entry struct {
		owner   string
		expires time.Time
	}

	lease struct {
		locker      *Locker
		executionID string
		owner       string
	}
)

// New constructs an empty Locker.
func New() *Locker {
	return &Locker{owners: make(map[string]entry), now: time.Now}
}

// SetClock overrides the wall clock. Tests only.
func (l *Locker) SetClock(now func() time.Time) { l.now = now }

// Acquire takes the lease unless a live holder exists.
func (l *Locker) Acquire(_ context.Context, executionID string, ttl time.Duration) (lock.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.owners[executionID]; ok && l.now().Before(e.expires) {
		return nil, lock.ErrHeld
	}
	owner := uuid.NewString()
	l.owners[executionID] = entry{owner: owner, expires: l.now().Add(ttl)}
	return &lease{locker: l, executionID: executionID, owner: owner}, nil
}

func (s *lease) ExecutionID() string { return s.executionID }

func (s *lease) Renew(_ context.Context, ttl time.Duration) error {
	l := s.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.owners[s.executionID]
	if !ok || e.owner != s.owner || !l.now().Before(e.expires) {
		return lock.ErrLost
	}
	e.expires = l.now().Add(ttl)
	l.owners[s.executionID] = e
	return nil
}

func (s *lease) Release(_ context.Context) error {
	l := s.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.owners[s.executionID]; ok && e.owner == s.owner {
		delete(l.owners, s.executionID)
	}
	return nil
}
