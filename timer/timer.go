// Package timer provides the process-wide deadline service used for HIL
// timeouts and FLOW.WAIT/DELAY deadlines, plus the injectable clock that
// lets tests drive time explicitly. The service is one of the two global
// singletons in the system (the other being the spec registry); everything
// else is owned per execution.
package timer

import (
	"sort"
	"sync"
	"time"
)

type (
	// Timer is a pending callback that can be stopped.
	Timer interface {
		// Stop cancels the timer; it reports whether the callback was
		// prevented from running.
		Stop() bool
	}

	// Clock abstracts wall time so deadline behavior is testable.
	Clock interface {
		Now() time.Time
		AfterFunc(d time.Duration, f func()) Timer
	}

	// Service registers named deadlines. Scheduling an id that already has a
	// pending deadline replaces it; firing and cancellation both clear it.
	Service struct {
		clock  Clock
		mu     sync.Mutex
		timers map[string]Timer
	}
)

// --- real clock ---

type realClock struct{}

type realTimer struct{ t *time.Timer }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (rt realTimer) Stop() bool { return rt.t.Stop() }

// Real returns the wall clock.
func Real() Clock { return realClock{} }

// --- service ---

// NewService constructs a Service over the given clock; nil means the wall
// clock.
func NewService(clock Clock) *Service {
	if clock == nil {
		clock = Real()
	}
	return &Service{clock: clock, timers: make(map[string]Timer)}
}

// Clock returns the service's clock.
func (s *Service) Clock() Clock { return s.clock }

// Schedule arranges for fn to run once at the given time. Deadlines in the
// past fire immediately (asynchronously). A previous deadline under the same
// id is replaced.
func (s *Service) Schedule(id string, at time.Time, fn func()) {
	d := at.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	if prev, ok := s.timers[id]; ok {
		prev.Stop()
	}
	s.timers[id] = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		fn()
	})
	s.mu.Unlock()
}

// Cancel stops the pending deadline for id, if any.
func (s *Service) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of scheduled deadlines.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// --- fake clock ---

type (
	// Fake is a manually advanced Clock for tests.
	Fake struct {
		mu      sync.Mutex
		now     time.Time
		pending []*fakeTimer
	}

	fakeTimer struct {
		clock   *Fake
		at      time.Time
		fn      func()
		stopped bool
		fired   bool
	}
)

// NewFake constructs a Fake clock at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake instant.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc registers fn to run when the clock advances past d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	t := &fakeTimer{clock: f, at: f.now.Add(d), fn: fn}
	f.pending = append(f.pending, t)
	f.mu.Unlock()
	if d <= 0 {
		f.fire()
	}
	return t
}

// Advance moves the clock forward and fires every due callback
// synchronously, in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
	f.fire()
}

func (f *Fake) fire() {
	for {
		f.mu.Lock()
		var due *fakeTimer
		sort.SliceStable(f.pending, func(i, j int) bool { return f.pending[i].at.Before(f.pending[j].at) })
		for _, t := range f.pending {
			if !t.stopped && !t.fired && !t.at.After(f.now) {
				due = t
				break
			}
		}
		if due != nil {
			due.fired = true
		}
		f.mu.Unlock()
		if due == nil {
			return
		}
		due.fn()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
