package timer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Scheduler holds at most one pending wakeup. Scheduling again replaces the
// pending one; a replaced or cancelled wakeup never reaches the callback.
type Scheduler struct {
	clock clock.Clock
	fire  func(deadline time.Time)

	mu       sync.Mutex
	timer    *clock.Timer
	deadline time.Time
	gen      uint64
}

// NewScheduler creates a scheduler that calls fire with the deadline it was
// armed for. fire runs on the clock's goroutine and must not block.
func NewScheduler(clk clock.Clock, fire func(deadline time.Time)) *Scheduler {
	return &Scheduler{clock: clk, fire: fire}
}

// Schedule arms the wakeup for at. A deadline already in the past fires
// immediately. Re-arming the pending deadline is a no-op.
func (s *Scheduler) Schedule(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil && at.Equal(s.deadline) {
		return
	}
	s.stopLocked()

	s.gen++
	gen := s.gen
	s.deadline = at

	d := at.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	s.timer = s.clock.AfterFunc(d, func() { s.expire(gen) })
}

func (s *Scheduler) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	deadline := s.deadline
	s.mu.Unlock()

	s.fire(deadline)
}

// Cancel drops the pending wakeup, if any
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.gen++
	s.deadline = time.Time{}
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Deadline returns the pending deadline
func (s *Scheduler) Deadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline, s.timer != nil
}

// Remaining returns the time left until the pending deadline, or zero
func (s *Scheduler) Remaining() time.Duration {
	deadline, ok := s.Deadline()
	if !ok {
		return 0
	}
	return RemainingUntil(s.clock, deadline)
}

// RemainingUntil returns deadline - now, never negative
func RemainingUntil(clk clock.Clock, deadline time.Time) time.Duration {
	if d := deadline.Sub(clk.Now()); d > 0 {
		return d
	}
	return 0
}
