// Package clock abstracts monotonic time so dwell comparisons, backoff waits
// and crossfade steps can be driven deterministically under test.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the minimal time surface the engine depends on.
type Clock interface {
	// Now returns the current time on a monotonic timeline.
	Now() time.Time

	// After returns a channel that delivers once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// System returns a Clock backed by the runtime clock.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Mock is a manually advanced Clock for tests.
// Advance fires any After waiters whose deadline has passed.
type Mock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*mockTimer
}

type mockTimer struct {
	deadline time.Time
	ch       chan time.Time
}

// NewMock returns a Mock starting at a fixed, arbitrary epoch.
func NewMock() *Mock {
	return &Mock{now: time.Unix(1700000000, 0)}
}

// Now returns the mock's current time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After registers a waiter relative to the mock's current time.
func (m *Mock) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &mockTimer{deadline: m.now.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		t.ch <- m.now
		return t.ch
	}
	m.timers = append(m.timers, t)
	return t.ch
}

// Waiters reports how many After channels have not yet fired. Tests poll it
// to know a goroutine has parked on the clock before advancing.
func (m *Mock) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Advance moves the clock forward and fires due waiters in deadline order.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now

	sort.SliceStable(m.timers, func(i, j int) bool {
		return m.timers[i].deadline.Before(m.timers[j].deadline)
	})
	remaining := m.timers[:0]
	var due []*mockTimer
	for _, t := range m.timers {
		if !t.deadline.After(now) {
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	m.timers = remaining
	m.mu.Unlock()

	for _, t := range due {
		t.ch <- now
	}
}
