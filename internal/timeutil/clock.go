// Package timeutil provides a testable abstraction over time operations.
//
// Device timestamps are microseconds on a monotonic clock that starts when
// the clock is created, matching what tracking drivers report.
package timeutil

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
type Clock interface {
	// Now returns the current wall time.
	Now() time.Time

	// Micros returns microseconds elapsed since the clock's epoch.
	Micros() int64

	// Sleep pauses for the specified duration.
	Sleep(d time.Duration)

	// After waits for the duration to elapse and then sends the current time.
	After(d time.Duration) <-chan time.Time
}

// RealClock implements Clock using the standard time package.
type RealClock struct {
	epoch time.Time
}

// NewRealClock returns a RealClock whose Micros epoch is now.
func NewRealClock() *RealClock {
	return &RealClock{epoch: time.Now()}
}

// Now returns the current time.
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// Micros returns monotonic microseconds since the clock was created.
func (c *RealClock) Micros() int64 {
	return time.Since(c.epoch).Microseconds()
}

// Sleep pauses the current goroutine for at least the duration d.
func (c *RealClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// After waits for the duration to elapse and then sends the current time.
func (c *RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// MockClock is a manually controlled clock for testing.
type MockClock struct {
	mu      sync.Mutex
	epoch   time.Time
	now     time.Time
	sleeps  []time.Duration
	waiters []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewMockClock creates a new MockClock set to the given time, which is also
// its Micros epoch.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{epoch: t, now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Micros returns mocked microseconds since the epoch.
func (c *MockClock) Micros() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(c.epoch).Microseconds()
}

// Advance moves the mock clock forward and releases expired After waiters.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	pending := c.waiters[:0]
	var fire []chan time.Time
	for _, w := range c.waiters {
		if !now.Before(w.deadline) {
			fire = append(fire, w.ch)
			continue
		}
		pending = append(pending, w)
	}
	c.waiters = pending
	c.mu.Unlock()

	for _, ch := range fire {
		ch <- now
	}
}

// Sleep records the sleep duration and advances the clock by it.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	c.Advance(d)
}

// Sleeps returns all recorded sleep durations.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]time.Duration, len(c.sleeps))
	copy(result, c.sleeps)
	return result
}

// After returns a channel that receives the time once Advance has moved the
// clock at least d forward. A non-positive d fires immediately.
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

// Waiters returns the number of After channels that have not fired.
func (c *MockClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
