// Package clock provides a testable abstraction over wall-clock time.
package clock

import (
	"sync"
	"time"
)

// Clock provides the time operations the pipeline depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After waits for the duration to elapse and then sends the current time.
	After(d time.Duration) <-chan time.Time
}

// Real implements Clock using the standard time package.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

// After waits for the duration to elapse and then sends the current time.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Mock is a manually controlled clock for testing.
// After fires immediately and advances the mocked time by the requested duration,
// so code that backs off never actually sleeps under test.
type Mock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

// NewMock creates a Mock set to the given time.
func NewMock(t time.Time) *Mock {
	return &Mock{now: t}
}

// Now returns the mocked current time.
func (c *Mock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set sets the mock clock to a specific time.
func (c *Mock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the mock clock forward by d.
func (c *Mock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// After records the wait, advances the clock and returns an already-fired channel.
func (c *Mock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Waits returns every duration passed to After, in call order.
func (c *Mock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]time.Duration, len(c.waits))
	copy(result, c.waits)
	return result
}
