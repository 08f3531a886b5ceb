package testutil

import (
	"sync"
	"time"
)

// TickingClock is a clock.Clock that moves forward by a fixed step on
// every read, so consecutive ledger entries get distinct, predictable
// start and end times without the test advancing anything.
//
// The first call to Now() returns start.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type TickingClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	reads int64
}

// NewTickingClock creates a clock that starts at start and advances by step.
func NewTickingClock(start time.Time, step time.Duration) *TickingClock {
	return &TickingClock{start: start, step: step}
}

// Now returns the current tick and advances the clock.
func (c *TickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.reads) * c.step)
	c.reads++
	return t
}

// Reads returns how many times Now has been called.
func (c *TickingClock) Reads() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Reset rewinds the clock to start.
//
// Used for test reuse. After Reset(), the next call to Now() returns start.
func (c *TickingClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads = 0
}
