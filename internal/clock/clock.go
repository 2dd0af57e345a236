package clock

import (
	"sync"
	"time"
)

// Clock supplies the current Unix time in seconds
type Clock interface {
	Now() int64
}

// System reads the wall clock
type System struct{}

func (System) Now() int64 {
	return time.Now().Unix()
}

// Fixed is a settable clock for tests and simulations.
// Safe for concurrent use.
type Fixed struct {
	mu  sync.Mutex
	now int64
}

// NewFixed creates a clock frozen at now
func NewFixed(now int64) *Fixed {
	return &Fixed{now: now}
}

func (c *Fixed) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to now
func (c *Fixed) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Advance moves the clock forward by seconds and returns the new time
func (c *Fixed) Advance(seconds int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += seconds
	return c.now
}
