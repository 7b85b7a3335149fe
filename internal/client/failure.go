package client

import "sync"

// Counter tracks consecutive format-call timeouts for one run. Any
// success resets it; reaching the ceiling trips it exactly once, at
// which point the run aborts rather than continuing against a session
// presumed wedged.
//
// Only timeouts count toward the ceiling. Protocol errors abort the
// session on their own, and a syntax rejection is the server working
// correctly, so counting either would conflate "server wedged" with
// "input bad".
type Counter struct {
	mu      sync.Mutex
	n       int
	ceiling int
	tripped bool
}

// NewCounter creates a counter with the given ceiling. A ceiling of
// zero or less disables the abort entirely.
func NewCounter(ceiling int) *Counter {
	return &Counter{ceiling: ceiling}
}

// RecordTimeout increments the counter and reports whether this
// increment reached the ceiling. It returns true at most once per run.
func (c *Counter) RecordTimeout() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.n++
	if c.ceiling > 0 && c.n >= c.ceiling && !c.tripped {
		c.tripped = true
		return true
	}
	return false
}

// Reset zeroes the counter. Called on any successful format call.
func (c *Counter) Reset() {
	c.mu.Lock()
	c.n = 0
	c.mu.Unlock()
}

// Count returns the current consecutive-timeout count.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
