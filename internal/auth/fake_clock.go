package auth

import (
	"sync"
	stdtime "time"
)

// FakeClock is a controllable Clock shared by session tests and the HTTP server under test.
type FakeClock struct {
	mu  sync.Mutex
	now stdtime.Time
}

func NewFakeClock(t stdtime.Time) *FakeClock {
	return &FakeClock{now: t}
}

func (c *FakeClock) Now() stdtime.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d stdtime.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
