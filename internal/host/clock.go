package host

import (
	"sync"
	"time"
)

// Clock supplies logical ledger time in unix seconds. Implementations must be
// non-decreasing.
type Clock interface {
	Now() uint64
}

// WallClock reads the system clock and never goes backwards, even if the
// system clock does.
type WallClock struct {
	mu   sync.Mutex
	last uint64
}

func (c *WallClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := uint64(time.Now().Unix())
	if now < c.last {
		return c.last
	}
	c.last = now
	return now
}

// ManualClock is a settable clock for tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

// NewManualClock starts a clock at t.
func NewManualClock(t uint64) *ManualClock {
	return &ManualClock{now: t}
}

func (c *ManualClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving backwards is ignored.
func (c *ManualClock) Set(t uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.now {
		c.now = t
	}
}

// Advance moves the clock forward by d seconds.
func (c *ManualClock) Advance(d uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}
