package testutil

import (
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// DefaultEpoch is the first timestamp handed out by a new Clock.
const DefaultEpoch nostr.Timestamp = 1700000000

// Clock hands out strictly increasing event timestamps for tests.
//
// Thread-safety: all methods are safe for concurrent use.
type Clock struct {
	mu   sync.Mutex
	base nostr.Timestamp
	n    int64
}

// NewClock creates a clock whose first Next returns DefaultEpoch.
func NewClock() *Clock {
	return &Clock{base: DefaultEpoch}
}

// Next returns the next timestamp, one second after the previous one.
func (c *Clock) Next() nostr.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.base + nostr.Timestamp(c.n)
	c.n++
	return ts
}

// Issued returns how many timestamps have been handed out.
func (c *Clock) Issued() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset starts the clock over at its base.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
