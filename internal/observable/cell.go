// Package observable provides a versioned value container with snapshot reads
// and change subscriptions.
package observable

import (
	"context"
	"sync"
)

// Cell holds a value that a single owner mutates and any number of observers
// read or subscribe to.
//
// Subscribers receive the current value on subscription and then every
// subsequent value. Delivery is latest-wins: a slow subscriber skips
// intermediate values but always ends on the newest one.
//
// Values are published as-is. Owners must not mutate a value after Set;
// publish a fresh value instead.
type Cell[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
	subs    map[int]chan T
	nextID  int
	closed  bool
}

// NewCell creates a cell holding initial at version 0.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{
		value: initial,
		subs:  make(map[int]chan T),
	}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Version returns the number of Set calls applied so far.
func (c *Cell[T]) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Set replaces the value and notifies subscribers.
// Set on a closed cell is ignored.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.value = v
	c.version++
	for _, ch := range c.subs {
		offer(ch, v)
	}
}

// Subscribe returns a channel that yields the current value immediately and
// then each change. The channel is closed when ctx is done or the cell is
// closed.
func (c *Cell[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	ch <- c.value
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.unsubscribe(id)
	}()

	return ch
}

// Subscribers returns the number of live subscriptions.
func (c *Cell[T]) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Close closes every subscription channel. Later Set calls are ignored.
func (c *Cell[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
}

func (c *Cell[T]) unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.subs[id]; ok {
		close(ch)
		delete(c.subs, id)
	}
}

// offer performs a latest-wins send on a buffer of one.
// Must be called with the cell lock held.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	// Buffer full: drop the stale value, then send.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
