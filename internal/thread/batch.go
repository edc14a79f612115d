package thread

import (
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// DefaultBatchWindow is how long deliveries are coalesced before merging.
const DefaultBatchWindow = 300 * time.Millisecond

// batcher coalesces event deliveries arriving within a window into one
// flush. The window starts at the first pending event. A window of zero
// flushes every non-empty delivery immediately.
type batcher struct {
	mu      sync.Mutex
	window  time.Duration
	pending []*nostr.Event
	timer   *time.Timer
	flush   func([]*nostr.Event)
}

func newBatcher(window time.Duration, flush func([]*nostr.Event)) *batcher {
	return &batcher{window: window, flush: flush}
}

// Add queues evts for the next flush.
func (b *batcher) Add(evts []*nostr.Event) {
	if len(evts) == 0 {
		return
	}
	if b.window <= 0 {
		b.flush(append([]*nostr.Event(nil), evts...))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, evts...)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.fire)
	}
}

// Close stops the timer and flushes anything pending.
func (b *batcher) Close() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.drain()
	b.mu.Unlock()
}

func (b *batcher) fire() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timer = nil
	b.drain()
}

// drain flushes pending events. Must be called with b.mu held, so a Close
// racing a timer flush returns only after that flush is handed off.
func (b *batcher) drain() {
	batch := b.pending
	b.pending = nil
	if len(batch) > 0 {
		b.flush(batch)
	}
}
