// Package fetch defines the asynchronous event fetch primitive consumed by the
// thread loader, plus helpers to build identifier filters and compose sources.
//
// A Fetcher delivers matching events through Request.OnEvent, zero or more
// times, and signals completion through Request.OnDone exactly once. Load must
// not block on the network: implementations dispatch the work and return.
// Fetchers perform no de-duplication against caller state.
package fetch

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// Request describes one fetch.
type Request struct {
	// Relays is the ordered list of source endpoints to query.
	Relays []string

	// Filters select the events to deliver.
	Filters nostr.Filters

	// OnEvent receives non-empty batches of matching events. It may be called
	// from any goroutine.
	OnEvent func([]*nostr.Event)

	// OnDone is called once after the last OnEvent call, when every source has
	// finished, failed or timed out.
	OnDone func()
}

// Emit delivers evts to OnEvent. Empty batches and nil callbacks are ignored.
func (r Request) Emit(evts []*nostr.Event) {
	if len(evts) == 0 || r.OnEvent == nil {
		return
	}
	r.OnEvent(evts)
}

// Done calls OnDone if set.
func (r Request) Done() {
	if r.OnDone != nil {
		r.OnDone()
	}
}

// Fetcher is the fetch primitive.
type Fetcher interface {
	Load(ctx context.Context, req Request)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req Request)

// Load calls f(ctx, req).
func (f FetcherFunc) Load(ctx context.Context, req Request) {
	f(ctx, req)
}

// Once wraps req so that OnDone runs at most once and OnEvent is ignored after
// OnDone.
func Once(req Request) Request {
	var (
		mu   sync.Mutex
		done bool
	)
	out := req
	out.OnEvent = func(evts []*nostr.Event) {
		mu.Lock()
		finished := done
		mu.Unlock()
		if !finished {
			req.Emit(evts)
		}
	}
	out.OnDone = func() {
		mu.Lock()
		if done {
			mu.Unlock()
			return
		}
		done = true
		mu.Unlock()
		req.Done()
	}
	return out
}
