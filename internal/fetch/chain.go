package fetch

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// Chain returns a Fetcher that asks each source in turn for whatever the
// previous sources did not deliver. A typical chain puts a local cache ahead
// of the network.
//
// Every event a source delivers is forwarded immediately. OnDone fires once,
// after the last consulted source finishes, when nothing is left to ask for,
// or when ctx is done.
func Chain(sources ...Fetcher) Fetcher {
	return &chain{sources: sources}
}

type chain struct {
	sources []Fetcher
}

func (c *chain) Load(ctx context.Context, req Request) {
	c.step(ctx, Once(req), 0, req.Filters)
}

func (c *chain) step(ctx context.Context, req Request, i int, filters nostr.Filters) {
	if i >= len(c.sources) || len(filters) == 0 || ctx.Err() != nil {
		req.Done()
		return
	}

	var (
		mu  sync.Mutex
		got []*nostr.Event
	)
	c.sources[i].Load(ctx, Once(Request{
		Relays:  req.Relays,
		Filters: filters,
		OnEvent: func(evts []*nostr.Event) {
			mu.Lock()
			got = append(got, evts...)
			mu.Unlock()
			req.Emit(evts)
		},
		OnDone: func() {
			mu.Lock()
			rest := Narrow(filters, got)
			mu.Unlock()
			c.step(ctx, req, i+1, rest)
		},
	}))
}
