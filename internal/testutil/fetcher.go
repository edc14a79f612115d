package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/roach88/threadline/internal/ancestry"
	"github.com/roach88/threadline/internal/fetch"
)

// ScriptedFetcher is an in-memory fetch.Fetcher over a fixed event set.
//
// In auto mode (the default) every Load delivers all matching events in one
// batch and then completes, synchronously. In held mode Load only records the
// request; the test drives delivery with Deliver and Finish.
//
// Thread-safety: all methods are safe for concurrent use.
type ScriptedFetcher struct {
	mu       sync.Mutex
	events   map[string]*nostr.Event
	held     bool
	requests []*Pending
}

// Pending is one recorded request.
type Pending struct {
	Index  int
	IDs    []string
	Relays []string

	req fetch.Request
}

// NewScriptedFetcher creates an auto-mode fetcher serving evts.
func NewScriptedFetcher(evts ...*nostr.Event) *ScriptedFetcher {
	f := &ScriptedFetcher{events: make(map[string]*nostr.Event)}
	f.Add(evts...)
	return f
}

// Held switches the fetcher to held mode and returns it.
func (f *ScriptedFetcher) Held() *ScriptedFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = true
	return f
}

// Add makes evts available by id and, for addressable events, by address.
func (f *ScriptedFetcher) Add(evts ...*nostr.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, evt := range evts {
		for _, id := range ancestry.Identifiers(evt) {
			f.events[id] = evt
		}
	}
}

// Load implements fetch.Fetcher.
func (f *ScriptedFetcher) Load(_ context.Context, req fetch.Request) {
	ids := FilterIDs(req.Filters)

	f.mu.Lock()
	p := &Pending{
		Index:  len(f.requests),
		IDs:    ids,
		Relays: append([]string(nil), req.Relays...),
		req:    req,
	}
	f.requests = append(f.requests, p)
	held := f.held
	batch := f.lookup(ids)
	f.mu.Unlock()

	if held {
		return
	}
	req.Emit(batch)
	req.Done()
}

// Requests returns the identifiers asked for by each request, in order.
func (f *ScriptedFetcher) Requests() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.requests))
	for i, p := range f.requests {
		out[i] = append([]string(nil), p.IDs...)
	}
	return out
}

// Count returns the number of requests received.
func (f *ScriptedFetcher) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requested reports whether any request asked for id.
func (f *ScriptedFetcher) Requested(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.requests {
		for _, got := range p.IDs {
			if got == id {
				return true
			}
		}
	}
	return false
}

// Deliver sends the known events named by ids to request i as one batch.
// Unknown ids are skipped.
func (f *ScriptedFetcher) Deliver(i int, ids ...string) {
	f.mu.Lock()
	p := f.pending(i)
	batch := f.lookup(ids)
	f.mu.Unlock()

	p.req.Emit(batch)
}

// DeliverEvents sends evts to request i as one batch.
func (f *ScriptedFetcher) DeliverEvents(i int, evts ...*nostr.Event) {
	f.mu.Lock()
	p := f.pending(i)
	f.mu.Unlock()

	p.req.Emit(evts)
}

// Finish completes request i.
func (f *ScriptedFetcher) Finish(i int) {
	f.mu.Lock()
	p := f.pending(i)
	f.mu.Unlock()

	p.req.Done()
}

// Answer delivers every known event request i asked for, then finishes it.
func (f *ScriptedFetcher) Answer(i int) {
	f.mu.Lock()
	p := f.pending(i)
	batch := f.lookup(p.IDs)
	f.mu.Unlock()

	p.req.Emit(batch)
	p.req.Done()
}

func (f *ScriptedFetcher) pending(i int) *Pending {
	if i < 0 || i >= len(f.requests) {
		panic(fmt.Sprintf("ScriptedFetcher: no request %d (have %d)", i, len(f.requests)))
	}
	return f.requests[i]
}

// lookup must be called with f.mu held.
func (f *ScriptedFetcher) lookup(ids []string) []*nostr.Event {
	var out []*nostr.Event
	for _, id := range ids {
		if evt, ok := f.events[id]; ok {
			out = append(out, evt)
		}
	}
	return out
}

// FilterIDs turns filters built by fetch.IDFilters back into identifiers:
// the ids of id filters, then "kind:pubkey:d" for each address filter.
func FilterIDs(filters nostr.Filters) []string {
	var ids []string
	for _, f := range filters {
		ids = append(ids, f.IDs...)
		if len(f.Kinds) == 1 && len(f.Authors) == 1 && len(f.Tags["d"]) == 1 {
			ids = append(ids, fmt.Sprintf("%d:%s:%s", f.Kinds[0], f.Authors[0], f.Tags["d"][0]))
		}
	}
	return ids
}
