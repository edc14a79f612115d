package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/roach88/threadline/internal/ancestry"
	"github.com/roach88/threadline/internal/fetch"
	"github.com/roach88/threadline/internal/testutil"
	"github.com/roach88/threadline/internal/thread"
)

// SettleTimeout bounds how long a scenario may take to go quiet.
var SettleTimeout = 5 * time.Second

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Build the event graph and subject with a deterministic clock
// 2. Start a loader against the in-memory relay, batch window zero
// 3. Wait until the loader is idle or stopped, then stop it and let it drain
// 4. Evaluate assertions against the final snapshot and trace
func Run(scenario *Scenario) (*Result, error) {
	clock := testutil.NewClock()

	events := make([]*nostr.Event, 0, len(scenario.Events))
	for _, spec := range scenario.Events {
		events = append(events, spec.build(clock))
	}
	subject := scenario.Subject.build(clock)

	relays := scenario.Relays
	if len(relays) == 0 {
		relays = DefaultRelays
	}

	rec := &recorder{}
	relay := newMemoryRelay(events, scenario.Delivery, rec)

	opts := []thread.Option{
		thread.WithBatchWindow(0),
		thread.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		thread.WithObserver(func(s thread.Snapshot) {
			rec.add(TraceEvent{Type: TraceMerge, IDs: s.IDs(), Version: s.Version})
		}),
	}
	if scenario.MaxRounds > 0 {
		opts = append(opts, thread.WithMaxRounds(scenario.MaxRounds))
	}

	ctx := context.Background()
	loader := thread.New(ctx, subject, relays, relay, opts...)
	relay.setStop(loader.Stop)

	waitCtx, cancel := context.WithTimeout(ctx, SettleTimeout)
	defer cancel()
	if err := loader.Wait(waitCtx); err != nil {
		loader.Stop()
		return nil, fmt.Errorf("scenario %s did not settle: %w", scenario.Name, err)
	}
	loader.Stop()
	select {
	case <-loader.Done():
	case <-waitCtx.Done():
		return nil, fmt.Errorf("scenario %s did not drain: %w", scenario.Name, waitCtx.Err())
	}

	result := NewResult()
	result.Trace = rec.events()
	result.Final = loader.Snapshot()
	result.Rounds = loader.Rounds()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// recorder numbers trace events as they happen.
type recorder struct {
	mu    sync.Mutex
	seq   int
	trace []TraceEvent
}

func (r *recorder) add(ev TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ev.Seq = r.seq
	r.trace = append(r.trace, ev)
}

func (r *recorder) events() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceEvent(nil), r.trace...)
}

// memoryRelay answers every request synchronously from a fixed event set.
// Because the loader calls Load from its own goroutine, the whole run is
// sequential and its trace deterministic.
type memoryRelay struct {
	byID     map[string]*nostr.Event
	delivery Delivery
	rec      *recorder

	// stop is set once the loader exists; ready is closed after.
	stop  func()
	ready chan struct{}

	mu     sync.Mutex
	rounds int
}

func newMemoryRelay(events []*nostr.Event, delivery Delivery, rec *recorder) *memoryRelay {
	byID := make(map[string]*nostr.Event, len(events))
	for _, evt := range events {
		for _, id := range ancestry.Identifiers(evt) {
			byID[id] = evt
		}
	}
	return &memoryRelay{byID: byID, delivery: delivery, rec: rec, ready: make(chan struct{})}
}

func (m *memoryRelay) setStop(fn func()) {
	m.stop = fn
	close(m.ready)
}

// Load implements fetch.Fetcher.
func (m *memoryRelay) Load(_ context.Context, req fetch.Request) {
	ids := testutil.FilterIDs(req.Filters)

	m.mu.Lock()
	m.rounds++
	round := m.rounds
	m.mu.Unlock()

	m.rec.add(TraceEvent{Type: TraceRequest, Round: round, IDs: ids})

	if limit := m.delivery.StopAfterRounds; limit > 0 && round > limit {
		m.rec.add(TraceEvent{Type: TraceStop})
		<-m.ready
		m.stop()
		if m.delivery.LateDelivery {
			m.answer(round, ids, req)
		}
		req.Done()
		m.rec.add(TraceEvent{Type: TraceDone, Round: round})
		return
	}

	m.answer(round, ids, req)
	req.Done()
	m.rec.add(TraceEvent{Type: TraceDone, Round: round})
}

func (m *memoryRelay) answer(round int, ids []string, req fetch.Request) {
	var matches []*nostr.Event
	for _, id := range ids {
		if evt, ok := m.byID[id]; ok {
			matches = append(matches, evt)
		}
	}
	if len(matches) == 0 {
		return
	}

	batches := [][]*nostr.Event{matches}
	if m.delivery.Split {
		batches = batches[:0]
		for _, evt := range matches {
			batches = append(batches, []*nostr.Event{evt})
		}
	}

	for _, batch := range batches {
		copies := 1
		if m.delivery.Duplicates {
			copies = 2
		}
		for i := 0; i < copies; i++ {
			m.rec.add(TraceEvent{Type: TraceDeliver, Round: round, IDs: testutil.IDs(batch)})
			req.Emit(batch)
		}
	}
}
