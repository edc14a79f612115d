package thread

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/threadline/internal/ancestry"
	"github.com/roach88/threadline/internal/fetch"
	"github.com/roach88/threadline/internal/observable"
)

const tracerName = "github.com/roach88/threadline/internal/thread"

// Loader resolves and holds the thread around one subject event.
//
// Thread-safety model:
//   - New, Stop, Wait and every accessor: safe from any goroutine
//   - thread state and the seen-set: written only by the run goroutine
//   - fetch callbacks: only enqueue tasks
type Loader struct {
	ctx     context.Context
	subject *nostr.Event
	relays  []string
	fetcher fetch.Fetcher

	// Subject reference sets, fixed for the loader's lifetime.
	roots   ancestry.Set
	replies ancestry.Set

	root      *observable.Cell[*nostr.Event]
	parent    *observable.Cell[*nostr.Event]
	ancestors *observable.Cell[[]*nostr.Event]
	state     *observable.Cell[Snapshot]
	observers []func(Snapshot)

	queue    *taskQueue
	seen     *seenSet
	quota    *roundQuota
	activity *activity

	batchWindow time.Duration
	maxRounds   int
	logger      *slog.Logger
	tracer      trace.Tracer

	// publishMu orders publication against Stop: once Stop returns, no
	// cell changes again.
	publishMu sync.Mutex
	stopped   atomic.Bool
	stopOnce  sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	errMu sync.Mutex
	err   error
}

// New creates a Loader for subject and starts resolving immediately.
//
// The subject's ancestor identifiers are computed synchronously and the first
// resolve task is queued before New returns. relays is the ordered list of
// source endpoints handed to every fetch. Cancelling ctx stops the loader and
// is passed to every fetch.
//
// Call Stop when the thread is no longer needed.
func New(ctx context.Context, subject *nostr.Event, relays []string, fetcher fetch.Fetcher, opts ...Option) *Loader {
	l := &Loader{
		ctx:         ctx,
		subject:     subject,
		relays:      append([]string(nil), relays...),
		fetcher:     fetcher,
		root:        observable.NewCell[*nostr.Event](nil),
		parent:      observable.NewCell[*nostr.Event](nil),
		ancestors:   observable.NewCell([]*nostr.Event{}),
		state:       observable.NewCell(Snapshot{Ancestors: []*nostr.Event{}}),
		queue:       newTaskQueue(),
		seen:        newSeenSet(),
		activity:    newActivity(),
		batchWindow: DefaultBatchWindow,
		maxRounds:   DefaultMaxRounds,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	l.quota = newRoundQuota(l.maxRounds)
	refs := ancestry.Extract(subject)
	l.roots = refs.RootSet()
	l.replies = refs.ReplySet()

	// A reference cycle must never pull the subject into its own thread.
	l.seen.Add(ancestry.Identifiers(subject)...)

	ids := refs.All()
	l.logger.Info("loader started",
		"subject", l.subjectID(),
		"references", len(ids),
		"relays", len(l.relays),
	)

	l.enqueue(task{kind: taskResolve, ids: ids})
	go l.run()

	return l
}

// Subject returns the subject event.
func (l *Loader) Subject() *nostr.Event {
	return l.subject
}

// Root returns the observable root cell. Root, Parent and Ancestors are
// published one after another; use Snapshot or Subscribe for a consistent
// view of all three. Stop closes every cell's subscriptions.
func (l *Loader) Root() *observable.Cell[*nostr.Event] {
	return l.root
}

// Parent returns the observable parent cell.
func (l *Loader) Parent() *observable.Cell[*nostr.Event] {
	return l.parent
}

// Ancestors returns the observable ancestors cell, sorted by creation time.
func (l *Loader) Ancestors() *observable.Cell[[]*nostr.Event] {
	return l.ancestors
}

// Snapshot returns root, ancestors and parent as published by one merge.
// It is the only view that is atomic across all three.
func (l *Loader) Snapshot() Snapshot {
	return l.state.Get()
}

// Thread returns the non-empty subset of [root, ancestors..., parent].
func (l *Loader) Thread() []*nostr.Event {
	return l.Snapshot().Thread()
}

// Subscribe streams snapshots, starting with the current one. The channel
// closes when ctx is done or the loader stops. Slow readers skip to the newest snapshot.
func (l *Loader) Subscribe(ctx context.Context) <-chan Snapshot {
	return l.state.Subscribe(ctx)
}

// Seen returns the identifiers currently recorded in the seen-set, sorted.
func (l *Loader) Seen() []string {
	return l.seen.Sorted()
}

// Rounds returns the number of fetch rounds issued so far.
func (l *Loader) Rounds() int {
	return l.quota.Current()
}

// Err returns the first diagnostic recorded by the loader, such as a
// RoundsExceededError. Resolution never fails; Err is informational.
func (l *Loader) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// Stopped reports whether Stop has been called.
func (l *Loader) Stopped() bool {
	return l.stopped.Load()
}

// Idle reports whether no task is queued and no fetch is in flight.
func (l *Loader) Idle() bool {
	return l.activity.Count() == 0
}

// Wait blocks until the loader is idle or stopped, or ctx is done.
// A fetch that never completes keeps the loader busy; bound Wait with ctx.
func (l *Loader) Wait(ctx context.Context) error {
	select {
	case <-l.activity.Idle():
		return nil
	case <-l.stopCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop moves the loader to its terminal state. Queued tasks become no-ops and
// later deliveries are dropped. Idempotent.
func (l *Loader) Stop() {
	l.stopOnce.Do(func() {
		l.publishMu.Lock()
		l.stopped.Store(true)
		for _, c := range []interface{ Close() }{l.root, l.parent, l.ancestors, l.state} {
			c.Close()
		}
		l.publishMu.Unlock()

		close(l.stopCh)
		l.queue.Close()
		l.logger.Info("loader stopped",
			"subject", l.subjectID(),
			"rounds", l.quota.Current(),
		)
	})
}

// Done returns a channel closed when the run goroutine has exited.
func (l *Loader) Done() <-chan struct{} {
	return l.done
}

// run is the single-writer loop.
func (l *Loader) run() {
	defer close(l.done)

	for {
		if t, ok := l.queue.TryDequeue(); ok {
			l.process(t)
			l.activity.Release()
			continue
		}

		select {
		case <-l.ctx.Done():
			l.Stop()
			l.drain()
			return

		case <-l.queue.Wait():
			// Closed signal channel fires immediately; exit once drained.
			if l.queue.Drained() {
				return
			}
		}
	}
}

// drain releases the activity held by tasks left in a closed queue.
func (l *Loader) drain() {
	for {
		if _, ok := l.queue.TryDequeue(); !ok {
			return
		}
		l.activity.Release()
	}
}

// process routes one task.
// Called only from the run goroutine.
func (l *Loader) process(t task) {
	if l.stopped.Load() {
		return
	}

	switch t.kind {
	case taskResolve:
		l.resolve(t.ids)
	case taskMerge:
		l.merge(t.round, t.events)
		var next []string
		for _, evt := range t.events {
			next = append(next, ancestry.IDs(evt)...)
		}
		l.enqueue(task{kind: taskResolve, ids: next})
	default:
		l.logger.Error("unknown task kind", "kind", int(t.kind))
	}
}

// resolve issues one fetch for the identifiers not yet seen.
// Called only from the run goroutine.
func (l *Loader) resolve(ids []string) {
	unseen := l.seen.Unseen(ids)
	if len(unseen) == 0 {
		l.logger.Debug("branch resolved", "subject", l.subjectID())
		return
	}

	round, err := l.quota.Check(l.subjectID())
	if err != nil {
		l.logger.Warn("round quota exceeded",
			"subject", l.subjectID(),
			"limit", l.quota.Limit(),
			"dropped", len(unseen),
		)
		l.setErr(err)
		return
	}

	ctx, span := l.tracer.Start(l.ctx, "thread.resolve", trace.WithAttributes(
		attribute.Int("thread.round", round),
		attribute.Int("thread.ids", len(unseen)),
		attribute.StringSlice("thread.relays", l.relays),
	))

	l.logger.Debug("fetching",
		"subject", l.subjectID(),
		"round", round,
		"ids", unseen,
	)

	b := newBatcher(l.batchWindow, func(evts []*nostr.Event) {
		l.enqueue(task{kind: taskMerge, round: round, events: evts})
	})

	l.activity.Acquire()
	l.fetcher.Load(ctx, fetch.Once(fetch.Request{
		Relays:  l.relays,
		Filters: fetch.IDFilters(unseen),
		OnEvent: func(evts []*nostr.Event) {
			if l.stopped.Load() {
				return
			}
			span.AddEvent("delivery", trace.WithAttributes(attribute.Int("thread.events", len(evts))))
			b.Add(evts)
		},
		OnDone: func() {
			b.Close()
			span.End()
			l.activity.Release()
		},
	}))
}

// merge classifies one delivered batch against the subject's reference sets
// and publishes the result.
// Called only from the run goroutine.
func (l *Loader) merge(round int, batch []*nostr.Event) {
	cur := l.state.Get()
	next := cur
	var staged []*nostr.Event
	changed := false

	for _, evt := range batch {
		if evt == nil {
			continue
		}
		ids := ancestry.Identifiers(evt)
		// Already in thread state (or the subject itself): never moved.
		if l.seen.HasAny(ids...) {
			continue
		}

		switch {
		case l.replies.HasAny(ids...):
			if next.Parent != nil {
				l.seen.Remove(ancestry.Identifiers(next.Parent)...)
			}
			next.Parent = evt
		case l.roots.HasAny(ids...):
			if next.Root != nil {
				l.seen.Remove(ancestry.Identifiers(next.Root)...)
			}
			next.Root = evt
		default:
			staged = append(staged, evt)
		}
		l.seen.Add(ids...)
		changed = true
	}

	if !changed {
		l.logger.Debug("batch held nothing new", "round", round, "events", len(batch))
		return
	}

	if len(staged) > 0 {
		next.Ancestors = mergeAncestors(cur.Ancestors, staged)
	}
	next.Version = cur.Version + 1

	l.publishMu.Lock()
	if l.stopped.Load() {
		l.publishMu.Unlock()
		l.logger.Debug("merge discarded after stop", "subject", l.subjectID(), "round", round)
		return
	}
	if next.Root != cur.Root {
		l.root.Set(next.Root)
	}
	if next.Parent != cur.Parent {
		l.parent.Set(next.Parent)
	}
	if len(staged) > 0 {
		l.ancestors.Set(next.Ancestors)
	}
	l.state.Set(next)
	l.publishMu.Unlock()

	l.logger.Debug("merged",
		"subject", l.subjectID(),
		"round", round,
		"events", len(batch),
		"ancestors", len(next.Ancestors),
		"version", next.Version,
	)

	for _, fn := range l.observers {
		fn(next)
	}
}

// enqueue adds a task, tracking it as pending work until processed.
func (l *Loader) enqueue(t task) {
	l.activity.Acquire()
	if !l.queue.Enqueue(t) {
		l.activity.Release()
	}
}

func (l *Loader) setErr(err error) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.err == nil {
		l.err = err
	}
}

func (l *Loader) subjectID() string {
	if l.subject == nil {
		return ""
	}
	return l.subject.ID
}

// activity counts queued tasks plus in-flight fetches.
type activity struct {
	mu   sync.Mutex
	n    int
	idle chan struct{} // closed while n == 0
}

func newActivity() *activity {
	idle := make(chan struct{})
	close(idle)
	return &activity{idle: idle}
}

func (a *activity) Acquire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.n == 0 {
		a.idle = make(chan struct{})
	}
	a.n++
}

func (a *activity) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.n == 0 {
		return
	}
	a.n--
	if a.n == 0 {
		close(a.idle)
	}
}

func (a *activity) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

func (a *activity) Idle() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.idle
}
