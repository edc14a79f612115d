package store

import (
	"context"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"

	"github.com/roach88/threadline/internal/fetch"
)

// Source serves fetch requests from the local cache. Place it ahead of the
// relay pool with fetch.Chain.
type Source struct {
	store  *Store
	logger *slog.Logger
}

// NewSource returns a fetch.Fetcher reading from s.
func NewSource(s *Store, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{store: s, logger: logger}
}

// Load implements fetch.Fetcher. Read errors are logged and treated as a miss.
func (src *Source) Load(ctx context.Context, req fetch.Request) {
	go func() {
		defer req.Done()

		evts, err := src.store.Query(ctx, req.Filters)
		if err != nil {
			src.logger.Warn("cache read failed", "error", err)
			return
		}
		src.logger.Debug("cache lookup", "filters", len(req.Filters), "hits", len(evts))
		req.Emit(evts)
	}()
}

// Recorder wraps a Fetcher and writes every delivered event to the cache
// before passing it on.
type Recorder struct {
	store  *Store
	inner  fetch.Fetcher
	logger *slog.Logger
}

// NewRecorder returns a write-through wrapper around inner.
func NewRecorder(s *Store, inner fetch.Fetcher, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: s, inner: inner, logger: logger}
}

// Load implements fetch.Fetcher. Write errors are logged; delivery continues.
func (r *Recorder) Load(ctx context.Context, req fetch.Request) {
	wrapped := req
	wrapped.OnEvent = func(evts []*nostr.Event) {
		if err := r.store.WriteEvents(context.WithoutCancel(ctx), evts); err != nil {
			r.logger.Warn("cache write failed", "events", len(evts), "error", err)
		}
		req.Emit(evts)
	}
	r.inner.Load(ctx, wrapped)
}
