package thread

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Loader.
type Option func(*Loader)

// WithBatchWindow sets how long deliveries are coalesced before a merge.
//
// Default: 300ms (DefaultBatchWindow). Zero merges every delivery as it
// arrives, which tests use for deterministic traces.
func WithBatchWindow(d time.Duration) Option {
	return func(l *Loader) {
		l.batchWindow = d
	}
}

// WithMaxRounds bounds the number of fetch rounds. Zero disables the limit.
func WithMaxRounds(n int) Option {
	return func(l *Loader) {
		l.maxRounds = n
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTracer sets the tracer used for per-round spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(l *Loader) {
		if tracer != nil {
			l.tracer = tracer
		}
	}
}

// WithObserver registers fn to run on the loader goroutine after every
// published merge. fn must not block or call back into the loader.
func WithObserver(fn func(Snapshot)) Option {
	return func(l *Loader) {
		l.observers = append(l.observers, fn)
	}
}
