package harness

import (
	"github.com/roach88/threadline/internal/thread"
)

// Trace event types.
const (
	TraceRequest = "request"
	TraceDeliver = "deliver"
	TraceDone    = "done"
	TraceMerge   = "merge"
	TraceStop    = "stop"
)

// TraceEvent is one step of a run, in the order it happened.
type TraceEvent struct {
	Type    string   `json:"type"`
	Seq     int      `json:"seq"`
	Round   int      `json:"round,omitempty"`
	IDs     []string `json:"ids,omitempty"`
	Version uint64   `json:"version,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds requests, deliveries and merges in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final is the loader state once the run settled.
	Final thread.Snapshot `json:"-"`

	// Rounds is the number of fetch rounds the loader issued.
	Rounds int `json:"rounds"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Requests returns the request events of the trace.
func (r *Result) Requests() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == TraceRequest {
			out = append(out, ev)
		}
	}
	return out
}
