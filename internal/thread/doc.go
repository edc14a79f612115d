// Package thread resolves the conversation around a subject event.
//
// A Loader starts from one subject event, extracts the identifiers it
// references, fetches those events and classifies each one against the
// subject's own reference sets: reply references become the parent, root
// references become the root, everything else is a generic ancestor. Every
// fetched event's references are resolved in turn until a round discovers
// nothing new.
//
// ARCHITECTURE:
//
// Single-Writer Task Loop:
// All state mutation happens on the loader's run goroutine. Fetch callbacks
// only enqueue tasks; the run goroutine dequeues them one at a time. There are
// two task kinds:
//
//  1. resolve: filter identifiers against the seen-set and issue one fetch
//  2. merge: classify a delivered batch, publish the new state, then enqueue
//     a resolve for the batch's own references
//
// Recursion depth is therefore bounded by the queue, not the call stack.
//
// Seen-Set:
// Every identifier present in thread state is recorded in an owned set,
// updated together with the state. The subject's identifiers are pre-seeded.
// Identifiers that were requested but never delivered are not recorded, so a
// later reference to them triggers another request.
//
// Observability:
// Root, Parent and Ancestors are observable cells. Snapshot returns all three
// from one merge. Subscribe streams snapshots.
//
// Stop:
// Stop is level-triggered. Tasks check the stopped flag before running, and
// deliveries arriving after Stop are dropped. In-flight requests are not
// aborted; cancel the context passed to New for that.
package thread
