// Package harness runs thread resolution scenarios described in YAML.
//
// A scenario declares an event graph, a subject event that references into
// it, and how the in-memory relay should answer. The harness runs a real
// thread.Loader against that relay with a zero batch window, so every
// request, delivery and merge happens on the loader goroutine in a fixed
// order, and records them as a trace.
//
// # Scenario Format
//
//	name: parent_and_root_in_one_batch
//	description: "Root and parent arrive together"
//	events:
//	  - id: R
//	    created_at: 10
//	  - id: P
//	    created_at: 20
//	    tags: [["e", "R", "", "root"]]
//	subject:
//	  id: S
//	  tags: [["e", "R", "", "root"], ["e", "P", "", "reply"]]
//	delivery:
//	  split: false          # one batch per event
//	  duplicates: false     # deliver every batch twice
//	  stop_after_rounds: 0  # stop when request N+1 is issued
//	  late_delivery: false  # still answer the request that triggered the stop
//	assertions:
//	  - type: root
//	    id: R
//	  - type: request_count
//	    count: 1
//
// # Assertion Types
//
//   - root, parent: the slot holds the event with id, or is empty (absent: true)
//   - ancestors: the ancestor list equals ids, in order
//   - thread_order: root, ancestors and parent read as ids
//   - request_count: the relay saw exactly count requests
//   - never_requested: no request named id
//
// Events without created_at are stamped from a testutil.Clock in declaration
// order, so traces stay identical across runs for golden comparison.
package harness
