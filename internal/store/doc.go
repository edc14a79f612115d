// Package store provides a SQLite-backed local cache of relay events.
//
// The cache holds raw events keyed by id, with the address of addressable
// events alongside so "kind:pubkey:d" references resolve locally. It is
// consulted ahead of the relay pool (Source) and filled from it (Recorder).
// Thread state is never stored here; only the events it is built from.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Reads are ordered by created_at ASC, id ASC COLLATE BINARY so results are
// identical across runs.
package store
