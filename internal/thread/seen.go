package thread

import (
	"sort"
	"sync"
)

// seenSet tracks every identifier currently present in thread state.
//
// Only the run loop writes to it. Reads from other goroutines (Seen, tests)
// go through the mutex.
type seenSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{ids: make(map[string]struct{})}
}

// Add records ids. Empty identifiers are ignored.
func (s *seenSet) Add(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if id != "" {
			s.ids[id] = struct{}{}
		}
	}
}

// Remove forgets ids.
func (s *seenSet) Remove(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.ids, id)
	}
}

// HasAny reports whether any of ids has been seen.
func (s *seenSet) HasAny(ids ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.ids[id]; ok {
			return true
		}
	}
	return false
}

// Unseen returns ids that are non-empty and not yet seen, de-duplicated in
// first-occurrence order.
func (s *seenSet) Unseen(ids []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(ids))
	picked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.ids[id]; ok {
			continue
		}
		if _, ok := picked[id]; ok {
			continue
		}
		picked[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Len returns the number of identifiers recorded.
func (s *seenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Sorted returns the recorded identifiers in lexical order.
func (s *seenSet) Sorted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
