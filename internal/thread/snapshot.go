package thread

import (
	"cmp"
	"slices"

	"github.com/nbd-wtf/go-nostr"
)

// Snapshot is a consistent view of thread state after one merge.
type Snapshot struct {
	Root      *nostr.Event
	Parent    *nostr.Event
	Ancestors []*nostr.Event

	// Version counts published merges.
	Version uint64
}

// Thread returns the non-empty subset of [root, ancestors..., parent].
func (s Snapshot) Thread() []*nostr.Event {
	out := make([]*nostr.Event, 0, len(s.Ancestors)+2)
	if s.Root != nil {
		out = append(out, s.Root)
	}
	out = append(out, s.Ancestors...)
	if s.Parent != nil {
		out = append(out, s.Parent)
	}
	return out
}

// IDs returns the event ids of Thread in order.
func (s Snapshot) IDs() []string {
	thread := s.Thread()
	ids := make([]string, len(thread))
	for i, evt := range thread {
		ids[i] = evt.ID
	}
	return ids
}

// mergeAncestors unions staged into existing, keeping existing entries on
// id collisions, and sorts by creation time ascending with id as tie-break.
// existing is never modified.
func mergeAncestors(existing, staged []*nostr.Event) []*nostr.Event {
	out := make([]*nostr.Event, 0, len(existing)+len(staged))
	have := make(map[string]struct{}, len(existing)+len(staged))

	for _, evt := range existing {
		have[evt.ID] = struct{}{}
		out = append(out, evt)
	}
	for _, evt := range staged {
		if _, dup := have[evt.ID]; dup {
			continue
		}
		have[evt.ID] = struct{}{}
		out = append(out, evt)
	}

	slices.SortStableFunc(out, compareAncestors)
	return out
}

func compareAncestors(a, b *nostr.Event) int {
	if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
