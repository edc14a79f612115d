package fetch

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/roach88/threadline/internal/ancestry"
)

// IDFilters builds filters selecting events by identifier.
//
// Plain event ids share one "ids" filter, placed first. Each "kind:pubkey:d"
// address gets its own filter on kind, author and d tag. Empty and repeated
// identifiers are skipped. No identifiers yields an empty (non-nil) slice.
func IDFilters(ids []string) nostr.Filters {
	filters := nostr.Filters{}
	seen := make(map[string]struct{}, len(ids))
	var plain []string

	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if ptr, ok := ancestry.ParseAddress(id); ok {
			filters = append(filters, nostr.Filter{
				Kinds:   []int{ptr.Kind},
				Authors: []string{ptr.PubKey},
				Tags:    nostr.TagMap{"d": []string{ptr.Identifier}},
			})
			continue
		}
		plain = append(plain, id)
	}

	if len(plain) > 0 {
		filters = append(nostr.Filters{{IDs: plain}}, filters...)
	}
	return filters
}

// Narrow returns the part of filters still unanswered after delivered.
// Ids that were delivered are removed from id filters. Other filters are
// dropped once any delivered event matches them.
func Narrow(filters nostr.Filters, delivered []*nostr.Event) nostr.Filters {
	if len(delivered) == 0 {
		return filters
	}

	found := make(map[string]struct{}, len(delivered))
	for _, evt := range delivered {
		found[evt.ID] = struct{}{}
	}

	rest := nostr.Filters{}
	for _, f := range filters {
		if len(f.IDs) > 0 {
			var missing []string
			for _, id := range f.IDs {
				if _, ok := found[id]; !ok {
					missing = append(missing, id)
				}
			}
			if len(missing) == 0 {
				continue
			}
			f.IDs = missing
			rest = append(rest, f)
			continue
		}

		matched := false
		for _, evt := range delivered {
			if f.Matches(evt) {
				matched = true
				break
			}
		}
		if !matched {
			rest = append(rest, f)
		}
	}
	return rest
}
