package ancestry

import (
	"strconv"
	"strings"
)

// Set is a set of identifiers.
type Set map[string]struct{}

// NewSet builds a set from ids, skipping empty strings.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Has reports whether id is in the set.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// HasAny reports whether any of ids is in the set.
func (s Set) HasAny(ids ...string) bool {
	for _, id := range ids {
		if s.Has(id) {
			return true
		}
	}
	return false
}

// Pointer is a parsed "kind:pubkey:d" address.
type Pointer struct {
	Kind       int
	PubKey     string
	Identifier string
}

// ParseAddress splits an address reference. ok is false for plain event ids
// and for malformed addresses.
func ParseAddress(ref string) (Pointer, bool) {
	parts := strings.SplitN(ref, ":", 3)
	if len(parts) != 3 {
		return Pointer{}, false
	}
	kind, err := strconv.Atoi(parts[0])
	if err != nil || kind < 0 || parts[1] == "" {
		return Pointer{}, false
	}
	return Pointer{Kind: kind, PubKey: parts[1], Identifier: parts[2]}, true
}
