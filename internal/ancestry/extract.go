package ancestry

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// Reference markers (4th tag element).
const (
	MarkerRoot    = "root"
	MarkerReply   = "reply"
	MarkerMention = "mention"
)

// Refs holds the identifiers an event references, grouped by role.
// Duplicates are preserved; callers de-duplicate.
type Refs struct {
	Roots    []string `json:"roots"`
	Replies  []string `json:"replies"`
	Mentions []string `json:"mentions"`

	// Hints maps an identifier to the relay hints found next to it.
	Hints map[string][]string `json:"hints,omitempty"`
}

// All returns roots, replies and mentions concatenated in that order.
func (r Refs) All() []string {
	all := make([]string, 0, len(r.Roots)+len(r.Replies)+len(r.Mentions))
	all = append(all, r.Roots...)
	all = append(all, r.Replies...)
	all = append(all, r.Mentions...)
	return all
}

// RootSet returns the root identifiers as a set.
func (r Refs) RootSet() Set {
	return NewSet(r.Roots...)
}

// ReplySet returns the reply identifiers as a set.
func (r Refs) ReplySet() Set {
	return NewSet(r.Replies...)
}

// RelayHints returns every relay hint carried by the reference tags, in tag order.
func (r Refs) RelayHints() []string {
	var hints []string
	for _, id := range r.All() {
		hints = append(hints, r.Hints[id]...)
	}
	return hints
}

// IDs returns the ancestor identifiers of evt: roots, then replies, then
// mentions, including duplicates.
func IDs(evt *nostr.Event) []string {
	return Extract(evt).All()
}

// reference is one parsed "e", "a" or "q" tag.
type reference struct {
	key    string
	value  string
	relay  string
	marker string
}

// Extract parses the reference tags of evt.
// A nil event yields empty Refs.
func Extract(evt *nostr.Event) Refs {
	refs := Refs{
		Roots:    []string{},
		Replies:  []string{},
		Mentions: []string{},
		Hints:    map[string][]string{},
	}
	if evt == nil {
		return refs
	}

	var chain []reference
	var quotes []reference
	marked := false

	for _, tag := range evt.Tags {
		ref, ok := parseReference(tag)
		if !ok {
			continue
		}
		if ref.relay != "" {
			refs.Hints[ref.value] = append(refs.Hints[ref.value], ref.relay)
		}
		if ref.key == "q" {
			quotes = append(quotes, ref)
			continue
		}
		if ref.marker != "" {
			marked = true
		}
		chain = append(chain, ref)
	}

	if marked {
		for _, ref := range chain {
			switch ref.marker {
			case MarkerRoot:
				refs.Roots = append(refs.Roots, ref.value)
			case MarkerReply:
				refs.Replies = append(refs.Replies, ref.value)
			default:
				refs.Mentions = append(refs.Mentions, ref.value)
			}
		}
	} else {
		switch len(chain) {
		case 0:
		case 1:
			refs.Replies = append(refs.Replies, chain[0].value)
		default:
			refs.Roots = append(refs.Roots, chain[0].value)
			for _, ref := range chain[1 : len(chain)-1] {
				refs.Mentions = append(refs.Mentions, ref.value)
			}
			refs.Replies = append(refs.Replies, chain[len(chain)-1].value)
		}
	}

	for _, ref := range quotes {
		refs.Mentions = append(refs.Mentions, ref.value)
	}

	return refs
}

// parseReference reads an "e", "a" or "q" tag. Tags with an empty value are skipped.
func parseReference(tag nostr.Tag) (reference, bool) {
	if len(tag) < 2 {
		return reference{}, false
	}
	key := tag[0]
	if key != "e" && key != "a" && key != "q" {
		return reference{}, false
	}
	value := strings.TrimSpace(tag[1])
	if value == "" {
		return reference{}, false
	}

	ref := reference{key: key, value: value}
	if len(tag) > 2 {
		ref.relay = strings.TrimSpace(tag[2])
	}
	if len(tag) > 3 {
		switch m := strings.ToLower(strings.TrimSpace(tag[3])); m {
		case MarkerRoot, MarkerReply, MarkerMention:
			ref.marker = m
		}
	}
	return ref, true
}

// IsAddressable reports whether kind is in the addressable range.
func IsAddressable(kind int) bool {
	return kind >= 30000 && kind < 40000
}

// Address returns the "kind:pubkey:d" address of an addressable event, or ""
// for any other event.
func Address(evt *nostr.Event) string {
	if evt == nil || !IsAddressable(evt.Kind) {
		return ""
	}
	return fmt.Sprintf("%d:%s:%s", evt.Kind, evt.PubKey, dTag(evt))
}

// Identifiers returns every identifier evt answers to: its id and, for
// addressable events, its address.
func Identifiers(evt *nostr.Event) []string {
	if evt == nil {
		return nil
	}
	ids := make([]string, 0, 2)
	if evt.ID != "" {
		ids = append(ids, evt.ID)
	}
	if addr := Address(evt); addr != "" {
		ids = append(ids, addr)
	}
	return ids
}

func dTag(evt *nostr.Event) string {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "d" {
			return tag[1]
		}
	}
	return ""
}
