// Package testutil provides event builders, a scripted fetcher and a clock
// for deterministic tests.
package testutil

import (
	"github.com/nbd-wtf/go-nostr"
)

// Note builds a kind-1 event.
func Note(id string, createdAt nostr.Timestamp, tags ...nostr.Tag) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		PubKey:    "pub-" + id,
		CreatedAt: createdAt,
		Kind:      nostr.KindTextNote,
		Tags:      nostr.Tags(tags),
		Content:   "note " + id,
	}
}

// Article builds an addressable long-form event answering to
// "30023:<pubkey>:<d>".
func Article(id, pubkey, d string, createdAt nostr.Timestamp, tags ...nostr.Tag) *nostr.Event {
	all := append(nostr.Tags{{"d", d}}, tags...)
	return &nostr.Event{
		ID:        id,
		PubKey:    pubkey,
		CreatedAt: createdAt,
		Kind:      30023,
		Tags:      all,
	}
}

// Root is a marked root reference.
func Root(id string) nostr.Tag {
	return nostr.Tag{"e", id, "", "root"}
}

// Reply is a marked reply reference.
func Reply(id string) nostr.Tag {
	return nostr.Tag{"e", id, "", "reply"}
}

// Mention is a marked mention reference.
func Mention(id string) nostr.Tag {
	return nostr.Tag{"e", id, "", "mention"}
}

// E is an unmarked (positional) event reference.
func E(id string) nostr.Tag {
	return nostr.Tag{"e", id}
}

// A is a marked address reference.
func A(address, marker string) nostr.Tag {
	return nostr.Tag{"a", address, "", marker}
}

// IDs returns the ids of evts in order.
func IDs(evts []*nostr.Event) []string {
	ids := make([]string, len(evts))
	for i, evt := range evts {
		ids[i] = evt.ID
	}
	return ids
}
