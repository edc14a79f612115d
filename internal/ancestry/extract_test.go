package ancestry

import (
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func event(tags ...nostr.Tag) *nostr.Event {
	return &nostr.Event{ID: "subject", Kind: 1, Tags: nostr.Tags(tags)}
}

func TestExtract_NilEvent(t *testing.T) {
	refs := Extract(nil)
	assert.Empty(t, refs.Roots)
	assert.Empty(t, refs.Replies)
	assert.Empty(t, refs.Mentions)
	assert.Empty(t, IDs(nil))
}

func TestExtract_NoTags(t *testing.T) {
	assert.Empty(t, IDs(event()))
}

func TestExtract_Marked(t *testing.T) {
	evt := event(
		nostr.Tag{"e", "r1", "wss://relay.one", "root"},
		nostr.Tag{"e", "m1", "", "mention"},
		nostr.Tag{"e", "p1", "wss://relay.two", "reply"},
		nostr.Tag{"p", "somebody"},
	)

	refs := Extract(evt)
	assert.Equal(t, []string{"r1"}, refs.Roots)
	assert.Equal(t, []string{"p1"}, refs.Replies)
	assert.Equal(t, []string{"m1"}, refs.Mentions)
	assert.Equal(t, []string{"r1", "p1", "m1"}, IDs(evt))
	assert.Equal(t, []string{"wss://relay.one"}, refs.Hints["r1"])
	assert.Equal(t, []string{"wss://relay.one", "wss://relay.two"}, refs.RelayHints())
}

func TestExtract_MarkedWithUnmarkedTagsAreMentions(t *testing.T) {
	evt := event(
		nostr.Tag{"e", "r1", "", "root"},
		nostr.Tag{"e", "x1"},
	)

	refs := Extract(evt)
	assert.Equal(t, []string{"r1"}, refs.Roots)
	assert.Empty(t, refs.Replies)
	assert.Equal(t, []string{"x1"}, refs.Mentions)
}

func TestExtract_MarkerCaseInsensitive(t *testing.T) {
	refs := Extract(event(nostr.Tag{"e", "p1", "", "Reply"}))
	assert.Equal(t, []string{"p1"}, refs.Replies)
}

func TestExtract_PositionalSingle(t *testing.T) {
	refs := Extract(event(nostr.Tag{"e", "only"}))
	assert.Empty(t, refs.Roots)
	assert.Equal(t, []string{"only"}, refs.Replies)
}

func TestExtract_PositionalMany(t *testing.T) {
	evt := event(
		nostr.Tag{"e", "first"},
		nostr.Tag{"e", "middle-1"},
		nostr.Tag{"e", "middle-2"},
		nostr.Tag{"e", "last"},
	)

	refs := Extract(evt)
	assert.Equal(t, []string{"first"}, refs.Roots)
	assert.Equal(t, []string{"last"}, refs.Replies)
	assert.Equal(t, []string{"middle-1", "middle-2"}, refs.Mentions)
	assert.Equal(t, []string{"first", "last", "middle-1", "middle-2"}, IDs(evt))
}

func TestExtract_AddressAndQuoteTags(t *testing.T) {
	evt := event(
		nostr.Tag{"a", "30023:pub:article", "", "root"},
		nostr.Tag{"e", "p1", "", "reply"},
		nostr.Tag{"q", "quoted"},
	)

	refs := Extract(evt)
	assert.Equal(t, []string{"30023:pub:article"}, refs.Roots)
	assert.Equal(t, []string{"p1"}, refs.Replies)
	assert.Equal(t, []string{"quoted"}, refs.Mentions)
}

func TestExtract_DropsEmptyAndShortTags(t *testing.T) {
	evt := event(
		nostr.Tag{"e"},
		nostr.Tag{"e", ""},
		nostr.Tag{"e", "   "},
		nostr.Tag{},
		nostr.Tag{"e", "p1", "", "reply"},
	)

	assert.Equal(t, []string{"p1"}, IDs(evt))
}

func TestExtract_KeepsDuplicates(t *testing.T) {
	evt := event(
		nostr.Tag{"e", "same", "", "root"},
		nostr.Tag{"e", "same", "", "reply"},
	)

	assert.Equal(t, []string{"same", "same"}, IDs(evt))
}

func TestRefsSets(t *testing.T) {
	refs := Extract(event(
		nostr.Tag{"e", "r1", "", "root"},
		nostr.Tag{"e", "p1", "", "reply"},
	))

	assert.True(t, refs.RootSet().Has("r1"))
	assert.False(t, refs.RootSet().Has("p1"))
	assert.True(t, refs.ReplySet().HasAny("nope", "p1"))
}

func TestAddressAndIdentifiers(t *testing.T) {
	article := &nostr.Event{
		ID:     "art",
		Kind:   30023,
		PubKey: "pub",
		Tags:   nostr.Tags{nostr.Tag{"d", "slug"}},
	}
	note := &nostr.Event{ID: "note", Kind: 1}

	assert.Equal(t, "30023:pub:slug", Address(article))
	assert.Equal(t, []string{"art", "30023:pub:slug"}, Identifiers(article))
	assert.Equal(t, "", Address(note))
	assert.Equal(t, []string{"note"}, Identifiers(note))
	assert.Nil(t, Identifiers(nil))
}

func TestParseAddress(t *testing.T) {
	ptr, ok := ParseAddress("30023:pub:with:colons")
	require.True(t, ok)
	assert.Equal(t, 30023, ptr.Kind)
	assert.Equal(t, "pub", ptr.PubKey)
	assert.Equal(t, "with:colons", ptr.Identifier)

	_, ok = ParseAddress(strings.Repeat("a", 64))
	assert.False(t, ok)

	_, ok = ParseAddress("x:pub:d")
	assert.False(t, ok)

	_, ok = ParseAddress("1::d")
	assert.False(t, ok)
}

func TestExtract_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "tags")
		tags := make(nostr.Tags, 0, n)
		want := 0

		for i := 0; i < n; i++ {
			key := rapid.SampledFrom([]string{"e", "a", "q", "p", "t"}).Draw(t, "key")
			value := rapid.StringMatching(`[a-f0-9]{0,3}`).Draw(t, "value")
			marker := rapid.SampledFrom([]string{"", "root", "reply", "mention", "bogus"}).Draw(t, "marker")

			tags = append(tags, nostr.Tag{key, value, "", marker})
			if (key == "e" || key == "a" || key == "q") && value != "" {
				want++
			}
		}

		ids := IDs(&nostr.Event{Tags: tags})

		// Property: every non-empty reference tag yields exactly one id
		if len(ids) != want {
			t.Fatalf("got %d ids, want %d", len(ids), want)
		}
		// Property: no empty identifiers
		for _, id := range ids {
			if id == "" {
				t.Fatalf("empty identifier in %v", ids)
			}
		}
	})
}
