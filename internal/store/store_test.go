package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threadline/internal/fetch"
	"github.com/roach88/threadline/internal/testutil"
)

// createTestStore opens a fresh store in a temp dir with a fixed clock.
func createTestStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithNow(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var epoch = time.Unix(1700000000, 0).UTC()

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='events'").Scan(&name)
	if err != nil {
		t.Errorf("events table not found after idempotent opens: %v", err)
	}
}

func TestOpen_PragmasAndVersion(t *testing.T) {
	s := createTestStore(t, epoch)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}

	var name string
	err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_events_stored_at'").Scan(&name)
	if err != nil {
		t.Errorf("migration index missing: %v", err)
	}
}

func TestWriteEvent_Idempotent(t *testing.T) {
	s := createTestStore(t, epoch)
	ctx := context.Background()
	evt := testutil.Note("e1", 10, testutil.Root("r"))

	require.NoError(t, s.WriteEvent(ctx, evt))
	require.NoError(t, s.WriteEvent(ctx, evt))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Events)
}

func TestWriteEvents_SkipsNilAndEmpty(t *testing.T) {
	s := createTestStore(t, epoch)
	ctx := context.Background()

	require.NoError(t, s.WriteEvents(ctx, nil))
	require.NoError(t, s.WriteEvents(ctx, []*nostr.Event{nil, {ID: ""}, testutil.Note("e1", 1)}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Events)
}

func TestReadEvents_RoundTripAndOrder(t *testing.T) {
	s := createTestStore(t, epoch)
	ctx := context.Background()

	original := testutil.Note("b", 10, testutil.Root("r"), testutil.Reply("p"))
	require.NoError(t, s.WriteEvents(ctx, []*nostr.Event{
		testutil.Note("c", 5),
		original,
		testutil.Note("a", 10),
	}))

	got, err := s.ReadEvents(ctx, []string{"b", "missing", "a", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, testutil.IDs(got))

	b := got[2]
	assert.Equal(t, original.PubKey, b.PubKey)
	assert.Equal(t, original.CreatedAt, b.CreatedAt)
	assert.Equal(t, original.Kind, b.Kind)
	assert.Equal(t, original.Tags, b.Tags)
	assert.Equal(t, original.Content, b.Content)
}

func TestReadEvents_Empty(t *testing.T) {
	s := createTestStore(t, epoch)

	got, err := s.ReadEvents(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got, err = s.ReadEvents(context.Background(), []string{"nope"})
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestReadByAddress_NewestWins(t *testing.T) {
	s := createTestStore(t, epoch)
	ctx := context.Background()

	require.NoError(t, s.WriteEvents(ctx, []*nostr.Event{
		testutil.Article("v1", "pub", "slug", 10),
		testutil.Article("v2", "pub", "slug", 20),
		testutil.Article("other", "pub", "other", 30),
	}))

	evt, err := s.ReadByAddress(ctx, "30023:pub:slug")
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, "v2", evt.ID)

	evt, err = s.ReadByAddress(ctx, "30023:pub:missing")
	require.NoError(t, err)
	assert.Nil(t, evt)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Addressable)
}

func TestQuery_IDAndAddressFilters(t *testing.T) {
	s := createTestStore(t, epoch)
	ctx := context.Background()

	require.NoError(t, s.WriteEvents(ctx, []*nostr.Event{
		testutil.Note("e1", 10),
		testutil.Note("e2", 20),
		testutil.Article("art", "pub", "slug", 30),
	}))

	got, err := s.Query(ctx, fetch.IDFilters([]string{"e2", "30023:pub:slug", "e1", "absent"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2", "art"}, testutil.IDs(got))

	got, err = s.Query(ctx, nostr.Filters{{Kinds: []int{1}}})
	require.NoError(t, err)
	assert.Empty(t, got, "non-identifier filters are not served")
}

func TestStatsAndPrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	now := epoch
	s, err := Open(path, WithNow(func() time.Time { return now }))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)

	require.NoError(t, s.WriteEvent(ctx, testutil.Note("old", 1)))
	now = epoch.Add(time.Hour)
	require.NoError(t, s.WriteEvent(ctx, testutil.Note("new", 2)))

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Events)
	assert.Equal(t, epoch, st.Oldest)
	assert.Equal(t, epoch.Add(time.Hour), st.Newest)

	n, err := s.Prune(ctx, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.ReadEvents(ctx, []string{"old", "new"})
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, testutil.IDs(got))
}
