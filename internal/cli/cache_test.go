package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threadline/internal/store"
	"github.com/roach88/threadline/internal/testutil"
)

// seedCache writes evts with the given stored_at time.
func seedCache(t *testing.T, path string, at time.Time, evts ...*nostr.Event) {
	t.Helper()
	st, err := store.Open(path, store.WithNow(func() time.Time { return at }))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.WriteEvents(context.Background(), evts))
}

func executeCache(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewCacheCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCacheStats_Text(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	seedCache(t, path, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		testutil.Note("n1", 1),
		testutil.Article("a1", "pk", "post", 2),
	)

	out, err := executeCache(t, &RootOptions{Format: "text"}, "stats", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "events:      2")
	assert.Contains(t, out, "addressable: 1")
	assert.Contains(t, out, "oldest:      2024-01-02T03:04:05Z")
}

func TestCacheStats_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	seedCache(t, path, time.Now(), testutil.Note("n1", 1))

	out, err := executeCache(t, &RootOptions{Format: "json"}, "stats", "--path", path)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   store.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Events)
}

func TestCacheStats_FromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	seedCache(t, path, time.Now(), testutil.Note("n1", 1))
	cfg := writeConfig(t, []string{"wss://relay.example.com"}, "\n[cache]\npath = \""+filepath.ToSlash(path)+"\"\n")

	out, err := executeCache(t, &RootOptions{Format: "text", ConfigPath: cfg}, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "events:      1")
}

func TestCache_NotConfigured(t *testing.T) {
	cfg := writeConfig(t, []string{"wss://relay.example.com"}, "")

	_, err := executeCache(t, &RootOptions{Format: "text", ConfigPath: cfg}, "stats")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no cache configured")
}

func TestCachePrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	seedCache(t, path, time.Now().Add(-48*time.Hour), testutil.Note("old1", 1), testutil.Note("old2", 2))
	seedCache(t, path, time.Now(), testutil.Note("fresh", 3))

	out, err := executeCache(t, &RootOptions{Format: "text"}, "prune", "--path", path, "--older-than", "24h")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Removed 2 events")

	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Events)
}

func TestCachePrune_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	seedCache(t, path, time.Now().Add(-time.Hour), testutil.Note("n1", 1))

	out, err := executeCache(t, &RootOptions{Format: "json"}, "prune", "--path", path, "--older-than", "1m")
	require.NoError(t, err)

	var resp struct {
		Data PruneResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.EqualValues(t, 1, resp.Data.Removed)
	assert.Equal(t, path, resp.Data.Path)
}

func TestCachePrune_NegativeAge(t *testing.T) {
	_, err := executeCache(t, &RootOptions{Format: "text"}, "prune", "--path", "x.db", "--older-than=-1h")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
