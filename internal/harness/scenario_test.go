package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threadline/internal/testutil"
)

const minimalYAML = `
name: minimal
description: one reply
events:
  - id: P
subject:
  id: S
  tags:
    - [e, P]
assertions:
  - type: parent
    id: P
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Events, 1)
	assert.Equal(t, "P", s.Events[0].ID)
	assert.Equal(t, [][]string{{"e", "P"}}, s.Subject.Tags)
	assert.Empty(t, s.Relays)
	assert.Equal(t, Delivery{}, s.Delivery)
}

func TestParseScenario_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: minimalYAML + "\nflow: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: "description: d\nsubject: {id: S}\nassertions: [{type: root, absent: true}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nsubject: {id: S}\nassertions: [{type: root, absent: true}]\n",
			want: "description is required",
		},
		{
			name: "missing subject",
			yaml: "name: n\ndescription: d\nassertions: [{type: root, absent: true}]\n",
			want: "subject.id is required",
		},
		{
			name: "no assertions",
			yaml: "name: n\ndescription: d\nsubject: {id: S}\n",
			want: "assertions list is required",
		},
		{
			name: "duplicate event id",
			yaml: "name: n\ndescription: d\nevents: [{id: A}, {id: A}]\nsubject: {id: S}\nassertions: [{type: root, absent: true}]\n",
			want: `duplicate id "A"`,
		},
		{
			name: "event reuses subject id",
			yaml: "name: n\ndescription: d\nevents: [{id: S}]\nsubject: {id: S}\nassertions: [{type: root, absent: true}]\n",
			want: `duplicate id "S"`,
		},
		{
			name: "empty tag",
			yaml: "name: n\ndescription: d\nsubject: {id: S, tags: [[]]}\nassertions: [{type: root, absent: true}]\n",
			want: "empty tag",
		},
		{
			name: "slot without id",
			yaml: "name: n\ndescription: d\nsubject: {id: S}\nassertions: [{type: parent}]\n",
			want: "parent requires id or absent",
		},
		{
			name: "slot with id and absent",
			yaml: "name: n\ndescription: d\nsubject: {id: S}\nassertions: [{type: root, id: R, absent: true}]\n",
			want: "cannot have both id and absent",
		},
		{
			name: "ancestors without ids",
			yaml: "name: n\ndescription: d\nsubject: {id: S}\nassertions: [{type: ancestors}]\n",
			want: "requires ids",
		},
		{
			name: "request_count without count",
			yaml: "name: n\ndescription: d\nsubject: {id: S}\nassertions: [{type: request_count}]\n",
			want: "request_count requires count",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nsubject: {id: S}\nassertions: [{type: trace_contains}]\n",
			want: `unknown type "trace_contains"`,
		},
		{
			name: "negative stop",
			yaml: "name: n\ndescription: d\nsubject: {id: S}\ndelivery: {stop_after_rounds: -1}\nassertions: [{type: root, absent: true}]\n",
			want: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_EmptyIDsAllowed(t *testing.T) {
	s, err := ParseScenario([]byte("name: n\ndescription: d\nsubject: {id: S}\nassertions: [{type: ancestors, ids: []}]\n"))
	require.NoError(t, err)
	assert.NotNil(t, s.Assertions[0].IDs)
	assert.Empty(t, s.Assertions[0].IDs)
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Testdata(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		_, err := LoadScenario(f)
		assert.NoError(t, err, f)
	}
}

func TestEventSpec_Build(t *testing.T) {
	clock := testutil.NewClock()
	ts := int64(42)

	note := EventSpec{ID: "n", Tags: [][]string{{"e", "x"}}}.build(clock)
	assert.Equal(t, "n", note.ID)
	assert.Equal(t, 1, note.Kind)
	assert.Equal(t, "pub-n", note.PubKey)
	assert.Equal(t, testutil.DefaultEpoch, note.CreatedAt)
	require.Len(t, note.Tags, 1)
	assert.Equal(t, "x", note.Tags[0][1])

	fixed := EventSpec{ID: "f", Kind: 1111, PubKey: "pk", CreatedAt: &ts}.build(clock)
	assert.Equal(t, 1111, fixed.Kind)
	assert.Equal(t, "pk", fixed.PubKey)
	assert.EqualValues(t, 42, fixed.CreatedAt)
	assert.EqualValues(t, 1, clock.Issued())

	art := EventSpec{ID: "a", Kind: 30024, D: "slug"}.build(clock)
	assert.Equal(t, 30024, art.Kind)
	assert.Equal(t, "pub-a", art.PubKey)
	assert.Equal(t, testutil.DefaultEpoch+1, art.CreatedAt)
	assert.Equal(t, nostr.Tag{"d", "slug"}, art.Tags[0])
}
