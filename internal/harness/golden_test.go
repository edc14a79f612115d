package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotJSON_OmitsZeroFields(t *testing.T) {
	scenario := &Scenario{Name: "shape"}
	result := NewResult()
	result.Trace = []TraceEvent{
		{Type: TraceRequest, Seq: 1, Round: 1, IDs: []string{"b", "a"}},
		{Type: TraceStop, Seq: 2},
		{Type: TraceMerge, Seq: 3, IDs: []string{"a"}, Version: 1},
	}

	data, err := SnapshotJSON(scenario, result)
	require.NoError(t, err)

	want := `{"scenario_name":"shape","trace":[` +
		`{"ids":["b","a"],"round":1,"seq":1,"type":"request"},` +
		`{"seq":2,"type":"stop"},` +
		`{"ids":["a"],"seq":3,"type":"merge","version":1}]}`
	assert.Equal(t, want, string(data))
}

func TestSnapshotJSON_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/parent_and_root_in_one_batch.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := SnapshotJSON(scenario, first)
	require.NoError(t, err)
	b, err := SnapshotJSON(scenario, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestGoldenPath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("testdata", "scenarios", "golden", "cycle.golden"),
		GoldenPath(filepath.Join("testdata", "scenarios", "cycle.yaml")))
	assert.Equal(t, filepath.Join("golden", "plain.golden"), GoldenPath("plain.yml"))
}

func TestUpdateAndCompareGolden(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/cycle_and_mention.yaml")
	require.NoError(t, err)
	result, err := Run(scenario)
	require.NoError(t, err)

	path := GoldenPath(filepath.Join(t.TempDir(), "cycle_and_mention.yaml"))

	_, err = CompareGolden(path, scenario, result)
	require.Error(t, err)

	require.NoError(t, UpdateGolden(path, scenario, result))
	ok, err := CompareGolden(path, scenario, result)
	require.NoError(t, err)
	assert.True(t, ok)

	want, err := os.ReadFile(filepath.Join("testdata", "golden", "cycle_and_mention.golden"))
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	result.Trace = result.Trace[:1]
	ok, err = CompareGolden(path, scenario, result)
	require.NoError(t, err)
	assert.False(t, ok)
}
