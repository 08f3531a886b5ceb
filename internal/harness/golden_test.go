package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace and final ledger with testdata/golden/<name>.golden.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestAssertGolden_FromResult(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/stage_failure.yaml")
	require.NoError(t, err)

	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, AssertGolden(t, "stage_failure", result))
}

func TestMarshalSnapshot(t *testing.T) {
	r := NewResult()
	r.Generation = 2
	r.AddTrace(TraceEvent{Op: OpRerun, Decision: "start at LagCalc", Steps: []string{"LagCalc/completed"}})
	r.AddTrace(TraceEvent{Op: OpHeal})
	r.Ledger = []LedgerEntry{
		{Step: "LagCalc", Phase: "completed", Superseded: true, Counts: map[string]int64{"picks": 27, "families": 3}},
		{Step: "Correlations", Phase: "submitted", Counts: map[string]int64{}},
	}

	data, err := MarshalSnapshot("snapshot", r)
	require.NoError(t, err)

	assert.Equal(t,
		`{"generation":2,`+
			`"ledger":[{"counts":{"families":3,"picks":27},"phase":"completed","step":"LagCalc","superseded":true},`+
			`{"counts":{},"phase":"submitted","step":"Correlations"}],`+
			`"scenario_name":"snapshot",`+
			`"trace":[{"decision":"start at LagCalc","op":"rerun","seq":1,"steps":["LagCalc/completed"]},`+
			`{"op":"heal","seq":2}]}`,
		string(data))
}

func TestMarshalSnapshot_Deterministic(t *testing.T) {
	r := NewResult()
	r.AddTrace(TraceEvent{Op: OpNewRun, Jobs: []string{"correlate"}, Warnings: []string{"LAG_WINDOW_OVERFLOW"}})
	r.Ledger = []LedgerEntry{
		{Step: "Magnitudes", Phase: "completed", Counts: map[string]int64{"picks": 1, "channels": 1, "no_magnitude": 0}},
	}

	first, err := MarshalSnapshot("determinism", r)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := MarshalSnapshot("determinism", r)
		require.NoError(t, err)
		require.Equal(t, first, again, "canonical JSON must be deterministic")
	}
}
