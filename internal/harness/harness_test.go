package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, content string) *Scenario {
	t.Helper()
	scenario, err := ParseScenario([]byte(content))
	require.NoError(t, err)
	return scenario
}

func TestRun_MinimalScenario(t *testing.T) {
	scenario := mustParse(t, `
name: minimal
description: "A new run stops at the first batch step"
flow:
  - op: new_run
assertions:
  - type: last_completed
    step: Magnitudes
  - type: pending
    steps: [Correlations]
  - type: generation
    count: 1
`)

	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, 1, result.Trace[0].Seq)
	assert.Equal(t, []string{"correlate"}, result.Trace[0].Jobs)
	assert.Len(t, result.Ledger, 6)
	assert.Equal(t, 1, result.Calls["build-templates"])
}

func TestRun_WritesRunDirectory(t *testing.T) {
	dir := t.TempDir()
	scenario := mustParse(t, `
name: rundir
description: d
swarm: krafla
flow:
  - op: new_run
assertions:
  - type: generation
    count: 1
`)

	_, err := Run(scenario, dir)
	require.NoError(t, err)

	runDir := filepath.Join(dir, "krafla", RunDirName)
	for _, name := range []string{"ledger.db", "run_file.json", "tribe.qra"} {
		_, err := os.Stat(filepath.Join(runDir, name))
		assert.NoError(t, err, name)
	}
	_, err = os.Stat(filepath.Join(dir, "krafla", "parameterskrafla.txt"))
	assert.NoError(t, err)
}

func TestRun_ExpectErrorMatched(t *testing.T) {
	scenario := mustParse(t, `
name: missing_ledger
description: "Rerunning a run that was never started fails"
flow:
  - op: rerun
    expect:
      error: LEDGER_MISSING
assertions:
  - type: ledger
    entries: []
  - type: calls
    op: detect
    count: 0
`)

	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "LEDGER_MISSING", result.Trace[0].Error)
	assert.Equal(t, 0, result.Generation)
}

func TestRun_UnexpectedErrorFails(t *testing.T) {
	scenario := mustParse(t, `
name: unexpected
description: d
flow:
  - op: correlate
assertions:
  - type: ledger
    entries: []
`)

	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "flow[0] correlate: unexpected error LEDGER_MISSING")
}

func TestRun_ExpectMismatchReported(t *testing.T) {
	scenario := mustParse(t, `
name: mismatch
description: d
flow:
  - op: new_run
    expect:
      error: ALREADY_INITIALIZED
  - op: plan
    expect:
      start: Detection
assertions:
  - type: generation
    count: 1
`)

	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected error ALREADY_INITIALIZED, got success")
	assert.Contains(t, result.Errors[1], "expected start Detection, got Correlations")
}

func TestRun_AlreadyInitializedAndOverwrite(t *testing.T) {
	scenario := mustParse(t, `
name: overwrite
description: "A second new run needs overwrite and starts a new generation"
flow:
  - op: new_run
  - op: new_run
    expect:
      error: ALREADY_INITIALIZED
  - op: new_run
    overwrite: true
assertions:
  - type: generation
    count: 2
  - type: ledger
    entries:
      - TribeConstruction/completed
      - Detection/completed
      - Declustering/completed
      - LagCalc/completed
      - Magnitudes/completed
      - Correlations/submitted
  - type: calls
    op: build-templates
    count: 2
`)

	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FullRestartStartsNewGeneration(t *testing.T) {
	scenario := mustParse(t, `
name: full_restart
description: "Changing the catalog window reruns everything"
flow:
  - op: new_run
  - op: set_params
    params:
      starttime: "2024-01-02"
  - op: rerun
    expect:
      start: TribeConstruction
assertions:
  - type: generation
    count: 2
  - type: ledger
    entries:
      - TribeConstruction/completed
      - Detection/completed
      - Declustering/completed
      - LagCalc/completed
      - Magnitudes/completed
      - Correlations/submitted
  - type: counts
    step: Correlations
    phase: submitted
    expect:
      job_id: 1002
`)

	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "full restart from TribeConstruction", result.Trace[2].Decision)
}

func TestRun_UnmappedParameterInvalidatesNothing(t *testing.T) {
	scenario := mustParse(t, `
name: unmapped
description: "A parameter no step reads leaves the run awaiting its batch step"
flow:
  - op: new_run
  - op: set_params
    params:
      swarm_name: "renamed"
  - op: rerun
    expect:
      start: Correlations
      steps: []
assertions:
  - type: pending
    steps: [Correlations]
`)

	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_RejectedSubmissionLeavesLedger(t *testing.T) {
	scenario := mustParse(t, `
name: rejected
description: "A rejected job leaves no submitted entry; the rerun submits it"
flow:
  - op: reject_jobs
  - op: new_run
    expect:
      error: JOB_SUBMISSION_FAILURE
  - op: accept_jobs
  - op: rerun
    expect:
      start: Correlations
      steps: [Correlations/submitted]
assertions:
  - type: pending
    steps: [Correlations]
  - type: calls
    op: magnitudes
    count: 1
`)

	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_RemovedArtifact(t *testing.T) {
	scenario := mustParse(t, `
name: removed_artifact
description: "A rerun that needs a deleted intermediate fails with a missing artifact"
flow:
  - op: new_run
  - op: remove
    file: party_declustered.qra
  - op: set_params
    params:
      min_cc: "0.6"
  - op: rerun
    expect:
      error: MISSING_ARTIFACT
assertions:
  - type: calls
    op: lag-calc
    count: 3
`)

	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_RemoveMissingFileFailsHarness(t *testing.T) {
	scenario := mustParse(t, `
name: remove_missing
description: d
flow:
  - op: remove
    file: tribe.qra
assertions:
  - type: ledger
    entries: []
`)

	_, err := Run(scenario, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow[0] remove")
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/parameter_rerun.yaml")
	require.NoError(t, err)

	first, err := Run(scenario, t.TempDir())
	require.NoError(t, err)
	second, err := Run(scenario, t.TempDir())
	require.NoError(t, err)

	a, err := MarshalSnapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestResult_AddTrace(t *testing.T) {
	r := NewResult()
	r.AddTrace(TraceEvent{Op: OpNewRun, Seq: 7})
	r.AddTrace(TraceEvent{Op: OpRerun})

	require.Len(t, r.Trace, 2)
	assert.Equal(t, 1, r.Trace[0].Seq)
	assert.Equal(t, 2, r.Trace[1].Seq)
}

func TestLedgerEntry_Key(t *testing.T) {
	assert.Equal(t, "LagCalc/completed", LedgerEntry{Step: "LagCalc", Phase: "completed"}.Key())
	assert.Equal(t, "LagCalc/completed (superseded)", LedgerEntry{Step: "LagCalc", Phase: "completed", Superseded: true}.Key())
}
