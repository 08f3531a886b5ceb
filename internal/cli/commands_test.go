package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quakerun/internal/engine"
	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/params"
	"github.com/roach88/quakerun/internal/testutil"
)

const swarm = "grimsey"

type cliFixture struct {
	t         *testing.T
	swarmsDir string
	config    string
	runDir    string
	pipeline  *testutil.Pipeline
	submitter *testutil.Submitter
	opts      *RootOptions
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	f := &cliFixture{
		t:         t,
		swarmsDir: t.TempDir(),
		pipeline:  testutil.NewPipeline(),
		submitter: &testutil.Submitter{},
	}
	f.runDir = filepath.Join(f.swarmsDir, swarm, "run_20240301_1")
	testutil.WriteParams(t, f.swarmsDir, swarm, testutil.BaseParams())

	f.config = filepath.Join(t.TempDir(), "quakerun.yaml")
	cfg := "swarms_dir: " + f.swarmsDir + "\nexecutable: /opt/quakerun/bin/quakerun\n"
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o644))

	set := f.pipeline.Set()
	f.opts = &RootOptions{
		Collaborators: &set,
		Submitter:     f.submitter,
		EngineOptions: []engine.Option{
			engine.WithClock(testutil.NewTickingClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), time.Second)),
			engine.WithIDGenerator(testutil.NewFixedIDGenerator("")),
		},
	}
	return f
}

// execute runs the CLI with args and returns stdout.
func (f *cliFixture) execute(args ...string) (string, error) {
	cmd := newRootCommand(f.opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", f.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// executeJSON runs the CLI with --format json and decodes the response.
func (f *cliFixture) executeJSON(out any, args ...string) (CLIResponse, error) {
	f.t.Helper()
	stdout, err := f.execute(append([]string{"--format", "json"}, args...)...)
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(f.t, json.Unmarshal([]byte(stdout), &resp), stdout)
	if out != nil && len(resp.Data) > 0 {
		require.NoError(f.t, json.Unmarshal(resp.Data, out))
	}
	return CLIResponse{Status: resp.Status, Error: resp.Error}, err
}

type reportJSON struct {
	RunDir string `json:"run_dir"`
	Steps  []struct {
		Step  ir.StepName `json:"step"`
		Phase ir.Phase    `json:"phase"`
	} `json:"steps"`
	Jobs []engine.SubmittedJob `json:"jobs"`
}

func (r reportJSON) entries() []string {
	out := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		out = append(out, string(s.Step)+"/"+string(s.Phase))
	}
	return out
}

func TestNew_CreatesRunAndSubmitsCorrelations(t *testing.T) {
	f := newCLIFixture(t)

	var report reportJSON
	resp, err := f.executeJSON(&report, "new", swarm)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)

	assert.Equal(t, f.runDir, report.RunDir)
	assert.Equal(t, []string{
		"TribeConstruction/completed",
		"Detection/completed",
		"Declustering/completed",
		"LagCalc/completed",
		"Magnitudes/completed",
		"Correlations/submitted",
	}, report.entries())
	require.Len(t, report.Jobs, 1)
	assert.Equal(t, "1001", report.Jobs[0].JobID)
	assert.FileExists(t, filepath.Join(f.runDir, "run_file.json"))
}

func TestNew_Submit(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.execute("new", swarm, "--submit")
	require.NoError(t, err)
	assert.Contains(t, out, "Submitted new_run job 1001")

	require.Len(t, f.submitter.Scripts(), 1)
	script, err := os.ReadFile(f.submitter.Scripts()[0])
	require.NoError(t, err)
	assert.Contains(t, string(script), "/opt/quakerun/bin/quakerun --config "+f.config+" run grimsey "+f.runDir)
	assert.Empty(t, f.pipeline.Calls(), "nothing runs in process")
	assert.NoFileExists(t, filepath.Join(f.runDir, "ledger.db"))
}

func TestFullRunThroughJobs(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.execute("new", swarm)
	require.NoError(t, err)

	out, err := f.execute("status", "run_20240301_1", "--swarm", swarm)
	require.NoError(t, err)
	assert.Contains(t, out, "Last completed: Magnitudes")
	assert.Contains(t, out, "Pending: Correlations")

	var report reportJSON
	_, err = f.executeJSON(&report, "correlate", swarm, f.runDir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Correlations/completed",
		"DepurateCorrelations/completed",
		"Relocations/submitted",
	}, report.entries())

	out, err = f.execute("relocate", swarm, "run_20240301_1")
	require.NoError(t, err)
	assert.Contains(t, out, "events_relocated=3")

	out, err = f.execute("plan", swarm, "run_20240301_1")
	require.NoError(t, err)
	assert.Contains(t, out, "run is complete under current parameters")
}

func TestPlanAndStatus_JSON(t *testing.T) {
	f := newCLIFixture(t)
	_, err := f.execute("new", swarm)
	require.NoError(t, err)

	var planned struct {
		RunDir   string `json:"run_dir"`
		Decision struct {
			Start         ir.StepName   `json:"start"`
			AwaitingBatch bool          `json:"awaiting_batch"`
			Pending       []ir.StepName `json:"pending"`
		} `json:"decision"`
	}
	_, err = f.executeJSON(&planned, "plan", swarm, "run_20240301_1")
	require.NoError(t, err)
	assert.Equal(t, f.runDir, planned.RunDir)
	assert.Equal(t, ir.Correlations, planned.Decision.Start)
	assert.True(t, planned.Decision.AwaitingBatch)
	assert.Equal(t, []ir.StepName{ir.Correlations}, planned.Decision.Pending)

	var status struct {
		Last    ir.StepName   `json:"last_completed"`
		Pending []ir.StepName `json:"pending"`
		Entries []struct {
			Step  ir.StepName `json:"step"`
			Phase ir.Phase    `json:"phase"`
		} `json:"entries"`
	}
	_, err = f.executeJSON(&status, "status", f.runDir)
	require.NoError(t, err)
	assert.Equal(t, ir.Magnitudes, status.Last)
	assert.Equal(t, []ir.StepName{ir.Correlations}, status.Pending)
	require.Len(t, status.Entries, 6)
	assert.Equal(t, ir.PhaseSubmitted, status.Entries[5].Phase)
}

func TestStatus_LedgerMissing(t *testing.T) {
	f := newCLIFixture(t)

	resp, err := f.executeJSON(nil, "status", filepath.Join(f.swarmsDir, swarm, "run_20240301_7"))
	require.Error(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(engine.ErrCodeLedgerMissing), resp.Error.Code)
}

func TestSetParamsThenRerun(t *testing.T) {
	f := newCLIFixture(t)
	_, err := f.execute("new", swarm)
	require.NoError(t, err)

	out, err := f.execute("set-params", swarm, "min_cc=0.6", "--comment", "stricter lag-calc")
	require.NoError(t, err)
	assert.Contains(t, out, "min_cc: 0.5 -> 0.6")
	assert.Contains(t, out, "Reruns restart no later than LagCalc")

	history, err := params.NewStore(f.swarmsDir, nil).History(swarm)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "stricter lag-calc", history[0].Comment)

	out, err = f.execute("plan", swarm, "run_20240301_1")
	require.NoError(t, err)
	assert.Contains(t, out, "Changed: min_cc 0.5 -> 0.6 (LagCalc)")
	assert.Contains(t, out, "Plan: start at LagCalc")

	f.pipeline.ResetCalls()
	var report reportJSON
	_, err = f.executeJSON(&report, "rerun", swarm, "run_20240301_1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"LagCalc/completed",
		"Magnitudes/completed",
		"Correlations/submitted",
	}, report.entries())
}

func TestSetParams_ShowsHistory(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.execute("set-params", swarm)
	require.NoError(t, err)
	assert.Contains(t, out, "No parameter history")

	_, err = f.execute("set-params", swarm, "threshold=9.0", "-m", "more detections")
	require.NoError(t, err)

	out, err = f.execute("set-params", swarm)
	require.NoError(t, err)
	assert.Contains(t, out, "more detections")
}

func TestSetParams_RejectsMalformedPair(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.execute("set-params", swarm, "threshold")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRerun_AwaitingBatch(t *testing.T) {
	f := newCLIFixture(t)
	_, err := f.execute("new", swarm)
	require.NoError(t, err)

	out, err := f.execute("rerun", swarm, "run_20240301_1", "--submit")
	require.NoError(t, err)
	assert.Contains(t, out, "awaiting completion")
	assert.Len(t, f.submitter.Scripts(), 1, "only the correlate job of new")

	out, err = f.execute("rerun", swarm, "run_20240301_1", "--submit", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Submitted rerun job 1002")
}

func TestRerun_LedgerMissing(t *testing.T) {
	f := newCLIFixture(t)

	resp, err := f.executeJSON(nil, "rerun", swarm, "run_20240301_9")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(engine.ErrCodeLedgerMissing), resp.Error.Code)
}

func TestNew_SubmissionFailure(t *testing.T) {
	f := newCLIFixture(t)
	f.submitter.Reject = true

	out, err := f.execute("new", swarm)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Magnitudes")
	assert.Contains(t, out, "Error [JOB_SUBMISSION_FAILURE]")
}

func TestComplete(t *testing.T) {
	f := newCLIFixture(t)
	_, err := f.execute("new", swarm)
	require.NoError(t, err)

	var result struct {
		Record struct {
			Step   ir.StepName `json:"step"`
			Phase  ir.Phase    `json:"phase"`
			Counts ir.Counts   `json:"counts"`
		} `json:"record"`
	}
	_, err = f.executeJSON(&result, "complete", f.runDir, "Correlations", "--counts", "pairs=12")
	require.NoError(t, err)
	assert.Equal(t, ir.Correlations, result.Record.Step)
	assert.Equal(t, ir.PhaseCompleted, result.Record.Phase)
	assert.Equal(t, ir.Counts{"pairs": 12}, result.Record.Counts)
}

func TestComplete_InvalidArguments(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.execute("complete", f.runDir, "Plotting")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = f.execute("complete", f.runDir, "Relocations", "--start", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInvalidConfiguration(t *testing.T) {
	f := newCLIFixture(t)
	require.NoError(t, os.WriteFile(f.config, []byte("scheduler:\n  time: forever\n"), 0o644))

	_, err := f.execute("status", f.runDir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("2024-03-01 12:00:00")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)))

	got, err = parseTime("2024-03-01T12:00:00Z")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))

	_, err = parseTime("yesterday")
	assert.Error(t, err)
}
