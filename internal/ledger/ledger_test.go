package ledger

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quakerun/internal/clock"
	"github.com/roach88/quakerun/internal/ir"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func openTestLedger(t *testing.T, dir string, clk clock.Clock) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), dir,
		WithClock(clk),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithInvocationID("inv-test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func baseParams() ir.ParameterSet {
	return ir.ParameterSet{"threshold": "8.0", "min_cc": "0.5"}
}

func TestOpen_CreatesRunDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run_20240301_1")
	l := openTestLedger(t, dir, clock.NewFake(t0))

	assert.DirExists(t, dir)
	assert.Equal(t, dir, l.RunDir())

	ok, err := l.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := openTestLedger(t, dir, clock.NewFake(t0))

	require.NoError(t, l.Initialize(ctx, baseParams(), "2.1.0", false))

	view, err := l.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", view.PipelineVersion)
	assert.Equal(t, baseParams(), view.Parameters)
	assert.Empty(t, view.CompletedSteps)
	assert.Equal(t, 1, view.Generation)

	assert.FileExists(t, filepath.Join(dir, DBFile))
	assert.FileExists(t, filepath.Join(dir, RunFile))
}

func TestInitialize_AlreadyInitialized(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, t.TempDir(), clock.NewFake(t0))
	require.NoError(t, l.Initialize(ctx, baseParams(), "2.1.0", false))

	err := l.Initialize(ctx, baseParams(), "2.1.0", false)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInitialize_OverwriteStartsNewGeneration(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	l := openTestLedger(t, t.TempDir(), clk)
	require.NoError(t, l.Initialize(ctx, baseParams(), "2.1.0", false))
	clk.Advance(time.Minute)
	_, err := l.AppendStep(ctx, ir.TribeConstruction, t0, ir.Counts{"templates": 3})
	require.NoError(t, err)

	next := baseParams()
	next["threshold"] = "9.0"
	require.NoError(t, l.Initialize(ctx, next, "2.1.0", true))

	view, err := l.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Generation)
	assert.Equal(t, "9.0", view.Parameters["threshold"])
	assert.Empty(t, view.CompletedSteps)
}

func TestAppendStep(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	l := openTestLedger(t, t.TempDir(), clk)
	require.NoError(t, l.Initialize(ctx, baseParams(), "2.1.0", false))

	clk.Advance(90 * time.Second)
	counts := ir.Counts{"templates": 3}
	rec, err := l.AppendStep(ctx, ir.TribeConstruction, t0, counts)
	require.NoError(t, err)

	assert.Equal(t, ir.TribeConstruction, rec.Step)
	assert.Equal(t, ir.PhaseCompleted, rec.Phase)
	assert.Equal(t, 90*time.Second, rec.Duration)
	assert.True(t, rec.EndTime.Equal(t0.Add(90*time.Second)))
	assert.Equal(t, "inv-test", rec.InvocationID)
	assert.NotZero(t, rec.Seq)

	counts["templates"] = 99
	view, err := l.Read(ctx)
	require.NoError(t, err)
	require.Len(t, view.CompletedSteps, 1)
	assert.Equal(t, int64(3), view.CompletedSteps[0].Counts["templates"], "caller's map is not retained")
}

func TestAppendStep_LedgerMissing(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, t.TempDir(), clock.NewFake(t0))

	_, err := l.AppendStep(ctx, ir.Detection, t0, nil)
	assert.ErrorIs(t, err, ErrLedgerMissing)
	_, err = l.MarkSubmitted(ctx, ir.Correlations, t0, nil)
	assert.ErrorIs(t, err, ErrLedgerMissing)
	_, err = l.Read(ctx)
	assert.ErrorIs(t, err, ErrLedgerMissing)
	err = l.RecordParameters(ctx, baseParams(), ir.Detection)
	assert.ErrorIs(t, err, ErrLedgerMissing)
}

func TestMarkSubmitted_IsNotCompletion(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	l := openTestLedger(t, t.TempDir(), clk)
	require.NoError(t, l.Initialize(ctx, baseParams(), "2.1.0", false))

	for _, step := range []ir.StepName{ir.TribeConstruction, ir.Detection, ir.Declustering, ir.LagCalc, ir.Magnitudes} {
		_, err := l.AppendStep(ctx, step, clk.Now(), nil)
		require.NoError(t, err)
	}
	_, err := l.MarkSubmitted(ctx, ir.Correlations, clk.Now(), ir.Counts{"job_id": 1001})
	require.NoError(t, err)

	last, ok, err := l.LastCompletedStep(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Magnitudes, last)
}

func TestLastCompletedStep_RanksByStepOrder(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, t.TempDir(), clock.NewFake(t0))
	require.NoError(t, l.Initialize(ctx, baseParams(), "2.1.0", false))

	_, ok, err := l.LastCompletedStep(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, step := range []ir.StepName{ir.TribeConstruction, ir.Declustering, ir.Detection} {
		_, err := l.AppendStep(ctx, step, t0, nil)
		require.NoError(t, err)
	}

	last, ok, err := l.LastCompletedStep(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Declustering, last)
}

func TestRecordParameters_SupersedesLaterSteps(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	l := openTestLedger(t, t.TempDir(), clk)
	require.NoError(t, l.Initialize(ctx, baseParams(), "2.1.0", false))
	for _, step := range []ir.StepName{ir.TribeConstruction, ir.Detection, ir.Declustering} {
		_, err := l.AppendStep(ctx, step, clk.Now(), nil)
		require.NoError(t, err)
	}

	next := baseParams()
	next["threshold"] = "9.0"
	require.NoError(t, l.RecordParameters(ctx, next, ir.Detection))

	view, err := l.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "9.0", view.Parameters["threshold"])
	require.Len(t, view.Invalidations, 1)
	assert.Equal(t, ir.Detection, view.Invalidations[0].Step)

	superseded := map[ir.StepName]bool{}
	for _, rec := range view.CompletedSteps {
		superseded[rec.Step] = view.Superseded(rec)
	}
	assert.Equal(t, map[ir.StepName]bool{
		ir.TribeConstruction: false,
		ir.Detection:         true,
		ir.Declustering:      true,
	}, superseded)

	last, _, err := l.LastCompletedStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.TribeConstruction, last)

	_, err = l.AppendStep(ctx, ir.Detection, clk.Now(), nil)
	require.NoError(t, err)
	last, _, err = l.LastCompletedStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.Detection, last)

	params, err := l.Parameters(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, params)
}

func TestRunFile_Golden(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	l := openTestLedger(t, t.TempDir(), clk)
	require.NoError(t, l.Initialize(ctx, baseParams(), "2.1.0", false))

	clk.Set(t0.Add(90 * time.Second))
	_, err := l.AppendStep(ctx, ir.TribeConstruction, t0, ir.Counts{"templates": 3})
	require.NoError(t, err)

	clk.Set(t0.Add(26*time.Hour + 90*time.Second + 250*time.Millisecond))
	_, err = l.AppendStep(ctx, ir.Detection, t0.Add(90*time.Second), ir.Counts{"families": 3, "detections": 9})
	require.NoError(t, err)

	next := baseParams()
	next["threshold"] = "9.0"
	clk.Set(t0.Add(27 * time.Hour))
	require.NoError(t, l.RecordParameters(ctx, next, ir.Detection))

	clk.Set(t0.Add(28 * time.Hour))
	_, err = l.AppendStep(ctx, ir.Detection, t0.Add(27*time.Hour), ir.Counts{"families": 3, "detections": 7})
	require.NoError(t, err)

	view, err := l.Read(ctx)
	require.NoError(t, err)
	data, err := MarshalRunFile(view, time.UTC)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "run_file", data)
}

func TestRunFile_MirrorsDatabase(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clk := clock.NewFake(t0)
	l := openTestLedger(t, dir, clk)
	require.NoError(t, l.Initialize(ctx, baseParams(), "2.1.0", false))
	clk.Advance(time.Minute)
	_, err := l.AppendStep(ctx, ir.TribeConstruction, t0, ir.Counts{"templates": 3})
	require.NoError(t, err)

	view, err := l.Read(ctx)
	require.NoError(t, err)
	want, err := MarshalRunFile(view, time.Local)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, RunFile))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

const legacyRunFileJSON = `{
    "pipeline_version": "1.4.2",
    "parameters": {
        "threshold": 8.0,
        "min_cc": "0.5",
        "plot": true,
        "note": null
    },
    "completed_steps": [
        {
            "step": "Tribe_construction",
            "starttime": "2023-11-02 10:00:00",
            "endtime": "2023-11-02 10:05:30",
            "duration": "0:05:30",
            "counts": {"templates": 12, "skipped": null}
        },
        {
            "step": "Detection",
            "starttime": "2023-11-02 10:05:30",
            "endtime": "2023-11-02 12:05:30",
            "duration": "2:00:00",
            "counts": {"families": 12, "detections": 310}
        }
    ]
}
`

func TestOpen_ImportsLegacyRunFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RunFile), []byte(legacyRunFileJSON), 0o644))

	l := openTestLedger(t, dir, clock.NewFake(t0))

	view, err := l.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.4.2", view.PipelineVersion)
	assert.Equal(t, ir.ParameterSet{
		"threshold": "8.0",
		"min_cc":    "0.5",
		"plot":      "True",
		"note":      "",
	}, view.Parameters)

	require.Len(t, view.CompletedSteps, 2)
	tribe := view.CompletedSteps[0]
	assert.Equal(t, ir.TribeConstruction, tribe.Step)
	assert.Equal(t, ir.PhaseCompleted, tribe.Phase)
	assert.Equal(t, ir.Counts{"templates": 12}, tribe.Counts)
	assert.Equal(t, 5*time.Minute+30*time.Second, tribe.Duration)
	assert.True(t, tribe.StartTime.Equal(time.Date(2023, 11, 2, 10, 0, 0, 0, time.Local)))

	last, ok, err := l.LastCompletedStep(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Detection, last)
}

func TestOpen_ImportsLegacyRunFileOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RunFile), []byte(legacyRunFileJSON), 0o644))

	first := openTestLedger(t, dir, clock.NewFake(t0))
	require.NoError(t, first.Close())

	l := openTestLedger(t, dir, clock.NewFake(t0))
	view, err := l.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Generation)
	assert.Len(t, view.CompletedSteps, 2)
}

func TestOpen_RejectsUnknownLegacyStep(t *testing.T) {
	dir := t.TempDir()
	data := `{"pipeline_version": "1.0", "parameters": {}, "completed_steps": [
		{"step": "Plotting", "starttime": "2023-11-02 10:00:00", "endtime": "2023-11-02 10:00:01", "counts": {}}
	]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, RunFile), []byte(data), 0o644))

	_, err := Open(context.Background(), dir, WithLogger(slog.New(slog.DiscardHandler)))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLedgerMissing))
}

func TestOpen_FailedLegacyImportKeepsRunFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, RunFile)
	broken := `{"pipeline_version": "1.0", "parameters": {}, "completed_steps": [
		{"step": "Tribe_construction", "starttime": "2023-11-02 10:00:00", "endtime": "2023-11-02 10:05:30", "counts": {}},
		{"step": "Detection", "starttime": "2023-11-02 10:05:30", "endtime": "yesterday", "counts": {}}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(broken), 0o644))

	open := func() (*Ledger, error) {
		return Open(ctx, dir, WithClock(clock.NewFake(t0)), WithLogger(slog.New(slog.DiscardHandler)))
	}

	_, err := open()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry 1: endtime")

	// The database now exists but holds nothing, so the import is retried
	// rather than skipped.
	assert.FileExists(t, filepath.Join(dir, DBFile))
	_, err = open()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry 1: endtime")

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, broken, string(got))

	require.NoError(t, os.WriteFile(path, []byte(legacyRunFileJSON), 0o644))
	l := openTestLedger(t, dir, clock.NewFake(t0))
	view, err := l.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Generation)
	require.Len(t, view.CompletedSteps, 2)
	assert.Equal(t, ir.TribeConstruction, view.CompletedSteps[0].Step)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00:00"},
		{90 * time.Second, "0:01:30"},
		{1500 * time.Millisecond, "0:00:01.500000"},
		{10*time.Hour + 7*time.Minute + 3*time.Second, "10:07:03"},
		{25 * time.Hour, "1 day, 1:00:00"},
		{50*time.Hour + 250*time.Millisecond, "2 days, 2:00:00.250000"},
		{-5 * time.Second, "-0:00:05"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.in))
		})
	}
}
