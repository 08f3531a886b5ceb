package depurate

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/params"
)

var fixtureOptions = Options{MinCC: 0.8, ShiftLen: 1.0, MinLink: 3}

func parseString(t *testing.T, s string) []Block {
	t.Helper()
	blocks, _, err := Parse(strings.NewReader(s))
	require.NoError(t, err)
	return blocks
}

func TestParse(t *testing.T) {
	input := "orphan 0.1 0.9 P\n# pair 1\nA 0.1 0.9 P\nA 0.1 0.9\nB x 0.9 S\n\n# pair 2\n"
	blocks, stats, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, blocks, 2)
	assert.Equal(t, "# pair 1", blocks[0].Header)
	assert.Equal(t, []Measurement{{Station: "A", TimeLag: 0.1, Correlation: 0.9, Phase: "P"}}, blocks[0].Measurements)
	assert.Empty(t, blocks[1].Measurements)
	assert.Equal(t, ParseStats{Malformed: 2, Orphaned: 1}, stats)
}

func TestFilter_DedupKeepsHighestCorrelation(t *testing.T) {
	blocks := parseString(t, "# p\nSTA1 0.5 0.81 S\nSTA1 0.6 0.90 S\n")
	kept, res := Filter(blocks, Options{MinCC: 0.8, ShiftLen: 1.0, MinLink: 1}, nil)

	require.Len(t, kept, 1)
	assert.Equal(t, []Measurement{{Station: "STA1", TimeLag: 0.6, Correlation: 0.9, Phase: "S"}}, kept[0].Measurements)
	assert.Equal(t, 1, res.Duplicates)
}

func TestFilter_TieKeepsFirstOccurrence(t *testing.T) {
	blocks := parseString(t, "# p\nSTA1 0.1 0.90 P\nSTA1 0.2 0.90 P\n")
	kept, _ := Filter(blocks, Options{MinCC: 0.5, ShiftLen: 1.0, MinLink: 1}, nil)

	require.Len(t, kept, 1)
	assert.InDelta(t, 0.1, kept[0].Measurements[0].TimeLag, 1e-9)
}

func TestFilter_SameStationDifferentPhaseKeptApart(t *testing.T) {
	blocks := parseString(t, "# p\nSTA1 0.1 0.90 S\nSTA1 0.2 0.85 P\n")
	kept, _ := Filter(blocks, Options{MinCC: 0.5, ShiftLen: 1.0, MinLink: 2}, nil)

	require.Len(t, kept, 1)
	assert.Len(t, kept[0].Measurements, 2)
	assert.Equal(t, "P", kept[0].Measurements[0].Phase)
}

func TestFilter_MinLinkDropsWholeBlock(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	blocks := parseString(t, "# short\nA 0.1 0.9 P\nB 0.1 0.9 P\n# long\nA 0.1 0.9 P\nB 0.1 0.9 P\nC 0.1 0.9 P\n")
	kept, res := Filter(blocks, Options{MinCC: 0.5, ShiftLen: 1.0, MinLink: 3}, logger)

	require.Len(t, kept, 1)
	assert.Equal(t, "# long", kept[0].Header)
	assert.Equal(t, []string{"# short"}, res.DroppedHeaders)
	assert.NotContains(t, string(Format(kept)), "# short")
	assert.Contains(t, logs.String(), `header="# short"`)
}

func TestFilter_Thresholds(t *testing.T) {
	blocks := parseString(t, "# p\nA 1.0 0.49 P\nB 1.001 0.99 P\nC 0.2 0.4899 P\n")
	kept, res := Filter(blocks, Options{MinCC: 0.7, ShiftLen: 1.0, MinLink: 1}, nil)

	require.Len(t, kept, 1)
	require.Len(t, kept[0].Measurements, 1)
	assert.Equal(t, "A", kept[0].Measurements[0].Station)
	assert.Equal(t, 2, res.BelowThreshold)
}

func TestFilter_ThresholdsUseValuesAsRead(t *testing.T) {
	blocks := parseString(t, "# p\nSTA1 0.100 0.24996 P\nSTA2 1.0004 0.9000 P\nSTA3 0.9996 0.25004 P\n")
	kept, res := Filter(blocks, Options{MinCC: 0.5, ShiftLen: 1.0, MinLink: 1}, nil)

	require.Len(t, kept, 1)
	assert.Equal(t, []Measurement{{Station: "STA3", TimeLag: 1.0, Correlation: 0.25, Phase: "P"}}, kept[0].Measurements)
	assert.Equal(t, 2, res.BelowThreshold)
}

func TestFilter_RoundedBelowThresholdIsDropped(t *testing.T) {
	// 0.8 squared is a hair above 0.64, so 0.64001 passes as read but
	// not once written to four decimals.
	blocks := parseString(t, "# p\nSTA1 0.100 0.64001 P\nSTA2 0.100 0.9000 P\n")
	kept, res := Filter(blocks, Options{MinCC: 0.8, ShiftLen: 1.0, MinLink: 1}, nil)

	require.Len(t, kept, 1)
	assert.Equal(t, []Measurement{{Station: "STA2", TimeLag: 0.1, Correlation: 0.9, Phase: "P"}}, kept[0].Measurements)
	assert.Equal(t, 1, res.BelowThreshold)

	again, _ := Filter(parseString(t, string(Format(kept))), Options{MinCC: 0.8, ShiftLen: 1.0, MinLink: 1}, nil)
	assert.Equal(t, kept, again)
}

func TestFilter_DroppedBlockLoggedAtInfo(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	blocks := parseString(t, "# short\nA 0.1 0.9 P\n")
	kept, _ := Filter(blocks, Options{MinCC: 0.5, ShiftLen: 1.0, MinLink: 2}, logger)

	assert.Empty(t, kept)
	assert.Contains(t, logs.String(), "level=INFO")
	assert.Contains(t, logs.String(), `msg="dropped correlation block"`)
}

func TestFilter_Idempotent(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "dt.cc"))
	require.NoError(t, err)

	first, _ := Filter(parseString(t, string(data)), fixtureOptions, nil)
	out1 := Format(first)
	second, res := Filter(parseString(t, string(out1)), fixtureOptions, nil)
	out2 := Format(second)

	assert.Equal(t, string(out1), string(out2))
	assert.Zero(t, res.BelowThreshold)
	assert.Zero(t, res.Duplicates)
	assert.Empty(t, res.DroppedHeaders)
}

func TestFormat_Empty(t *testing.T) {
	assert.Equal(t, "\n", string(Format(nil)))
}

func copyFixture(t *testing.T, dir string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "dt.cc"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, CorrelationFile), data, 0o644))
}

func TestRun_Golden(t *testing.T) {
	dir := t.TempDir()
	copyFixture(t, dir)

	res, err := Run(dir, fixtureOptions, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{
		BlocksIn:         3,
		BlocksKept:       2,
		MeasurementsIn:   10,
		MeasurementsKept: 6,
		BelowThreshold:   2,
		Duplicates:       1,
		Malformed:        2,
		DroppedHeaders:   []string{"# 1 3 0.000"},
	}, res)
	assert.Equal(t, ir.Counts{"blocks_in": 3, "blocks_kept": 2, "measurements_kept": 6}, res.Counts())

	out, err := os.ReadFile(filepath.Join(dir, CorrelationFile))
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "depurated_dtcc", out)
}

func TestRun_BackupCreatedOnceAndReused(t *testing.T) {
	dir := t.TempDir()
	copyFixture(t, dir)
	original, err := os.ReadFile(filepath.Join(dir, CorrelationFile))
	require.NoError(t, err)

	_, err = Run(dir, fixtureOptions, nil)
	require.NoError(t, err)

	// A looser rerun starts from the backup, not from the filtered file.
	res, err := Run(dir, Options{MinCC: 0.7, ShiftLen: 2.0, MinLink: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.BlocksKept)

	backup, err := os.ReadFile(filepath.Join(dir, BackupFile))
	require.NoError(t, err)
	assert.Equal(t, original, backup)
}

func TestRun_Missing(t *testing.T) {
	_, err := Run(t.TempDir(), fixtureOptions, nil)
	assert.ErrorIs(t, err, ErrNoCorrelations)
}

func TestOptionsFromParams(t *testing.T) {
	o, err := OptionsFromParams(ir.ParameterSet{"dt_min_cc": "0.7", "shift_len": "0.25", "min_link": "4"})
	require.NoError(t, err)
	assert.Equal(t, Options{MinCC: 0.7, ShiftLen: 0.25, MinLink: 4}, o)

	_, err = OptionsFromParams(ir.ParameterSet{"dt_min_cc": "0.7"})
	assert.ErrorIs(t, err, params.ErrKeyMissing)
}
