package depurate

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/quakerun/internal/fsutil"
)

// File names inside the run directory.
const (
	CorrelationFile = "dt.cc"
	BackupFile      = "dtcc.backup"
)

// ErrNoCorrelations is returned when neither dt.cc nor its backup exists.
var ErrNoCorrelations = errors.New("correlation file missing")

// Run depurates the correlation file of runDir in place.
//
// The first run moves dt.cc to dtcc.backup. Every run reads the backup and
// writes the filtered result to dt.cc.
func Run(runDir string, o Options, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	src := filepath.Join(runDir, CorrelationFile)
	backup := filepath.Join(runDir, BackupFile)

	haveBackup, err := fsutil.Exists(backup)
	if err != nil {
		return Result{}, fmt.Errorf("depurate: %w", err)
	}
	if !haveBackup {
		if err := os.Rename(src, backup); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Result{}, fmt.Errorf("depurate %s: %w", src, ErrNoCorrelations)
			}
			return Result{}, fmt.Errorf("depurate: back up %s: %w", src, err)
		}
		logger.Info("backed up correlation file", "backup", backup)
	}

	data, err := os.ReadFile(backup)
	if err != nil {
		return Result{}, fmt.Errorf("depurate: %w", err)
	}
	blocks, stats, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("depurate: %w", err)
	}

	kept, res := Filter(blocks, o, logger)
	res.Malformed = stats.Malformed

	if err := fsutil.WriteFileAtomic(src, Format(kept), 0o644); err != nil {
		return res, fmt.Errorf("depurate: write %s: %w", src, err)
	}

	logger.Info("depurated correlations",
		"blocks_in", res.BlocksIn,
		"blocks_kept", res.BlocksKept,
		"measurements_in", res.MeasurementsIn,
		"measurements_kept", res.MeasurementsKept,
		"malformed", res.Malformed,
		"min_cc_squared", o.MinCCSquared(),
		"shift_len", o.ShiftLen,
		"min_link", o.MinLink,
	)
	return res, nil
}

// RetireBackup moves an existing backup aside so the next Run backs up a
// freshly written dt.cc instead of filtering the previous correlation
// output. It returns the new path of the backup, or "" when there was none.
func RetireBackup(runDir string, now time.Time) (string, error) {
	backup := filepath.Join(runDir, BackupFile)
	ok, err := fsutil.Exists(backup)
	if err != nil || !ok {
		return "", err
	}
	retired := backup + "." + now.Format("20060102T150405")
	if err := os.Rename(backup, retired); err != nil {
		return "", fmt.Errorf("retire %s: %w", backup, err)
	}
	return retired, nil
}
