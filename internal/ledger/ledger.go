package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/quakerun/internal/clock"
	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/store"
)

// File names inside a run directory.
const (
	DBFile  = "ledger.db"
	RunFile = "run_file.json"
)

var (
	// ErrAlreadyInitialized is returned by Initialize when the run already
	// has a ledger and overwrite was not requested.
	ErrAlreadyInitialized = errors.New("run ledger already initialized")

	// ErrLedgerMissing is returned when an operation needs a ledger that
	// was never initialized.
	ErrLedgerMissing = errors.New("run ledger missing")
)

// Ledger is the run ledger of one run directory.
//
// A Ledger is single-writer: concurrent processes writing the same run
// directory are not supported.
type Ledger struct {
	runDir       string
	store        *store.Store
	clock        clock.Clock
	logger       *slog.Logger
	invocationID string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the clock used for end times. Default: clock.Real().
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithInvocationID stamps every entry written through this Ledger.
func WithInvocationID(id string) Option {
	return func(l *Ledger) { l.invocationID = id }
}

// Open opens (creating if needed) the ledger of runDir.
// The run directory is created if it does not exist.
func Open(ctx context.Context, runDir string, opts ...Option) (*Ledger, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	st, err := store.Open(filepath.Join(runDir, DBFile))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	l := &Ledger{
		runDir: runDir,
		store:  st,
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	exists, err := l.Exists(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if !exists {
		if err := l.importLegacy(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("open ledger: %w", err)
		}
	}
	return l, nil
}

// Close releases the underlying database.
func (l *Ledger) Close() error {
	return l.store.Close()
}

// RunDir returns the run directory of the ledger.
func (l *Ledger) RunDir() string { return l.runDir }

// Exists reports whether the ledger has been initialized.
func (l *Ledger) Exists(ctx context.Context) (bool, error) {
	n, err := l.store.CountRuns(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Initialize creates the ledger with an empty step list.
//
// If the run already has a ledger, Initialize fails with
// ErrAlreadyInitialized unless overwrite is set. Overwrite starts a new
// generation; entries of older generations are kept in the database but
// are no longer part of the ledger view.
func (l *Ledger) Initialize(ctx context.Context, params ir.ParameterSet, version string, overwrite bool) error {
	exists, err := l.Exists(ctx)
	if err != nil {
		return fmt.Errorf("initialize ledger: %w", err)
	}
	if exists && !overwrite {
		return fmt.Errorf("initialize ledger %s: %w", l.runDir, ErrAlreadyInitialized)
	}

	generation, err := l.store.WriteRun(ctx, store.Run{
		PipelineVersion: version,
		Parameters:      params.Clone(),
		CreatedAt:       l.clock.Now(),
		InvocationID:    l.invocationID,
	})
	if err != nil {
		return fmt.Errorf("initialize ledger: %w", err)
	}

	l.logger.Info("initialized run ledger",
		"run_dir", l.runDir,
		"generation", generation,
		"pipeline_version", version,
		"parameters", len(params),
	)
	return l.export(ctx)
}

// AppendStep records step as completed. End time is now and duration is
// end minus start. The entry is durable when AppendStep returns.
func (l *Ledger) AppendStep(ctx context.Context, step ir.StepName, start time.Time, counts ir.Counts) (ir.StepRecord, error) {
	return l.append(ctx, step, ir.PhaseCompleted, start, counts)
}

// MarkSubmitted records that a batch step was handed to the scheduler.
// It does not count as completion.
func (l *Ledger) MarkSubmitted(ctx context.Context, step ir.StepName, start time.Time, counts ir.Counts) (ir.StepRecord, error) {
	return l.append(ctx, step, ir.PhaseSubmitted, start, counts)
}

func (l *Ledger) append(ctx context.Context, step ir.StepName, phase ir.Phase, start time.Time, counts ir.Counts) (ir.StepRecord, error) {
	run, ok, err := l.store.LatestRun(ctx)
	if err != nil {
		return ir.StepRecord{}, fmt.Errorf("append %s: %w", step, err)
	}
	if !ok {
		return ir.StepRecord{}, fmt.Errorf("append %s to %s: %w", step, l.runDir, ErrLedgerMissing)
	}

	end := l.clock.Now()
	rec := ir.StepRecord{
		Step:         step,
		Phase:        phase,
		StartTime:    start,
		EndTime:      end,
		Duration:     end.Sub(start),
		Counts:       counts.Clone(),
		InvocationID: l.invocationID,
	}

	seq, err := l.store.AppendStepEvent(ctx, run.Generation, rec)
	if err != nil {
		return ir.StepRecord{}, fmt.Errorf("append %s: %w", step, err)
	}
	rec.Seq = seq

	l.logger.Info("logged step",
		"step", step,
		"phase", phase,
		"duration", rec.Duration.Round(time.Second),
		"counts", rec.Counts,
	)

	if err := l.export(ctx); err != nil {
		return rec, err
	}
	return rec, nil
}

// Read returns the current ledger view (newest generation).
func (l *Ledger) Read(ctx context.Context) (*ir.RunLedger, error) {
	run, ok, err := l.store.LatestRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("read ledger %s: %w", l.runDir, ErrLedgerMissing)
	}

	records, err := l.store.ReadStepEvents(ctx, run.Generation)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	updates, err := l.store.ReadParameterUpdates(ctx, run.Generation)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	view := &ir.RunLedger{
		RunDir:          l.runDir,
		PipelineVersion: run.PipelineVersion,
		Parameters:      run.Parameters,
		CompletedSteps:  records,
		Generation:      run.Generation,
	}
	for _, u := range updates {
		view.Invalidations = append(view.Invalidations, ir.Invalidation{
			Step:           u.Invalidates,
			AfterSeq:       u.AfterSeq,
			Time:           u.CreatedAt,
			ParametersHash: u.ParametersHash,
		})
	}
	return view, nil
}

// RecordParameters adopts a changed parameter set. Completed entries of
// invalidated and every later step written so far are superseded: they no
// longer count as completed, but they stay in the ledger.
func (l *Ledger) RecordParameters(ctx context.Context, params ir.ParameterSet, invalidated ir.StepName) error {
	run, ok, err := l.store.LatestRun(ctx)
	if err != nil {
		return fmt.Errorf("record parameters: %w", err)
	}
	if !ok {
		return fmt.Errorf("record parameters in %s: %w", l.runDir, ErrLedgerMissing)
	}

	err = l.store.AppendParameterUpdate(ctx, run.Generation, store.ParameterUpdate{
		Parameters:   params.Clone(),
		Invalidates:  invalidated,
		CreatedAt:    l.clock.Now(),
		InvocationID: l.invocationID,
	})
	if err != nil {
		return fmt.Errorf("record parameters: %w", err)
	}

	l.logger.Info("adopted changed parameters", "run_dir", l.runDir, "invalidates", invalidated)
	return l.export(ctx)
}

// LastCompletedStep returns the highest-ranked completed step.
// The second return is false when no step has completed.
func (l *Ledger) LastCompletedStep(ctx context.Context) (ir.StepName, bool, error) {
	view, err := l.Read(ctx)
	if err != nil {
		return "", false, err
	}
	step, ok := view.LastCompleted()
	return step, ok, nil
}

// Parameters returns the parameter set stored at initialization.
func (l *Ledger) Parameters(ctx context.Context) (ir.ParameterSet, error) {
	view, err := l.Read(ctx)
	if err != nil {
		return nil, err
	}
	return view.Parameters, nil
}
