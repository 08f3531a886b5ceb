package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/quakerun/internal/ir"
)

// Run is one initialization of a run directory, with its newest
// parameter set.
type Run struct {
	Generation      int
	PipelineVersion string
	Parameters      ir.ParameterSet
	ParametersHash  string
	CreatedAt       time.Time
	InvocationID    string
}

// ParameterUpdate is a parameter set adopted after initialization.
type ParameterUpdate struct {
	ID             int64
	Parameters     ir.ParameterSet
	ParametersHash string

	// Invalidates is the earliest step whose completed entries written
	// before the update are superseded by it.
	Invalidates ir.StepName

	// AfterSeq is the highest step event seq at the time of the update.
	AfterSeq     int64
	CreatedAt    time.Time
	InvocationID string
}

// WriteRun inserts a new generation with its initial parameter set and
// returns the generation number. Generations start at 1.
func (s *Store) WriteRun(ctx context.Context, run Run) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	generation, err := insertRun(ctx, tx, run)
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write run: commit: %w", err)
	}
	return generation, nil
}

// ImportRun inserts a new generation together with its step events in one
// transaction: either the whole history is stored or nothing is.
func (s *Store) ImportRun(ctx context.Context, run Run, records []ir.StepRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("import run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	generation, err := insertRun(ctx, tx, run)
	if err != nil {
		return 0, fmt.Errorf("import run: %w", err)
	}
	for i, rec := range records {
		if _, err := insertStepEvent(ctx, tx, generation, rec); err != nil {
			return 0, fmt.Errorf("import run: entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("import run: commit: %w", err)
	}
	return generation, nil
}

func insertRun(ctx context.Context, tx *sql.Tx, run Run) (int, error) {
	var generation int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(generation), 0) + 1 FROM runs`).Scan(&generation); err != nil {
		return 0, fmt.Errorf("next generation: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO runs (generation, pipeline_version, created_at, invocation_id)
		VALUES (?, ?, ?, ?)
	`,
		generation,
		run.PipelineVersion,
		formatTime(run.CreatedAt),
		run.InvocationID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	err = insertParameterSet(ctx, tx, generation, ParameterUpdate{
		Parameters:   run.Parameters,
		CreatedAt:    run.CreatedAt,
		InvocationID: run.InvocationID,
	})
	if err != nil {
		return 0, err
	}
	return generation, nil
}

// AppendParameterUpdate records a parameter set adopted by a rerun.
// AfterSeq is assigned by the store.
func (s *Store) AppendParameterUpdate(ctx context.Context, generation int, update ParameterUpdate) error {
	if !update.Invalidates.Valid() {
		return fmt.Errorf("append parameter update: unknown step %q", update.Invalidates)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append parameter update: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := insertParameterSet(ctx, tx, generation, update); err != nil {
		return fmt.Errorf("append parameter update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append parameter update: commit: %w", err)
	}
	return nil
}

func insertParameterSet(ctx context.Context, tx *sql.Tx, generation int, update ParameterUpdate) error {
	paramsJSON, err := marshalParameters(update.Parameters)
	if err != nil {
		return err
	}
	hash, err := ir.ParameterFingerprint(update.Parameters)
	if err != nil {
		return err
	}

	var afterSeq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM step_events`).Scan(&afterSeq); err != nil {
		return fmt.Errorf("current seq: %w", err)
	}

	var invalidates sql.NullString
	if update.Invalidates != "" {
		invalidates = sql.NullString{String: string(update.Invalidates), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO parameter_sets
		(generation, parameters, parameters_hash, invalidates, after_seq, created_at, invocation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		generation,
		paramsJSON,
		hash,
		invalidates,
		afterSeq,
		formatTime(update.CreatedAt),
		update.InvocationID,
	)
	if err != nil {
		return fmt.Errorf("insert parameter set: %w", err)
	}
	return nil
}

// AppendStepEvent appends a ledger entry to generation and returns its seq.
// The generation must exist (foreign key constraint).
func (s *Store) AppendStepEvent(ctx context.Context, generation int, rec ir.StepRecord) (int64, error) {
	seq, err := insertStepEvent(ctx, s.db, generation, rec)
	if err != nil {
		return 0, fmt.Errorf("append step event: %w", err)
	}
	return seq, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertStepEvent(ctx context.Context, db execer, generation int, rec ir.StepRecord) (int64, error) {
	if !rec.Step.Valid() {
		return 0, fmt.Errorf("unknown step %q", rec.Step)
	}
	if !rec.Phase.Valid() {
		return 0, fmt.Errorf("unknown phase %q", rec.Phase)
	}
	countsJSON, err := marshalCounts(rec.Counts)
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO step_events
		(generation, step, phase, start_time, end_time, duration_ns, counts, invocation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		generation,
		string(rec.Step),
		string(rec.Phase),
		formatTime(rec.StartTime),
		formatTime(rec.EndTime),
		int64(rec.Duration),
		countsJSON,
		rec.InvocationID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert step event: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return seq, nil
}
