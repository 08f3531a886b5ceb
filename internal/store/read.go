package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/quakerun/internal/ir"
)

// LatestRun returns the newest generation with its newest parameter set.
// The second return is false when the ledger has never been initialized.
func (s *Store) LatestRun(ctx context.Context) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT r.generation, r.pipeline_version, r.created_at, r.invocation_id,
		       p.parameters, p.parameters_hash
		FROM runs r
		JOIN parameter_sets p ON p.generation = r.generation
		ORDER BY r.generation DESC, p.id DESC
		LIMIT 1
	`)

	var (
		run        Run
		createdAt  string
		paramsJSON string
	)
	err := row.Scan(&run.Generation, &run.PipelineVersion, &createdAt, &run.InvocationID, &paramsJSON, &run.ParametersHash)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("query latest run: %w", err)
	}

	if run.Parameters, err = unmarshalParameters(paramsJSON); err != nil {
		return Run{}, false, err
	}
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

// CountRuns returns the number of generations.
func (s *Store) CountRuns(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

// ReadParameterUpdates returns the parameter sets adopted after the
// initialization of generation, oldest first.
func (s *Store) ReadParameterUpdates(ctx context.Context, generation int) ([]ParameterUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parameters, parameters_hash, invalidates, after_seq, created_at, invocation_id
		FROM parameter_sets
		WHERE generation = ? AND invalidates IS NOT NULL
		ORDER BY id ASC
	`, generation)
	if err != nil {
		return nil, fmt.Errorf("query parameter updates: %w", err)
	}
	defer rows.Close()

	updates := []ParameterUpdate{}
	for rows.Next() {
		var (
			u           ParameterUpdate
			paramsJSON  string
			invalidates string
			createdAt   string
		)
		if err := rows.Scan(&u.ID, &paramsJSON, &u.ParametersHash, &invalidates, &u.AfterSeq, &createdAt, &u.InvocationID); err != nil {
			return nil, fmt.Errorf("scan parameter update: %w", err)
		}
		u.Invalidates = ir.StepName(invalidates)
		if u.Parameters, err = unmarshalParameters(paramsJSON); err != nil {
			return nil, err
		}
		if u.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parameter updates: %w", err)
	}
	return updates, nil
}

// ReadStepEvents returns the entries of generation in append order.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ReadStepEvents(ctx context.Context, generation int) ([]ir.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, step, phase, start_time, end_time, duration_ns, counts, invocation_id
		FROM step_events
		WHERE generation = ?
		ORDER BY seq ASC
	`, generation)
	if err != nil {
		return nil, fmt.Errorf("query step events: %w", err)
	}
	defer rows.Close()

	records := []ir.StepRecord{}
	for rows.Next() {
		rec, err := scanStepEvent(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step events: %w", err)
	}
	return records, nil
}

func scanStepEvent(rows *sql.Rows) (ir.StepRecord, error) {
	var (
		rec        ir.StepRecord
		step       string
		phase      string
		start, end string
		durationNS int64
		countsJSON string
	)
	if err := rows.Scan(&rec.Seq, &step, &phase, &start, &end, &durationNS, &countsJSON, &rec.InvocationID); err != nil {
		return ir.StepRecord{}, fmt.Errorf("scan step event: %w", err)
	}

	rec.Step = ir.StepName(step)
	rec.Phase = ir.Phase(phase)
	rec.Duration = time.Duration(durationNS)

	var err error
	if rec.StartTime, err = parseTime(start); err != nil {
		return ir.StepRecord{}, err
	}
	if rec.EndTime, err = parseTime(end); err != nil {
		return ir.StepRecord{}, err
	}
	if rec.Counts, err = unmarshalCounts(countsJSON); err != nil {
		return ir.StepRecord{}, err
	}
	return rec, nil
}
