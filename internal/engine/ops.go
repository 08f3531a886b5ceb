package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/roach88/quakerun/internal/batch"
	"github.com/roach88/quakerun/internal/collab"
	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/plan"
)

// NewRun initializes the ledger of runDir with the swarm's current
// parameters and runs the pipeline from the first step until the first
// batch step is submitted. An existing ledger is an ALREADY_INITIALIZED
// error unless overwrite is set.
func (e *Engine) NewRun(ctx context.Context, swarm, runDir string, overwrite bool) (*Report, error) {
	current, err := e.loadParams(swarm)
	if err != nil {
		return nil, err
	}
	r, err := e.open(ctx, swarm, runDir)
	if err != nil {
		return nil, err
	}
	defer r.close()

	if err := r.ledger.Initialize(ctx, current, ir.PipelineVersion, overwrite); err != nil {
		return r.report, classify("", err)
	}
	r.params, r.current = current, current
	return r.report, r.execute(ctx, ir.FirstStep())
}

// Rerun resumes runDir under the swarm's current parameters.
//
// The start step is the earlier of the successor of the last completed
// step and the earliest step a changed parameter invalidates. Changed
// parameters are adopted before anything runs; an invalidated
// TribeConstruction re-initializes the ledger as a new generation. A run
// already complete under current parameters is left alone. A batch step
// submitted but not completed is not resubmitted unless force is set.
func (e *Engine) Rerun(ctx context.Context, swarm, runDir string, force bool) (*Report, error) {
	current, err := e.loadParams(swarm)
	if err != nil {
		return nil, err
	}
	if err := requireLedger(runDir); err != nil {
		return nil, err
	}
	r, err := e.open(ctx, swarm, runDir)
	if err != nil {
		return nil, err
	}
	defer r.close()

	view, err := r.ledger.Read(ctx)
	if err != nil {
		return r.report, classify("", err)
	}
	d, changes := plan.ForLedger(view, current)
	r.report.Decision = &d
	r.report.Changes = changes.Changes
	for _, c := range changes.Changes {
		r.logger.Info("parameter changed",
			"key", c.Key,
			"old", deref(c.Old),
			"new", deref(c.New),
			"affects", c.Step,
		)
	}
	if ignored := changes.Ignored(); len(ignored) > 0 {
		r.logger.Debug("changed parameters affect no step", "keys", ignored)
	}

	switch {
	case d.Done:
		r.logger.Info("nothing to rerun", "decision", d.String())
		return r.report, nil
	case d.AwaitingBatch && !force:
		r.logger.Warn("batch step already submitted, use force to resubmit", "step", d.Start)
		return r.report, nil
	}
	r.logger.Info("rerun planned", "decision", d.String())

	r.params, r.current = view.Parameters, current
	if changes.Invalidated {
		r.params = current
		if changes.Earliest == ir.FirstStep() {
			if err := r.ledger.Initialize(ctx, current, ir.PipelineVersion, true); err != nil {
				return r.report, classify("", err)
			}
		} else if err := r.ledger.RecordParameters(ctx, current, changes.Earliest); err != nil {
			return r.report, classify("", err)
		}
	}
	return r.report, r.execute(ctx, d.Start)
}

// Plan reports what Rerun would do without changing anything.
func (e *Engine) Plan(ctx context.Context, swarm, runDir string) (plan.Decision, plan.ChangeReport, error) {
	current, err := e.loadParams(swarm)
	if err != nil {
		return plan.Decision{}, plan.ChangeReport{}, err
	}
	view, err := e.Status(ctx, runDir)
	if err != nil {
		return plan.Decision{}, plan.ChangeReport{}, err
	}
	d, changes := plan.ForLedger(view, current)
	return d, changes, nil
}

// Status returns the ledger view of runDir.
func (e *Engine) Status(ctx context.Context, runDir string) (*ir.RunLedger, error) {
	if err := requireLedger(runDir); err != nil {
		return nil, err
	}
	r, err := e.open(ctx, "", runDir)
	if err != nil {
		return nil, err
	}
	defer r.close()

	view, err := r.ledger.Read(ctx)
	if err != nil {
		return nil, classify("", err)
	}
	return view, nil
}

// Correlate is the body of the correlate job: it runs Correlations and
// DepurateCorrelations in process and submits Relocations.
func (e *Engine) Correlate(ctx context.Context, swarm, runDir string) (*Report, error) {
	r, err := e.openJob(ctx, swarm, runDir)
	if err != nil {
		return nil, err
	}
	defer r.close()

	r.inJob = true
	return r.report, r.execute(ctx, ir.Correlations)
}

// Relocate is the body of the relocate job: it runs the relocator on the
// run's control file and records Relocations as completed.
func (e *Engine) Relocate(ctx context.Context, swarm, runDir string) (*Report, error) {
	r, err := e.openJob(ctx, swarm, runDir)
	if err != nil {
		return nil, err
	}
	defer r.close()

	if e.collab.Relocator == nil {
		return r.report, classify(ir.Relocations, fmt.Errorf("%s: %w", collab.OpRelocate, errNoCollaborator))
	}
	if err := r.requireFile(ir.Relocations, batch.ControlFile); err != nil {
		return r.report, err
	}

	start := e.clock.Now()
	r.logger.Info("starting step", "step", ir.Relocations)
	res, err := e.collab.Relocator.Relocate(ctx, collab.RelocateRequest{
		RunDir:      runDir,
		ControlFile: filepath.Join(runDir, batch.ControlFile),
	})
	if err != nil {
		return r.report, classify(ir.Relocations, err)
	}
	rec, err := r.ledger.AppendStep(ctx, ir.Relocations, start, ir.Counts{
		"events_relocated": int64(res.EventsRelocated),
	})
	if err != nil {
		return r.report, classify(ir.Relocations, err)
	}
	r.report.Steps = append(r.report.Steps, rec)
	return r.report, nil
}

// Depurate re-runs the depuration filter on runDir's correlation file
// under the ledger's parameters and records DepurateCorrelations.
func (e *Engine) Depurate(ctx context.Context, swarm, runDir string) (*Report, error) {
	r, err := e.openJob(ctx, swarm, runDir)
	if err != nil {
		return nil, err
	}
	defer r.close()

	return r.report, r.runStep(ctx, ir.DepurateCorrelations)
}

// Complete is the completion callback of a batch step run outside this
// program. A zero start takes the submission time of the step.
func (e *Engine) Complete(ctx context.Context, runDir string, step ir.StepName, start time.Time, counts ir.Counts) (ir.StepRecord, error) {
	if !step.IsBatch() {
		return ir.StepRecord{}, classify(step, fmt.Errorf("step %s is not a batch step", step))
	}
	if err := requireLedger(runDir); err != nil {
		return ir.StepRecord{}, err
	}
	r, err := e.open(ctx, "", runDir)
	if err != nil {
		return ir.StepRecord{}, err
	}
	defer r.close()

	if start.IsZero() {
		view, err := r.ledger.Read(ctx)
		if err != nil {
			return ir.StepRecord{}, classify(step, err)
		}
		start = e.clock.Now()
		if rec, ok := view.Latest(step); ok && rec.Phase == ir.PhaseSubmitted {
			start = rec.EndTime
		}
	}
	rec, err := r.ledger.AppendStep(ctx, step, start, counts)
	if err != nil {
		return ir.StepRecord{}, classify(step, err)
	}
	return rec, nil
}

// openJob opens an initialized run for a step that runs under the
// ledger's parameters.
func (e *Engine) openJob(ctx context.Context, swarm, runDir string) (*run, error) {
	if err := requireLedger(runDir); err != nil {
		return nil, err
	}
	r, err := e.open(ctx, swarm, runDir)
	if err != nil {
		return nil, err
	}
	view, err := r.ledger.Read(ctx)
	if err != nil {
		r.close()
		return nil, classify("", err)
	}
	r.params = view.Parameters
	if swarm != "" {
		current, err := e.loadParams(swarm)
		if err != nil {
			r.logger.Warn("current parameters unreadable, scheduling with ledger parameters", "error", err)
		} else {
			r.current = current
		}
	}
	return r, nil
}

func deref(s *string) string {
	if s == nil {
		return "<unset>"
	}
	return *s
}
