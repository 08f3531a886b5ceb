package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/roach88/quakerun/internal/artifact"
	"github.com/roach88/quakerun/internal/batch"
	"github.com/roach88/quakerun/internal/depurate"
	"github.com/roach88/quakerun/internal/fsutil"
	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/params"
)

var errNoSubmitter = errors.New("no job submitter configured")

// submit hands a batch step to the scheduler and records it as submitted.
// If the scheduler rejects the job the ledger is left as it was.
func (r *run) submit(ctx context.Context, step ir.StepName) error {
	if err := params.Require(step, r.params); err != nil {
		return classify(step, err)
	}

	var kind batch.JobKind
	switch step {
	case ir.Correlations:
		kind = batch.JobCorrelate
		if err := r.requireArtifact(artifact.CatalogWithMagnitudes); err != nil {
			return classify(step, err)
		}
	case ir.Relocations:
		kind = batch.JobRelocate
		for _, name := range []string{EventFile, depurate.CorrelationFile} {
			if err := r.requireFile(step, name); err != nil {
				return err
			}
		}
		path, err := batch.WriteControlFile(r.relocation())
		if err != nil {
			return classify(step, err)
		}
		r.logger.Info("wrote relocation control file", "path", path)
	default:
		return classify(step, fmt.Errorf("step %s is not a batch step", step))
	}

	start := r.e.clock.Now()
	job, err := r.e.submitJob(ctx, kind, r.swarm, r.dir, r.schedulerParams())
	if err != nil {
		return classify(step, err)
	}
	counts := ir.Counts{}
	if id, err := strconv.ParseInt(job.JobID, 10, 64); err == nil {
		counts["job_id"] = id
	}
	rec, err := r.ledger.MarkSubmitted(ctx, step, start, counts)
	if err != nil {
		return classify(step, err)
	}
	job.Step = step
	r.report.Steps = append(r.report.Steps, rec)
	r.report.Jobs = append(r.report.Jobs, job)
	return nil
}

// schedulerParams are the parameters scheduler overrides are read from.
func (r *run) schedulerParams() ir.ParameterSet {
	if r.current != nil {
		return r.current
	}
	return r.params
}

func (r *run) relocation() batch.Relocation {
	rc := r.e.cfg.Relocation
	return batch.Relocation{
		Swarm:         r.swarm,
		RunDir:        r.dir,
		StationList:   rc.StationList,
		VelocityModel: rc.VelocityModel,
		Projection:    rc.Projection,
		Author:        rc.Author,
	}
}

func (r *run) requireArtifact(n artifact.Name) error {
	ok, err := r.artifacts.Exists(n)
	if err != nil {
		return err
	}
	if !ok {
		return &artifact.MissingError{Name: n, Path: r.artifacts.Path(n)}
	}
	return nil
}

// requireFile fails with MISSING_ARTIFACT when the plain file name is not
// in the run directory.
func (r *run) requireFile(step ir.StepName, name string) error {
	path := filepath.Join(r.dir, name)
	ok, err := fsutil.Exists(path)
	if err != nil {
		return classify(step, err)
	}
	if !ok {
		return &PipelineError{
			Code:    ErrCodeMissingArtifact,
			Step:    step,
			Message: fmt.Sprintf("%s not found at %s", name, path),
			Details: map[string]string{"artifact": name, "path": path},
			Err:     artifact.ErrMissing,
		}
	}
	return nil
}

// submitJob renders a kind-job for runDir, writes it next to the run's
// artifacts and submits it.
func (e *Engine) submitJob(ctx context.Context, kind batch.JobKind, swarm, runDir string, p ir.ParameterSet) (SubmittedJob, error) {
	if e.submitter == nil {
		return SubmittedJob{}, errNoSubmitter
	}
	job := batch.Job{
		Kind:       kind,
		Swarm:      swarm,
		RunDir:     runDir,
		Resources:  e.cfg.BatchDefaults().For(kind, p),
		MailUser:   e.cfg.Scheduler.MailUser,
		EnvSetup:   e.cfg.EnvSetupFor(kind),
		Executable: e.executable,
		ConfigFile: e.configFile,
	}
	script, err := batch.WriteScript(job)
	if err != nil {
		return SubmittedJob{}, err
	}
	sub, err := e.submitter.Submit(ctx, script)
	if err != nil {
		return SubmittedJob{Kind: kind, Script: script}, err
	}
	e.logger.Info("submitted job",
		"kind", kind,
		"job", job.Name(),
		"job_id", sub.JobID,
		"partition", job.Resources.Partition,
		"time", job.Resources.Time,
	)
	return SubmittedJob{Kind: kind, Script: script, JobID: sub.JobID}, nil
}

// SubmitPipelineJob submits a job that runs the pipeline for runDir: a
// new run (kind new_run) or a rerun (kind rerun). The ledger is not
// touched; the job itself records its steps.
func (e *Engine) SubmitPipelineJob(ctx context.Context, kind batch.JobKind, swarm, runDir string) (SubmittedJob, error) {
	if kind != batch.JobNewRun && kind != batch.JobRerun {
		return SubmittedJob{}, fmt.Errorf("submit pipeline job: unsupported kind %q", kind)
	}
	p, err := e.loadParams(swarm)
	if err != nil {
		return SubmittedJob{}, err
	}
	job, err := e.submitJob(ctx, kind, swarm, runDir, p)
	if err != nil {
		return job, classify("", err)
	}
	return job, nil
}
