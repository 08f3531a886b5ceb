package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/quakerun/internal/artifact"
	"github.com/roach88/quakerun/internal/batch"
	"github.com/roach88/quakerun/internal/clock"
	"github.com/roach88/quakerun/internal/collab"
	"github.com/roach88/quakerun/internal/config"
	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/ledger"
	"github.com/roach88/quakerun/internal/lineage"
	"github.com/roach88/quakerun/internal/params"
	"github.com/roach88/quakerun/internal/plan"
)

// DefaultExecutable is the command job scripts invoke when the
// configuration names none.
const DefaultExecutable = "quakerun"

// Engine runs pipeline operations against run directories.
//
// An Engine holds no per-run state; every operation opens the run's
// ledger, works, and closes it again. Operations on the same run
// directory must not overlap.
type Engine struct {
	cfg       config.Config
	collab    collab.Set
	submitter batch.Submitter
	params    *params.Store
	schema    *params.Schema

	clock      clock.Clock
	logger     *slog.Logger
	ids        IDGenerator
	executable string
	configFile string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock for ledger times. Default: clock.Real().
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithIDGenerator sets the invocation id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithExecutable overrides the command job scripts run.
func WithExecutable(path string) Option {
	return func(e *Engine) { e.executable = path }
}

// WithConfigFile makes job scripts pass --config path to the executable.
func WithConfigFile(path string) Option {
	return func(e *Engine) { e.configFile = path }
}

// New creates an Engine. The collaborators in set may be nil for stages
// the caller never runs; a stage reaching a nil collaborator fails.
func New(cfg config.Config, set collab.Set, submitter batch.Submitter, opts ...Option) (*Engine, error) {
	schema, err := params.NewSchema()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:        cfg,
		collab:     set,
		submitter:  submitter,
		schema:     schema,
		clock:      clock.Real(),
		logger:     slog.Default(),
		ids:        UUIDv7Generator{},
		executable: cfg.Executable,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.executable == "" {
		e.executable = DefaultExecutable
	}
	e.params = params.NewStore(cfg.SwarmsDir, e.logger)
	return e, nil
}

// Params returns the parameter store the engine reads swarms from.
func (e *Engine) Params() *params.Store { return e.params }

// Report describes what one operation did.
type Report struct {
	RunDir   string            `json:"run_dir"`
	Decision *plan.Decision    `json:"decision,omitempty"`
	Changes  []plan.KeyChange  `json:"changes,omitempty"`
	Steps    []ir.StepRecord   `json:"steps"`
	Jobs     []SubmittedJob    `json:"jobs,omitempty"`
	Lineage  lineage.Records   `json:"lineage,omitempty"`
	Warnings []*PipelineError  `json:"warnings,omitempty"`
	Depurate *DepurationReport `json:"depuration,omitempty"`
}

// SubmittedJob is a batch job handed to the scheduler.
type SubmittedJob struct {
	Step   ir.StepName   `json:"step"`
	Kind   batch.JobKind `json:"kind"`
	Script string        `json:"script"`
	JobID  string        `json:"job_id,omitempty"`
}

// DepurationReport carries the detail of a depuration pass that does not
// fit the ledger counts.
type DepurationReport struct {
	BelowThreshold int      `json:"below_threshold"`
	Duplicates     int      `json:"duplicates"`
	Malformed      int      `json:"malformed"`
	DroppedHeaders []string `json:"dropped_headers,omitempty"`
}

// run is the state of one operation on one run directory. Artifacts are
// loaded lazily and cached, so a resumed run reads each from disk at most
// once and a run that produced one in memory never reads it back.
type run struct {
	e         *Engine
	swarm     string
	dir       string
	ledger    *ledger.Ledger
	artifacts *artifact.Store
	logger    *slog.Logger
	report    *Report

	// params are the parameters the steps run under. current is the
	// swarm's parameter file as loaded by this invocation; scheduler
	// overrides come from it.
	params  ir.ParameterSet
	current ir.ParameterSet

	// inJob is set inside the correlate job, where Correlations runs in
	// process instead of being submitted.
	inJob bool

	tribe     *ir.Tribe
	party     *ir.Party
	partyName artifact.Name
	self      lineage.Records
	catalog   *ir.Catalog
}

func (e *Engine) open(ctx context.Context, swarm, runDir string) (*run, error) {
	id := e.ids.Generate()
	logger := e.logger.With("swarm", swarm, "run_dir", runDir)
	l, err := ledger.Open(ctx, runDir,
		ledger.WithClock(e.clock),
		ledger.WithLogger(logger),
		ledger.WithInvocationID(id),
	)
	if err != nil {
		return nil, classify("", err)
	}
	logger.Debug("opened run", "invocation_id", id)
	return &run{
		e:         e,
		swarm:     swarm,
		dir:       runDir,
		ledger:    l,
		artifacts: artifact.NewStore(runDir, e.clock),
		logger:    logger,
		report:    &Report{RunDir: runDir, Steps: []ir.StepRecord{}},
	}, nil
}

func (r *run) close() {
	if err := r.ledger.Close(); err != nil {
		r.logger.Warn("closing ledger", "error", err)
	}
}

// loadParams reads and format-checks the current parameters of swarm.
func (e *Engine) loadParams(swarm string) (ir.ParameterSet, error) {
	p, err := e.params.Load(swarm)
	if err != nil {
		return nil, classify("", err)
	}
	if err := e.schema.Validate(p); err != nil {
		return nil, classify("", err)
	}
	return p, nil
}

// execute walks the steps from start. A batch step hands the rest of the
// pipeline to the scheduler and ends the invocation.
func (r *run) execute(ctx context.Context, start ir.StepName) error {
	for step, ok := start, true; ok; step, ok = step.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if step.IsBatch() && !(step == ir.Correlations && r.inJob) {
			return r.submit(ctx, step)
		}
		if err := r.runStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// runStep executes one in-process step and records it as completed.
func (r *run) runStep(ctx context.Context, step ir.StepName) error {
	if err := params.Require(step, r.params); err != nil {
		return classify(step, err)
	}
	fn := r.stage(step)
	if fn == nil {
		return classify(step, fmt.Errorf("step %s cannot run in process", step))
	}

	start := r.e.clock.Now()
	r.logger.Info("starting step", "step", step)
	counts, err := fn(ctx)
	if err != nil {
		r.logger.Error("step failed", "step", step, "error", err)
		return classify(step, err)
	}

	rec, err := r.ledger.AppendStep(ctx, step, start, counts)
	if err != nil {
		return classify(step, err)
	}
	r.report.Steps = append(r.report.Steps, rec)
	return nil
}

// stageParams is the parameter subset a step's collaborator receives.
func (r *run) stageParams(step ir.StepName) ir.ParameterSet {
	keys := append(params.RequiredKeys(step), plan.KeysFor(step)...)
	return r.params.Subset(keys...)
}

// warn records a non-fatal problem in the report.
func (r *run) warn(pe *PipelineError) {
	r.report.Warnings = append(r.report.Warnings, pe)
}
