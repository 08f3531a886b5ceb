package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/quakerun/internal/batch"
	"github.com/roach88/quakerun/internal/engine"
)

// PipelineOptions holds flags of the commands that drive the pipeline.
type PipelineOptions struct {
	*RootOptions
	Overwrite bool
	Force     bool
	Submit    bool
}

// NewNewCommand creates the new command.
func NewNewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PipelineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "new <swarm> [run]",
		Short: "Start a new run of a swarm",
		Long: `Start a new run of a swarm under its current parameter file.

Without a run argument a fresh run directory run_YYYYMMDD_N is created in
the swarm directory. The pipeline runs in this process until the first
batch step has been submitted; with --submit the whole run is handed to
the scheduler as a job instead.

Examples:
  quakerun new grimsey
  quakerun new grimsey --submit
  quakerun new grimsey run_20240301_1 --overwrite`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNew(opts, cmd, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "re-initialize an existing ledger")
	cmd.Flags().BoolVar(&opts.Submit, "submit", false, "submit the run as a batch job")

	return cmd
}

func runNew(opts *PipelineOptions, cmd *cobra.Command, args []string) error {
	swarm := args[0]
	return runPipeline(opts.RootOptions, cmd, func(ctx context.Context, eng *engine.Engine) (*engine.Report, error) {
		var runDir string
		if len(args) == 2 {
			runDir = eng.ResolveRunDir(swarm, args[1])
		} else {
			dir, err := eng.NextRunDir(swarm)
			if err != nil {
				return nil, WrapExitError(ExitCommandError, "failed to create run directory", err)
			}
			runDir = dir
		}

		if opts.Submit {
			return submitPipeline(ctx, eng, batch.JobNewRun, swarm, runDir)
		}
		return eng.NewRun(ctx, swarm, runDir, opts.Overwrite)
	})
}

// NewRunCommand creates the run command, the body of a new_run job.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PipelineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <swarm> <run>",
		Short: "Run the pipeline for a new run directory",
		Long: `Initialize the ledger of a run directory and run the pipeline until
the first batch step has been submitted.

This is what a job submitted by "new --submit" executes.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts.RootOptions, cmd, func(ctx context.Context, eng *engine.Engine) (*engine.Report, error) {
				return eng.NewRun(ctx, args[0], eng.ResolveRunDir(args[0], args[1]), opts.Overwrite)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "re-initialize an existing ledger")

	return cmd
}

// NewRerunCommand creates the rerun command.
func NewRerunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PipelineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rerun <swarm> <run>",
		Short: "Resume a run under the current parameters",
		Long: `Resume a run directory under the swarm's current parameter file.

Execution starts after the last completed step, or at the earliest step
whose parameters changed since the run was created, whichever comes first.
A run that is complete under current parameters is left alone. A batch step
that was submitted but has not completed is not resubmitted without --force.

Examples:
  quakerun rerun grimsey run_20240301_1
  quakerun rerun grimsey run_20240301_1 --force
  quakerun rerun grimsey /data/swarms/grimsey/run_20240301_1 --submit`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRerun(opts, cmd, args[0], args[1])
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "resubmit a batch step that is already submitted")
	cmd.Flags().BoolVar(&opts.Submit, "submit", false, "submit the rerun as a batch job")

	return cmd
}

func runRerun(opts *PipelineOptions, cmd *cobra.Command, swarm, runArg string) error {
	return runPipeline(opts.RootOptions, cmd, func(ctx context.Context, eng *engine.Engine) (*engine.Report, error) {
		runDir := eng.ResolveRunDir(swarm, runArg)
		if !opts.Submit {
			return eng.Rerun(ctx, swarm, runDir, opts.Force)
		}

		d, changes, err := eng.Plan(ctx, swarm, runDir)
		if err != nil {
			return nil, err
		}
		report := &engine.Report{RunDir: runDir, Decision: &d, Changes: changes.Changes}
		if d.Done || (d.AwaitingBatch && !opts.Force) {
			return report, nil
		}
		job, err := eng.SubmitPipelineJob(ctx, batch.JobRerun, swarm, runDir)
		if err != nil {
			return report, err
		}
		report.Jobs = append(report.Jobs, job)
		return report, nil
	})
}

// NewCorrelateCommand creates the correlate command, the body of a
// correlate job.
func NewCorrelateCommand(rootOpts *RootOptions) *cobra.Command {
	return newJobCommand(rootOpts, "correlate", "Compute cross-correlations, depurate them and submit relocation",
		func(ctx context.Context, eng *engine.Engine, swarm, runDir string) (*engine.Report, error) {
			return eng.Correlate(ctx, swarm, runDir)
		})
}

// NewRelocateCommand creates the relocate command, the body of a relocate
// job.
func NewRelocateCommand(rootOpts *RootOptions) *cobra.Command {
	return newJobCommand(rootOpts, "relocate", "Relocate the run's events and record Relocations",
		func(ctx context.Context, eng *engine.Engine, swarm, runDir string) (*engine.Report, error) {
			return eng.Relocate(ctx, swarm, runDir)
		})
}

// NewDepurateCommand creates the depurate command.
func NewDepurateCommand(rootOpts *RootOptions) *cobra.Command {
	return newJobCommand(rootOpts, "depurate", "Filter the run's correlation file again",
		func(ctx context.Context, eng *engine.Engine, swarm, runDir string) (*engine.Report, error) {
			return eng.Depurate(ctx, swarm, runDir)
		})
}

func newJobCommand(rootOpts *RootOptions, name, short string, op func(context.Context, *engine.Engine, string, string) (*engine.Report, error)) *cobra.Command {
	return &cobra.Command{
		Use:           name + " <swarm> <run>",
		Short:         short,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(rootOpts, cmd, func(ctx context.Context, eng *engine.Engine) (*engine.Report, error) {
				return op(ctx, eng, args[0], eng.ResolveRunDir(args[0], args[1]))
			})
		},
	}
}

// submitPipeline submits a pipeline job and reports it.
func submitPipeline(ctx context.Context, eng *engine.Engine, kind batch.JobKind, swarm, runDir string) (*engine.Report, error) {
	job, err := eng.SubmitPipelineJob(ctx, kind, swarm, runDir)
	report := &engine.Report{RunDir: runDir}
	if err != nil {
		return report, err
	}
	report.Jobs = append(report.Jobs, job)
	return report, nil
}

// runPipeline builds the engine, runs op under a context cancelled by
// SIGINT/SIGTERM and prints the report. A failed operation still prints
// what it completed before the error.
func runPipeline(opts *RootOptions, cmd *cobra.Command, op func(context.Context, *engine.Engine) (*engine.Report, error)) error {
	formatter := opts.formatter(cmd)
	eng, err := opts.newEngine(cmd)
	if err != nil {
		return formatter.Fail(err)
	}

	ctx, stop := commandContext(cmd)
	defer stop()

	report, err := op(ctx, eng)
	if err != nil {
		if report != nil && formatter.Format != "json" {
			_ = reportOutput{report}.writeText(formatter.Writer, formatter.Verbose)
		}
		return formatter.Fail(err)
	}
	return formatter.Success(reportOutput{report})
}

// commandContext derives the context of a command, cancelled on interrupt.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
