package cli

import (
	"github.com/spf13/cobra"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Swarm string
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <swarm> <run>",
		Short: "Show where a rerun would start",
		Long: `Compare a run's recorded parameters with the swarm's current parameter
file and print where a rerun would start. Nothing is executed and the
ledger is not changed.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, cmd, args[0], args[1])
		},
	}

	return cmd
}

func runPlan(opts *RootOptions, cmd *cobra.Command, swarm, runArg string) error {
	formatter := opts.formatter(cmd)
	eng, err := opts.newEngine(cmd)
	if err != nil {
		return formatter.Fail(err)
	}
	ctx, stop := commandContext(cmd)
	defer stop()

	runDir := eng.ResolveRunDir(swarm, runArg)
	d, changes, err := eng.Plan(ctx, swarm, runDir)
	if err != nil {
		return formatter.Fail(err)
	}
	return formatter.Success(planOutput{
		RunDir:   runDir,
		Decision: d,
		Changes:  changes.Changes,
		Ignored:  changes.Ignored(),
	})
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status <run>",
		Short: "Print the ledger of a run",
		Long: `Print every ledger entry of a run directory, marking entries
superseded by a parameter change and batch steps still pending.

A bare run name is resolved in the directory of --swarm.

Examples:
  quakerun status /data/swarms/grimsey/run_20240301_1
  quakerun status run_20240301_1 --swarm grimsey --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Swarm, "swarm", "", "swarm whose directory bare run names are resolved in")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command, runArg string) error {
	formatter := opts.formatter(cmd)
	eng, err := opts.newEngine(cmd)
	if err != nil {
		return formatter.Fail(err)
	}
	ctx, stop := commandContext(cmd)
	defer stop()

	runDir := eng.ResolveRunDir(opts.Swarm, runArg)
	view, err := eng.Status(ctx, runDir)
	if err != nil {
		return formatter.Fail(err)
	}
	return formatter.Success(newStatusOutput(runDir, view))
}
