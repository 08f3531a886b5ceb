package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/quakerun/internal/ir"
)

// CompleteOptions holds flags for the complete command.
type CompleteOptions struct {
	*RootOptions
	Swarm  string
	Start  string
	Counts map[string]int64
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "complete <run> <step>",
		Short: "Record a batch step as completed",
		Long: `Record that a batch step finished outside quakerun.

The start time defaults to the time the step was submitted. Times are
"YYYY-MM-DD HH:MM:SS" in local time or RFC 3339.

Examples:
  quakerun complete /data/swarms/grimsey/run_20240301_1 Relocations
  quakerun complete run_20240301_1 Relocations --swarm grimsey \
      --start "2024-03-01 12:00:00" --counts events_relocated=412`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComplete(opts, cmd, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Swarm, "swarm", "", "swarm whose directory bare run names are resolved in")
	cmd.Flags().StringVar(&opts.Start, "start", "", "start time of the step (default: submission time)")
	cmd.Flags().StringToInt64Var(&opts.Counts, "counts", nil, "counts to record (name=value,...)")

	return cmd
}

func runComplete(opts *CompleteOptions, cmd *cobra.Command, runArg, stepArg string) error {
	formatter := opts.formatter(cmd)

	step, err := ir.ParseStepName(stepArg)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "invalid step", err))
	}
	var start time.Time
	if opts.Start != "" {
		if start, err = parseTime(opts.Start); err != nil {
			return formatter.Fail(WrapExitError(ExitCommandError, "invalid --start", err))
		}
	}

	eng, err := opts.newEngine(cmd)
	if err != nil {
		return formatter.Fail(err)
	}
	ctx, stop := commandContext(cmd)
	defer stop()

	runDir := eng.ResolveRunDir(opts.Swarm, runArg)
	rec, err := eng.Complete(ctx, runDir, step, start, ir.Counts(opts.Counts))
	if err != nil {
		return formatter.Fail(err)
	}
	return formatter.Success(completeOutput{RunDir: runDir, Record: rec})
}

// parseTime accepts the ledger layout in local time or RFC 3339.
func parseTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(ir.TimeLayout, s, time.Local); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: want %q or RFC 3339", s, ir.TimeLayout)
	}
	return t, nil
}
