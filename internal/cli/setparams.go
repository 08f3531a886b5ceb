package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/params"
	"github.com/roach88/quakerun/internal/plan"
)

// SetParamsOptions holds flags for the set-params command.
type SetParamsOptions struct {
	*RootOptions
	Comment string
}

// NewSetParamsCommand creates the set-params command.
func NewSetParamsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetParamsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set-params <swarm> [key=value...]",
		Short: "Change a swarm's parameters",
		Long: `Set keys in a swarm's parameter file and append the change to the
swarm's parameter_history.csv. An empty value sets the key to the empty
string. Without key=value arguments the parameter history is printed.

Runs pick the change up on their next rerun.

Examples:
  quakerun set-params grimsey threshold=9.0 min_cc=0.6 --comment "tighter detection"
  quakerun set-params grimsey`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetParams(opts, cmd, args[0], args[1:])
		},
	}

	cmd.Flags().StringVarP(&opts.Comment, "comment", "m", "", "comment recorded in the parameter history")

	return cmd
}

func runSetParams(opts *SetParamsOptions, cmd *cobra.Command, swarm string, pairs []string) error {
	formatter := opts.formatter(cmd)

	updates, err := parsePairs(pairs)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "invalid parameter", err))
	}

	eng, err := opts.newEngine(cmd)
	if err != nil {
		return formatter.Fail(err)
	}
	store := eng.Params()

	if len(updates) == 0 {
		history, err := store.History(swarm)
		if err != nil {
			return formatter.Fail(err)
		}
		return formatter.Success(setParamsOutput{Swarm: swarm, History: history})
	}

	before, err := store.Load(swarm)
	if errors.Is(err, fs.ErrNotExist) {
		before = ir.ParameterSet{}
	} else if err != nil {
		return formatter.Fail(err)
	}
	after, err := store.Update(swarm, updates, opts.Comment, time.Now())
	if err != nil {
		return formatter.Fail(err)
	}

	out := setParamsOutput{
		Swarm:      swarm,
		Changes:    params.Diff(before, after),
		Parameters: after,
	}
	if out.Changes == nil {
		out.Changes = []params.Change{}
	}
	out.Affects = plan.DetectChanges(before, after).Affected()
	return formatter.Success(out)
}

// parsePairs parses key=value arguments.
func parsePairs(pairs []string) (ir.ParameterSet, error) {
	out := make(ir.ParameterSet, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%q is not key=value", p)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}
