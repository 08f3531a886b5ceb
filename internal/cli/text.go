package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/roach88/quakerun/internal/engine"
	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/ledger"
	"github.com/roach88/quakerun/internal/params"
	"github.com/roach88/quakerun/internal/plan"
)

// textWriter is implemented by results with a human-readable rendering.
type textWriter interface {
	writeText(w io.Writer, verbose bool) error
}

// reportOutput is the result of a pipeline operation.
type reportOutput struct {
	*engine.Report
}

func (r reportOutput) writeText(w io.Writer, verbose bool) error {
	fmt.Fprintf(w, "Run: %s\n", r.RunDir)
	if r.Decision != nil {
		fmt.Fprintf(w, "Plan: %s\n", r.Decision)
	}
	writeChanges(w, r.Changes)

	if len(r.Steps) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, rec := range r.Steps {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", rec.Step, rec.Phase, ledger.FormatDuration(rec.Duration), formatCounts(rec.Counts))
		}
		tw.Flush()
	}
	for _, job := range r.Jobs {
		fmt.Fprintf(w, "Submitted %s job %s (%s)\n", job.Kind, job.JobID, job.Script)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "Warning [%s]: %s\n", warn.Code, warn.Message)
	}
	if len(r.Lineage) > 0 {
		fmt.Fprintf(w, "Lost self-detections: %d\n", len(r.Lineage))
		if verbose {
			for _, name := range r.Lineage.Templates() {
				fmt.Fprintf(w, "  %s\n", name)
			}
		}
	}
	if d := r.Depurate; d != nil {
		fmt.Fprintf(w, "Depuration: %d below threshold, %d duplicate, %d malformed, %d blocks dropped\n",
			d.BelowThreshold, d.Duplicates, d.Malformed, len(d.DroppedHeaders))
	}
	if len(r.Steps) == 0 && len(r.Jobs) == 0 && r.Decision == nil {
		fmt.Fprintln(w, "Nothing to do")
	}
	return nil
}

func writeChanges(w io.Writer, changes []plan.KeyChange) {
	for _, c := range changes {
		target := "no step"
		if c.Step != "" {
			target = string(c.Step)
		}
		fmt.Fprintf(w, "Changed: %s %s -> %s (%s)\n", c.Key, valueOrUnset(c.Old), valueOrUnset(c.New), target)
	}
}

func valueOrUnset(v *string) string {
	if v == nil {
		return "<unset>"
	}
	return *v
}

// formatCounts renders counts as key=value pairs in key order.
func formatCounts(c ir.Counts) string {
	parts := make([]string, 0, len(c))
	for _, k := range c.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%d", k, c[k]))
	}
	return strings.Join(parts, " ")
}

// statusOutput is the ledger of a run.
type statusOutput struct {
	RunDir  string         `json:"run_dir"`
	Ledger  *ir.RunLedger  `json:"ledger"`
	Last    ir.StepName    `json:"last_completed,omitempty"`
	Pending []ir.StepName  `json:"pending,omitempty"`
	Entries []statusRecord `json:"entries"`
}

type statusRecord struct {
	ir.StepRecord
	Superseded bool `json:"superseded,omitempty"`
}

func newStatusOutput(runDir string, view *ir.RunLedger) statusOutput {
	out := statusOutput{
		RunDir:  runDir,
		Ledger:  view,
		Pending: view.Pending(),
		Entries: make([]statusRecord, 0, len(view.CompletedSteps)),
	}
	if last, ok := view.LastCompleted(); ok {
		out.Last = last
	}
	for _, rec := range view.CompletedSteps {
		out.Entries = append(out.Entries, statusRecord{StepRecord: rec, Superseded: view.Superseded(rec)})
	}
	return out
}

func (s statusOutput) writeText(w io.Writer, verbose bool) error {
	fmt.Fprintf(w, "Run: %s (pipeline %s, generation %d)\n", s.RunDir, s.Ledger.PipelineVersion, s.Ledger.Generation)
	if len(s.Entries) == 0 {
		fmt.Fprintln(w, "No steps logged")
	} else {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, rec := range s.Entries {
			mark := ""
			if rec.Superseded {
				mark = "superseded"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\n",
				rec.Step,
				rec.Phase,
				rec.StartTime.Local().Format(ir.TimeLayout),
				ledger.FormatDuration(rec.Duration),
				formatCounts(rec.Counts),
				mark,
			)
		}
		tw.Flush()
	}
	if s.Last != "" {
		fmt.Fprintf(w, "Last completed: %s\n", s.Last)
	}
	for _, step := range s.Pending {
		fmt.Fprintf(w, "Pending: %s (submitted, not completed)\n", step)
	}
	if verbose {
		for _, k := range s.Ledger.Parameters.Keys() {
			fmt.Fprintf(w, "  %s=%s\n", k, s.Ledger.Parameters[k])
		}
	}
	return nil
}

// planOutput is what a rerun would do.
type planOutput struct {
	RunDir   string           `json:"run_dir"`
	Decision plan.Decision    `json:"decision"`
	Changes  []plan.KeyChange `json:"changes,omitempty"`
	Ignored  []string         `json:"ignored,omitempty"`
}

func (p planOutput) writeText(w io.Writer, verbose bool) error {
	fmt.Fprintf(w, "Run: %s\n", p.RunDir)
	writeChanges(w, p.Changes)
	fmt.Fprintf(w, "Plan: %s\n", p.Decision)
	if p.Decision.AwaitingBatch {
		fmt.Fprintln(w, "Use rerun --force to resubmit")
	}
	return nil
}

// setParamsOutput is the result of set-params.
type setParamsOutput struct {
	Swarm      string                `json:"swarm"`
	Changes    []params.Change       `json:"changes"`
	Affects    []ir.StepName         `json:"affects,omitempty"`
	Parameters ir.ParameterSet       `json:"parameters"`
	History    []params.HistoryEntry `json:"history,omitempty"`
}

func (s setParamsOutput) writeText(w io.Writer, verbose bool) error {
	if s.Changes == nil {
		for _, h := range s.History {
			fmt.Fprintf(w, "%s  %s  %s\n", h.Date, h.Changes, h.Comment)
		}
		if len(s.History) == 0 {
			fmt.Fprintf(w, "No parameter history for swarm %s\n", s.Swarm)
		}
		return nil
	}
	for _, c := range s.Changes {
		fmt.Fprintf(w, "%s: %s -> %s\n", c.Key, valueOrUnset(c.Old), valueOrUnset(c.New))
	}
	if len(s.Affects) > 0 {
		fmt.Fprintf(w, "Reruns restart no later than %s\n", s.Affects[0])
	}
	return nil
}

// completeOutput is the ledger entry written by complete.
type completeOutput struct {
	RunDir string        `json:"run_dir"`
	Record ir.StepRecord `json:"record"`
}

func (c completeOutput) writeText(w io.Writer, verbose bool) error {
	fmt.Fprintf(w, "Completed %s in %s (%s) %s\n",
		c.Record.Step, c.RunDir, ledger.FormatDuration(c.Record.Duration), formatCounts(c.Record.Counts))
	return nil
}
