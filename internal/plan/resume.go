package plan

import (
	"fmt"

	"github.com/roach88/quakerun/internal/ir"
)

// Decision is where execution (re)starts.
type Decision struct {
	// Start is the first step to execute. Empty when Done.
	Start ir.StepName `json:"start,omitempty" yaml:"start,omitempty"`

	// Done is set when every step is complete under current parameters.
	Done bool `json:"done" yaml:"done"`

	LastCompleted ir.StepName   `json:"last_completed,omitempty" yaml:"last_completed,omitempty"`
	Invalidated   ir.StepName   `json:"invalidated,omitempty" yaml:"invalidated,omitempty"`
	FullRestart   bool          `json:"full_restart" yaml:"full_restart"`
	AwaitingBatch bool          `json:"awaiting_batch" yaml:"awaiting_batch"`
	PendingSteps  []ir.StepName `json:"pending,omitempty" yaml:"pending,omitempty"`
}

// Resume picks the start step from the last completed step and the
// earliest invalidated step. Either may be absent (ok=false).
//
//   - neither: the first step
//   - only last completed: its successor, or Done past the terminal step
//   - only invalidated: the invalidated step
//   - both: the earlier of successor(last) and invalidated
func Resume(last ir.StepName, haveLast bool, invalidated ir.StepName, haveInvalidated bool) Decision {
	d := Decision{}
	if haveLast {
		d.LastCompleted = last
	}
	if haveInvalidated {
		d.Invalidated = invalidated
	}

	var start ir.StepName
	haveStart := true
	switch {
	case !haveLast:
		start = ir.FirstStep()
	default:
		start, haveStart = last.Next()
	}

	if haveInvalidated && (!haveStart || invalidated.Before(start)) {
		start, haveStart = invalidated, true
	}

	if !haveStart {
		d.Done = true
		return d
	}
	d.Start = start
	d.FullRestart = start == ir.FirstStep() && haveLast
	return d
}

// ForLedger plans a rerun of view against the current parameters.
// Batch steps submitted but not yet completed are reported in
// PendingSteps; when the start step is one of them, AwaitingBatch is set
// and the caller should not resubmit unless forced.
func ForLedger(view *ir.RunLedger, current ir.ParameterSet) (Decision, ChangeReport) {
	report := DetectChanges(view.Parameters, current)
	last, haveLast := view.LastCompleted()
	d := Resume(last, haveLast, report.Earliest, report.Invalidated)

	d.PendingSteps = view.Pending()
	if !d.Done && !report.Invalidated {
		for _, s := range d.PendingSteps {
			if s == d.Start {
				d.AwaitingBatch = true
			}
		}
	}
	return d, report
}

// String renders the decision for operator output.
func (d Decision) String() string {
	switch {
	case d.Done:
		return "run is complete under current parameters"
	case d.AwaitingBatch:
		return fmt.Sprintf("%s submitted to the scheduler, awaiting completion", d.Start)
	case d.FullRestart:
		return fmt.Sprintf("full restart from %s", d.Start)
	default:
		return fmt.Sprintf("start at %s", d.Start)
	}
}
