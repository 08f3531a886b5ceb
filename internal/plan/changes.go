package plan

import (
	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/params"
)

// KeyChange is a differing parameter together with the step it affects.
type KeyChange struct {
	params.Change `yaml:",inline"`

	// Step is the step the key maps to. Empty for unmapped keys.
	Step ir.StepName `json:"step,omitempty" yaml:"step,omitempty"`
}

// ChangeReport is the result of DetectChanges.
type ChangeReport struct {
	// Changes lists every differing key, mapped or not, sorted by key.
	Changes []KeyChange

	// Earliest is the lowest-ranked affected step. Valid only when
	// Invalidated is true.
	Earliest    ir.StepName
	Invalidated bool
}

// Affected returns the distinct mapped steps in pipeline order.
func (r ChangeReport) Affected() []ir.StepName {
	seen := make(map[ir.StepName]bool)
	for _, c := range r.Changes {
		if c.Step != "" {
			seen[c.Step] = true
		}
	}
	var out []ir.StepName
	for _, s := range ir.Steps() {
		if seen[s] {
			out = append(out, s)
		}
	}
	return out
}

// Ignored returns the differing keys that map to no step.
func (r ChangeReport) Ignored() []string {
	var out []string
	for _, c := range r.Changes {
		if c.Step == "" {
			out = append(out, c.Key)
		}
	}
	return out
}

// DetectChanges compares the stored parameters of a run with a freshly
// loaded set. A key missing on one side differs from any present value.
// Keys absent from the dependency map are reported but invalidate nothing.
func DetectChanges(stored, current ir.ParameterSet) ChangeReport {
	var report ChangeReport
	var steps []ir.StepName
	for _, c := range params.Diff(stored, current) {
		kc := KeyChange{Change: c}
		if step, ok := StepFor(c.Key); ok {
			kc.Step = step
			steps = append(steps, step)
		}
		report.Changes = append(report.Changes, kc)
	}
	report.Earliest, report.Invalidated = ir.EarliestStep(steps)
	return report
}
