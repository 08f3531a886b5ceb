package ir

import (
	"fmt"
	"strings"
)

// StepName identifies one stage of the pipeline.
//
// Steps form a fixed total order (see Steps). The order is the only thing
// the planner relies on: a step's output is consumed by every later step.
type StepName string

const (
	TribeConstruction    StepName = "TribeConstruction"
	Detection            StepName = "Detection"
	Declustering         StepName = "Declustering"
	LagCalc              StepName = "LagCalc"
	Magnitudes           StepName = "Magnitudes"
	Correlations         StepName = "Correlations"
	DepurateCorrelations StepName = "DepurateCorrelations"
	Relocations          StepName = "Relocations"
)

// stepOrder is the total order of pipeline steps.
// INVARIANT: never reordered at runtime.
var stepOrder = [...]StepName{
	TribeConstruction,
	Detection,
	Declustering,
	LagCalc,
	Magnitudes,
	Correlations,
	DepurateCorrelations,
	Relocations,
}

// legacyStepNames maps step names written by older pipeline releases
// (run_file.json produced before the ledger moved to SQLite) to StepName.
var legacyStepNames = map[string]StepName{
	"Tribe_construction":    TribeConstruction,
	"Tribe Construction":    TribeConstruction,
	"Lag_calc":              LagCalc,
	"Depurate Correlations": DepurateCorrelations,
}

// Steps returns all steps in pipeline order. The returned slice is a copy.
func Steps() []StepName {
	out := make([]StepName, len(stepOrder))
	copy(out, stepOrder[:])
	return out
}

// FirstStep returns the first step of the pipeline.
func FirstStep() StepName { return stepOrder[0] }

// TerminalStep returns the last step of the pipeline.
func TerminalStep() StepName { return stepOrder[len(stepOrder)-1] }

// StepCount is the number of pipeline steps.
const StepCount = len(stepOrder)

// StepAt returns the step at index i, or false if i is out of range.
func StepAt(i int) (StepName, bool) {
	if i < 0 || i >= len(stepOrder) {
		return "", false
	}
	return stepOrder[i], true
}

// Index returns the rank of s in pipeline order, or -1 for unknown steps.
func (s StepName) Index() int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known pipeline step.
func (s StepName) Valid() bool {
	return s.Index() >= 0
}

// Before reports whether s precedes other in pipeline order.
func (s StepName) Before(other StepName) bool {
	return s.Index() < other.Index()
}

// Next returns the successor of s. The second return is false when s is
// the terminal step or unknown.
func (s StepName) Next() (StepName, bool) {
	i := s.Index()
	if i < 0 {
		return "", false
	}
	return StepAt(i + 1)
}

// IsBatch reports whether the step is handed off to the external batch
// scheduler instead of running in-process.
func (s StepName) IsBatch() bool {
	return s == Correlations || s == Relocations
}

func (s StepName) String() string { return string(s) }

// ParseStepName parses a step name. Legacy spellings are accepted and
// matching is case-insensitive.
func ParseStepName(name string) (StepName, error) {
	name = strings.TrimSpace(name)
	if step, ok := legacyStepNames[name]; ok {
		return step, nil
	}
	for _, step := range stepOrder {
		if strings.EqualFold(string(step), name) {
			return step, nil
		}
	}
	return "", fmt.Errorf("unknown step %q", name)
}

// EarliestStep returns the lowest-ranked step among steps.
// The second return is false when steps is empty.
func EarliestStep(steps []StepName) (StepName, bool) {
	best := -1
	for _, s := range steps {
		i := s.Index()
		if i < 0 {
			continue
		}
		if best < 0 || i < best {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return stepOrder[best], true
}
