package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/quakerun/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string        // Assertion type for categorization
	Expected string        // Human-readable expected outcome
	Actual   string        // Human-readable actual outcome
	Ledger   []LedgerEntry // Final ledger for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFinal ledger:\n")
	for i, entry := range e.Ledger {
		fmt.Fprintf(&buf, "  [%d] %s %v\n", i+1, entry.Key(), entry.Counts)
	}

	return buf.String()
}

// CheckAssertions evaluates every assertion against result and records
// failures in it.
func CheckAssertions(assertions []Assertion, result *Result) {
	for i, a := range assertions {
		if err := evaluateAssertion(a, result); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
}

func evaluateAssertion(a Assertion, r *Result) error {
	switch a.Type {
	case AssertLedger:
		return assertLedger(r, a)
	case AssertLastCompleted:
		return assertLastCompleted(r, a)
	case AssertPending:
		return assertPending(r, a)
	case AssertCounts:
		return assertCounts(r, a)
	case AssertCalls:
		return assertCalls(r, a)
	case AssertGeneration:
		if r.Generation != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("generation %d", a.Count),
				Actual:   fmt.Sprintf("generation %d", r.Generation),
				Ledger:   r.Ledger,
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertLedger checks the final ledger entries, exactly and in order.
func assertLedger(r *Result, a Assertion) error {
	actual := make([]string, len(r.Ledger))
	for i, e := range r.Ledger {
		actual[i] = e.Key()
	}
	if !equalStrings(a.Entries, actual) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%q", a.Entries),
			Actual:   fmt.Sprintf("%q", actual),
			Ledger:   r.Ledger,
		}
	}
	return nil
}

// assertLastCompleted checks the highest-ranked live completed step.
func assertLastCompleted(r *Result, a Assertion) error {
	want := ""
	if a.Step != "" {
		s, err := ir.ParseStepName(a.Step)
		if err != nil {
			return err
		}
		want = string(s)
	}
	got := ""
	if s, ok := LastCompleted(r.Ledger); ok {
		got = string(s)
	}
	if got != want {
		return &AssertionError{
			Type:     a.Type,
			Expected: orNone(want),
			Actual:   orNone(got),
			Ledger:   r.Ledger,
		}
	}
	return nil
}

// assertPending checks the batch steps awaiting completion.
func assertPending(r *Result, a Assertion) error {
	var got []string
	for _, s := range Pending(r.Ledger) {
		got = append(got, string(s))
	}
	if !equalStrings(a.Steps, got) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%q", a.Steps),
			Actual:   fmt.Sprintf("%q", got),
			Ledger:   r.Ledger,
		}
	}
	return nil
}

// assertCounts checks the counters of the newest live entry of a step in
// the asserted phase. Subset match: counters not named in the assertion
// are ignored.
func assertCounts(r *Result, a Assertion) error {
	step, err := ir.ParseStepName(a.Step)
	if err != nil {
		return err
	}
	phase := ir.PhaseCompleted
	if a.Phase != "" {
		phase = ir.Phase(a.Phase)
	}
	var entry *LedgerEntry
	for i := len(r.Ledger) - 1; i >= 0; i-- {
		e := r.Ledger[i]
		if e.Step == string(step) && e.Phase == string(phase) && !e.Superseded {
			entry = &r.Ledger[i]
			break
		}
	}
	if entry == nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s entry for %s", phase, step),
			Actual:   "none",
			Ledger:   r.Ledger,
		}
	}

	for _, k := range ir.Counts(a.Expect).Keys() {
		got, ok := entry.Counts[k]
		if !ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s %s=%d", step, k, a.Expect[k]),
				Actual:   fmt.Sprintf("%s has no counter %s", step, k),
				Ledger:   r.Ledger,
			}
		}
		if got != a.Expect[k] {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s %s=%d", step, k, a.Expect[k]),
				Actual:   fmt.Sprintf("%s %s=%d", step, k, got),
				Ledger:   r.Ledger,
			}
		}
	}
	return nil
}

// assertCalls checks how often a collaborator operation ran.
func assertCalls(r *Result, a Assertion) error {
	if got := r.Calls[a.Op]; got != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s called %d times", a.Op, a.Count),
			Actual:   fmt.Sprintf("%s called %d times", a.Op, got),
			Ledger:   r.Ledger,
		}
	}
	return nil
}

// LastCompleted returns the highest-ranked step with a completed entry
// that is not superseded.
func LastCompleted(entries []LedgerEntry) (ir.StepName, bool) {
	best := -1
	for _, e := range entries {
		if e.Phase != string(ir.PhaseCompleted) || e.Superseded {
			continue
		}
		if i := ir.StepName(e.Step).Index(); i > best {
			best = i
		}
	}
	return ir.StepAt(best)
}

// Pending returns the batch steps whose newest live entry is submitted,
// in pipeline order.
func Pending(entries []LedgerEntry) []ir.StepName {
	latest := map[string]string{}
	for _, e := range entries {
		if !e.Superseded {
			latest[e.Step] = e.Phase
		}
	}
	var out []ir.StepName
	for _, s := range ir.Steps() {
		if latest[string(s)] == string(ir.PhaseSubmitted) {
			out = append(out, s)
		}
	}
	return out
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
