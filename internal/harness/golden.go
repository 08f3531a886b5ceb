package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/quakerun/internal/ir"
)

// Snapshot captures the trace and final ledger of a scenario execution.
// It is serialized as canonical JSON for deterministic comparison; ledger
// times are left out because they depend on how often the clock is read.
type Snapshot struct {
	ScenarioName string        `json:"scenario_name"`
	Trace        []TraceEvent  `json:"trace"`
	Ledger       []LedgerEntry `json:"ledger"`
	Generation   int           `json:"generation"`
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *Snapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"seq": event.Seq,
			"op":  event.Op,
		}
		if event.Decision != "" {
			eventMap["decision"] = event.Decision
		}
		if len(event.Steps) > 0 {
			eventMap["steps"] = event.Steps
		}
		if len(event.Jobs) > 0 {
			eventMap["jobs"] = event.Jobs
		}
		if len(event.Warnings) > 0 {
			eventMap["warnings"] = event.Warnings
		}
		if event.Error != "" {
			eventMap["error"] = event.Error
		}
		traceList[i] = eventMap
	}

	ledgerList := make([]any, len(s.Ledger))
	for i, entry := range s.Ledger {
		entryMap := map[string]any{
			"step":   entry.Step,
			"phase":  entry.Phase,
			"counts": ir.Counts(entry.Counts),
		}
		if entry.Superseded {
			entryMap["superseded"] = true
		}
		ledgerList[i] = entryMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"ledger":        ledgerList,
		"generation":    s.Generation,
	}
}

// MarshalSnapshot renders the snapshot of result as canonical JSON.
func MarshalSnapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := Snapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Ledger:       result.Ledger,
		Generation:   result.Generation,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario in a fresh temporary directory and
// compares its snapshot against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check result.Pass. Test failure
// (via goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, t.TempDir())
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return result, err
	}
	return result, nil
}

// AssertGolden compares the given result's snapshot against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
