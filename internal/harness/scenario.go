package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/quakerun/internal/ir"
)

// Scenario defines a resumption scenario: a sequence of pipeline
// operations on one run directory, run against fake collaborators, with
// assertions on the final ledger.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Swarm is the swarm name. Default: "grimsey".
	Swarm string `yaml:"swarm,omitempty"`

	// Parameters override the base parameter set before the first step.
	// An empty value removes the key.
	Parameters map[string]string `yaml:"parameters,omitempty"`

	// Collaborators configures the fake collaborators.
	Collaborators *CollaboratorSetup `yaml:"collaborators,omitempty"`

	// Flow contains the operations to run, in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final ledger and collaborator calls.
	Assertions []Assertion `yaml:"assertions"`
}

// CollaboratorSetup configures the fake collaborators. Zero values keep
// the fake's defaults.
type CollaboratorSetup struct {
	Events       int      `yaml:"events,omitempty"`
	Detections   int      `yaml:"detections,omitempty"`
	DropSelf     []string `yaml:"drop_self,omitempty"`
	Overflow     []string `yaml:"overflow,omitempty"`
	Correlations string   `yaml:"correlations,omitempty"`
}

// FlowStep is one operation of a scenario.
type FlowStep struct {
	// Op is the operation, one of the Op constants.
	Op string `yaml:"op"`

	// Params are the parameter changes of set_params. An empty value
	// removes the key.
	Params map[string]string `yaml:"params,omitempty"`

	// Force and Overwrite are passed to rerun and new_run.
	Force     bool `yaml:"force,omitempty"`
	Overwrite bool `yaml:"overwrite,omitempty"`

	// Step is the batch step of complete.
	Step string `yaml:"step,omitempty"`

	// Fail maps collaborator operations to the error message they fail
	// with from now on (op fail).
	Fail map[string]string `yaml:"fail,omitempty"`

	// File is the run directory file removed by op remove.
	File string `yaml:"file,omitempty"`

	// Expect specifies the expected outcome. If nil, the operation must
	// succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of an operation.
type ExpectClause struct {
	// Error is the expected pipeline error code. Empty means success.
	Error string `yaml:"error,omitempty"`

	// Start is the expected start step of a rerun or plan.
	Start string `yaml:"start,omitempty"`

	// Done expects a rerun or plan to find the run complete.
	Done bool `yaml:"done,omitempty"`

	// Steps are the ledger entries the operation writes, as step/phase.
	// Nil skips the check; an empty list expects none.
	Steps []string `yaml:"steps,omitempty"`
}

// Operations a flow step can run.
const (
	OpNewRun     = "new_run"
	OpRerun      = "rerun"
	OpPlan       = "plan"
	OpCorrelate  = "correlate"
	OpRelocate   = "relocate"
	OpDepurate   = "depurate"
	OpComplete   = "complete"
	OpSetParams  = "set_params"
	OpFail       = "fail"
	OpHeal       = "heal"
	OpRejectJobs = "reject_jobs"
	OpAcceptJobs = "accept_jobs"
	OpRemove     = "remove"
)

var knownOps = map[string]bool{
	OpNewRun: true, OpRerun: true, OpPlan: true, OpCorrelate: true,
	OpRelocate: true, OpDepurate: true, OpComplete: true, OpSetParams: true,
	OpFail: true, OpHeal: true, OpRejectJobs: true, OpAcceptJobs: true, OpRemove: true,
}

// Assertion validates the final state of a scenario.
type Assertion struct {
	// Type specifies the assertion type:
	// - "ledger": the final ledger entries, exactly and in order
	// - "last_completed": the last completed step ("" for none)
	// - "pending": the submitted but not completed steps
	// - "counts": counts of the newest live entry of Step in Phase
	// - "calls": how often a collaborator operation was called
	// - "generation": the final ledger generation
	Type string `yaml:"type"`

	// Entries are the expected ledger entries (used by ledger).
	Entries []string `yaml:"entries,omitempty"`

	// Step is the step (used by last_completed and counts).
	Step string `yaml:"step,omitempty"`

	// Phase is the entry phase counts are read from (used by counts).
	// Default: completed.
	Phase string `yaml:"phase,omitempty"`

	// Steps are the expected steps (used by pending).
	Steps []string `yaml:"steps,omitempty"`

	// Expect contains expected counts (used by counts).
	// Subset match - only specified counters are validated.
	Expect map[string]int64 `yaml:"expect,omitempty"`

	// Op is the collaborator operation (used by calls).
	Op string `yaml:"op,omitempty"`

	// Count is the expected number (used by calls and generation).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertLedger        = "ledger"
	AssertLastCompleted = "last_completed"
	AssertPending       = "pending"
	AssertCounts        = "counts"
	AssertCalls         = "calls"
	AssertGeneration    = "generation"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.Swarm == "" {
		scenario.Swarm = "grimsey"
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateFlowStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateFlowStep(index int, f *FlowStep) error {
	if f.Op == "" {
		return fmt.Errorf("flow[%d]: op is required", index)
	}
	if !knownOps[f.Op] {
		return fmt.Errorf("flow[%d]: unknown op %q", index, f.Op)
	}

	switch f.Op {
	case OpSetParams:
		if len(f.Params) == 0 {
			return fmt.Errorf("flow[%d]: params is required for set_params", index)
		}
	case OpComplete:
		if _, err := ir.ParseStepName(f.Step); err != nil {
			return fmt.Errorf("flow[%d]: %w", index, err)
		}
	case OpFail:
		if len(f.Fail) == 0 {
			return fmt.Errorf("flow[%d]: fail is required for fail", index)
		}
	case OpRemove:
		if f.File == "" {
			return fmt.Errorf("flow[%d]: file is required for remove", index)
		}
	}

	if f.Expect != nil && f.Expect.Start != "" {
		if _, err := ir.ParseStepName(f.Expect.Start); err != nil {
			return fmt.Errorf("flow[%d].expect: %w", index, err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertLedger:
		if a.Entries == nil {
			return fmt.Errorf("assertions[%d]: entries is required for ledger", index)
		}
	case AssertLastCompleted:
		if a.Step != "" {
			if _, err := ir.ParseStepName(a.Step); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertPending:
	case AssertCounts:
		if _, err := ir.ParseStepName(a.Step); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for counts", index)
		}
		switch ir.Phase(a.Phase) {
		case "", ir.PhaseCompleted, ir.PhaseSubmitted:
		default:
			return fmt.Errorf("assertions[%d]: unknown phase %q", index, a.Phase)
		}
	case AssertCalls:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for calls", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for calls", index)
		}
	case AssertGeneration:
		if a.Count < 1 {
			return fmt.Errorf("assertions[%d]: count must be positive for generation", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
