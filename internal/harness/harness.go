package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/roach88/quakerun/internal/config"
	"github.com/roach88/quakerun/internal/engine"
	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/plan"
	"github.com/roach88/quakerun/internal/testutil"
)

// Epoch is the time the harness clock starts at.
var Epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// RunDirName is the run directory every scenario works on, under the
// swarm directory.
const RunDirName = "run_20240301_1"

// Harness is the test execution engine.
// It runs one scenario against a real engine and ledger with fake
// collaborators, a fake scheduler and a ticking clock.
type Harness struct {
	swarm     string
	swarmsDir string
	runDir    string
	pipeline  *testutil.Pipeline
	submitter *testutil.Submitter
	clock     *testutil.TickingClock
	engine    *engine.Engine
}

// Run executes a scenario in workDir, which must be empty or absent,
// and returns the result.
//
// Execution flow:
// 1. Write the swarm's parameter file
// 2. Configure the fake collaborators
// 3. Execute flow steps with expect validation
// 4. Read the final ledger and evaluate assertions
//
// An error is returned only when the harness itself fails; scenario
// mismatches are reported in the result.
func Run(scenario *Scenario, workDir string) (*Result, error) {
	h, err := newHarness(scenario, workDir)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Op, err)
		}
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}
	CheckAssertions(scenario.Assertions, result)
	return result, nil
}

func newHarness(scenario *Scenario, workDir string) (*Harness, error) {
	h := &Harness{
		swarm:     scenario.Swarm,
		swarmsDir: workDir,
		pipeline:  testutil.NewPipeline(),
		submitter: &testutil.Submitter{},
		clock:     testutil.NewTickingClock(Epoch, time.Second),
	}
	h.runDir = filepath.Join(workDir, h.swarm, RunDirName)

	p := testutil.BaseParams()
	for _, k := range sortedKeys(scenario.Parameters) {
		p = testutil.With(p, k, scenario.Parameters[k])
	}
	if err := writeParams(workDir, h.swarm, p); err != nil {
		return nil, err
	}

	if c := scenario.Collaborators; c != nil {
		if c.Events > 0 {
			h.pipeline.Events = c.Events
		}
		if c.Detections > 0 {
			h.pipeline.Detections = c.Detections
		}
		for _, tpl := range c.DropSelf {
			h.pipeline.DropSelf[tpl] = true
		}
		for _, tpl := range c.Overflow {
			h.pipeline.Overflow[tpl] = true
		}
		if c.Correlations != "" {
			h.pipeline.Correlations = c.Correlations
		}
	}

	cfg := config.Default()
	cfg.SwarmsDir = workDir
	e, err := engine.New(cfg, h.pipeline.Set(), h.submitter,
		engine.WithClock(h.clock),
		engine.WithLogger(slog.New(slog.DiscardHandler)),
		engine.WithIDGenerator(testutil.NewFixedIDGenerator("")),
		engine.WithExecutable("/opt/quakerun/bin/quakerun"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	h.engine = e
	return h, nil
}

// writeParams writes p as the parameter file of swarm.
func writeParams(swarmsDir, swarm string, p ir.ParameterSet) error {
	dir := filepath.Join(swarmsDir, swarm)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create swarm directory: %w", err)
	}
	var b strings.Builder
	for _, k := range p.Keys() {
		fmt.Fprintf(&b, "%s=%s\n", k, p[k])
	}
	path := filepath.Join(dir, fmt.Sprintf("parameters%s.txt", swarm))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write parameters: %w", err)
	}
	return nil
}

// executeStep runs one flow step, records it in the trace and checks its
// expect clause.
func (h *Harness) executeStep(ctx context.Context, index int, step FlowStep, result *Result) error {
	ev := TraceEvent{Op: step.Op}
	var (
		report   *engine.Report
		decision *plan.Decision
		opErr    error
	)

	switch step.Op {
	case OpNewRun:
		report, opErr = h.engine.NewRun(ctx, h.swarm, h.runDir, step.Overwrite)
	case OpRerun:
		report, opErr = h.engine.Rerun(ctx, h.swarm, h.runDir, step.Force)
	case OpPlan:
		var d plan.Decision
		d, _, opErr = h.engine.Plan(ctx, h.swarm, h.runDir)
		if opErr == nil {
			decision = &d
		}
	case OpCorrelate:
		report, opErr = h.engine.Correlate(ctx, h.swarm, h.runDir)
	case OpRelocate:
		report, opErr = h.engine.Relocate(ctx, h.swarm, h.runDir)
	case OpDepurate:
		report, opErr = h.engine.Depurate(ctx, h.swarm, h.runDir)
	case OpComplete:
		s, err := ir.ParseStepName(step.Step)
		if err != nil {
			return err
		}
		var rec ir.StepRecord
		rec, opErr = h.engine.Complete(ctx, h.runDir, s, time.Time{}, nil)
		if opErr == nil {
			ev.Steps = []string{stepKey(rec)}
		}
	case OpSetParams:
		changes := ir.ParameterSet{}
		for k, v := range step.Params {
			changes[k] = v
		}
		if _, err := h.engine.Params().Update(h.swarm, changes, "scenario", h.clock.Now()); err != nil {
			return err
		}
	case OpFail:
		for op, msg := range step.Fail {
			h.pipeline.Fail[op] = errors.New(msg)
		}
	case OpHeal:
		h.pipeline.Fail = map[string]error{}
	case OpRejectJobs:
		h.submitter.Reject = true
	case OpAcceptJobs:
		h.submitter.Reject = false
	case OpRemove:
		if err := os.Remove(filepath.Join(h.runDir, step.File)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	if report != nil {
		if report.Decision != nil {
			decision = report.Decision
		}
		for _, rec := range report.Steps {
			ev.Steps = append(ev.Steps, stepKey(rec))
		}
		for _, job := range report.Jobs {
			ev.Jobs = append(ev.Jobs, string(job.Kind))
		}
		for _, w := range report.Warnings {
			ev.Warnings = append(ev.Warnings, string(w.Code))
		}
	}
	if decision != nil {
		ev.Decision = decision.String()
	}
	if opErr != nil {
		ev.Error = errorCode(opErr)
	}
	result.AddTrace(ev)

	checkExpect(index, step, ev, decision, result)
	return nil
}

// checkExpect compares an executed step against its expect clause.
func checkExpect(index int, step FlowStep, ev TraceEvent, decision *plan.Decision, result *Result) {
	expect := step.Expect
	if expect == nil {
		expect = &ExpectClause{}
	}
	prefix := fmt.Sprintf("flow[%d] %s", index, step.Op)

	if ev.Error != expect.Error {
		switch {
		case expect.Error == "":
			result.AddError(fmt.Sprintf("%s: unexpected error %s", prefix, ev.Error))
		case ev.Error == "":
			result.AddError(fmt.Sprintf("%s: expected error %s, got success", prefix, expect.Error))
		default:
			result.AddError(fmt.Sprintf("%s: expected error %s, got %s", prefix, expect.Error, ev.Error))
		}
	}

	if expect.Start != "" || expect.Done {
		switch {
		case decision == nil:
			result.AddError(fmt.Sprintf("%s: no decision to check", prefix))
		case expect.Done && !decision.Done:
			result.AddError(fmt.Sprintf("%s: expected run complete, got %q", prefix, decision.String()))
		case expect.Start != "":
			want, _ := ir.ParseStepName(expect.Start)
			if decision.Start != want {
				result.AddError(fmt.Sprintf("%s: expected start %s, got %s", prefix, want, decision.Start))
			}
		}
	}

	if expect.Steps != nil && !equalStrings(expect.Steps, ev.Steps) {
		result.AddError(fmt.Sprintf("%s: expected steps %v, got %v", prefix, expect.Steps, ev.Steps))
	}
}

// collect reads the final ledger and collaborator calls into result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	for _, op := range h.pipeline.Calls() {
		result.Calls[op]++
	}

	view, err := h.engine.Status(ctx, h.runDir)
	if engine.IsLedgerMissing(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read final ledger: %w", err)
	}
	result.Generation = view.Generation
	for _, rec := range view.CompletedSteps {
		counts := map[string]int64{}
		for k, v := range rec.Counts {
			counts[k] = v
		}
		result.Ledger = append(result.Ledger, LedgerEntry{
			Step:       string(rec.Step),
			Phase:      string(rec.Phase),
			Superseded: view.Superseded(rec),
			Counts:     counts,
		})
	}
	return nil
}

func stepKey(rec ir.StepRecord) string {
	return string(rec.Step) + "/" + string(rec.Phase)
}

// errorCode renders err by its pipeline error code. Other errors carry
// paths of the scenario's work directory and are reported generically.
func errorCode(err error) string {
	var pe *engine.PipelineError
	if errors.As(err, &pe) {
		return string(pe.Code)
	}
	return "ERROR"
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
