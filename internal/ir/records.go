package ir

import (
	"sort"
	"time"
)

// TimeLayout is the timestamp format of the run ledger file.
const TimeLayout = "2006-01-02 15:04:05"

// Phase is the sub-state of a ledger entry.
//
// In-process stages go straight to PhaseCompleted. Batch stages are first
// recorded as PhaseSubmitted by the process that hands them to the scheduler
// and later as PhaseCompleted by the completion callback.
type Phase string

const (
	PhaseSubmitted Phase = "submitted"
	PhaseCompleted Phase = "completed"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p == PhaseSubmitted || p == PhaseCompleted
}

// Counts is the named-counter summary a stage reports for its output
// ("families", "detections", "picks", ...). Forwarded verbatim to the ledger.
type Counts map[string]int64

// Keys returns the counter names in sorted order.
func (c Counts) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a copy of c. A nil Counts clones to an empty one.
func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// StepRecord is one immutable ledger entry.
type StepRecord struct {
	// Seq is the ledger-assigned append position (1-based, per run).
	Seq int64 `json:"-"`

	Step      StepName      `json:"step"`
	Phase     Phase         `json:"phase"`
	StartTime time.Time     `json:"starttime"`
	EndTime   time.Time     `json:"endtime"`
	Duration  time.Duration `json:"duration"`
	Counts    Counts        `json:"counts"`

	// InvocationID identifies the process invocation that wrote the entry.
	InvocationID string `json:"invocation_id,omitempty"`
}

// RunLedger is the persisted record of one run.
type RunLedger struct {
	RunDir          string       `json:"-"`
	PipelineVersion string       `json:"pipeline_version"`
	Parameters      ParameterSet `json:"parameters"`
	CompletedSteps  []StepRecord `json:"completed_steps"`

	// Generation counts re-initializations of the run. Entries of older
	// generations stay in the store but are not part of this view.
	Generation int `json:"generation"`

	// Invalidations are the parameter changes adopted by reruns, oldest
	// first.
	Invalidations []Invalidation `json:"invalidations,omitempty"`
}

// Invalidation records a rerun adopting changed parameters. Entries for
// Step and every later step appended at or before AfterSeq are superseded:
// they were produced under the old parameters.
type Invalidation struct {
	Step           StepName  `json:"step"`
	AfterSeq       int64     `json:"-"`
	Time           time.Time `json:"time"`
	ParametersHash string    `json:"parameters_hash"`
}

// Superseded reports whether rec was produced under parameters a later
// rerun invalidated.
func (l *RunLedger) Superseded(rec StepRecord) bool {
	for _, inv := range l.Invalidations {
		if rec.Seq <= inv.AfterSeq && !rec.Step.Before(inv.Step) {
			return true
		}
	}
	return false
}

// LastCompleted returns the highest-ranked step with a completed entry
// that is not superseded. Ranking is by StepName order, not list position:
// a rerun that restarts at an earlier step appends entries out of
// chronological order.
func (l *RunLedger) LastCompleted() (StepName, bool) {
	best := -1
	for _, rec := range l.CompletedSteps {
		if rec.Phase != PhaseCompleted || l.Superseded(rec) {
			continue
		}
		if i := rec.Step.Index(); i > best {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return stepOrder[best], true
}

// Latest returns the most recently appended entry for step, in any phase,
// ignoring superseded entries. Later entries shadow earlier ones.
func (l *RunLedger) Latest(step StepName) (StepRecord, bool) {
	for i := len(l.CompletedSteps) - 1; i >= 0; i-- {
		rec := l.CompletedSteps[i]
		if rec.Step == step && !l.Superseded(rec) {
			return rec, true
		}
	}
	return StepRecord{}, false
}

// Pending returns batch steps whose latest entry is PhaseSubmitted,
// in pipeline order.
func (l *RunLedger) Pending() []StepName {
	var out []StepName
	for _, step := range stepOrder {
		rec, ok := l.Latest(step)
		if ok && rec.Phase == PhaseSubmitted {
			out = append(out, step)
		}
	}
	return out
}
