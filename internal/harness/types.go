package harness

// TraceEvent records one flow step as executed.
type TraceEvent struct {
	Seq int `json:"seq"`

	// Op is the flow operation ("new_run", "rerun", ...).
	Op string `json:"op"`

	// Decision is the planner's decision, for operations that plan.
	Decision string `json:"decision,omitempty"`

	// Steps lists the ledger entries the operation wrote, as step/phase.
	Steps []string `json:"steps,omitempty"`

	// Jobs lists the kinds of batch jobs the operation submitted.
	Jobs []string `json:"jobs,omitempty"`

	// Warnings lists the codes of non-fatal pipeline errors.
	Warnings []string `json:"warnings,omitempty"`

	// Error is the pipeline error code the operation failed with.
	Error string `json:"error,omitempty"`
}

// LedgerEntry is one row of the final ledger view.
type LedgerEntry struct {
	Step       string           `json:"step"`
	Phase      string           `json:"phase"`
	Superseded bool             `json:"superseded,omitempty"`
	Counts     map[string]int64 `json:"counts"`
}

// Key renders the entry as step/phase, with a superseded marker.
func (e LedgerEntry) Key() string {
	k := e.Step + "/" + e.Phase
	if e.Superseded {
		k += " (superseded)"
	}
	return k
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expect clause and assertion
	// matched.
	Pass bool `json:"pass"`

	// Trace contains every flow step in order.
	Trace []TraceEvent `json:"trace"`

	// Ledger is the final ledger of the run. Empty if the run never got
	// one.
	Ledger []LedgerEntry `json:"ledger"`

	// Generation is the final ledger generation.
	Generation int `json:"generation"`

	// Calls counts collaborator operations by name.
	Calls map[string]int `json:"calls"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for scenario execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Ledger: []LedgerEntry{},
		Calls:  map[string]int{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a trace event, numbering it.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
