// Package engine drives the seismic pipeline state machine.
//
// One Engine serves one process invocation. An operation opens the run
// ledger of a run directory, asks the planner where to start, and walks
// the ordered steps from there:
//
//	TribeConstruction → Detection → Declustering → LagCalc → Magnitudes
//	  → Correlations → DepurateCorrelations → Relocations
//
// In-process steps invoke their collaborator with the stage's parameter
// subset and the previous stage's artifact, persist the stage's own
// artifact, and only then append a completed ledger entry. A failure
// before that point leaves the ledger untouched, so the next rerun
// selects the same step again.
//
// Correlations and Relocations are batch steps. The engine renders a job
// script, hands it to the scheduler and records the step as submitted; the
// job itself is a later invocation (Correlate, Relocate) that records the
// step as completed. Invocations share no memory. They synchronize only
// through the ledger and the artifact files in the run directory.
//
// The run directory is single-writer. Nothing here locks it.
//
// Errors returned by operations are *PipelineError values carrying a code
// (MISSING_ARTIFACT, PARAMETER_KEY_MISSING, ...) the CLI maps to exit
// status and operator output.
package engine
