// Package plan decides where a run resumes.
//
// Three pieces cooperate:
//
//   - The dependency map assigns each parameter key the earliest step whose
//     output depends on its value.
//
//   - DetectChanges diffs the parameters a run was recorded with against
//     the current parameter file and reports the earliest invalidated step.
//
//   - Resume combines that with the ledger's last completed step:
//
//     start = min(successor(last completed), earliest invalidated)
//
// A key change invalidates its step and, implicitly, every later step.
// Only the earliest such step is reported; Resume treats it as a floor.
//
// Everything here is pure: no I/O, no clock, no logging.
package plan
