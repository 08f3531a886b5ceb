// Package store provides SQLite-backed durable storage for run ledgers.
//
// One database lives in each run directory. It holds an append-only log of:
//   - Runs: one row per initialization of the run directory (a generation)
//     with the pipeline version
//   - Parameter sets: the parameters in canonical JSON, one row at
//     initialization and one per rerun that adopted changed parameters,
//     carrying the earliest step the change invalidated
//   - Step events: one row per ledger entry (submitted or completed)
//
// # Critical Patterns
//
// Append-only: triggers abort every UPDATE and DELETE on every table.
// Re-initializing a run inserts a new generation; older rows remain.
//
// Deterministic reads: every query orders by seq ASC, so the ledger view
// is identical however often it is read.
//
// Durability: synchronous=FULL. A write has reached stable storage when
// the call returns, so a crash after append never loses the record.
//
// # Database Configuration
//
//   - WAL mode: readers (status, plan) do not block the writer
//   - synchronous=FULL: commit is durable on return
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: step events must reference an existing generation
package store
