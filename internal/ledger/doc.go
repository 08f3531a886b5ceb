// Package ledger is the run ledger: the persisted record of which pipeline
// steps have completed for a run directory, under which parameters, with
// what counts.
//
// The ledger is backed by a SQLite store (ledger.db) in the run directory.
// After every write a human-readable mirror, run_file.json, is rewritten
// atomically. The mirror is an export: the database is authoritative.
//
// Run directories written by older releases carry only run_file.json.
// Open imports such a file into a fresh database on first use.
package ledger
