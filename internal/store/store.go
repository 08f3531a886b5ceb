package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/quakerun/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - runs, parameter_sets and step_events tables
// 2 - Append-only triggers on every table
const currentSchemaVersion = ir.LedgerSchemaVersion

// Store provides durable storage for one run ledger.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV2 installs the append-only triggers. Ledgers created by v1
// had no triggers; CREATE TRIGGER IF NOT EXISTS is a no-op when present.
func migrateToV2(db *sql.DB) error {
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS runs_no_update BEFORE UPDATE ON runs
		 BEGIN SELECT RAISE(ABORT, 'runs is append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS runs_no_delete BEFORE DELETE ON runs
		 BEGIN SELECT RAISE(ABORT, 'runs is append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS parameter_sets_no_update BEFORE UPDATE ON parameter_sets
		 BEGIN SELECT RAISE(ABORT, 'parameter_sets is append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS parameter_sets_no_delete BEFORE DELETE ON parameter_sets
		 BEGIN SELECT RAISE(ABORT, 'parameter_sets is append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS step_events_no_update BEFORE UPDATE ON step_events
		 BEGIN SELECT RAISE(ABORT, 'step_events is append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS step_events_no_delete BEFORE DELETE ON step_events
		 BEGIN SELECT RAISE(ABORT, 'step_events is append-only'); END`,
	}
	for _, stmt := range triggers {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
