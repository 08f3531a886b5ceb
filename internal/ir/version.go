package ir

// Version constants for the pipeline and its on-disk formats.
const (
	// PipelineVersion is recorded in every run ledger at initialization.
	PipelineVersion = "2.1.0"

	// ArtifactVersion is the schema version of intermediate artifact files.
	// Readers reject artifacts written with a different version.
	ArtifactVersion = 1

	// LedgerSchemaVersion is the SQLite schema version of the run ledger.
	LedgerSchemaVersion = 2
)
