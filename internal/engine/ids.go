package engine

import "github.com/google/uuid"

// IDGenerator produces invocation ids. Every ledger row written by one
// process invocation carries the same id.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 invocation ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids of later
// invocations sort after earlier ones.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
