package testutil

// FixedIDGenerator returns the same invocation id every time.
//
// Every ledger row written through an engine using it carries the same
// id, which keeps golden ledger files byte-identical between runs.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator returning id. If id is empty,
// Generate() returns "test-invocation".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-invocation"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
