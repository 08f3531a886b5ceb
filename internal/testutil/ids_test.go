package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedIDGenerator_ReturnsSameID(t *testing.T) {
	gen := NewFixedIDGenerator("inv-123")

	assert.Equal(t, "inv-123", gen.Generate())
	assert.Equal(t, "inv-123", gen.Generate())
}

func TestFixedIDGenerator_EmptyDefault(t *testing.T) {
	assert.Equal(t, "test-invocation", NewFixedIDGenerator("").Generate())
}
