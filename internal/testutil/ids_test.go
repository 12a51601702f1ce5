package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("core")
	assert.Equal(t, "core-1", g.Generate())
	assert.Equal(t, "core-2", g.Generate())

	g.Reset()
	assert.Equal(t, "core-1", g.Generate())
}

func TestSequenceGenerator_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "id-1", NewSequenceGenerator("").Generate())
}
