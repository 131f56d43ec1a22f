package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceGenerator(t *testing.T) {
	gen := NewSequenceGenerator("order")

	assert.Equal(t, "order-1", gen.Generate())
	assert.Equal(t, "order-2", gen.Generate())

	gen.Reset()
	assert.Equal(t, "order-1", gen.Generate())
}
