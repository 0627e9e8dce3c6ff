package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRNG_Deterministic(t *testing.T) {
	a := NewRNG(4711).Bytes(64)
	b := NewRNG(4711).Bytes(64)
	assert.Equal(t, a, b)

	rng := NewRNG(1)
	first := rng.Bytes(16)
	rng.Reset()
	assert.Equal(t, first, rng.Bytes(16))
}

func TestRNG_Sizes(t *testing.T) {
	sizes := NewRNG(3).Sizes(100, 10)
	assert.Len(t, sizes, 100)
	for _, s := range sizes {
		assert.GreaterOrEqual(t, s, 1)
		assert.LessOrEqual(t, s, 10)
	}
}

func TestPattern(t *testing.T) {
	assert.Equal(t, Pattern(9, 100), Pattern(9, 100))
	assert.NotEqual(t, Pattern(9, 100), Pattern(10, 100))
}
