package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(0), AlignUp(uint64(0), uint64(16)))
	assert.Equal(t, uint64(16), AlignUp(uint64(1), uint64(16)))
	assert.Equal(t, uint64(16), AlignUp(uint64(16), uint64(16)))
	assert.Equal(t, uint64(32), AlignUp(uint64(17), uint64(16)))

	// Zero alignment is a pass-through.
	assert.Equal(t, uint64(13), AlignUp(uint64(13), uint64(0)))

	assert.Equal(t, uint32(256), AlignUp(uint32(129), uint32(256)))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, Clamp(5, 0, 10))
	assert.Equal(t, 0, Clamp(-3, 0, 10))
	assert.Equal(t, 10, Clamp(42, 0, 10))
	assert.Equal(t, 0.25, Clamp(0.25, 0.0, 1.0))
}
