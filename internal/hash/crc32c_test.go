package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// Known answer for the Castagnoli polynomial.
	assert.Equal(t, uint32(0xE3069283), CRC32C([]byte("123456789")))

	data := []byte("spilled blob")
	sum := CRC32C(data)
	assert.True(t, Verify(data, sum))
	data[0] ^= 1
	assert.False(t, Verify(data, sum))

	h := NewCRC32C()
	_, _ = h.Write([]byte("1234"))
	_, _ = h.Write([]byte("56789"))
	assert.Equal(t, uint32(0xE3069283), h.Sum32())
}
