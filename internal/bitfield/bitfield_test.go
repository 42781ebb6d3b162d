package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetTest(t *testing.T) {
	b := New(10)
	assert.False(t, b.Test(0))
	b.Set(0)
	b.Set(9)
	assert.True(t, b.Test(0))
	assert.True(t, b.Test(9))
	assert.False(t, b.Test(5))
	assert.Equal(t, uint32(2), b.Count())
	b.Clear(0)
	assert.False(t, b.Test(0))
}

func TestNewBytesClearsSpareBits(t *testing.T) {
	b := NewBytes([]byte{0xff, 0xff}, 10)
	// Bits 10..15 must read as unset.
	assert.Equal(t, uint32(10), b.Count())
	assert.True(t, b.All())
}

func TestAll(t *testing.T) {
	b := New(8)
	for i := uint32(0); i < 8; i++ {
		assert.False(t, b.All())
		b.Set(i)
	}
	assert.True(t, b.All())
	b.ClearAll()
	assert.Equal(t, uint32(0), b.Count())
}

func TestCopyIndependent(t *testing.T) {
	b := New(4)
	b.Set(1)
	c := b.Copy()
	c.Set(2)
	assert.False(t, b.Test(2))
	assert.True(t, c.Test(1))
}
