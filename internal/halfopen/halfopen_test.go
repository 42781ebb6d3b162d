package halfopen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateLimit(t *testing.T) {
	g := New(2)
	t1, ok := g.TryEnter()
	assert.True(t, ok)
	_, ok = g.TryEnter()
	assert.True(t, ok)
	_, ok = g.TryEnter()
	assert.False(t, ok)
	assert.Equal(t, 2, g.Held())

	t1.Release()
	assert.Equal(t, 1, g.Held())
	_, ok = g.TryEnter()
	assert.True(t, ok)
}

func TestReleaseIdempotent(t *testing.T) {
	g := New(1)
	t1, _ := g.TryEnter()
	t1.Release()
	t1.Release()
	assert.Equal(t, 0, g.Held())
}

func TestLoweredLimit(t *testing.T) {
	g := New(3)
	a, _ := g.TryEnter()
	b, _ := g.TryEnter()
	g.SetLimit(1)
	_, ok := g.TryEnter()
	assert.False(t, ok)
	a.Release()
	b.Release()
	_, ok = g.TryEnter()
	assert.True(t, ok)
}
