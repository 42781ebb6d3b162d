package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCachedNow(t *testing.T) {
	c := New()
	first := c.Now()
	time.Sleep(10 * time.Millisecond)
	// Without a tick the cached value does not move.
	assert.Equal(t, first, c.Now())
	assert.True(t, c.HighRes().After(first))

	ticked := c.Tick()
	assert.Equal(t, ticked, c.Now())
	assert.True(t, ticked.After(first))
	assert.True(t, c.Since(first) > 0)
}
