package bandwidth

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimitedByDefault(t *testing.T) {
	l := NewLimiter(Unlimited, Unlimited)
	assert.Equal(t, int64(Unlimited), l.Rate(Upload))
	assert.Equal(t, int64(Unlimited), l.Rate(Download))

	// Unlimited channels add no wrapping.
	var buf bytes.Buffer
	w := Writer(&buf, []*Limiter{l})
	assert.Equal(t, io.Writer(&buf), w)
}

func TestSetRate(t *testing.T) {
	l := NewLimiter(1024, 2048)
	assert.Equal(t, int64(1024), l.Rate(Upload))
	assert.Equal(t, int64(2048), l.Rate(Download))
	l.SetRate(Upload, Unlimited)
	assert.Equal(t, int64(Unlimited), l.Rate(Upload))
}

func TestLimitedReader(t *testing.T) {
	// 64 KiB/s with one second of burst: reading 1 KiB twice must not
	// block measurably.
	l := NewLimiter(Unlimited, 64*1024)
	src := bytes.NewReader(make([]byte, 2048))
	r := Reader(src, []*Limiter{l})

	start := time.Now()
	b := make([]byte, 1024)
	_, err := io.ReadFull(r, b)
	require.NoError(t, err)
	_, err = io.ReadFull(r, b)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSlowestBucketGoverns(t *testing.T) {
	a := NewLimiter(1024, Unlimited)
	b := NewLimiter(Unlimited, Unlimited)
	var buf bytes.Buffer
	w := Writer(&buf, []*Limiter{a, b})
	// Only one bucket is limiting; the wrap chain is a single writer.
	assert.NotEqual(t, io.Writer(&buf), w)
}
