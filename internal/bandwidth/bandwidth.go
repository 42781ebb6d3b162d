// Package bandwidth provides hierarchical token buckets for rate
// limiting peer traffic.
//
// Each peer class owns two channels (upload and download), each backed by
// a token bucket. A connection belonging to several classes consumes from
// every class's bucket on the relevant channel; the slowest bucket
// governs.
package bandwidth

import (
	"io"

	"github.com/juju/ratelimit"
)

// Channel direction within a class.
type Channel int

const (
	Upload Channel = iota
	Download
)

// Unlimited disables limiting on a channel.
const Unlimited = 0

// Limiter is a pair of token buckets, one per channel.
type Limiter struct {
	buckets [2]*ratelimit.Bucket
}

// NewLimiter creates a Limiter with the given rates in bytes per second.
// A zero rate leaves that channel unlimited.
func NewLimiter(uploadRate, downloadRate int64) *Limiter {
	l := new(Limiter)
	l.SetRate(Upload, uploadRate)
	l.SetRate(Download, downloadRate)
	return l
}

// SetRate replaces the bucket of ch with one filling at rate bytes/s.
// Burst capacity is one second of traffic.
func (l *Limiter) SetRate(ch Channel, rate int64) {
	if rate == Unlimited {
		l.buckets[ch] = nil
		return
	}
	l.buckets[ch] = ratelimit.NewBucketWithRate(float64(rate), rate)
}

// Rate returns the fill rate of ch, or Unlimited.
func (l *Limiter) Rate(ch Channel) int64 {
	b := l.buckets[ch]
	if b == nil {
		return Unlimited
	}
	return int64(b.Rate())
}

// Wait blocks until n tokens are available on ch.
func (l *Limiter) Wait(ch Channel, n int64) {
	if b := l.buckets[ch]; b != nil {
		b.Wait(n)
	}
}

// Reader returns r limited by the download channels of all limiters.
func Reader(r io.Reader, limiters []*Limiter) io.Reader {
	for _, l := range limiters {
		if b := l.buckets[Download]; b != nil {
			r = ratelimit.Reader(r, b)
		}
	}
	return r
}

// Writer returns w limited by the upload channels of all limiters.
func Writer(w io.Writer, limiters []*Limiter) io.Writer {
	for _, l := range limiters {
		if b := l.buckets[Upload]; b != nil {
			w = ratelimit.Writer(w, b)
		}
	}
	return w
}
