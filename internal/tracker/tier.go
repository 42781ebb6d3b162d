package tracker

import (
	"context"
	"math/rand"
)

// Tier tries its trackers in order until one answers, per BEP 12.
// A successful tracker is moved to the front of the tier.
type Tier struct {
	Trackers []Tracker
	failures int
}

var _ Tracker = (*Tier)(nil)

// NewTier shuffles trackers once, as BEP 12 requires.
func NewTier(trackers []Tracker) *Tier {
	rand.Shuffle(len(trackers), func(i, j int) { trackers[i], trackers[j] = trackers[j], trackers[i] })
	return &Tier{Trackers: trackers}
}

// Announce tries each tracker in the tier until one succeeds.
func (t *Tier) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	var lastErr error
	for i, tr := range t.Trackers {
		resp, err := tr.Announce(ctx, req)
		if err == nil {
			t.promote(i)
			t.failures = 0
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	t.failures++
	return nil, lastErr
}

// Failures returns the consecutive failed announce rounds of the tier.
func (t *Tier) Failures() int { return t.failures }

// URL returns the current first tracker's URL.
func (t *Tier) URL() string { return t.Trackers[0].URL() }

func (t *Tier) promote(i int) {
	if i == 0 {
		return
	}
	tr := t.Trackers[i]
	copy(t.Trackers[1:i+1], t.Trackers[0:i])
	t.Trackers[0] = tr
}
