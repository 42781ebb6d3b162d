package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	err       error
	announces int
}

func (f *fakeTracker) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	f.announces++
	if f.err != nil {
		return nil, f.err
	}
	return &AnnounceResponse{}, nil
}

func (f *fakeTracker) URL() string { return "fake://" }

func testCtx() context.Context { return context.Background() }

func TestTierFailover(t *testing.T) {
	bad1 := &fakeTracker{err: ErrDecode}
	bad2 := &fakeTracker{err: ErrDecode}
	tier := &Tier{Trackers: []Tracker{bad1, bad2}}

	_, err := tier.Announce(testCtx(), AnnounceRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, bad1.announces)
	assert.Equal(t, 1, bad2.announces)
	assert.Equal(t, 1, tier.Failures())

	_, _ = tier.Announce(testCtx(), AnnounceRequest{})
	assert.Equal(t, 2, tier.Failures())
}
