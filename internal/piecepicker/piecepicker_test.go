package piecepicker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPeer struct {
	choking bool
	snubbed bool
}

func (p *testPeer) RemoteChoking() bool { return p.choking }
func (p *testPeer) IsSnubbed() bool     { return p.snubbed }

func TestPickRarestFirst(t *testing.T) {
	pp := New(3, 2)
	common := &testPeer{}
	rare := &testPeer{}
	// Piece 0 is held by both peers, piece 2 only by "rare".
	pp.HandleHave(common, 0)
	pp.HandleHave(rare, 0)
	pp.HandleHave(rare, 2)

	index, ok := pp.PickFor(rare)
	require.True(t, ok)
	assert.Equal(t, uint32(2), index)
}

func TestPickSkipsRequestedPieces(t *testing.T) {
	pp := New(2, 2)
	a := &testPeer{}
	b := &testPeer{}
	pp.HandleHaveAll(a)
	pp.HandleHaveAll(b)

	i1, ok := pp.PickFor(a)
	require.True(t, ok)
	i2, ok := pp.PickFor(b)
	require.True(t, ok)
	assert.NotEqual(t, i1, i2)
}

func TestEndgameDuplicates(t *testing.T) {
	pp := New(1, 2)
	a := &testPeer{}
	b := &testPeer{}
	c := &testPeer{}
	pp.HandleHaveAll(a)
	pp.HandleHaveAll(b)
	pp.HandleHaveAll(c)

	_, ok := pp.PickFor(a)
	require.True(t, ok)
	assert.False(t, pp.Endgame())

	// Second peer duplicates the only piece; endgame begins.
	i2, ok := pp.PickFor(b)
	require.True(t, ok)
	assert.Equal(t, uint32(0), i2)
	assert.True(t, pp.Endgame())

	// maxDuplicateDownload = 2 caps further duplication.
	_, ok = pp.PickFor(c)
	assert.False(t, ok)
}

func TestStalledDownloadIsHandedOver(t *testing.T) {
	pp := New(1, 2)
	stalled := &testPeer{}
	fresh := &testPeer{}
	pp.HandleHaveAll(stalled)
	pp.HandleHaveAll(fresh)

	_, ok := pp.PickFor(stalled)
	require.True(t, ok)
	stalled.snubbed = true

	index, ok := pp.PickFor(fresh)
	require.True(t, ok)
	assert.Equal(t, uint32(0), index)
	assert.False(t, pp.Endgame())
}

func TestWritingPieceNotHandedOut(t *testing.T) {
	pp := New(1, 5)
	a := &testPeer{}
	b := &testPeer{}
	pp.HandleHaveAll(a)
	pp.HandleHaveAll(b)

	index, ok := pp.PickFor(a)
	require.True(t, ok)
	pp.HandleCancelDownload(a, index)
	pp.HandleWriting(index)

	_, ok = pp.PickFor(b)
	assert.False(t, ok)

	pp.HandleDone(index)
	assert.True(t, pp.Done(index))
	_, ok = pp.PickFor(b)
	assert.False(t, ok)
}

func TestRequestersExcludesCompleter(t *testing.T) {
	pp := New(1, 3)
	a := &testPeer{}
	b := &testPeer{}
	pp.HandleHaveAll(a)
	pp.HandleHaveAll(b)
	_, _ = pp.PickFor(a)
	_, _ = pp.PickFor(b)

	others := pp.Requesters(0, a)
	require.Len(t, others, 1)
	assert.Equal(t, Peer(b), others[0])
}

func TestDisconnectReleasesClaims(t *testing.T) {
	pp := New(1, 1)
	a := &testPeer{}
	b := &testPeer{}
	pp.HandleHaveAll(a)
	pp.HandleHaveAll(b)
	_, ok := pp.PickFor(a)
	require.True(t, ok)

	pp.HandleDisconnect(a)
	assert.Equal(t, 1, pp.Availability(0))
	index, ok := pp.PickFor(b)
	require.True(t, ok)
	assert.Equal(t, uint32(0), index)
}
