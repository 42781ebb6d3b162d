package piecedownloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidebt/tide/internal/piece"
)

type request struct {
	index, begin, length uint32
}

type testPeer struct {
	fast     bool
	requests []request
	cancels  []request
}

func (p *testPeer) RequestBlock(index, begin, length uint32) {
	p.requests = append(p.requests, request{index, begin, length})
}
func (p *testPeer) CancelBlock(index, begin, length uint32) {
	p.cancels = append(p.cancels, request{index, begin, length})
}
func (p *testPeer) FastEnabled() bool { return p.fast }

func newPiece(length uint32) *piece.Piece {
	return &piece.Piece{Index: 3, Length: length}
}

func TestRequestWindow(t *testing.T) {
	pe := &testPeer{}
	pi := newPiece(piece.BlockSize*2 + 100)
	d := New(pi, pe, false, make([]byte, pi.Length))

	d.RequestBlocks(2)
	require.Len(t, pe.requests, 2)
	assert.Equal(t, 2, d.Pending())

	// Window is full; no more requests until a block arrives.
	d.RequestBlocks(2)
	assert.Len(t, pe.requests, 2)

	err := d.GotBlock(0, make([]byte, piece.BlockSize))
	require.NoError(t, err)
	d.RequestBlocks(2)
	assert.Len(t, pe.requests, 3)
	assert.Equal(t, uint32(100), pe.requests[2].length)
}

func TestGotBlockValidation(t *testing.T) {
	pe := &testPeer{}
	pi := newPiece(piece.BlockSize * 2)
	d := New(pi, pe, false, make([]byte, pi.Length))
	d.RequestBlocks(10)

	// Misaligned and mis-sized blocks are rejected.
	assert.Equal(t, ErrBlockInvalid, d.GotBlock(5, make([]byte, piece.BlockSize)))
	assert.Equal(t, ErrBlockInvalid, d.GotBlock(0, make([]byte, 10)))

	require.NoError(t, d.GotBlock(0, make([]byte, piece.BlockSize)))
	assert.Equal(t, ErrBlockDuplicate, d.GotBlock(0, make([]byte, piece.BlockSize)))

	require.NoError(t, d.GotBlock(piece.BlockSize, make([]byte, piece.BlockSize)))
	assert.True(t, d.Done())
}

func TestChokedRequeuesWithoutFast(t *testing.T) {
	pe := &testPeer{}
	pi := newPiece(piece.BlockSize * 2)
	d := New(pi, pe, false, make([]byte, pi.Length))
	d.RequestBlocks(2)
	require.Equal(t, 2, d.Pending())

	d.Choked()
	assert.Equal(t, 0, d.Pending())

	// The blocks go back to remaining and can be re-requested.
	d.RequestBlocks(2)
	assert.Len(t, pe.requests, 4)
}

func TestChokedKeepsPendingWithFast(t *testing.T) {
	pe := &testPeer{fast: true}
	pi := newPiece(piece.BlockSize)
	d := New(pi, pe, false, make([]byte, pi.Length))
	d.RequestBlocks(1)
	d.Choked()
	// Fast peers reject explicitly; pending requests stay.
	assert.Equal(t, 1, d.Pending())
}

func TestRejected(t *testing.T) {
	pe := &testPeer{fast: true}
	pi := newPiece(piece.BlockSize * 2)
	d := New(pi, pe, false, make([]byte, pi.Length))
	d.RequestBlocks(1)
	begin := pe.requests[0].begin

	assert.False(t, d.Rejected(begin+1, piece.BlockSize))
	assert.True(t, d.Rejected(begin, piece.BlockSize))
	assert.Equal(t, 0, d.Pending())

	d.RequestBlocks(1)
	assert.Len(t, pe.requests, 2)
}

func TestCancelPending(t *testing.T) {
	pe := &testPeer{}
	pi := newPiece(piece.BlockSize * 3)
	d := New(pi, pe, false, make([]byte, pi.Length))
	d.RequestBlocks(3)
	d.CancelPending()
	assert.Len(t, pe.cancels, 3)
	assert.Equal(t, 0, d.Pending())
}
