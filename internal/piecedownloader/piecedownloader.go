// Package piecedownloader drives the download of one piece from one peer.
package piecedownloader

import (
	"errors"

	"github.com/tidebt/tide/internal/piece"
)

var (
	// ErrBlockDuplicate is returned from GotBlock when the block was
	// already received.
	ErrBlockDuplicate = errors.New("received duplicate block")
	// ErrBlockNotRequested is returned from GotBlock when the block was
	// never requested. The data is still kept.
	ErrBlockNotRequested = errors.New("received block that is not requested")
	// ErrBlockInvalid is returned from GotBlock when the block does not
	// align with the piece's block layout.
	ErrBlockInvalid = errors.New("received invalid block")
)

// Peer is the requesting side of a connection.
type Peer interface {
	RequestBlock(index, begin, length uint32)
	CancelBlock(index, begin, length uint32)
	FastEnabled() bool
}

// PieceDownloader accumulates the blocks of a single piece from a single
// peer. The caller feeds received blocks and drains new requests with
// RequestBlocks up to the peer's request window.
type PieceDownloader struct {
	Piece *piece.Piece
	Peer  Peer
	// AllowedFast is set when the piece was in the peer's allowed-fast
	// set; such downloads survive chokes.
	AllowedFast bool
	Buffer      []byte

	blocks    map[uint32]uint32 // begin -> length
	remaining []uint32
	pending   map[uint32]struct{}
	done      map[uint32]struct{}
}

// New returns a PieceDownloader writing into buf, which must be at least
// pi.Length bytes.
func New(pi *piece.Piece, pe Peer, allowedFast bool, buf []byte) *PieceDownloader {
	n := pi.NumBlocks()
	d := &PieceDownloader{
		Piece:       pi,
		Peer:        pe,
		AllowedFast: allowedFast,
		Buffer:      buf[:pi.Length],
		blocks:      make(map[uint32]uint32, n),
		remaining:   make([]uint32, 0, n),
		pending:     make(map[uint32]struct{}, n),
		done:        make(map[uint32]struct{}, n),
	}
	for i := uint32(0); i < n; i++ {
		b := pi.GetBlock(i)
		d.blocks[b.Begin] = b.Length
		d.remaining = append(d.remaining, b.Begin)
	}
	return d
}

// RequestBlocks sends up to window new block requests.
func (d *PieceDownloader) RequestBlocks(window int) {
	for len(d.remaining) > 0 && len(d.pending) < window {
		begin := d.remaining[0]
		d.remaining = d.remaining[1:]
		d.pending[begin] = struct{}{}
		d.Peer.RequestBlock(d.Piece.Index, begin, d.blocks[begin])
	}
}

// Choked must be called when the peer chokes us.
// Without the fast extension the peer silently drops our pending
// requests, so they move back to remaining.
func (d *PieceDownloader) Choked() {
	if d.AllowedFast || d.Peer.FastEnabled() {
		// Fast peers reject pending requests explicitly.
		return
	}
	for begin := range d.pending {
		delete(d.pending, begin)
		d.remaining = append(d.remaining, begin)
	}
}

// GotBlock stores a received block.
func (d *PieceDownloader) GotBlock(begin uint32, data []byte) error {
	length, ok := d.blocks[begin]
	if !ok || length != uint32(len(data)) {
		return ErrBlockInvalid
	}
	if _, ok := d.done[begin]; ok {
		return ErrBlockDuplicate
	}
	copy(d.Buffer[begin:begin+length], data)
	d.done[begin] = struct{}{}
	if _, ok := d.pending[begin]; !ok {
		return ErrBlockNotRequested
	}
	delete(d.pending, begin)
	return nil
}

// Rejected must be called when the peer rejects a request (fast
// extension). Reports whether the reject matched an in-flight block.
func (d *PieceDownloader) Rejected(begin, length uint32) bool {
	if blockLength, ok := d.blocks[begin]; !ok || blockLength != length {
		return false
	}
	if _, ok := d.pending[begin]; !ok {
		return false
	}
	delete(d.pending, begin)
	d.remaining = append(d.remaining, begin)
	return true
}

// CancelPending sends cancel messages for all in-flight requests.
func (d *PieceDownloader) CancelPending() {
	for begin := range d.pending {
		d.Peer.CancelBlock(d.Piece.Index, begin, d.blocks[begin])
		delete(d.pending, begin)
	}
}

// Done reports whether every block has been received.
func (d *PieceDownloader) Done() bool { return len(d.done) == len(d.blocks) }

// Pending returns the number of in-flight block requests.
func (d *PieceDownloader) Pending() int { return len(d.pending) }
