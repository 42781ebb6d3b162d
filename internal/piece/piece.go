// Package piece provides the piece and block layout of a torrent over
// its storage files.
package piece

import (
	"crypto/sha1"
	"hash"

	"github.com/tidebt/tide/internal/filesection"
)

// BlockSize is the transport granularity of piece data.
const BlockSize = 16 * 1024

// Piece of a torrent.
type Piece struct {
	Index  uint32
	Length uint32
	Data   filesection.Sections
	Hash   []byte

	// Done is set once the piece hash verified and the bytes are on disk.
	Done bool
	// Writing is set while a verified piece is in flight to storage.
	Writing bool
}

// Block of a piece.
type Block struct {
	Index  uint32 // block index within the piece
	Begin  uint32 // offset within the piece
	Length uint32
}

// NumBlocks returns the number of blocks in the piece.
func (p *Piece) NumBlocks() uint32 {
	return (p.Length + BlockSize - 1) / BlockSize
}

// GetBlock returns the block at index i within the piece.
func (p *Piece) GetBlock(i uint32) Block {
	length := uint32(BlockSize)
	if i == p.NumBlocks()-1 {
		if mod := p.Length % BlockSize; mod != 0 {
			length = mod
		}
	}
	return Block{Index: i, Begin: i * BlockSize, Length: length}
}

// FindBlock returns the block starting at begin with the given length.
func (p *Piece) FindBlock(begin, length uint32) (Block, bool) {
	if begin%BlockSize != 0 {
		return Block{}, false
	}
	i := begin / BlockSize
	if i >= p.NumBlocks() {
		return Block{}, false
	}
	b := p.GetBlock(i)
	if b.Length != length {
		return Block{}, false
	}
	return b, true
}

// VerifyHash reports whether buf matches the piece hash.
func (p *Piece) VerifyHash(buf []byte, h hash.Hash) bool {
	if uint32(len(buf)) != p.Length {
		return false
	}
	_, _ = h.Write(buf)
	sum := h.Sum(nil)
	return equal(sum, p.Hash)
}

// HashBytes returns the SHA-1 of buf.
func HashBytes(buf []byte) []byte {
	h := sha1.New() // nolint: gosec
	_, _ = h.Write(buf)
	return h.Sum(nil)
}

func equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
