package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zeebo/bencode"
)

var errInvalidPieceData = errors.New("invalid piece data")

// Info is the parsed info dictionary of a torrent.
type Info struct {
	PieceLength uint32             `bencode:"piece length"`
	Pieces      []byte             `bencode:"pieces"`
	Private     bencode.RawMessage `bencode:"private"`
	Name        string             `bencode:"name"`
	Length      int64              `bencode:"length"` // single-file mode
	Files       []FileDict         `bencode:"files"`  // multi-file mode

	// Calculated fields
	Hash        [20]byte `bencode:"-"`
	TotalLength int64    `bencode:"-"`
	NumPieces   uint32   `bencode:"-"`
	Bytes       []byte   `bencode:"-"`
	private     bool
}

// FileDict is a file entry of the info dictionary.
type FileDict struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// NewInfo parses the bencoded info dictionary in b.
func NewInfo(b []byte) (*Info, error) {
	var i Info
	if err := bencode.DecodeBytes(b, &i); err != nil {
		return nil, err
	}
	if uint32(len(i.Pieces))%sha1.Size != 0 {
		return nil, errInvalidPieceData
	}
	if len(i.Private) > 0 {
		var intVal int64
		var stringVal string
		if err := bencode.DecodeBytes(i.Private, &intVal); err == nil {
			i.private = intVal == 1
		} else if err = bencode.DecodeBytes(i.Private, &stringVal); err == nil {
			i.private = stringVal == "1"
		}
	}
	// ".." is not allowed in file names
	for _, file := range i.Files {
		for _, path := range file.Path {
			if strings.TrimSpace(path) == ".." {
				return nil, fmt.Errorf("invalid file name: %q", filepath.Join(file.Path...))
			}
		}
	}
	i.NumPieces = uint32(len(i.Pieces)) / sha1.Size
	if i.MultiFile() {
		for _, f := range i.Files {
			i.TotalLength += f.Length
		}
	} else {
		i.TotalLength = i.Length
	}
	totalPieceDataLength := int64(i.PieceLength) * int64(i.NumPieces)
	delta := totalPieceDataLength - i.TotalLength
	if delta >= int64(i.PieceLength) || delta < 0 {
		return nil, errInvalidPieceData
	}
	i.Bytes = b
	h := sha1.New() // nolint: gosec
	_, _ = h.Write(b)
	copy(i.Hash[:], h.Sum(nil))
	return &i, nil
}

// MultiFile reports whether the torrent has more than one file.
func (i *Info) MultiFile() bool { return len(i.Files) != 0 }

// PieceHash returns the SHA-1 of the piece at index.
func (i *Info) PieceHash(index uint32) []byte {
	begin := index * sha1.Size
	return i.Pieces[begin : begin+sha1.Size]
}

// PieceLengthAt returns the length of the piece at index; the last piece
// may be shorter.
func (i *Info) PieceLengthAt(index uint32) uint32 {
	if index == i.NumPieces-1 {
		if mod := i.TotalLength % int64(i.PieceLength); mod != 0 {
			return uint32(mod)
		}
	}
	return i.PieceLength
}

// GetFiles returns the file list, with single-file mode normalized.
func (i *Info) GetFiles() []FileDict {
	if i.MultiFile() {
		return i.Files
	}
	return []FileDict{{i.Length, []string{i.Name}}}
}

// IsPrivate reports whether the torrent is marked private (BEP 27).
func (i *Info) IsPrivate() bool {
	return i != nil && i.private
}
