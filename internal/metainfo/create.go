package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/bencode"
)

// CreateOptions control NewInfoBytes.
type CreateOptions struct {
	// PieceLength must be a multiple of 16 KiB. Zero selects a size
	// that keeps the piece count reasonable.
	PieceLength uint32
	// PadFileLimit adds BEP 47 pad files after files of at least this
	// size so the next file starts piece-aligned. Negative disables
	// padding.
	PadFileLimit int64
	Private      bool
}

var errPieceLength = errors.New("piece length must be a multiple of 16384")

type sourceFile struct {
	path string // empty for a pad file
	dict FileDict
}

// NewInfoBytes hashes the file or directory at path and returns the
// bencoded info dictionary.
func NewInfoBytes(path string, opt CreateOptions) ([]byte, error) {
	if opt.PieceLength%(16*1024) != 0 {
		return nil, errPieceLength
	}
	root, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	var sources []sourceFile
	var total int64
	if root.IsDir() {
		err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
			if err != nil || fi.IsDir() {
				return err
			}
			rel, err2 := filepath.Rel(path, p)
			if err2 != nil {
				return err2
			}
			sources = append(sources, sourceFile{
				path: p,
				dict: FileDict{Length: fi.Size(), Path: strings.Split(filepath.ToSlash(rel), "/")},
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Slice(sources, func(i, j int) bool {
			return filepath.Join(sources[i].dict.Path...) < filepath.Join(sources[j].dict.Path...)
		})
	} else {
		sources = append(sources, sourceFile{path: path, dict: FileDict{Length: root.Size()}})
	}
	for _, sf := range sources {
		total += sf.dict.Length
	}
	pieceLength := opt.PieceLength
	if pieceLength == 0 {
		pieceLength = choosePieceLength(total)
	}
	if root.IsDir() && opt.PadFileLimit >= 0 {
		sources = insertPadFiles(sources, pieceLength, opt.PadFileLimit)
		total = 0
		for _, sf := range sources {
			total += sf.dict.Length
		}
	}
	pieces, err := hashPieces(sources, pieceLength)
	if err != nil {
		return nil, err
	}
	info := struct {
		PieceLength uint32     `bencode:"piece length"`
		Pieces      []byte     `bencode:"pieces"`
		Private     int64      `bencode:"private,omitempty"`
		Name        string     `bencode:"name"`
		Length      int64      `bencode:"length,omitempty"`
		Files       []FileDict `bencode:"files,omitempty"`
	}{
		PieceLength: pieceLength,
		Pieces:      pieces,
		Name:        filepath.Base(path),
	}
	if opt.Private {
		info.Private = 1
	}
	if root.IsDir() {
		for _, sf := range sources {
			info.Files = append(info.Files, sf.dict)
		}
	} else {
		info.Length = total
	}
	return bencode.EncodeBytes(info)
}

// insertPadFiles aligns the file after every large-enough file to a
// piece boundary (BEP 47).
func insertPadFiles(sources []sourceFile, pieceLength uint32, limit int64) []sourceFile {
	out := make([]sourceFile, 0, len(sources))
	var offset int64
	padIndex := 0
	for i, sf := range sources {
		out = append(out, sf)
		offset += sf.dict.Length
		if i == len(sources)-1 || sf.dict.Length < limit {
			continue
		}
		pad := (int64(pieceLength) - offset%int64(pieceLength)) % int64(pieceLength)
		if pad == 0 {
			continue
		}
		out = append(out, sourceFile{
			dict: FileDict{
				Length: pad,
				Path:   []string{".pad", strconv.Itoa(padIndex)},
			},
		})
		padIndex++
		offset += pad
	}
	return out
}

func choosePieceLength(total int64) uint32 {
	pieceLength := uint32(16 * 1024)
	for int64(pieceLength) < total/2048 && pieceLength < 16*1024*1024 {
		pieceLength *= 2
	}
	return pieceLength
}

// zeroReader yields n zero bytes, used for pad file content.
type zeroReader struct{ n int64 }

func (z *zeroReader) Read(p []byte) (int, error) {
	if z.n == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > z.n {
		p = p[:z.n]
	}
	for i := range p {
		p[i] = 0
	}
	z.n -= int64(len(p))
	return len(p), nil
}

func hashPieces(sources []sourceFile, pieceLength uint32) ([]byte, error) {
	var readers []io.Reader
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	for _, sf := range sources {
		if sf.path == "" {
			readers = append(readers, &zeroReader{n: sf.dict.Length})
			continue
		}
		f, err := os.Open(sf.path)
		if err != nil {
			return nil, err
		}
		readers = append(readers, f)
		closers = append(closers, f)
	}
	r := io.MultiReader(readers...)
	buf := make([]byte, pieceLength)
	var pieces []byte
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			h := sha1.New() // nolint: gosec
			_, _ = h.Write(buf[:n])
			pieces = h.Sum(pieces)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return pieces, nil
}
