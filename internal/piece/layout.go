package piece

import (
	"path/filepath"

	"github.com/tidebt/tide/internal/filesection"
	"github.com/tidebt/tide/internal/metainfo"
	"github.com/tidebt/tide/internal/storage"
)

// OpenFiles opens every file of the torrent in sto.
func OpenFiles(info *metainfo.Info, sto storage.Storage) ([]storage.File, error) {
	fileDicts := info.GetFiles()
	files := make([]storage.File, len(fileDicts))
	for i, fd := range fileDicts {
		name := filepath.Join(fd.Path...)
		if info.MultiFile() {
			name = filepath.Join(info.Name, name)
		}
		f, _, err := sto.Open(name, fd.Length)
		if err != nil {
			for _, o := range files[:i] {
				_ = o.Close()
			}
			return nil, err
		}
		files[i] = f
	}
	return files, nil
}

// NewPieces builds the piece list of a torrent, mapping each piece onto
// sections of the opened files.
func NewPieces(info *metainfo.Info, files []storage.File) []Piece {
	fileDicts := info.GetFiles()
	var (
		fileIndex  int
		fileLength = fileDicts[0].Length
		fileOffset int64
	)
	nextFile := func() {
		fileIndex++
		fileLength = fileDicts[fileIndex].Length
		fileOffset = 0
	}

	var total int64
	pieces := make([]Piece, info.NumPieces)
	for i := uint32(0); i < info.NumPieces; i++ {
		p := Piece{Index: i, Hash: info.PieceHash(i)}
		left := info.PieceLengthAt(i)
		for left > 0 {
			if fileLength-fileOffset == 0 {
				nextFile()
				continue
			}
			n := int64(left)
			if avail := fileLength - fileOffset; avail < n {
				n = avail
			}
			p.Data = append(p.Data, filesection.Section{
				File:   files[fileIndex],
				Name:   filepath.Join(fileDicts[fileIndex].Path...),
				Offset: fileOffset,
				Length: n,
			})
			left -= uint32(n)
			p.Length += uint32(n)
			fileOffset += n
			total += n
			if total == info.TotalLength {
				break
			}
		}
		pieces[i] = p
	}
	return pieces
}
