// Package filesection maps a contiguous byte range of the torrent onto
// the files it spans.
package filesection

import "io"

// Section of a single file.
type Section struct {
	File   ReadWriterAt
	Name   string
	Offset int64
	Length int64
}

// ReadWriterAt is the part of a storage file a section needs.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Sections is an ordered list of file sections forming one piece.
type Sections []Section

// Length returns the total number of bytes covered.
func (s Sections) Length() int64 {
	var total int64
	for i := range s {
		total += s[i].Length
	}
	return total
}

// Reader returns a reader over the whole range.
func (s Sections) Reader() io.Reader {
	readers := make([]io.Reader, len(s))
	for i := range s {
		readers[i] = io.NewSectionReader(s[i].File, s[i].Offset, s[i].Length)
	}
	return io.MultiReader(readers...)
}

// ReadAt reads len(p) bytes starting at off within the range.
func (s Sections) ReadAt(p []byte, off int64) (int, error) {
	var readers []io.Reader
	var pos int64
	need := int64(len(p))
	for i := range s {
		if off >= pos+s[i].Length {
			pos += s[i].Length
			continue
		}
		skip := off - pos
		if skip < 0 {
			skip = 0
		}
		take := s[i].Length - skip
		if take > need {
			take = need
		}
		readers = append(readers, io.NewSectionReader(s[i].File, s[i].Offset+skip, take))
		need -= take
		off += take
		pos += s[i].Length
		if need == 0 {
			break
		}
	}
	if need > 0 {
		return 0, io.ErrUnexpectedEOF
	}
	return io.ReadFull(io.MultiReader(readers...), p)
}

// Write writes p across the sections, starting at the beginning of the
// range. len(p) must equal the total length of the range.
func (s Sections) Write(p []byte) (n int, err error) {
	for i := range s {
		part := p[:s[i].Length]
		var m int
		m, err = s[i].File.WriteAt(part, s[i].Offset)
		n += m
		if err != nil {
			return
		}
		p = p[m:]
	}
	return
}
