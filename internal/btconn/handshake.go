package btconn

import (
	"encoding/binary"
	"io"
)

var pstr = [20]byte{19, 'B', 'i', 't', 'T', 'o', 'r', 'r', 'e', 'n', 't', ' ', 'p', 'r', 'o', 't', 'o', 'c', 'o', 'l'}

func writeHandshake(w io.Writer, ih, id [20]byte, extensions [8]byte) error {
	h := struct {
		Pstr       [20]byte
		Extensions [8]byte
		InfoHash   [20]byte
		PeerID     [20]byte
	}{
		Pstr:       pstr,
		Extensions: extensions,
		InfoHash:   ih,
		PeerID:     id,
	}
	return binary.Write(w, binary.BigEndian, h)
}

// readHandshake1 reads the protocol string, extension bits and infohash.
func readHandshake1(r io.Reader) (extensions [8]byte, ih [20]byte, err error) {
	var p [20]byte
	if _, err = io.ReadFull(r, p[:]); err != nil {
		return
	}
	if p != pstr {
		err = ErrInvalidProtocol
		return
	}
	if _, err = io.ReadFull(r, extensions[:]); err != nil {
		return
	}
	_, err = io.ReadFull(r, ih[:])
	return
}

// readHandshake2 reads the trailing peer id.
func readHandshake2(r io.Reader) (id [20]byte, err error) {
	_, err = io.ReadFull(r, id[:])
	return
}
