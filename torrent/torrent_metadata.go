package torrent

import (
	"bytes"
	"crypto/sha1" // nolint: gosec

	"github.com/zeebo/bencode"

	"github.com/tidebt/tide/internal/bitfield"
	"github.com/tidebt/tide/internal/metainfo"
	"github.com/tidebt/tide/internal/peer"
	"github.com/tidebt/tide/internal/peerprotocol"
)

// metadataFetch assembles the info dictionary from a magnet peer.
type metadataFetch struct {
	size     uint32
	data     []byte
	received map[int]bool
	source   *peer.Peer
}

func (m *metadataFetch) numPieces() int {
	return int((m.size + metadataPieceSize - 1) / metadataPieceSize)
}

func (m *metadataFetch) done() bool {
	return len(m.received) == m.numPieces()
}

// maybeStartMetadataFetch begins downloading metadata from pe if the
// torrent still lacks it and pe advertised a size.
func (t *Torrent) maybeStartMetadataFetch(pe *peer.Peer) {
	if t.info != nil || t.metadata != nil {
		return
	}
	size := pe.PeerExtendedHandshake.MetadataSize
	if size == 0 || size > maxMetadataSize {
		return
	}
	theirID, ok := pe.MetadataExtensionID()
	if !ok {
		return
	}
	t.metadata = &metadataFetch{
		size:     size,
		data:     make([]byte, size),
		received: make(map[int]bool),
		source:   pe,
	}
	for i := 0; i < t.metadata.numPieces(); i++ {
		payload, err := bencode.EncodeBytes(metadataMessage{Type: metadataRequest, Piece: i})
		if err != nil {
			continue
		}
		pe.SendMessage(peerprotocol.ExtensionMessage{ExtendedID: theirID, Data: payload})
	}
}

// maxMetadataSize guards against absurd metadata_size advertisements.
const maxMetadataSize = 16 * 1024 * 1024

// handleMetadataData stores one received metadata piece.
func (t *Torrent) handleMetadataData(pe *peer.Peer, mm metadataMessage, payload []byte) {
	m := t.metadata
	if m == nil || t.info != nil || pe != m.source {
		return
	}
	begin := mm.Piece * metadataPieceSize
	if mm.Piece < 0 || begin >= int(m.size) || m.received[mm.Piece] {
		return
	}
	end := begin + metadataPieceSize
	if end > int(m.size) {
		end = int(m.size)
	}
	if len(payload) < end-begin {
		return
	}
	copy(m.data[begin:end], payload)
	m.received[mm.Piece] = true
	if !m.done() {
		return
	}
	t.metadata = nil
	sum := sha1.Sum(m.data) // nolint: gosec
	if sum != t.infoHash {
		t.log.Debugln("metadata hash mismatch, discarding")
		t.disconnectPeer(pe, errInvalidMessage, OpReceive)
		return
	}
	t.applyMetadata(m.data)
}

// applyMetadata initializes piece state once the info dict is known.
func (t *Torrent) applyMetadata(data []byte) {
	info, err := metainfo.NewInfo(data)
	if err != nil {
		t.setError(err)
		return
	}
	t.info = info
	t.rawInfo = info.Bytes
	if err = t.openStorage(); err != nil {
		t.setError(err)
		return
	}
	t.log.Infoln("metadata complete:", t.name)

	// Re-play availability learned before the metadata arrived.
	for pe := range t.peers {
		if pe.HaveAll {
			t.picker.HandleHaveAll(pe)
		} else if pe.Bitfield != nil {
			raw := pe.Bitfield.Bytes()
			if uint32(len(raw)) >= (info.NumPieces+7)/8 {
				pe.Bitfield = bitfield.NewBytes(raw, info.NumPieces)
				for i := uint32(0); i < info.NumPieces; i++ {
					if pe.Bitfield.Test(i) {
						t.picker.HandleHave(pe, i)
					}
				}
			}
		}
		for _, i := range pe.FlushHaveQueue() {
			if i < info.NumPieces {
				t.picker.HandleHave(pe, i)
			}
		}
		t.updateInterest(pe)
		t.startPieceDownloads(pe)
	}
	t.persistProgress()
	t.markStateChanged()
	t.session.updateListMembership(t)
	t.session.bumpLRU(t)
}

// decodeMetadataMessage splits the bencoded header from the trailing
// raw piece bytes.
func decodeMetadataMessage(data []byte) (mm metadataMessage, payload []byte, err error) {
	d := bencode.NewDecoder(bytes.NewReader(data))
	if err = d.Decode(&mm); err != nil {
		return
	}
	n := d.BytesParsed()
	if n < len(data) {
		payload = data[n:]
	}
	return
}
