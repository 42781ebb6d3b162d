package torrent

import (
	"github.com/zeebo/bencode"

	"github.com/tidebt/tide/internal/peer"
	"github.com/tidebt/tide/internal/peerprotocol"
	"github.com/tidebt/tide/internal/peersource"
	"github.com/tidebt/tide/internal/tracker"
)

// pexMessage is the ut_pex payload (BEP 11), compact-peer packed.
type pexMessage struct {
	Added   []byte `bencode:"added"`
	Dropped []byte `bencode:"dropped"`
}

// handleExtensionMessage processes a BEP 10 message from pe.
func (t *Torrent) handleExtensionMessage(pe *peer.Peer, msg peerprotocol.ExtensionMessage) {
	if !pe.ExtensionsEnabled {
		t.disconnectPeer(pe, errInvalidMessage, OpReceive)
		return
	}
	if msg.ExtendedID == peerprotocol.ExtensionHandshakeID {
		eh, err := peerprotocol.DecodeExtendedHandshake(msg.Data)
		if err != nil {
			t.disconnectPeer(pe, errInvalidMessage, OpReceive)
			return
		}
		pe.PeerExtendedHandshake = eh
		pe.ExtensionIDs = eh.M
		pe.ReqQ = eh.RequestQueue
		t.maybeStartMetadataFetch(pe)
		return
	}
	// Non-handshake messages arrive with the id we assigned in our
	// extended handshake.
	switch msg.ExtendedID {
	case 2: // ut_pex
		var pex pexMessage
		if err := bencode.DecodeBytes(msg.Data, &pex); err != nil {
			return
		}
		if addrs, err := tracker.DecodePeersCompact(pex.Added); err == nil && len(addrs) > 0 {
			t.handleNewPeers(addrs, peersource.PEX)
		}
	case 1: // ut_metadata
		t.handleMetadataMessage(pe, msg.Data)
	}
}

// metadataMessage is the ut_metadata dict (BEP 9).
type metadataMessage struct {
	Type      int    `bencode:"msg_type"`
	Piece     int    `bencode:"piece"`
	TotalSize int    `bencode:"total_size,omitempty"`
}

const (
	metadataRequest = 0
	metadataData    = 1
	metadataReject  = 2
)

// metadataPieceSize is the BEP 9 transfer granularity.
const metadataPieceSize = 16 * 1024

// handleMetadataMessage serves metadata pieces to magnet peers and
// consumes pieces we requested ourselves.
func (t *Torrent) handleMetadataMessage(pe *peer.Peer, data []byte) {
	mm, payload, err := decodeMetadataMessage(data)
	if err != nil {
		return
	}
	switch mm.Type {
	case metadataData:
		t.handleMetadataData(pe, mm, payload)
		return
	case metadataReject:
		return
	case metadataRequest:
	default:
		return
	}
	if t.info == nil {
		return
	}
	theirID, ok := pe.MetadataExtensionID()
	if !ok {
		return
	}
	info := t.info.Bytes
	begin := mm.Piece * metadataPieceSize
	if begin < 0 || begin >= len(info) {
		return
	}
	end := begin + metadataPieceSize
	if end > len(info) {
		end = len(info)
	}
	head, err := bencode.EncodeBytes(metadataMessage{
		Type:      metadataData,
		Piece:     mm.Piece,
		TotalSize: len(info),
	})
	if err != nil {
		return
	}
	payload = append(head, info[begin:end]...)
	pe.SendMessage(peerprotocol.ExtensionMessage{ExtendedID: theirID, Data: payload})
}
