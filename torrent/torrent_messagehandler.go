package torrent

import (
	"net"

	"github.com/tidebt/tide/internal/bitfield"
	"github.com/tidebt/tide/internal/dht"
	"github.com/tidebt/tide/internal/peer"
	"github.com/tidebt/tide/internal/peerprotocol"
	"github.com/tidebt/tide/internal/piece"
)

// handlePeerMessage dispatches one parsed message on the session loop.
func (s *Session) handlePeerMessage(pm peerMessage) {
	pe := pm.pe
	t, ok := s.peers[pe]
	if !ok || pe.Disconnecting {
		return
	}
	switch msg := pm.msg.(type) {
	case peerprotocol.ChokeMessage:
		pe.PeerChoking = true
		for _, d := range pe.Downloaders {
			d.Choked()
		}
	case peerprotocol.UnchokeMessage:
		pe.PeerChoking = false
		pe.LastUnchokedUs = s.clock.Now()
		t.startPieceDownloads(pe)
	case peerprotocol.InterestedMessage:
		pe.PeerInterested = true
		if t.running() {
			t.unchoker.FastUnchoke(pe)
		}
	case peerprotocol.NotInterestedMessage:
		pe.PeerInterested = false
	case peerprotocol.HaveMessage:
		t.handleHave(pe, msg.Index)
	case peerprotocol.HaveAllMessage:
		if !pe.FastExtension {
			t.disconnectPeer(pe, errInvalidMessage, OpReceive)
			return
		}
		pe.HaveAll = true
		t.picker.HandleHaveAll(pe)
		t.updateInterest(pe)
		t.startPieceDownloads(pe)
	case peerprotocol.HaveNoneMessage:
		if !pe.FastExtension {
			t.disconnectPeer(pe, errInvalidMessage, OpReceive)
		}
	case peerprotocol.BitfieldMessage:
		t.handleBitfield(pe, msg.Data)
	case peerprotocol.RequestMessage:
		t.handleRequest(pe, msg)
	case peerprotocol.PieceMessage:
		t.handlePieceMessage(pe, msg)
	case peerprotocol.CancelMessage:
		pe.CancelRequest(msg)
	case peerprotocol.RejectMessage:
		t.handleReject(pe, msg)
	case peerprotocol.AllowedFastMessage:
		pe.AllowedFast[msg.Index] = struct{}{}
	case peerprotocol.SuggestMessage:
		// Advisory only.
	case peerprotocol.PortMessage:
		if s.dhtNode != nil {
			addr := &net.UDPAddr{IP: pe.Addr().IP, Port: int(msg.Port)}
			_, _ = s.dhtNode.Rpc.Invoke(dht.ObserverPing, dht.QueryArgs{}, addr, dht.NullTraversal, s.clock.HighRes())
		}
	case peerprotocol.ExtensionMessage:
		t.handleExtensionMessage(pe, msg)
	}
}

func (t *Torrent) handleHave(pe *peer.Peer, index uint32) {
	if t.info == nil {
		pe.QueueHave(index)
		return
	}
	if index >= t.info.NumPieces {
		t.disconnectPeer(pe, errInvalidMessage, OpReceive)
		return
	}
	if pe.Bitfield == nil {
		pe.Bitfield = bitfield.New(t.info.NumPieces)
	}
	pe.Bitfield.Set(index)
	t.picker.HandleHave(pe, index)
	t.updateInterest(pe)
	t.startPieceDownloads(pe)
}

func (t *Torrent) handleBitfield(pe *peer.Peer, data []byte) {
	if t.info == nil {
		// Kept raw until metadata arrives.
		pe.Bitfield = bitfield.NewBytes(data, uint32(len(data))*8)
		return
	}
	numPieces := t.info.NumPieces
	if uint32(len(data)) != (numPieces+7)/8 {
		t.disconnectPeer(pe, errInvalidMessage, OpReceive)
		return
	}
	pe.Bitfield = bitfield.NewBytes(data, numPieces)
	for i := uint32(0); i < numPieces; i++ {
		if pe.Bitfield.Test(i) {
			t.picker.HandleHave(pe, i)
		}
	}
	t.updateInterest(pe)
	t.startPieceDownloads(pe)
}

func (t *Torrent) handleRequest(pe *peer.Peer, msg peerprotocol.RequestMessage) {
	pe.UploadRequestsThisTick++
	if t.info == nil || msg.Index >= t.info.NumPieces {
		t.disconnectPeer(pe, errRequestOutOfRange, OpUpload)
		return
	}
	pi := &t.pieces[msg.Index]
	if msg.Begin+msg.Length > pi.Length || msg.Length == 0 {
		t.disconnectPeer(pe, errRequestOutOfRange, OpUpload)
		return
	}
	if pe.AmChoking {
		// Without the fast extension the request crossed our choke in
		// flight; drop it. Fast peers get an explicit reject.
		if pe.FastExtension {
			pe.SendMessage(peerprotocol.RejectMessage{RequestMessage: msg})
		}
		return
	}
	if !t.picker.Done(msg.Index) {
		if pe.FastExtension {
			pe.SendMessage(peerprotocol.RejectMessage{RequestMessage: msg})
		}
		return
	}
	pe.SendPiece(msg.Index, msg.Begin, msg.Length, pi.Data)
	pe.CountUpload(int(msg.Length))
	t.bytesUploaded += int64(msg.Length)
	t.session.stats.SpeedUpload.Mark(int64(msg.Length))
	t.updateAnnounceState()
}

func (t *Torrent) handleReject(pe *peer.Peer, msg peerprotocol.RejectMessage) {
	if !pe.FastExtension {
		t.disconnectPeer(pe, errInvalidMessage, OpReceive)
		return
	}
	if d, ok := pe.Downloaders[msg.Index]; ok {
		d.Rejected(msg.Begin, msg.Length)
	}
}

// handlePieceMessage feeds a received block into the matching piece
// download and completes the piece when all blocks are in.
func (t *Torrent) handlePieceMessage(pe *peer.Peer, msg peerprotocol.PieceMessage) {
	s := t.session
	now := s.clock.Now()
	n := len(msg.Data)
	pe.CountDownload(n, now)
	s.stats.SpeedDownload.Mark(int64(n))

	if t.info == nil || msg.Index >= t.info.NumPieces {
		t.disconnectPeer(pe, errInvalidMessage, OpReceive)
		return
	}
	d, ok := pe.Downloaders[msg.Index]
	if !ok {
		// Late block for a cancelled or duplicated download.
		t.bytesWasted += int64(n)
		s.stats.BytesWasted.Inc(int64(n))
		return
	}
	if err := d.GotBlock(msg.Begin, msg.Data); err != nil {
		t.bytesWasted += int64(n)
		s.stats.BytesWasted.Inc(int64(n))
		return
	}
	t.bytesDownloaded += int64(n)
	if t.firstPayloadAt.IsZero() {
		t.firstPayloadAt = now
	}
	pe.GrowRequestWindow()

	if !d.Done() {
		t.startPieceDownloads(pe)
		return
	}
	delete(pe.Downloaders, msg.Index)
	t.completePieceDownload(pe, msg.Index, d.Buffer)
	t.startPieceDownloads(pe)
}

// completePieceDownload verifies a fully received piece and hands it to
// storage. Endgame duplicates are cancelled on first completion and any
// later copy of the piece is discarded.
func (t *Torrent) completePieceDownload(pe *peer.Peer, index uint32, buf []byte) {
	s := t.session
	if t.picker.Done(index) {
		t.bytesWasted += int64(len(buf))
		s.stats.BytesWasted.Inc(int64(len(buf)))
		return
	}

	pi := &t.pieces[index]
	if string(piece.HashBytes(buf)) != string(pi.Hash) {
		t.handleHashFail(pe, index, len(buf))
		return
	}

	// First valid completion wins; cancel the other requesters.
	for _, other := range t.picker.Requesters(index, pe) {
		ope := other.(*peer.Peer)
		if od, ok := ope.Downloaders[index]; ok {
			od.CancelPending()
			delete(ope.Downloaders, index)
		}
		t.picker.HandleCancelDownload(other, index)
	}
	t.picker.HandleCancelDownload(pe, index)
	t.picker.HandleWriting(index)

	go func() {
		_, err := pi.Data.Write(buf)
		s.exec(func() {
			t.handlePieceWritten(index, err)
		})
	}()
}

// handleHashFail counts a corrupt piece against the torrent. Once the
// torrent's count reaches hashFailThreshold, each corrupt piece also
// disconnects its sender; no per-peer trust is kept.
func (t *Torrent) handleHashFail(pe *peer.Peer, index uint32, n int) {
	s := t.session
	t.hashFails++
	t.bytesWasted += int64(n)
	s.stats.HashFails.Inc(1)
	s.stats.BytesWasted.Inc(int64(n))
	t.picker.HandleCancelDownload(pe, index)
	t.log.Debugf("piece #%d failed hash check", index)
	if t.hashFails >= hashFailThreshold {
		t.disconnectPeer(pe, errHashFailThreshold, OpReceive)
	}
}

// hashFailThreshold is the torrent-wide corrupt piece count from which
// the sender of a corrupt piece is disconnected.
const hashFailThreshold = 5
