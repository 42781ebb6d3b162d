package torrent

import (
	"net"
	"time"

	"github.com/tidebt/tide/internal/logger"
	"github.com/tidebt/tide/internal/peer"
	"github.com/tidebt/tide/internal/peerclass"
	"github.com/tidebt/tide/internal/peerconn"
	"github.com/tidebt/tide/internal/peerprotocol"
	"github.com/tidebt/tide/internal/peersource"
	"github.com/tidebt/tide/internal/piecedownloader"
)

// handleNewPeers admits candidate addresses into the torrent.
func (t *Torrent) handleNewPeers(addrs []*net.TCPAddr, src peersource.Source) {
	t.addrList.Push(addrs, src, t.session.clock.Now())
}

// startPeer finishes setup of a handshaked connection on the loop.
func (t *Torrent) startPeer(hr handshakeResult) {
	s := t.session
	addr := hr.conn.RemoteAddr().(*net.TCPAddr)
	classIDs := s.classFilter.Apply(addr.IP, peerclass.SocketTCP, []peerclass.ID{s.defaultClass})
	for _, id := range classIDs {
		s.classes.Ref(id)
	}

	log := logger.New("peer " + addr.String())
	conn := peerconn.New(hr.conn, s.classes.Limiters(classIDs), s.config.MaxRequestsIn, log)
	pe := peer.New(conn, hr.peerID, hr.incoming, hr.source, s.config.RequestQueueLength, s.clock.Now())
	pe.ClassIDs = classIDs
	pe.ExtensionsEnabled = hr.extensions[5]&peerprotocol.ExtensionBitExtended != 0
	pe.FastExtension = hr.extensions[7]&peerprotocol.ExtensionBitFast != 0
	pe.DHTEnabled = hr.extensions[7]&peerprotocol.ExtensionBitDHT != 0

	t.peers[pe] = struct{}{}
	s.peers[pe] = t
	s.stats.Peers.Inc(1)
	if hr.incoming {
		s.stats.IncomingPeers.Inc(1)
	} else {
		s.stats.OutgoingPeers.Inc(1)
	}

	go conn.Run()
	go func() {
		for msg := range conn.Messages() {
			select {
			case s.peerMsgC <- peerMessage{pe: pe, msg: msg}:
			case <-s.closeC:
				// Keep draining so the reader can end.
			}
		}
		select {
		case s.peerClosedC <- pe:
		case <-s.closeC:
		}
	}()

	t.sendInitialMessages(pe)
	s.alerts.post(PeerConnectedAlert{InfoHash: t.infoHash, Addr: addr, Incoming: hr.incoming})
	s.updateListMembership(t)
}

// sendInitialMessages sends the post-handshake burst: extended
// handshake, piece availability and DHT port.
func (t *Torrent) sendInitialMessages(pe *peer.Peer) {
	s := t.session
	if pe.ExtensionsEnabled {
		eh := peerprotocol.NewExtendedHandshake(s.config.ClientVersion, s.advertisedPort(), pe.Addr().IP, s.config.MaxRequestsIn)
		if t.info != nil {
			eh.MetadataSize = uint32(len(t.info.Bytes))
		}
		if msg, err := eh.Encode(); err == nil {
			pe.SendMessage(msg)
		}
	}
	switch {
	case t.bitfield != nil && t.bitfield.All() && pe.FastExtension:
		pe.SendMessage(peerprotocol.HaveAllMessage{})
	case t.bitfield != nil && t.bitfield.Count() > 0:
		pe.SendMessage(peerprotocol.BitfieldMessage{Data: t.bitfield.Bytes()})
	case pe.FastExtension:
		pe.SendMessage(peerprotocol.HaveNoneMessage{})
	}
	if pe.DHTEnabled && s.dhtNode != nil {
		pe.SendMessage(peerprotocol.PortMessage{Port: uint16(s.listenPort)})
	}
}

// disconnectPeer is the single exit point for a live peer connection.
// The peer is removed from the torrent and session sets immediately and
// parked in the undead set until its goroutines finish.
func (t *Torrent) disconnectPeer(pe *peer.Peer, err error, op Operation) {
	if pe.Disconnecting {
		return
	}
	pe.Disconnecting = true
	s := t.session

	for index, d := range pe.Downloaders {
		d.CancelPending()
		if t.picker != nil {
			t.picker.HandleCancelDownload(pe, index)
		}
		delete(pe.Downloaders, index)
	}
	if t.picker != nil {
		t.picker.HandleDisconnect(pe)
	}
	t.unchoker.HandleDisconnect(pe)

	delete(t.peers, pe)
	delete(s.peers, pe)
	s.undead[pe] = struct{}{}
	for _, id := range pe.ClassIDs {
		s.classes.Unref(id)
	}
	s.stats.Peers.Dec(1)
	s.stats.DisconnectedPeers.Inc(1)

	pe.CloseAsync()

	s.alerts.post(PeerDisconnectedAlert{
		InfoHash:  t.infoHash,
		Addr:      pe.Addr(),
		Operation: op,
		Err:       err,
	})
	s.updateListMembership(t)
}

// handlePeerClosed runs when a peer's goroutines have fully stopped.
func (s *Session) handlePeerClosed(pe *peer.Peer) {
	if _, undead := s.undead[pe]; undead {
		// Uniquely held now; release.
		delete(s.undead, pe)
		pe.CloseMeters()
		return
	}
	// The transport died on its own; route through disconnect.
	if t, ok := s.peers[pe]; ok {
		err := pe.Conn.Error()
		t.disconnectPeer(pe, err, OpReceive)
	}
}

// tickPeers drives per-peer timers: request timeouts, snub handling and
// the per-tick inbound request budget.
func (t *Torrent) tickPeers(now time.Time) {
	for pe := range t.peers {
		if pe.Disconnecting {
			continue
		}
		if pe.UploadRequestsThisTick > t.session.config.MaxRequestsInPerTick {
			t.disconnectPeer(pe, errExcessiveRequests, OpUpload)
			continue
		}
		pe.UploadRequestsThisTick = 0

		if len(pe.Downloaders) > 0 && !pe.RemoteChoking() &&
			!pe.LastBlockReceivedAt.IsZero() &&
			now.Sub(pe.LastBlockReceivedAt) > t.session.config.RequestTimeout {
			// Timed out mid-piece: shrink the pipeline and hand the
			// pieces back to the picker for other peers.
			pe.ShrinkRequestWindow()
			for index, d := range pe.Downloaders {
				d.CancelPending()
				if t.picker != nil {
					t.picker.HandleCancelDownload(pe, index)
				}
				delete(pe.Downloaders, index)
			}
		}

		t.startPieceDownloads(pe)
	}
}

// startPieceDownloads keeps the peer's request pipeline full.
func (t *Torrent) startPieceDownloads(pe *peer.Peer) {
	if t.paused || t.completed || t.checking || t.info == nil || pe.Disconnecting {
		return
	}
	if !pe.AmInterested {
		t.updateInterest(pe)
	}
	if pe.RemoteChoking() || !pe.AmInterested {
		return
	}
	window := pe.RequestWindow()
	pending := func() (n int) {
		for _, d := range pe.Downloaders {
			n += d.Pending()
		}
		return
	}
	// Top up in-progress piece downloads first.
	for _, d := range pe.Downloaders {
		if p := pending(); p < window {
			d.RequestBlocks(window - p)
		}
	}
	// Then open new piece downloads while the window has room.
	for pending() < window {
		if !t.startNextPieceDownload(pe) {
			break
		}
		for _, d := range pe.Downloaders {
			if p := pending(); p < window {
				d.RequestBlocks(window - p)
			}
		}
	}
}

func (t *Torrent) startNextPieceDownload(pe *peer.Peer) bool {
	index, ok := t.picker.PickFor(pe)
	if !ok {
		return false
	}
	if _, dup := pe.Downloaders[index]; dup {
		return false
	}
	pi := &t.pieces[index]
	_, allowedFast := pe.AllowedFast[index]
	d := piecedownloader.New(pi, pe, allowedFast, make([]byte, pi.Length))
	pe.Downloaders[index] = d
	return true
}

// updateInterest recomputes our interest axis toward pe.
func (t *Torrent) updateInterest(pe *peer.Peer) {
	interested := false
	if t.bitfield != nil && !t.completed {
		for i := uint32(0); i < t.bitfield.Len(); i++ {
			if !t.bitfield.Test(i) && pe.HasPiece(i) {
				interested = true
				break
			}
		}
	}
	switch {
	case interested && !pe.AmInterested:
		pe.AmInterested = true
		pe.SendMessage(peerprotocol.InterestedMessage{})
	case !interested && pe.AmInterested:
		pe.AmInterested = false
		pe.SendMessage(peerprotocol.NotInterestedMessage{})
	}
}
