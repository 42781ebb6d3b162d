package torrent

import (
	"net"
	"time"

	"github.com/tidebt/tide/internal/automanager"
	"github.com/tidebt/tide/internal/lsd"
	"github.com/tidebt/tide/internal/peersource"
	"github.com/tidebt/tide/internal/portmap"
)

// run is the session event loop: the sole mutator of engine state.
func (s *Session) run() {
	defer close(s.doneC)

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	unchokeTick := time.NewTicker(s.config.UnchokeInterval)
	defer unchokeTick.Stop()
	autoManageTick := time.NewTicker(s.config.AutoManageInterval)
	defer autoManageTick.Stop()

	for {
		// Channels that appear mid-life are nil until ready; a nil
		// channel never fires in select.
		var mapResultC chan portmap.Result
		if s.mapper != nil {
			mapResultC = s.mapper.ResultC
		}
		var lsdPeersC chan lsd.Peer
		var acceptErrC chan error
		if s.lsdDiscovery != nil {
			lsdPeersC = s.lsdDiscovery.PeersC
		}
		if s.acceptor != nil {
			acceptErrC = s.acceptor.ErrorC
		}

		select {
		case f := <-s.cmdC:
			f()
		case conn := <-s.connC:
			s.handleIncomingConn(conn)
		case err := <-acceptErrC:
			s.handleAcceptError(err)
		case hr := <-s.hsResultC:
			s.handleHandshakeResult(hr)
		case pm := <-s.peerMsgC:
			s.handlePeerMessage(pm)
		case pe := <-s.peerClosedC:
			s.handlePeerClosed(pe)
		case vr := <-s.verifyC:
			s.handleVerifyResult(vr)
		case dp := <-s.dhtPeersC:
			s.handleDHTPeers(dp)
		case m := <-s.mapperReadyC:
			s.handlePortMapperReady(m)
		case r := <-mapResultC:
			s.handlePortMapResult(r)
		case lp := <-lsdPeersC:
			if t, ok := s.torrentsByHash[lp.InfoHash]; ok {
				t.handleNewPeers([]*net.TCPAddr{lp.Addr}, peersource.LSD)
			}
		case <-tick.C:
			s.tick()
		case <-unchokeTick.C:
			s.tickUnchoke()
		case <-autoManageTick.C:
			s.tickAutoManage()
		case <-s.closeC:
			return
		}
	}
}

// tick runs once per second: cached time advance, connect pump, request
// timeouts, discovery scheduling, undead reaping and alert rollup.
func (s *Session) tick() {
	now := s.clock.Tick()

	if s.dhtNode != nil {
		s.dhtNode.Tick(now)
	}

	s.connectPump()

	for _, t := range s.lists[listWantTick].items {
		t.tickPeers(now)
	}

	for _, t := range s.torrents {
		if !t.running() {
			continue
		}
		if t.completed {
			t.seedDuration += time.Second
		}
		if s.dhtNode != nil && !t.isPrivate() &&
			(t.dhtAnnouncedAt.IsZero() || now.Sub(t.dhtAnnouncedAt) >= s.config.DHTAnnounceInterval) {
			s.dhtAnnounce(t)
		}
		if s.lsdDiscovery != nil && !t.isPrivate() &&
			(t.lsdAnnouncedAt.IsZero() || now.Sub(t.lsdAnnouncedAt) >= s.config.LSDAnnounceInterval) {
			t.lsdAnnouncedAt = now
			s.lsdDiscovery.Announce(t.infoHash)
		}
	}

	s.tickScrape(now)
	s.postStateUpdates()
}

// postStateUpdates emits one alert naming all changed torrents.
func (s *Session) postStateUpdates() {
	lst := s.lists[listStateUpdates]
	if lst.len() == 0 {
		return
	}
	hashes := make([][20]byte, 0, lst.len())
	for len(lst.items) > 0 {
		t := lst.items[0]
		hashes = append(hashes, t.infoHash)
		t.stateChanged = false
		lst.remove(t)
	}
	s.alerts.post(StateUpdateAlert{InfoHashes: hashes})
}

// tickUnchoke recalculates unchoke slots for every torrent with peers.
func (s *Session) tickUnchoke() {
	for _, t := range s.lists[listWantTick].items {
		if t.paused || !t.active {
			continue
		}
		t.unchoker.TickUnchoke(t.unchokerPeers(), t.completed)
	}
}

// tickAutoManage grants and revokes active slots.
func (s *Session) tickAutoManage() {
	torrents := make([]automanager.Torrent, 0, len(s.torrents))
	for _, t := range s.torrents {
		torrents = append(torrents, (*autoManagedTorrent)(t))
	}
	automanager.Recalculate(torrents, automanager.Limits{
		ActiveDownloads: s.config.ActiveDownloads,
		ActiveSeeds:     s.config.ActiveSeeds,
		ActiveChecking:  s.config.ActiveChecking,
		ActiveLimit:     s.config.ActiveLimit,
		ActiveDHT:       s.config.ActiveDHTLimit,
		ActiveTracker:   s.config.ActiveTrackerLimit,
		ActiveLSD:       s.config.ActiveLSDLimit,
	})
}

// startClose aborts the session from inside the loop.
func (s *Session) startClose() {
	if s.closing {
		return
	}
	s.closing = true

	for _, t := range s.torrents {
		t.stopAnnouncers()
		for pe := range t.peers {
			t.disconnectPeer(pe, ErrSessionClosing, OpShutdown)
		}
	}
	if s.dhtNode != nil {
		s.dhtNode.Rpc.Abort()
	}
	s.saveSessionState()

	if s.acceptor != nil {
		s.acceptor.Close()
	}
	if s.lsdDiscovery != nil {
		s.lsdDiscovery.Close()
	}
	if s.mapper != nil {
		s.mapper.Close()
	}
	if s.mux != nil {
		s.mux.Close()
	}
	close(s.closeC)
}
