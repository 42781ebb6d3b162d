package torrent

import (
	"net"
	"time"

	"github.com/tidebt/tide/internal/btconn"
	"github.com/tidebt/tide/internal/halfopen"
	"github.com/tidebt/tide/internal/peerclass"
	"github.com/tidebt/tide/internal/peerprotocol"
	"github.com/tidebt/tide/internal/peersource"
)

type handshakeResult struct {
	conn       net.Conn
	infoHash   [20]byte
	peerID     [20]byte
	extensions [8]byte
	incoming   bool
	source     peersource.Source
	torrent    *Torrent
	ticket     *halfopen.Ticket
	err        error
}

// ourExtensions are the reserved handshake bits we advertise: extended
// protocol, fast extension and DHT.
func (s *Session) ourExtensions() (ext [8]byte) {
	ext[5] |= peerprotocol.ExtensionBitExtended
	if s.config.DHTEnabled {
		ext[7] |= peerprotocol.ExtensionBitDHT
	}
	ext[7] |= peerprotocol.ExtensionBitFast
	return
}

// effectiveConnectionLimit applies the smallest class factor of the
// candidate's classes to the global limit.
func (s *Session) effectiveConnectionLimit(classIDs []peerclass.ID) int {
	factor := s.classes.ConnectionLimitFactor(classIDs)
	return s.connectionsLimit * factor / 100
}

// connectionCount is connected peers plus connects in flight.
func (s *Session) connectionCount() int {
	return len(s.peers) + s.halfOpen.Held()
}

// prioritizeTorrent moves t to the front of the connect rotation, used
// after a tracker announce burst.
func (s *Session) prioritizeTorrent(t *Torrent) {
	for _, p := range s.prioritized {
		if p == t {
			return
		}
	}
	s.prioritized = append(s.prioritized, t)
}

// connectPump attempts up to ConnectionSpeed outbound connects,
// round-robining among torrents that want peers.
func (s *Session) connectPump() {
	if s.closing {
		return
	}
	budget := s.config.ConnectionSpeed

	attempt := func(t *Torrent) bool {
		addr, src := t.addrList.Pop()
		if addr == nil {
			return false
		}
		classIDs := s.classFilter.Apply(addr.IP, peerclass.SocketTCP, []peerclass.ID{s.defaultClass})
		if s.connectionCount() >= s.effectiveConnectionLimit(classIDs) {
			return false
		}
		if len(t.peers) >= s.config.MaxConnectionsPerTorrent {
			return false
		}
		ticket, ok := s.halfOpen.TryEnter()
		if !ok {
			return false
		}
		s.stats.ConnectAttempts.Inc(1)
		go s.outgoingHandshaker(t, addr, src, ticket)
		return true
	}

	// Prioritized torrents short-circuit the rotation.
	for len(s.prioritized) > 0 && budget > 0 {
		t := s.prioritized[0]
		if !attempt(t) {
			s.prioritized = s.prioritized[1:]
			continue
		}
		budget--
	}

	candidates := append([]*Torrent{}, s.lists[listWantPeersDownload].items...)
	candidates = append(candidates, s.lists[listWantPeersFinished].items...)
	if len(candidates) == 0 {
		return
	}
	misses := 0
	for budget > 0 && misses < len(candidates) {
		s.rrCursor = (s.rrCursor + 1) % len(candidates)
		if attempt(candidates[s.rrCursor]) {
			budget--
			misses = 0
		} else {
			misses++
		}
	}
}

// outgoingHandshaker dials and handshakes off-loop, posting the result.
func (s *Session) outgoingHandshaker(t *Torrent, addr *net.TCPAddr, src peersource.Source, ticket *halfopen.Ticket) {
	deadline := time.Now().Add(s.config.PeerConnectTimeout + s.config.PeerHandshakeTimeout)
	conn, peerExt, peerID, err := btconn.Dial(addr, deadline, nil, s.ourExtensions(), t.infoHash, s.peerID)
	hr := handshakeResult{
		conn:       conn,
		infoHash:   t.infoHash,
		peerID:     peerID,
		extensions: peerExt,
		source:     src,
		torrent:    t,
		ticket:     ticket,
		err:        err,
	}
	select {
	case s.hsResultC <- hr:
	case <-s.closeC:
		if conn != nil {
			_ = conn.Close()
		}
		s.exec(ticket.Release)
	}
}

// handleIncomingConn handshakes an accepted socket off-loop.
func (s *Session) handleIncomingConn(conn net.Conn) {
	if s.closing || len(s.peers) >= s.connectionsLimit+s.config.ConnectionsSlack {
		_ = conn.Close()
		return
	}
	// Snapshot the known infohashes; the handshaker goroutine must not
	// touch loop-owned maps.
	known := make(map[[20]byte]bool, len(s.torrentsByHash))
	for ih, t := range s.torrentsByHash {
		known[ih] = t.running()
	}
	ourID := s.peerID
	ext := s.ourExtensions()
	deadline := time.Now().Add(s.config.PeerHandshakeTimeout)
	go func() {
		rconn, peerExt, ih, peerID, err := btconn.Accept(conn, deadline, nil,
			func(h [20]byte) bool { return known[h] },
			ext,
			func([20]byte) [20]byte { return ourID },
		)
		if err != nil {
			_ = conn.Close()
			return
		}
		hr := handshakeResult{
			conn:       rconn,
			infoHash:   ih,
			peerID:     peerID,
			extensions: peerExt,
			incoming:   true,
			source:     peersource.Incoming,
		}
		select {
		case s.hsResultC <- hr:
		case <-s.closeC:
			_ = rconn.Close()
		}
	}()
}

// handleHandshakeResult finishes connection setup on the loop.
func (s *Session) handleHandshakeResult(hr handshakeResult) {
	hr.ticket.Release()
	if hr.err != nil {
		if isTooManyFiles(hr.err) {
			s.handleAcceptError(hr.err)
		}
		if hr.torrent != nil {
			hr.torrent.log.Debugln("outgoing handshake failed:", hr.err)
		}
		return
	}
	t := hr.torrent
	if t == nil {
		t = s.torrentsByHash[hr.infoHash]
	}
	if s.closing || t == nil || !t.running() ||
		len(t.peers) >= s.config.MaxConnectionsPerTorrent ||
		s.connectionCount() > s.connectionsLimit+s.config.ConnectionsSlack {
		_ = hr.conn.Close()
		return
	}
	// One connection per remote peer id; the address is not compared.
	for pe := range t.peers {
		if pe.ID == hr.peerID {
			_ = hr.conn.Close()
			return
		}
	}
	t.startPeer(hr)
}
