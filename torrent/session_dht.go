package torrent

import (
	"crypto/rand"
	"net"

	"github.com/zeebo/bencode"

	"github.com/tidebt/tide/internal/dht"
	"github.com/tidebt/tide/internal/peersource"
)

// maxStoredPeersPerHash bounds the peers kept for announce_peer storage.
const maxStoredPeersPerHash = 200

func randomNodeID() (id [20]byte) {
	_, _ = rand.Read(id[:])
	return
}

func decodeState(raw bencode.RawMessage, st *dht.State) (bool, error) {
	err := bencode.DecodeBytes(raw, st)
	return err == nil && len(st.ID) == 20, err
}

// dhtPeerStore answers get_peers queries and accepts announces.
// Mutated only on the session loop.
type dhtPeerStore struct {
	session *Session
	peers   map[[20]byte]map[string]*net.TCPAddr
}

func newDHTPeerStore(s *Session) *dhtPeerStore {
	return &dhtPeerStore{
		session: s,
		peers:   make(map[[20]byte]map[string]*net.TCPAddr),
	}
}

// Peers implements dht.PeerStore.
func (d *dhtPeerStore) Peers(infoHash [20]byte) []*net.TCPAddr {
	m := d.peers[infoHash]
	if len(m) == 0 {
		return nil
	}
	out := make([]*net.TCPAddr, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	return out
}

// AddPeer implements dht.PeerStore. Announced peers also feed the
// matching torrent's candidate list.
func (d *dhtPeerStore) AddPeer(infoHash [20]byte, addr *net.TCPAddr) {
	m := d.peers[infoHash]
	if m == nil {
		m = make(map[string]*net.TCPAddr)
		d.peers[infoHash] = m
	}
	if len(m) < maxStoredPeersPerHash {
		m[addr.String()] = addr
	}
	if t, ok := d.session.torrentsByHash[infoHash]; ok {
		t.handleNewPeers([]*net.TCPAddr{addr}, peersource.DHT)
	}
}

// dhtAnnounce starts a get_peers traversal for t, announcing our port.
func (s *Session) dhtAnnounce(t *Torrent) {
	if s.dhtNode == nil || !t.running() {
		return
	}
	t.dhtAnnouncedAt = s.clock.Now()
	resultC := make(chan dht.GetPeersResult, 8)
	infoHash := t.infoHash
	go func() {
		for res := range resultC {
			s.dhtPeersC <- dhtPeersResult{infoHash: infoHash, result: res}
			if res.Done {
				return
			}
		}
	}()
	dht.StartGetPeers(
		s.dhtNode.Rpc,
		infoHash,
		s.advertisedPort(),
		!t.isPrivate(),
		s.dhtNode.Candidates(infoHash),
		resultC,
		s.clock.HighRes,
	)
	s.stats.DHTQueries.Inc(1)
}

// handleDHTPeers feeds traversal results into the torrent.
func (s *Session) handleDHTPeers(r dhtPeersResult) {
	t, ok := s.torrentsByHash[r.infoHash]
	if !ok {
		return
	}
	if len(r.result.Peers) > 0 {
		t.handleNewPeers(r.result.Peers, peersource.DHT)
	}
}
