package piecepicker

// peerSet is a small ordered set of peers.
type peerSet struct {
	peers []Peer
}

func (s *peerSet) Add(pe Peer) bool {
	for _, p := range s.peers {
		if p == pe {
			return false
		}
	}
	s.peers = append(s.peers, pe)
	return true
}

func (s *peerSet) Remove(pe Peer) bool {
	for i, p := range s.peers {
		if p == pe {
			s.peers[i] = s.peers[len(s.peers)-1]
			s.peers = s.peers[:len(s.peers)-1]
			return true
		}
	}
	return false
}

func (s *peerSet) Has(pe Peer) bool {
	for _, p := range s.peers {
		if p == pe {
			return true
		}
	}
	return false
}

func (s *peerSet) Len() int { return len(s.peers) }
