// Package piecepicker selects the next piece to download from a peer.
//
// The picker keeps per-piece swarm availability and the set of peers each
// piece is currently requested from. Selection is rarest first among the
// pieces a peer has. When every missing piece is already requested the
// picker enters endgame mode and hands out duplicate downloads, bounded
// by maxDuplicateDownload per piece.
package piecepicker

import (
	"sort"
)

// Peer is a connected swarm member from the picker's point of view.
// Implementations are compared by identity.
type Peer interface {
	// RemoteChoking reports whether the remote side is choking us.
	RemoteChoking() bool
	// IsSnubbed reports whether the peer stopped sending mid-piece.
	IsSnubbed() bool
}

type pieceState struct {
	index     uint32
	done      bool
	writing   bool
	having    peerSet
	requested peerSet
}

// runningDownloads is the number of requesters that are neither snubbed
// nor choking us.
func (p *pieceState) runningDownloads() int {
	var stalled int
	for _, pe := range p.requested.peers {
		if pe.RemoteChoking() || pe.IsSnubbed() {
			stalled++
		}
	}
	return p.requested.Len() - stalled
}

// PiecePicker keeps swarm availability and in-flight request state.
// Owned by the session loop; not safe for concurrent use.
type PiecePicker struct {
	pieces               []pieceState
	maxDuplicateDownload int
	endgame              bool
}

// New returns a PiecePicker for a torrent with numPieces pieces.
func New(numPieces uint32, maxDuplicateDownload int) *PiecePicker {
	ps := make([]pieceState, numPieces)
	for i := range ps {
		ps[i].index = uint32(i)
	}
	return &PiecePicker{
		pieces:               ps,
		maxDuplicateDownload: maxDuplicateDownload,
	}
}

// Availability returns the number of connected peers having piece i.
func (p *PiecePicker) Availability(i uint32) int { return p.pieces[i].having.Len() }

// Endgame reports whether the picker is in endgame mode.
func (p *PiecePicker) Endgame() bool { return p.endgame }

// HandleHave records that pe has piece i.
func (p *PiecePicker) HandleHave(pe Peer, i uint32) {
	p.pieces[i].having.Add(pe)
}

// HandleHaveAll records that pe has every piece.
func (p *PiecePicker) HandleHaveAll(pe Peer) {
	for i := range p.pieces {
		p.pieces[i].having.Add(pe)
	}
}

// HandleDisconnect removes pe from all per-piece sets.
func (p *PiecePicker) HandleDisconnect(pe Peer) {
	for i := range p.pieces {
		p.pieces[i].having.Remove(pe)
		p.pieces[i].requested.Remove(pe)
	}
}

// HandleCancelDownload releases pe's claim on piece i without completing it.
func (p *PiecePicker) HandleCancelDownload(pe Peer, i uint32) {
	p.pieces[i].requested.Remove(pe)
}

// HandleWriting marks piece i as being written to storage. Further
// completions of the same piece must be discarded by the caller; the
// picker stops handing the piece out.
func (p *PiecePicker) HandleWriting(i uint32) {
	p.pieces[i].writing = true
}

// HandleWriteFailed makes piece i eligible for download again.
func (p *PiecePicker) HandleWriteFailed(i uint32) {
	p.pieces[i].writing = false
}

// HandleDone marks piece i verified and stored.
func (p *PiecePicker) HandleDone(i uint32) {
	p.pieces[i].writing = false
	p.pieces[i].done = true
}

// Done reports whether piece i is verified and stored.
func (p *PiecePicker) Done(i uint32) bool { return p.pieces[i].done }

// Requesters returns the peers piece i is currently requested from,
// excluding pe. Used to send cancels on first completion in endgame.
func (p *PiecePicker) Requesters(i uint32, except Peer) []Peer {
	var out []Peer
	for _, r := range p.pieces[i].requested.peers {
		if r != except {
			out = append(out, r)
		}
	}
	return out
}

// PickFor returns the index of the next piece to request from pe and
// records the claim. ok is false when there is nothing to request.
func (p *PiecePicker) PickFor(pe Peer) (index uint32, ok bool) {
	if ps := p.pickRarest(pe); ps != nil {
		ps.requested.Add(pe)
		return ps.index, true
	}
	if ps := p.pickStalled(pe); ps != nil {
		ps.requested.Add(pe)
		return ps.index, true
	}
	if ps := p.pickDuplicate(pe); ps != nil {
		p.endgame = true
		ps.requested.Add(pe)
		return ps.index, true
	}
	return 0, false
}

// pickRarest returns the least available unrequested piece pe has.
func (p *PiecePicker) pickRarest(pe Peer) *pieceState {
	var best *pieceState
	for i := range p.pieces {
		ps := &p.pieces[i]
		if ps.done || ps.writing || ps.requested.Len() > 0 || !ps.having.Has(pe) {
			continue
		}
		if best == nil || ps.having.Len() < best.having.Len() {
			best = ps
		}
	}
	return best
}

// pickStalled returns a piece whose requesters are all stalled.
func (p *PiecePicker) pickStalled(pe Peer) *pieceState {
	for i := range p.pieces {
		ps := &p.pieces[i]
		if ps.done || ps.writing || !ps.having.Has(pe) || ps.requested.Has(pe) {
			continue
		}
		if ps.requested.Len() > 0 && ps.runningDownloads() == 0 {
			return ps
		}
	}
	return nil
}

// pickDuplicate hands out an endgame duplicate, fewest requesters first.
func (p *PiecePicker) pickDuplicate(pe Peer) *pieceState {
	var candidates []*pieceState
	for i := range p.pieces {
		ps := &p.pieces[i]
		if ps.done || ps.writing || !ps.having.Has(pe) || ps.requested.Has(pe) {
			continue
		}
		if ps.requested.Len() >= p.maxDuplicateDownload {
			continue
		}
		candidates = append(candidates, ps)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].requested.Len() < candidates[j].requested.Len()
	})
	return candidates[0]
}
