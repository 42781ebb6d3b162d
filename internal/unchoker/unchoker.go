// Package unchoker selects which interested peers to unchoke.
//
// Three modes are supported. Fixed-slots ranks peers by their recent
// transfer rate and fills a fixed number of slots. Rate-based starts
// from fixed-slots and grows or shrinks the slot count in 1 KiB/s steps
// based on how well the open slots are utilized. BitTyrant ranks by
// reciprocation ratio and fills an upload capacity budget instead of a
// slot count.
//
// A reserved subset of slots is optimistic: granted to the
// least-recently-unchoked candidates to probe for better reciprocators.
package unchoker

import (
	"math/rand"
	"sort"
	"time"
)

// Mode of the choker.
type Mode int

const (
	FixedSlots Mode = iota
	RateBased
	BitTyrant
)

// Peer of a torrent, as seen by the unchoker.
type Peer interface {
	// Choke sends a choke message and updates local state.
	Choke()
	// Unchoke sends an unchoke message and updates local state.
	Unchoke()
	// Choking returns the choke status of the local side.
	Choking() bool
	// Interested returns the interest status of the remote side.
	Interested() bool
	// SetOptimistic marks the peer as optimistically unchoked.
	SetOptimistic(value bool)
	// Optimistic returns the value previously set by SetOptimistic.
	Optimistic() bool

	DownloadSpeed() int
	UploadSpeed() int
	// EstimatedUploadRate is the rate we expect to give this peer if
	// unchoked, used by the BitTyrant budget.
	EstimatedUploadRate() int
	// LastUnchokedAt is when the peer last held an unchoke slot.
	LastUnchokedAt() time.Time
}

// Unchoker runs the unchoke algorithm for one torrent.
type Unchoker struct {
	mode          Mode
	numSlots      int
	numOptimistic int
	// uploadCapacity is the budget for BitTyrant, bytes/s.
	uploadCapacity int

	// rateBasedSlots is the adjusted slot count in RateBased mode.
	rateBasedSlots int

	// Every third round the optimistic subset rotates.
	round uint8

	peersUnchoked           map[Peer]struct{}
	peersUnchokedOptimistic map[Peer]struct{}
}

// RateStep is the utilization step for growing rate-based slots.
const RateStep = 1024

// New returns a new Unchoker.
// numSlots regular slots are filled every round; on optimistic rounds up
// to numOptimistic further peers are unchoked on top of them.
func New(mode Mode, numSlots, numOptimistic, uploadCapacity int) *Unchoker {
	return &Unchoker{
		mode:                    mode,
		numSlots:                numSlots,
		numOptimistic:           numOptimistic,
		uploadCapacity:          uploadCapacity,
		rateBasedSlots:          numSlots,
		peersUnchoked:           make(map[Peer]struct{}, numSlots),
		peersUnchokedOptimistic: make(map[Peer]struct{}, numOptimistic),
	}
}

// DefaultOptimisticSlots returns the reserved optimistic share of slots.
func DefaultOptimisticSlots(slots int) int {
	n := slots / 5
	if n < 1 {
		n = 1
	}
	return n
}

// NumUnchoked returns the count of peers currently holding a slot,
// optimistic included.
func (u *Unchoker) NumUnchoked() int {
	return len(u.peersUnchoked) + len(u.peersUnchokedOptimistic)
}

// HandleDisconnect removes the peer from internal indexes.
func (u *Unchoker) HandleDisconnect(pe Peer) {
	delete(u.peersUnchoked, pe)
	delete(u.peersUnchokedOptimistic, pe)
}

func (u *Unchoker) candidates(allPeers []Peer) []Peer {
	peers := allPeers[:0]
	for _, pe := range allPeers {
		if pe.Interested() {
			peers = append(peers, pe)
		}
	}
	return peers
}

// sortPeers ranks candidates best first for the configured mode.
func (u *Unchoker) sortPeers(peers []Peer, completed bool) {
	switch u.mode {
	case BitTyrant:
		ratio := func(pe Peer) float64 {
			up := pe.EstimatedUploadRate()
			if up == 0 {
				up = 1
			}
			return float64(pe.DownloadSpeed()) / float64(up)
		}
		sort.Slice(peers, func(i, j int) bool { return ratio(peers[i]) > ratio(peers[j]) })
	default:
		if completed {
			sort.Slice(peers, func(i, j int) bool { return peers[i].UploadSpeed() > peers[j].UploadSpeed() })
		} else {
			sort.Slice(peers, func(i, j int) bool { return peers[i].DownloadSpeed() > peers[j].DownloadSpeed() })
		}
	}
}

// slots returns the regular (non-optimistic) slot count for this round.
func (u *Unchoker) slots() int {
	switch u.mode {
	case RateBased:
		return u.rateBasedSlots
	default:
		return u.numSlots
	}
}

// adjustRateBasedSlots grows the slot count while every open slot is
// well utilized and shrinks it otherwise, one step per round.
func (u *Unchoker) adjustRateBasedSlots() {
	if u.mode != RateBased {
		return
	}
	var total int
	for pe := range u.peersUnchoked {
		total += pe.UploadSpeed()
	}
	switch {
	case len(u.peersUnchoked) > 0 && total >= u.slots()*RateStep:
		u.rateBasedSlots++
	case u.rateBasedSlots > u.numSlots:
		u.rateBasedSlots--
	}
}

// TickUnchoke runs one unchoke round over all peers of the torrent.
func (u *Unchoker) TickUnchoke(allPeers []Peer, torrentCompleted bool) {
	u.adjustRateBasedSlots()
	optimistic := u.round == 0
	peers := u.candidates(allPeers)
	u.sortPeers(peers, torrentCompleted)

	var i, unchoked int
	budget := u.uploadCapacity
	for ; i < len(peers) && unchoked < u.slots(); i++ {
		pe := peers[i]
		if !optimistic && pe.Optimistic() {
			continue
		}
		if u.mode == BitTyrant {
			cost := pe.EstimatedUploadRate()
			if budget-cost < 0 {
				break
			}
			budget -= cost
		}
		u.unchokePeer(pe)
		unchoked++
	}
	peers = peers[i:]
	if optimistic {
		u.rotateOptimistic(peers)
		peers = nil
	}
	for _, pe := range peers {
		u.chokePeer(pe)
	}
	u.round = (u.round + 1) % 3
}

// rotateOptimistic grants the reserved slots to the candidates that
// have waited longest, shuffling first so ties break fairly.
func (u *Unchoker) rotateOptimistic(peers []Peer) {
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] }) // nolint: gosec
	sort.SliceStable(peers, func(i, j int) bool {
		return peers[i].LastUnchokedAt().Before(peers[j].LastUnchokedAt())
	})
	granted := 0
	for _, pe := range peers {
		if granted < u.numOptimistic {
			u.optimisticUnchokePeer(pe)
			granted++
		} else {
			u.chokePeer(pe)
		}
	}
}

// FastUnchoke unchokes an interested peer immediately when slots are
// free, instead of making it wait for the next round.
func (u *Unchoker) FastUnchoke(pe Peer) {
	if pe.Choking() && pe.Interested() && len(u.peersUnchoked) < u.slots() {
		u.unchokePeer(pe)
		return
	}
	if pe.Choking() && pe.Interested() && len(u.peersUnchokedOptimistic) < u.numOptimistic {
		u.optimisticUnchokePeer(pe)
	}
}

func (u *Unchoker) chokePeer(pe Peer) {
	if pe.Choking() {
		return
	}
	pe.Choke()
	pe.SetOptimistic(false)
	delete(u.peersUnchoked, pe)
	delete(u.peersUnchokedOptimistic, pe)
}

func (u *Unchoker) unchokePeer(pe Peer) {
	if !pe.Choking() {
		if pe.Optimistic() {
			// Graduated into the regular set; not re-counted as
			// optimistic this round.
			pe.SetOptimistic(false)
			delete(u.peersUnchokedOptimistic, pe)
			u.peersUnchoked[pe] = struct{}{}
		}
		return
	}
	pe.Unchoke()
	pe.SetOptimistic(false)
	u.peersUnchoked[pe] = struct{}{}
}

func (u *Unchoker) optimisticUnchokePeer(pe Peer) {
	if !pe.Choking() {
		if !pe.Optimistic() {
			pe.SetOptimistic(true)
			delete(u.peersUnchoked, pe)
			u.peersUnchokedOptimistic[pe] = struct{}{}
		}
		return
	}
	pe.Unchoke()
	pe.SetOptimistic(true)
	u.peersUnchokedOptimistic[pe] = struct{}{}
}
