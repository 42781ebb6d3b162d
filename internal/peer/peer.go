// Package peer holds the protocol state of one connected peer.
//
// The state is mutated only by the session loop. Socket I/O runs in the
// connection's reader and writer goroutines; see package peerconn.
package peer

import (
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/tidebt/tide/internal/bitfield"
	"github.com/tidebt/tide/internal/peerclass"
	"github.com/tidebt/tide/internal/peerconn"
	"github.com/tidebt/tide/internal/peerprotocol"
	"github.com/tidebt/tide/internal/peersource"
	"github.com/tidebt/tide/internal/piecedownloader"
)

// Request window bounds for the adaptive pipeline.
const (
	minRequestWindow = 2
	// snubTimeout is how long without a block before the peer counts
	// as snubbed.
	snubTimeout = 60 * time.Second
)

// Peer is a connected swarm member of one torrent.
type Peer struct {
	*peerconn.Conn

	ID     [20]byte
	Source peersource.Source
	// Incoming is true when the peer dialled us.
	Incoming bool

	// Choke and interest axes. "Am" is our side.
	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool

	OptimisticUnchoked bool

	// Bitfield is allocated once metadata is known.
	Bitfield *bitfield.Bitfield
	// haveQueue buffers have messages received before metadata.
	haveQueue []uint32
	HaveAll   bool

	FastExtension     bool
	ExtensionsEnabled bool
	DHTEnabled        bool

	// ExtensionIDs maps extension names to the ids the peer chose.
	ExtensionIDs         map[string]uint8
	PeerExtendedHandshake peerprotocol.ExtendedHandshakeMessage
	// ReqQ is the request queue depth the peer advertised.
	ReqQ int

	// AllowedFast are pieces we may request while choked.
	AllowedFast map[uint32]struct{}

	// Downloaders are the in-progress piece downloads from this peer.
	Downloaders map[uint32]*piecedownloader.PieceDownloader

	// requestWindow is the outstanding-request ceiling; it grows
	// additively with received blocks and halves on snub.
	requestWindow    int
	maxRequestWindow int

	// UploadRequestsThisTick counts inbound requests for the per-tick
	// abuse budget.
	UploadRequestsThisTick int

	ClassIDs []peerclass.ID

	ConnectedAt         time.Time
	LastBlockReceivedAt time.Time
	LastUnchokedUs      time.Time
	lastUnchokedAt      time.Time

	downloadSpeed metrics.Meter
	uploadSpeed   metrics.Meter

	BytesDownloaded int64
	BytesUploaded   int64

	// Disconnecting is set once Disconnect routed the peer for removal.
	Disconnecting bool
}

// New returns a Peer over an established connection.
func New(conn *peerconn.Conn, id [20]byte, incoming bool, src peersource.Source, maxRequestWindow int, now time.Time) *Peer {
	return &Peer{
		Conn:             conn,
		ID:               id,
		Source:           src,
		Incoming:         incoming,
		AmChoking:        true,
		PeerChoking:      true,
		AllowedFast:      make(map[uint32]struct{}),
		Downloaders:      make(map[uint32]*piecedownloader.PieceDownloader),
		requestWindow:    minRequestWindow,
		maxRequestWindow: maxRequestWindow,
		ConnectedAt:      now,
		downloadSpeed:    metrics.NewMeter(),
		uploadSpeed:      metrics.NewMeter(),
	}
}

// CloseMeters stops the speed meters; call on disconnect.
func (p *Peer) CloseMeters() {
	p.downloadSpeed.Stop()
	p.uploadSpeed.Stop()
}

// Choke sends a choke and discards queued uploads.
func (p *Peer) Choke() {
	p.AmChoking = true
	p.SendMessage(peerprotocol.ChokeMessage{})
}

// Unchoke sends an unchoke.
func (p *Peer) Unchoke() {
	p.AmChoking = false
	p.lastUnchokedAt = time.Now()
	p.SendMessage(peerprotocol.UnchokeMessage{})
}

// Choking implements unchoker.Peer.
func (p *Peer) Choking() bool { return p.AmChoking }

// Interested implements unchoker.Peer.
func (p *Peer) Interested() bool { return p.PeerInterested }

// SetOptimistic implements unchoker.Peer.
func (p *Peer) SetOptimistic(value bool) { p.OptimisticUnchoked = value }

// Optimistic implements unchoker.Peer.
func (p *Peer) Optimistic() bool { return p.OptimisticUnchoked }

// LastUnchokedAt implements unchoker.Peer.
func (p *Peer) LastUnchokedAt() time.Time { return p.lastUnchokedAt }

// DownloadSpeed implements unchoker.Peer, bytes/s.
func (p *Peer) DownloadSpeed() int { return int(p.downloadSpeed.Rate1()) }

// UploadSpeed implements unchoker.Peer, bytes/s.
func (p *Peer) UploadSpeed() int { return int(p.uploadSpeed.Rate1()) }

// EstimatedUploadRate implements unchoker.Peer for the BitTyrant mode.
// Until real data exists, the estimate is the recent upload rate,
// floored to one block per round.
func (p *Peer) EstimatedUploadRate() int {
	rate := p.UploadSpeed()
	if rate < 16*1024 {
		rate = 16 * 1024
	}
	return rate
}

// CountDownload records received payload bytes.
func (p *Peer) CountDownload(n int, now time.Time) {
	p.BytesDownloaded += int64(n)
	p.downloadSpeed.Mark(int64(n))
	p.LastBlockReceivedAt = now
}

// CountUpload records sent payload bytes.
func (p *Peer) CountUpload(n int) {
	p.BytesUploaded += int64(n)
	p.uploadSpeed.Mark(int64(n))
}

// RemoteChoking implements piecepicker.Peer.
func (p *Peer) RemoteChoking() bool { return p.PeerChoking }

// IsSnubbed implements piecepicker.Peer. A peer is snubbed when it has
// unanswered requests older than the snub timeout.
func (p *Peer) IsSnubbed() bool {
	if len(p.Downloaders) == 0 {
		return false
	}
	pending := 0
	for _, d := range p.Downloaders {
		pending += d.Pending()
	}
	if pending == 0 {
		return false
	}
	return time.Since(p.LastBlockReceivedAt) > snubTimeout
}

// RequestBlock implements piecedownloader.Peer.
func (p *Peer) RequestBlock(index, begin, length uint32) {
	p.SendMessage(peerprotocol.RequestMessage{Index: index, Begin: begin, Length: length})
}

// FastEnabled implements piecedownloader.Peer.
func (p *Peer) FastEnabled() bool { return p.FastExtension }

// CancelBlock implements piecedownloader.Peer.
func (p *Peer) CancelBlock(index, begin, length uint32) {
	p.SendMessage(peerprotocol.CancelMessage{
		RequestMessage: peerprotocol.RequestMessage{Index: index, Begin: begin, Length: length},
	})
}

// RequestWindow returns the current pipeline depth, respecting the
// peer's advertised queue limit.
func (p *Peer) RequestWindow() int {
	w := p.requestWindow
	if p.ReqQ > 0 && w > p.ReqQ {
		w = p.ReqQ
	}
	return w
}

// GrowRequestWindow widens the pipeline after useful payload.
func (p *Peer) GrowRequestWindow() {
	if p.requestWindow < p.maxRequestWindow {
		p.requestWindow++
	}
}

// ShrinkRequestWindow halves the pipeline after a snub or timeout.
func (p *Peer) ShrinkRequestWindow() {
	p.requestWindow /= 2
	if p.requestWindow < minRequestWindow {
		p.requestWindow = minRequestWindow
	}
}

// QueueHave records a have index until metadata arrives.
func (p *Peer) QueueHave(index uint32) {
	p.haveQueue = append(p.haveQueue, index)
}

// FlushHaveQueue applies buffered haves onto the bitfield, when one is
// allocated, and returns them.
func (p *Peer) FlushHaveQueue() []uint32 {
	q := p.haveQueue
	p.haveQueue = nil
	if p.Bitfield != nil {
		for _, i := range q {
			if i < p.Bitfield.Len() {
				p.Bitfield.Set(i)
			}
		}
	}
	return q
}

// HasPiece reports whether the peer claims piece i.
func (p *Peer) HasPiece(i uint32) bool {
	if p.HaveAll {
		return true
	}
	if p.Bitfield == nil {
		return false
	}
	return p.Bitfield.Test(i)
}

// MetadataExtensionID returns the peer's ut_metadata id, if negotiated.
func (p *Peer) MetadataExtensionID() (uint8, bool) {
	id, ok := p.ExtensionIDs[peerprotocol.ExtensionKeyMetadata]
	return id, ok
}
