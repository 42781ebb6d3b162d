package torrent

import (
	"container/list"
	"encoding/hex"
	"net"
	"sync"
	"time"

	"github.com/tidebt/tide/internal/addrlist"
	"github.com/tidebt/tide/internal/bitfield"
	"github.com/tidebt/tide/internal/logger"
	"github.com/tidebt/tide/internal/metainfo"
	"github.com/tidebt/tide/internal/peer"
	"github.com/tidebt/tide/internal/peersource"
	"github.com/tidebt/tide/internal/piece"
	"github.com/tidebt/tide/internal/piecepicker"
	"github.com/tidebt/tide/internal/storage"
	"github.com/tidebt/tide/internal/tracker"
	"github.com/tidebt/tide/internal/unchoker"
)

// Torrent is a torrent known to the session. All fields are owned by
// the session loop; the exported methods marshal onto it.
type Torrent struct {
	session  *Session
	infoHash [20]byte
	name     string
	log      logger.Logger

	// info is nil for magnet torrents until the metadata arrives, and
	// for torrents evicted from the loaded set.
	info     *metainfo.Info
	rawInfo  []byte
	files    []storage.File
	pieces   []piece.Piece
	bitfield *bitfield.Bitfield
	picker   *piecepicker.PiecePicker
	sto      storage.Storage

	peers    map[*peer.Peer]struct{}
	addrList *addrlist.AddrList

	// metadata is the in-progress info-dict fetch of a magnet torrent.
	metadata *metadataFetch

	trackerURLs  [][]string
	trackerTiers []*tracker.Tier
	announcersStopC chan struct{}
	announceKey  uint32

	// announceMu guards the snapshot read by announcer goroutines.
	announceMu    sync.Mutex
	announceState tracker.Torrent

	completedC     chan struct{}
	completedOnce sync.Once

	unchoker *unchoker.Unchoker

	// queuePos orders auto-managed downloads; -1 means not queued.
	queuePos    int
	autoManaged bool
	// paused is the user's wish; active is the auto-manager's grant.
	paused   bool
	active   bool
	checking bool
	errValue error

	addedAt   time.Time
	startedAt time.Time
	// firstPayloadAt is when the torrent first produced payload after
	// its start; zero while "starting" for the auto-manager.
	firstPayloadAt time.Time
	completed      bool
	seedDuration   time.Duration

	bytesDownloaded int64
	bytesUploaded   int64
	bytesWasted     int64
	hashFails       int

	// Membership indexes for the session lists; -1 when absent.
	listIndex [numTorrentLists]int
	lruElem   *list.Element
	pinned    bool

	dhtAnnouncedAt time.Time
	lsdAnnouncedAt time.Time
	scrapedAt      time.Time

	swarmSeeders  int
	swarmLeechers int

	stateChanged bool
}

// ID returns the torrent's stable identifier (hex infohash).
func (t *Torrent) ID() string { return hex.EncodeToString(t.infoHash[:]) }

// InfoHash returns the 20-byte content identifier.
func (t *Torrent) InfoHash() [20]byte { return t.infoHash }

// Name returns the display name.
func (t *Torrent) Name() string { return t.name }

// loaded reports whether parsed metadata is resident.
func (t *Torrent) loaded() bool { return t.info != nil }

// hasMetadata reports whether metadata was ever obtained.
func (t *Torrent) hasMetadata() bool { return t.info != nil || len(t.rawInfo) > 0 }

// running reports whether the torrent takes part in the swarm.
func (t *Torrent) running() bool {
	return !t.paused && t.active && t.errValue == nil
}

// Membership predicates for the session lists (invariant: in list iff
// predicate true).

func (t *Torrent) wantTick() bool {
	return len(t.peers) > 0
}

func (t *Torrent) wantPeersDownload() bool {
	return t.running() && !t.completed && !t.checking && len(t.peers) < t.session.config.MaxConnectionsPerTorrent
}

func (t *Torrent) wantPeersFinished() bool {
	return t.running() && t.completed && len(t.peers) < t.session.config.MaxConnectionsPerTorrent
}

func (t *Torrent) wantScrape() bool {
	return !t.paused && len(t.trackerTiers) > 0
}

// markStateChanged queues the torrent for the next state-update alert.
func (t *Torrent) markStateChanged() {
	if t.stateChanged {
		return
	}
	t.stateChanged = true
	t.session.lists[listStateUpdates].add(t)
}

// updateAnnounceState refreshes the snapshot read by announcers.
func (t *Torrent) updateAnnounceState() {
	var left int64
	if t.info != nil && t.bitfield != nil {
		left = t.info.TotalLength
		for i := uint32(0); i < t.bitfield.Len(); i++ {
			if t.bitfield.Test(i) {
				left -= int64(t.pieces[i].Length)
			}
		}
	}
	t.announceMu.Lock()
	t.announceState = tracker.Torrent{
		InfoHash:        t.infoHash,
		PeerID:          t.session.peerID,
		Port:            t.session.advertisedPort(),
		BytesUploaded:   t.bytesUploaded,
		BytesDownloaded: t.bytesDownloaded,
		BytesLeft:       left,
	}
	t.announceMu.Unlock()
}

// AnnounceState implements announcer.Torrent. Safe for concurrent use.
func (t *Torrent) AnnounceState() tracker.Torrent {
	t.announceMu.Lock()
	defer t.announceMu.Unlock()
	return t.announceState
}

// peerList returns the peer set as a slice.
func (t *Torrent) peerList() []*peer.Peer {
	peers := make([]*peer.Peer, 0, len(t.peers))
	for pe := range t.peers {
		peers = append(peers, pe)
	}
	return peers
}

// unchokerPeers adapts the peer set for the unchoker, filtering peers
// that opted out of slot accounting via their peer classes.
func (t *Torrent) unchokerPeers() []unchoker.Peer {
	peers := make([]unchoker.Peer, 0, len(t.peers))
	for pe := range t.peers {
		if pe.Disconnecting {
			continue
		}
		if t.session.classes.IgnoreUnchokeSlots(pe.ClassIDs) {
			continue
		}
		peers = append(peers, pe)
	}
	return peers
}

// AddPeers posts addresses to try, as if announced by a tracker.
func (t *Torrent) AddPeers(addrs []*net.TCPAddr) {
	s := t.session
	s.exec(func() {
		t.handleNewPeers(addrs, peersource.Manual)
	})
}

// Stats returns a snapshot of the torrent's counters.
func (t *Torrent) Stats() Stats {
	s := t.session
	var st Stats
	s.execWait(func() {
		s.touchTorrent(t)
		st = t.stats()
	})
	return st
}

// Pause stops transfers gracefully: outstanding requests are cancelled,
// no new requests are issued, peers stay connected until they idle out.
func (t *Torrent) Pause() {
	s := t.session
	s.exec(func() {
		t.pause()
	})
}

// Resume restarts a paused torrent.
func (t *Torrent) Resume() {
	s := t.session
	s.exec(func() {
		t.resume()
	})
}

// SetPinned excludes the torrent from metadata eviction.
func (t *Torrent) SetPinned(pinned bool) {
	s := t.session
	s.exec(func() {
		t.pinned = pinned
		if pinned && t.lruElem != nil {
			s.lru.Remove(t.lruElem)
			t.lruElem = nil
		}
	})
}

// SetQueuePosition reorders the torrent in the download queue.
func (t *Torrent) SetQueuePosition(pos int) {
	s := t.session
	s.exec(func() {
		t.queuePos = pos
		s.normalizeQueuePositions()
	})
}
