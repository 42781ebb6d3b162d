package torrent

import (
	"github.com/tidebt/tide/internal/bitfield"
	"github.com/tidebt/tide/internal/metainfo"
)

func newInfoFromSpec(raw []byte) (*metainfo.Info, error) {
	return metainfo.NewInfo(raw)
}

func restoreBitfield(t *Torrent, pieces []byte) {
	bf := bitfield.NewBytes(pieces, t.info.NumPieces)
	for i := uint32(0); i < t.info.NumPieces; i++ {
		if bf.Test(i) {
			t.bitfield.Set(i)
			t.picker.HandleDone(i)
		}
	}
}

// Metadata LRU eviction: with ActiveLoadedLimit > 0 only that many
// torrents keep their parsed metadata and piece state in memory.
// Accessing a torrent bumps it to the back of the LRU; adding a torrent
// evicts from the front until the size fits. Pinned torrents are
// excluded.

// bumpLRU marks t as most recently used and evicts over the limit.
func (s *Session) bumpLRU(t *Torrent) {
	if t.pinned || !t.loaded() {
		return
	}
	if t.lruElem != nil {
		s.lru.MoveToBack(t.lruElem)
	} else {
		t.lruElem = s.lru.PushBack(t)
	}
	s.evictOverLimit()
}

// evictOverLimit unloads front torrents until the loaded count fits.
func (s *Session) evictOverLimit() {
	limit := s.config.ActiveLoadedLimit
	if limit <= 0 {
		return
	}
	for s.lru.Len() > limit {
		front := s.lru.Front()
		if front == nil {
			return
		}
		t := front.Value.(*Torrent)
		s.lru.Remove(front)
		t.lruElem = nil
		t.unload()
	}
}

// touchTorrent must be called when a torrent's metadata is accessed.
func (s *Session) touchTorrent(t *Torrent) {
	if !t.loaded() {
		s.loadTorrent(t)
	}
	s.bumpLRU(t)
}

// unload releases parsed metadata and piece state, keeping persistent
// identifiers (infohash, queue position, trackers) resident. Progress
// is persisted first so load can rebuild the bitfield.
func (t *Torrent) unload() {
	if !t.loaded() {
		return
	}
	t.log.Debugln("unloading metadata")
	t.persistProgress()
	t.cancelAllRequests()
	t.closeFiles()
	t.info = nil
	t.rawInfo = nil
	t.pieces = nil
	t.picker = nil
	t.bitfield = nil
	t.sto = nil
}

// loadTorrent rebuilds an unloaded torrent from its resume spec.
func (s *Session) loadTorrent(t *Torrent) {
	spec, err := s.res.ReadTorrent(t.ID())
	if err != nil || spec == nil || len(spec.Info) == 0 {
		return
	}
	info, err := newInfoFromSpec(spec.Info)
	if err != nil {
		t.setError(err)
		return
	}
	t.info = info
	t.rawInfo = info.Bytes
	if err = t.openStorage(); err != nil {
		t.setError(err)
		return
	}
	if len(spec.Pieces) > 0 {
		restoreBitfield(t, spec.Pieces)
	}
	t.log.Debugln("metadata reloaded")
}
