package torrent

import (
	"encoding/hex"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"

	"github.com/tidebt/tide/internal/addrlist"
	"github.com/tidebt/tide/internal/bitfield"
	"github.com/tidebt/tide/internal/logger"
	"github.com/tidebt/tide/internal/magnet"
	"github.com/tidebt/tide/internal/metainfo"
	"github.com/tidebt/tide/internal/peer"
	"github.com/tidebt/tide/internal/piece"
	"github.com/tidebt/tide/internal/piecepicker"
	"github.com/tidebt/tide/internal/resumer"
	"github.com/tidebt/tide/internal/storage/filestorage"
	"github.com/tidebt/tide/internal/unchoker"
)

// maxCandidateAddrs bounds a torrent's candidate address list.
const maxCandidateAddrs = 1000

// AddTorrentOptions modify AddTorrent and AddMagnet.
type AddTorrentOptions struct {
	// Paused adds the torrent without starting it.
	Paused bool
	// Pinned excludes the torrent from metadata eviction.
	Pinned bool
	// SkipVerify trusts existing data on disk without hashing it.
	SkipVerify bool
}

// AddTorrent reads a .torrent file from r and adds it.
func (s *Session) AddTorrent(r io.Reader, opt AddTorrentOptions) (*Torrent, error) {
	mi, err := metainfo.New(r)
	if err != nil {
		return nil, err
	}
	if len(mi.Info.GetFiles()) == 0 || mi.Info.TotalLength == 0 {
		return nil, ErrNoFilesInTorrent
	}
	var t *Torrent
	s.execWait(func() {
		t, err = s.addTorrent(&mi.Info, mi.Info.Hash, mi.Info.Name, mi.AnnounceList, opt)
	})
	return t, err
}

// AddTorrentFile adds the .torrent at path.
func (s *Session) AddTorrentFile(path string, opt AddTorrentOptions) (*Torrent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return s.AddTorrent(f, opt)
}

// AddMagnet adds a torrent from a magnet link. Metadata is fetched from
// the swarm before piece transfers begin.
func (s *Session) AddMagnet(link string, opt AddTorrentOptions) (*Torrent, error) {
	ma, err := magnet.New(link)
	if err != nil {
		return nil, err
	}
	var t *Torrent
	s.execWait(func() {
		t, err = s.addTorrent(nil, ma.InfoHash, ma.Name, ma.Trackers, opt)
	})
	return t, err
}

// addTorrent runs on the loop. info may be nil for magnets.
func (s *Session) addTorrent(info *metainfo.Info, infoHash [20]byte, name string, trackers [][]string, opt AddTorrentOptions) (*Torrent, error) {
	if s.closing {
		return nil, ErrSessionClosing
	}
	if _, ok := s.torrentsByHash[infoHash]; ok {
		return nil, ErrDuplicateTorrent
	}
	t := s.newTorrent(infoHash, name, trackers)
	t.paused = opt.Paused
	t.pinned = opt.Pinned
	if info != nil {
		t.info = info
		t.rawInfo = info.Bytes
		if err := t.openStorage(); err != nil {
			return nil, err
		}
	}
	s.registerTorrent(t)
	t.buildTrackerTiers()
	s.alerts.post(TorrentAddedAlert{InfoHash: infoHash, Name: t.name})

	if info != nil && !opt.SkipVerify {
		s.startVerifier(t)
	} else if info != nil {
		t.checking = false
	}
	if !opt.Paused {
		t.active = true
		t.start()
	}
	t.persistProgress()
	return t, nil
}

// newTorrent builds the in-memory torrent shell.
func (s *Session) newTorrent(infoHash [20]byte, name string, trackers [][]string) *Torrent {
	if name == "" {
		name = hex.EncodeToString(infoHash[:8])
	}
	t := &Torrent{
		session:     s,
		infoHash:    infoHash,
		name:        name,
		log:         logger.New("torrent " + hex.EncodeToString(infoHash[:4])),
		peers:       make(map[*peer.Peer]struct{}),
		addrList:    addrlist.New(maxCandidateAddrs),
		trackerURLs: trackers,
		announceKey: newAnnounceKey(),
		completedC:  make(chan struct{}),
		queuePos:    s.nextQueuePos(),
		autoManaged: true,
		addedAt:     s.clock.Now(),
	}
	for i := range t.listIndex {
		t.listIndex[i] = -1
	}
	t.unchoker = unchoker.New(
		s.config.ChokerMode,
		s.config.AllowedUploadSlots,
		unchoker.DefaultOptimisticSlots(s.config.AllowedUploadSlots),
		s.config.UploadCapacity,
	)
	t.addrList.Filter = func(a *net.TCPAddr) bool {
		// Never dial ourselves.
		return !(a.Port == s.listenPort && a.IP.IsLoopback())
	}
	return t
}

// openStorage opens data files and builds piece state for the metadata.
func (t *Torrent) openStorage() error {
	sto, err := filestorage.New(t.session.config.DataDir)
	if err != nil {
		return err
	}
	t.sto = sto
	files, err := piece.OpenFiles(t.info, sto)
	if err != nil {
		return err
	}
	t.files = files
	t.pieces = piece.NewPieces(t.info, files)
	t.bitfield = bitfield.New(t.info.NumPieces)
	t.picker = piecepicker.New(t.info.NumPieces, t.session.config.EndgameParallelDownloads)
	t.name = t.info.Name
	t.updateAnnounceState()
	return nil
}

// registerTorrent adds t to the session indexes.
func (s *Session) registerTorrent(t *Torrent) {
	s.torrents[t.ID()] = t
	s.torrentsByHash[t.infoHash] = t
	s.numTorrents.Store(int64(len(s.torrents)))
	s.updateListMembership(t)
	s.bumpLRU(t)
}

// nextQueuePos returns the maximum queue position plus one.
func (s *Session) nextQueuePos() int {
	max := -1
	for _, t := range s.torrents {
		if t.queuePos > max {
			max = t.queuePos
		}
	}
	return max + 1
}

// normalizeQueuePositions re-packs queue positions after a manual move.
func (s *Session) normalizeQueuePositions() {
	ordered := make([]*Torrent, 0, len(s.torrents))
	for _, t := range s.torrents {
		if t.queuePos >= 0 {
			ordered = append(ordered, t)
		}
	}
	sortTorrentsByQueuePos(ordered)
	for i, t := range ordered {
		t.queuePos = i
	}
}

func sortTorrentsByQueuePos(ts []*Torrent) {
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].queuePos < ts[j].queuePos })
}

// RemoveTorrent removes t; deleteFiles also removes downloaded data.
func (s *Session) RemoveTorrent(t *Torrent, deleteFiles bool) error {
	var err error
	s.execWait(func() {
		err = s.removeTorrent(t, deleteFiles)
	})
	return err
}

func (s *Session) removeTorrent(t *Torrent, deleteFiles bool) error {
	if _, ok := s.torrents[t.ID()]; !ok {
		return ErrTorrentNotFound
	}
	t.stopAnnouncers()
	for pe := range t.peers {
		t.disconnectPeer(pe, nil, OpShutdown)
	}
	t.closeFiles()
	for i := range s.lists {
		s.lists[i].remove(t)
	}
	if t.lruElem != nil {
		s.lru.Remove(t.lruElem)
		t.lruElem = nil
	}
	delete(s.torrents, t.ID())
	delete(s.torrentsByHash, t.infoHash)
	s.numTorrents.Store(int64(len(s.torrents)))
	if err := s.res.DeleteTorrent(t.ID()); err != nil {
		s.log.Errorln("cannot delete resume data:", err)
	}
	if deleteFiles && t.info != nil {
		path := filepath.Join(s.config.DataDir, t.info.Name)
		if err := os.RemoveAll(path); err != nil {
			s.log.Errorln("cannot delete data files:", err)
		}
	}
	s.normalizeQueuePositions()
	s.alerts.post(TorrentRemovedAlert{InfoHash: t.infoHash})
	return nil
}

func (t *Torrent) closeFiles() {
	for _, f := range t.files {
		_ = f.Close()
	}
	t.files = nil
}

// persistProgress writes the torrent's resume spec.
func (t *Torrent) persistProgress() {
	spec := &resumer.Spec{
		InfoHash:      t.infoHash[:],
		Name:          t.name,
		Trackers:      t.trackerURLs,
		SavePath:      t.session.config.DataDir,
		QueuePosition: t.queuePos,
		Paused:        t.paused,
		Downloaded:    t.bytesDownloaded,
		Uploaded:      t.bytesUploaded,
		AddedAt:       t.addedAt.Unix(),
		SeededFor:     int64(t.seedDuration.Seconds()),
		BlocksPerPiece: t.blocksPerPiece(),
	}
	if t.bitfield != nil {
		spec.Pieces = t.bitfield.Bytes()
	}
	if len(t.rawInfo) > 0 {
		spec.Info = t.rawInfo
	}
	if err := t.session.res.WriteTorrent(t.ID(), spec); err != nil {
		t.log.Errorln("cannot write resume data:", err)
	}
}

func (t *Torrent) blocksPerPiece() int {
	if t.info == nil {
		return 0
	}
	return int((t.info.PieceLength + piece.BlockSize - 1) / piece.BlockSize)
}

// loadResumeTorrents restores the torrents stored in the database.
func (s *Session) loadResumeTorrents() error {
	ids, err := s.res.TorrentIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		spec, err := s.res.ReadTorrent(id)
		if err != nil || spec == nil {
			s.log.Errorf("cannot read resume data for %s", id)
			continue
		}
		s.execWait(func() {
			if err := s.addFromSpec(spec); err != nil {
				s.log.Errorf("cannot resume %s: %s", id, err)
			}
		})
	}
	return nil
}

func (s *Session) addFromSpec(spec *resumer.Spec) error {
	var infoHash [20]byte
	copy(infoHash[:], spec.InfoHash)
	if _, ok := s.torrentsByHash[infoHash]; ok {
		return ErrDuplicateTorrent
	}
	var info *metainfo.Info
	if len(spec.Info) > 0 {
		var err error
		info, err = metainfo.NewInfo(spec.Info)
		if err != nil {
			return err
		}
	}
	t := s.newTorrent(infoHash, spec.Name, spec.Trackers)
	t.paused = spec.Paused
	t.queuePos = spec.QueuePosition
	t.bytesDownloaded = spec.Downloaded
	t.bytesUploaded = spec.Uploaded
	if info != nil {
		t.info = info
		t.rawInfo = info.Bytes
		if err := t.openStorage(); err != nil {
			return err
		}
		if len(spec.Pieces) > 0 {
			bf := bitfield.NewBytes(spec.Pieces, info.NumPieces)
			for i := uint32(0); i < info.NumPieces; i++ {
				if bf.Test(i) {
					t.bitfield.Set(i)
					t.picker.HandleDone(i)
				}
			}
		}
	}
	s.registerTorrent(t)
	t.buildTrackerTiers()
	if !t.paused {
		t.active = true
		t.start()
	}
	t.checkCompletion()
	return nil
}
