// Package torrent provides a BitTorrent session engine.
//
// A Session owns every torrent, peer connection, listen socket and
// discovery component. All engine state is mutated on a single event
// loop; public methods post work onto it and socket goroutines only
// perform I/O.
package torrent

import (
	"container/list"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	"github.com/mitchellh/go-homedir"
	bolt "go.etcd.io/bbolt"

	"github.com/tidebt/tide/internal/acceptor"
	"github.com/tidebt/tide/internal/bandwidth"
	"github.com/tidebt/tide/internal/clock"
	"github.com/tidebt/tide/internal/counters"
	"github.com/tidebt/tide/internal/dht"
	"github.com/tidebt/tide/internal/halfopen"
	"github.com/tidebt/tide/internal/logger"
	"github.com/tidebt/tide/internal/lsd"
	"github.com/tidebt/tide/internal/peer"
	"github.com/tidebt/tide/internal/peerclass"
	"github.com/tidebt/tide/internal/portmap"
	"github.com/tidebt/tide/internal/resumer"
	"github.com/tidebt/tide/internal/tracker/udptracker"
	"github.com/tidebt/tide/internal/udpmux"
)

// Session is a BitTorrent engine instance.
type Session struct {
	config Config
	log    logger.Logger
	db     *bolt.DB
	res    *resumer.Resumer
	peerID [20]byte
	clock  *clock.Clock

	torrents       map[string]*Torrent
	torrentsByHash map[[20]byte]*Torrent
	lists          [numTorrentLists]*torrentList
	// lru orders loaded, unpinned torrents for metadata eviction.
	lru *list.List

	// peers is the session connection set; every connected peer is here
	// and in exactly one torrent's peer set.
	peers map[*peer.Peer]*Torrent
	// undead holds disconnected peers until their goroutines finish.
	undead map[*peer.Peer]struct{}

	classes      *peerclass.Pool
	classFilter  *peerclass.Filter
	defaultClass peerclass.ID
	halfOpen     *halfopen.Gate
	// connectionsLimit may be lowered at runtime on resource errors.
	connectionsLimit int

	listener   net.Listener
	acceptor   *acceptor.Acceptor
	listenPort int
	// extPort is the externally mapped port, atomically readable from
	// announcer goroutines. Zero when unmapped.
	extPort atomic.Uint32

	mux              *udpmux.Mux
	dhtNode          *dht.Node
	dhtPeers         *dhtPeerStore
	trackerTransport *udptracker.Transport
	lsdDiscovery     *lsd.Discovery
	mapper           *portmap.Mapper
	mapperReadyC     chan *portmap.Mapper

	alerts *alertQueue
	stats  *counters.Counters

	cmdC        chan func()
	connC       chan net.Conn
	hsResultC   chan handshakeResult
	peerMsgC    chan peerMessage
	peerClosedC chan *peer.Peer
	verifyC     chan verifyResult
	dhtPeersC   chan dhtPeersResult

	numTorrents atomic.Int64

	// prioritized torrents short-circuit the connect rotation.
	prioritized []*Torrent
	rrCursor    int

	closing bool
	closeC  chan struct{}
	doneC   chan struct{}

	createdAt time.Time
}

type peerMessage struct {
	pe  *peer.Peer
	msg interface{}
}

type dhtPeersResult struct {
	infoHash [20]byte
	result   dht.GetPeersResult
}

// New creates a Session with cfg and starts its event loop.
func New(cfg Config) (*Session, error) {
	var err error
	cfg.Database, err = homedir.Expand(cfg.Database)
	if err != nil {
		return nil, err
	}
	cfg.DataDir, err = homedir.Expand(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(filepath.Dir(cfg.Database), 0750); err != nil {
		return nil, err
	}
	if err = os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, err
	}
	if cfg.MaxOpenFiles > 0 {
		setNoFileLimit(cfg.MaxOpenFiles)
	}

	l := logger.New("session")
	db, err := bolt.Open(cfg.Database, 0640, &bolt.Options{Timeout: time.Second})
	if err == bolt.ErrTimeout {
		return nil, fmt.Errorf("session database is locked by another process")
	} else if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()
	res, err := resumer.New(db)
	if err != nil {
		return nil, err
	}

	s := &Session{
		config:           cfg,
		log:              l,
		db:               db,
		res:              res,
		clock:            clock.New(),
		torrents:         make(map[string]*Torrent),
		torrentsByHash:   make(map[[20]byte]*Torrent),
		lru:              list.New(),
		peers:            make(map[*peer.Peer]*Torrent),
		undead:           make(map[*peer.Peer]struct{}),
		classes:          peerclass.NewPool(),
		classFilter:      peerclass.NewFilter(),
		halfOpen:         halfopen.New(cfg.MaxHalfOpen),
		connectionsLimit: cfg.ConnectionsLimit,
		mapperReadyC:     make(chan *portmap.Mapper, 1),
		alerts:           newAlertQueue(cfg.MaxAlerts),
		stats:            counters.New(),
		cmdC:             make(chan func(), 64),
		connC:            make(chan net.Conn),
		hsResultC:        make(chan handshakeResult),
		peerMsgC:         make(chan peerMessage, 256),
		peerClosedC:      make(chan *peer.Peer, 16),
		verifyC:          make(chan verifyResult),
		dhtPeersC:        make(chan dhtPeersResult, 16),
		closeC:           make(chan struct{}),
		doneC:            make(chan struct{}),
		createdAt:        time.Now(),
	}
	for i := range s.lists {
		s.lists[i] = newTorrentList(listID(i))
	}
	s.defaultClass = s.classes.New("default")
	if c := s.classes.Get(s.defaultClass); c != nil {
		c.Limiter.SetRate(bandwidth.Upload, cfg.SpeedLimitUpload)
		c.Limiter.SetRate(bandwidth.Download, cfg.SpeedLimitDownload)
	}

	state, err := res.ReadSession()
	if err != nil {
		return nil, err
	}
	if state != nil && len(state.PeerID) == 20 {
		copy(s.peerID[:], state.PeerID)
	} else {
		s.peerID = generatePeerID(cfg.PeerIDPrefix)
	}

	if err = s.openListenSockets(state); err != nil {
		return nil, err
	}

	s.registerGauges()

	if cfg.PortMappingEnabled {
		go func() {
			s.mapperReadyC <- portmap.NewMapper(10 * time.Second)
		}()
	}

	go s.run()

	if err = s.loadResumeTorrents(); err != nil {
		s.log.Errorln("cannot load resume data:", err)
	}
	return s, nil
}

// generatePeerID builds a fingerprinted, random peer id.
func generatePeerID(prefix string) (id [20]byte) {
	copy(id[:], prefix)
	u, err := uuid.NewV4()
	if err == nil {
		copy(id[len(prefix):], u.Bytes())
	} else {
		_, _ = rand.Read(id[len(prefix):])
	}
	return
}

// advertisedPort is the port peers and trackers should dial: the mapped
// external port when available, the listen port otherwise.
func (s *Session) advertisedPort() uint16 {
	if p := s.extPort.Load(); p != 0 {
		return uint16(p)
	}
	return uint16(s.listenPort)
}

// newAnnounceKey mints the random "key" parameter sent to trackers.
func newAnnounceKey() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func (s *Session) registerGauges() {
	s.stats.RegisterGauge("torrents", func() int64 {
		return s.numTorrents.Load()
	})
	s.stats.RegisterGauge("uptime_seconds", func() int64 {
		return int64(time.Since(s.createdAt) / time.Second)
	})
}

// exec posts f to the event loop without waiting.
func (s *Session) exec(f func()) {
	select {
	case s.cmdC <- f:
	case <-s.closeC:
	}
}

// execWait posts f and blocks until it ran.
func (s *Session) execWait(f func()) {
	done := make(chan struct{})
	s.exec(func() {
		f()
		close(done)
	})
	select {
	case <-done:
	case <-s.doneC:
	}
}

// ListenPort returns the bound TCP listen port.
func (s *Session) ListenPort() int { return s.listenPort }

// ExternalPort returns the mapped external port, or the listen port.
func (s *Session) ExternalPort() int { return int(s.advertisedPort()) }

// Torrents returns handles of all torrents.
func (s *Session) Torrents() []*Torrent {
	var out []*Torrent
	s.execWait(func() {
		out = make([]*Torrent, 0, len(s.torrents))
		for _, t := range s.torrents {
			out = append(out, t)
		}
	})
	return out
}

// GetTorrent returns the torrent with the given hex id, or nil.
func (s *Session) GetTorrent(id string) *Torrent {
	var t *Torrent
	s.execWait(func() { t = s.torrents[id] })
	return t
}

// Close aborts the session: every torrent is stopped, peers are
// disconnected, state is persisted and sockets are closed.
func (s *Session) Close() error {
	s.exec(func() { s.startClose() })
	<-s.doneC
	s.stats.Close()
	return s.db.Close()
}
