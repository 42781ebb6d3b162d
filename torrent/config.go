package torrent

import (
	"time"

	"github.com/tidebt/tide/internal/unchoker"
)

// Config for Session.
type Config struct {
	// Database file for resume data and session state.
	Database string
	// DataDir is where torrent data files are stored.
	DataDir string

	// Host or device name to listen on. A device name like "eth0" is
	// resolved through the interface enumerator.
	ListenHost string
	// Port to bind first; bind failures increment the port up to
	// MaxRetryPortBind times.
	ListenPort int
	// MaxRetryPortBind is the number of ports tried after ListenPort.
	MaxRetryPortBind int
	// FallbackToAnyPort lets the OS choose a port after all retries fail.
	FallbackToAnyPort bool

	// DHTEnabled runs a DHT node on the shared UDP socket.
	DHTEnabled bool
	// DHTBootstrapNodes seed the node table.
	DHTBootstrapNodes []string
	// DHTAnnounceInterval is the per-torrent DHT announce period.
	DHTAnnounceInterval time.Duration

	// LSDEnabled announces torrents on the local network.
	LSDEnabled bool
	// LSDAnnounceInterval is the multicast announce period.
	LSDAnnounceInterval time.Duration

	// PortMappingEnabled forwards listen ports via UPnP.
	PortMappingEnabled bool

	// ConnectionsLimit bounds connected peers session-wide.
	ConnectionsLimit int
	// ConnectionsSlack tolerates temporary overshoot while incoming
	// handshakes finish.
	ConnectionsSlack int
	// MaxHalfOpen bounds TCP connects in flight.
	MaxHalfOpen int
	// ConnectionSpeed is the number of outbound attempts per tick.
	ConnectionSpeed int
	// MaxConnectionsPerTorrent bounds a torrent's peer set.
	MaxConnectionsPerTorrent int

	// UnchokeInterval is the choker period.
	UnchokeInterval time.Duration
	// AllowedUploadSlots is the regular unchoke slot count.
	AllowedUploadSlots int
	// ChokerMode selects the unchoke ranking algorithm.
	ChokerMode unchoker.Mode
	// UploadCapacity is the BitTyrant budget in bytes/s.
	UploadCapacity int

	// AutoManageInterval is the auto-manager period.
	AutoManageInterval time.Duration
	// AutoManageStartup is the grace period in which a started torrent
	// does not consume an active slot.
	AutoManageStartup time.Duration
	ActiveDownloads   int
	ActiveSeeds       int
	ActiveChecking    int
	ActiveLimit       int
	ActiveDHTLimit    int
	ActiveTrackerLimit int
	ActiveLSDLimit    int

	// ActiveLoadedLimit bounds torrents holding parsed metadata in
	// memory; zero disables eviction.
	ActiveLoadedLimit int

	// SpeedLimitDownload and SpeedLimitUpload throttle the default peer
	// class, bytes/s. Zero means unlimited.
	SpeedLimitDownload int64
	SpeedLimitUpload   int64

	// RequestQueueLength is the ceiling of the adaptive per-peer
	// request pipeline.
	RequestQueueLength int
	// RequestTimeout re-requests blocks not received in time.
	RequestTimeout time.Duration
	// EndgameParallelDownloads bounds duplicate downloads per piece.
	EndgameParallelDownloads int
	// MaxRequestsIn is the upload queue bound per peer.
	MaxRequestsIn int
	// MaxRequestsInPerTick disconnects peers requesting more per tick.
	MaxRequestsInPerTick int

	// PeerConnectTimeout is the TCP connect deadline.
	PeerConnectTimeout time.Duration
	// PeerHandshakeTimeout is the BT handshake deadline.
	PeerHandshakeTimeout time.Duration

	// TrackerNumWant is the peer count requested per announce.
	TrackerNumWant int
	// TrackerMinAnnounceInterval floors announce intervals.
	TrackerMinAnnounceInterval time.Duration
	// TrackerStoppedTimeout bounds the final stopped event.
	TrackerStoppedTimeout time.Duration
	// TrackerHTTPTimeout bounds one HTTP announce.
	TrackerHTTPTimeout time.Duration

	// MaxAlerts bounds the alert queue; further alerts are dropped.
	MaxAlerts int

	// MaxOpenFiles raises the file descriptor limit at start.
	MaxOpenFiles uint64

	// PeerIDPrefix encodes the client fingerprint in new peer ids.
	PeerIDPrefix string
	// ClientVersion is sent in the extended handshake "v" key.
	ClientVersion string
}

// DefaultConfig is the recommended configuration.
var DefaultConfig = Config{
	Database: "~/.tide/session.db",
	DataDir:  "~/tide-downloads",

	ListenHost:        "0.0.0.0",
	ListenPort:        50609,
	MaxRetryPortBind:  10,
	FallbackToAnyPort: true,

	DHTEnabled: true,
	DHTBootstrapNodes: []string{
		"router.bittorrent.com:6881",
		"dht.transmissionbt.com:6881",
		"router.utorrent.com:6881",
	},
	DHTAnnounceInterval: 30 * time.Minute,

	LSDEnabled:          true,
	LSDAnnounceInterval: 5 * time.Minute,

	PortMappingEnabled: true,

	ConnectionsLimit:         200,
	ConnectionsSlack:         10,
	MaxHalfOpen:              20,
	ConnectionSpeed:          20,
	MaxConnectionsPerTorrent: 60,

	UnchokeInterval:    10 * time.Second,
	AllowedUploadSlots: 8,
	ChokerMode:         unchoker.FixedSlots,
	UploadCapacity:     0,

	AutoManageInterval: 30 * time.Second,
	AutoManageStartup:  60 * time.Second,
	ActiveDownloads:    3,
	ActiveSeeds:        5,
	ActiveChecking:     1,
	ActiveLimit:        15,
	ActiveDHTLimit:     88,
	ActiveTrackerLimit: 1600,
	ActiveLSDLimit:     60,

	ActiveLoadedLimit: 0,

	RequestQueueLength:       250,
	RequestTimeout:           20 * time.Second,
	EndgameParallelDownloads: 2,
	MaxRequestsIn:            250,
	MaxRequestsInPerTick:     500,

	PeerConnectTimeout:   5 * time.Second,
	PeerHandshakeTimeout: 10 * time.Second,

	TrackerNumWant:             100,
	TrackerMinAnnounceInterval: time.Minute,
	TrackerStoppedTimeout:      5 * time.Second,
	TrackerHTTPTimeout:         30 * time.Second,

	MaxAlerts: 1 << 14,

	MaxOpenFiles: 1 << 20,

	PeerIDPrefix:  "-TD0001-",
	ClientVersion: "tide/0.1",
}
