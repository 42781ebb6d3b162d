// Package counters aggregates session-wide statistics.
package counters

import "github.com/rcrowley/go-metrics"

// Counters is the session metrics registry.
type Counters struct {
	Registry metrics.Registry

	Peers             metrics.Counter
	IncomingPeers     metrics.Counter
	OutgoingPeers     metrics.Counter
	SpeedDownload     metrics.Meter
	SpeedUpload       metrics.Meter
	BytesWasted       metrics.Counter
	PiecesDownloaded  metrics.Counter
	HashFails         metrics.Counter
	DHTQueries        metrics.Counter
	DHTTimeouts       metrics.Counter
	TrackerAnnounces  metrics.Counter
	TrackerErrors     metrics.Counter
	ConnectAttempts   metrics.Counter
	DisconnectedPeers metrics.Counter
}

// New builds a fresh registry. Gauges that close over session state are
// added by the caller with RegisterGauge.
func New() *Counters {
	r := metrics.NewRegistry()
	return &Counters{
		Registry:          r,
		Peers:             metrics.NewRegisteredCounter("peers", r),
		IncomingPeers:     metrics.NewRegisteredCounter("peers_incoming", r),
		OutgoingPeers:     metrics.NewRegisteredCounter("peers_outgoing", r),
		SpeedDownload:     metrics.NewRegisteredMeter("speed_download", r),
		SpeedUpload:       metrics.NewRegisteredMeter("speed_upload", r),
		BytesWasted:       metrics.NewRegisteredCounter("bytes_wasted", r),
		PiecesDownloaded:  metrics.NewRegisteredCounter("pieces_downloaded", r),
		HashFails:         metrics.NewRegisteredCounter("hash_fails", r),
		DHTQueries:        metrics.NewRegisteredCounter("dht_queries", r),
		DHTTimeouts:       metrics.NewRegisteredCounter("dht_timeouts", r),
		TrackerAnnounces:  metrics.NewRegisteredCounter("tracker_announces", r),
		TrackerErrors:     metrics.NewRegisteredCounter("tracker_errors", r),
		ConnectAttempts:   metrics.NewRegisteredCounter("connect_attempts", r),
		DisconnectedPeers: metrics.NewRegisteredCounter("peers_disconnected", r),
	}
}

// RegisterGauge adds a functional gauge to the registry.
func (c *Counters) RegisterGauge(name string, f func() int64) metrics.Gauge {
	g := metrics.NewFunctionalGauge(f)
	_ = c.Registry.Register(name, g)
	return g
}

// Close stops the meters.
func (c *Counters) Close() {
	c.SpeedDownload.Stop()
	c.SpeedUpload.Stop()
}
