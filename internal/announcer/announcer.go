// Package announcer runs the periodic tracker announce loop of one
// torrent tier.
package announcer

import (
	"context"
	"net"
	"time"

	"github.com/cenkalti/backoff/v3"

	"github.com/tidebt/tide/internal/logger"
	"github.com/tidebt/tide/internal/tracker"
)

// Torrent lets the announcer read the announced torrent state.
// Called from the announcer goroutine; implementations must be
// thread-safe snapshots.
type Torrent interface {
	AnnounceState() tracker.Torrent
}

// Announcer announces one tier until stopped.
type Announcer struct {
	tier     *tracker.Tier
	torrent  Torrent
	key      uint32
	newPeers chan<- []*net.TCPAddr
	log      logger.Logger

	completedC <-chan struct{}

	// portC delivers the external port of a successful port mapping;
	// once received it overrides the announced port.
	portC <-chan uint16
}

// New returns an Announcer for tier.
// Peers from announce responses are sent to newPeers. completedC is
// closed when the download completes; portC delivers external port
// updates from the port mapper.
func New(tier *tracker.Tier, to Torrent, key uint32, newPeers chan<- []*net.TCPAddr, completedC <-chan struct{}, portC <-chan uint16, l logger.Logger) *Announcer {
	return &Announcer{
		tier:       tier,
		torrent:    to,
		key:        key,
		newPeers:   newPeers,
		log:        l,
		completedC: completedC,
		portC:      portC,
	}
}

// Run announces started, then periodically, then stopped on exit.
// Blocks until stopC is closed.
func (a *Announcer) Run(stopC chan struct{}, minInterval, stoppedTimeout time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-stopC
		cancel()
	}()

	retry := &backoff.ExponentialBackOff{
		InitialInterval:     5 * time.Second,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         30 * time.Minute,
		MaxElapsedTime:      0, // never give up
		Clock:               backoff.SystemClock,
	}
	retry.Reset()

	var port uint16
	announce := func(e tracker.Event) time.Duration {
		st := a.torrent.AnnounceState()
		if port != 0 {
			st.Port = port
		}
		resp, err := a.tier.Announce(ctx, tracker.AnnounceRequest{
			Torrent: st,
			Event:   e,
			Key:     a.key,
		})
		if err != nil {
			if terr, ok := err.(*tracker.Error); ok && terr.RetryIn > 0 {
				a.log.Debugln("announce failure:", terr.FailureReason)
				return terr.RetryIn
			}
			a.log.Debugln("announce error:", err)
			return retry.NextBackOff()
		}
		retry.Reset()
		select {
		case a.newPeers <- resp.Peers:
		case <-stopC:
		}
		interval := resp.Interval
		if interval < minInterval {
			interval = minInterval
		}
		if resp.MinInterval > interval {
			interval = resp.MinInterval
		}
		return interval
	}

	defer func() {
		// The stop context is already cancelled; give the stopped event
		// its own deadline.
		sctx, scancel := context.WithTimeout(context.Background(), stoppedTimeout)
		defer scancel()
		st := a.torrent.AnnounceState()
		if port != 0 {
			st.Port = port
		}
		_, _ = a.tier.Announce(sctx, tracker.AnnounceRequest{Torrent: st, Event: tracker.EventStopped, Key: a.key})
	}()

	next := announce(tracker.EventStarted)
	timer := time.NewTimer(next)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			timer.Reset(announce(tracker.EventNone))
		case <-a.completedC:
			a.completedC = nil
			timer.Reset(announce(tracker.EventCompleted))
		case p := <-a.portC:
			port = p
		case <-stopC:
			return
		}
	}
}
