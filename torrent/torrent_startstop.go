package torrent

import (
	"net"
	"net/url"
	"time"

	"github.com/tidebt/tide/internal/announcer"
	"github.com/tidebt/tide/internal/automanager"
	"github.com/tidebt/tide/internal/logger"
	"github.com/tidebt/tide/internal/peersource"
	"github.com/tidebt/tide/internal/tracker"
	"github.com/tidebt/tide/internal/tracker/httptracker"
	"github.com/tidebt/tide/internal/tracker/udptracker"
)

// isPrivate reports whether the torrent forbids DHT/PEX/LSD (BEP 27).
func (t *Torrent) isPrivate() bool {
	return t.info.IsPrivate()
}

// buildTrackerTiers instantiates tracker clients for the announce list.
func (t *Torrent) buildTrackerTiers() {
	s := t.session
	t.trackerTiers = nil
	for _, tier := range t.trackerURLs {
		var trackers []tracker.Tracker
		for _, raw := range tier {
			u, err := url.Parse(raw)
			if err != nil {
				t.log.Debugf("invalid tracker url %q", raw)
				continue
			}
			switch u.Scheme {
			case "http", "https":
				trackers = append(trackers, httptracker.New(raw, u, s.config.TrackerHTTPTimeout))
			case "udp":
				trackers = append(trackers, udptracker.New(raw, u, s.trackerTransport))
			default:
				t.log.Debugf("unsupported tracker scheme %q", u.Scheme)
			}
		}
		if len(trackers) > 0 {
			t.trackerTiers = append(t.trackerTiers, tracker.NewTier(trackers))
		}
	}
}

// startAnnouncers runs one announce loop per tracker tier.
func (t *Torrent) startAnnouncers() {
	if t.announcersStopC != nil {
		return
	}
	s := t.session
	t.announcersStopC = make(chan struct{})
	stopC := t.announcersStopC

	newPeersC := make(chan []*net.TCPAddr)
	go func() {
		for {
			select {
			case addrs := <-newPeersC:
				s.exec(func() {
					t.handleNewPeers(addrs, peersource.Tracker)
					s.prioritizeTorrent(t)
				})
				s.stats.TrackerAnnounces.Inc(1)
			case <-stopC:
				return
			}
		}
	}()

	for _, tier := range t.trackerTiers {
		an := announcer.New(tier, t, t.announceKey, newPeersC, t.completedC, nil, logger.New("announcer "+t.ID()[:8]))
		go an.Run(stopC, s.config.TrackerMinAnnounceInterval, s.config.TrackerStoppedTimeout)
	}
}

// stopAnnouncers ends the announce loops; each sends a final stopped
// event bounded by TrackerStoppedTimeout.
func (t *Torrent) stopAnnouncers() {
	if t.announcersStopC == nil {
		return
	}
	close(t.announcersStopC)
	t.announcersStopC = nil
}

// start brings a granted, unpaused torrent into the swarm.
func (t *Torrent) start() {
	s := t.session
	if t.errValue != nil || t.paused || !t.active {
		return
	}
	t.startedAt = s.clock.Now()
	t.firstPayloadAt = time.Time{}
	t.updateAnnounceState()
	t.startAnnouncers()
	// Discovery timers fire on the next tick.
	t.dhtAnnouncedAt = time.Time{}
	t.lsdAnnouncedAt = time.Time{}
	t.markStateChanged()
	s.updateListMembership(t)
}

// pause stops transfers gracefully: outstanding requests are
// cancelled, no new requests are issued, connected peers stay until
// they idle out.
func (t *Torrent) pause() {
	if t.paused {
		return
	}
	t.paused = true
	t.cancelAllRequests()
	t.stopAnnouncers()
	t.markStateChanged()
	t.session.updateListMembership(t)
}

// resume restarts a paused torrent.
func (t *Torrent) resume() {
	if !t.paused {
		return
	}
	t.paused = false
	if !t.autoManaged {
		t.active = true
	}
	t.start()
	t.markStateChanged()
	t.session.updateListMembership(t)
}

// setActive applies an auto-manager grant or revocation.
func (t *Torrent) setActive(active bool) {
	if t.active == active {
		return
	}
	t.active = active
	if active {
		t.start()
	} else {
		// Graceful pause without touching the user's paused wish.
		t.cancelAllRequests()
		t.stopAnnouncers()
		t.markStateChanged()
	}
	t.session.updateListMembership(t)
}

// autoManagedTorrent adapts Torrent to the automanager interface.
type autoManagedTorrent Torrent

func (a *autoManagedTorrent) t() *Torrent { return (*Torrent)(a) }

func (a *autoManagedTorrent) AutoManaged() bool {
	return a.t().autoManaged && !a.t().paused && a.t().errValue == nil
}

func (a *autoManagedTorrent) AutoManageState() automanager.State {
	switch {
	case a.t().checking:
		return automanager.Checking
	case a.t().completed:
		return automanager.Seeding
	default:
		return automanager.Downloading
	}
}

func (a *autoManagedTorrent) QueuePosition() int { return a.t().queuePos }

// SeedRank prefers seeds that have seeded the least so far.
func (a *autoManagedTorrent) SeedRank() int { return -int(a.t().seedDuration.Seconds()) }

func (a *autoManagedTorrent) Starting() bool {
	t := a.t()
	if !t.active || t.startedAt.IsZero() || !t.firstPayloadAt.IsZero() {
		return false
	}
	return t.session.clock.Now().Sub(t.startedAt) < t.session.config.AutoManageStartup
}

func (a *autoManagedTorrent) AnnouncesToDHT() bool {
	return a.t().session.dhtNode != nil && !a.t().isPrivate()
}

func (a *autoManagedTorrent) AnnouncesToTrackers() bool { return len(a.t().trackerTiers) > 0 }

func (a *autoManagedTorrent) AnnouncesToLSD() bool {
	return a.t().session.lsdDiscovery != nil && !a.t().isPrivate()
}

func (a *autoManagedTorrent) SetActive(active bool) { a.t().setActive(active) }
