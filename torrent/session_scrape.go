package torrent

import (
	"context"
	"time"

	"github.com/tidebt/tide/internal/tracker/udptracker"
)

// scrapeInterval is how often a torrent's swarm counts are refreshed.
const scrapeInterval = 30 * time.Minute

// tickScrape refreshes swarm statistics for torrents that want them.
// Only UDP trackers are scraped; HTTP scrape conventions vary too much
// between implementations to rely on.
func (s *Session) tickScrape(now time.Time) {
	for _, t := range s.lists[listWantScrape].items {
		if !t.scrapedAt.IsZero() && now.Sub(t.scrapedAt) < scrapeInterval {
			continue
		}
		t.scrapedAt = now
		for _, tier := range t.trackerTiers {
			ut, ok := tier.Trackers[0].(*udptracker.UDPTracker)
			if !ok {
				continue
			}
			infoHash := t.infoHash
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				results, err := ut.Scrape(ctx, [][20]byte{infoHash})
				if err != nil || len(results) == 0 {
					return
				}
				r := results[0]
				s.exec(func() {
					if t, ok := s.torrentsByHash[r.InfoHash]; ok {
						t.swarmSeeders = int(r.Seeders)
						t.swarmLeechers = int(r.Leechers)
					}
				})
			}()
			break
		}
	}
}
