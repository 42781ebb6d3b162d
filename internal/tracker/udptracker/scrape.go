package udptracker

import (
	"context"
	"encoding/binary"

	"github.com/tidebt/tide/internal/tracker"
)

// Scrape asks the tracker for swarm statistics of the infohashes.
func (t *UDPTracker) Scrape(ctx context.Context, infoHashes [][20]byte) ([]tracker.ScrapeResult, error) {
	body := make([]byte, 20*len(infoHashes))
	for i, ih := range infoHashes {
		copy(body[i*20:], ih[:])
	}
	reply, err := t.transport.Do(ctx, t.dest, actionScrape, body)
	if err != nil {
		return nil, err
	}
	if len(reply) < 8 || (len(reply)-8)%12 != 0 {
		return nil, tracker.ErrDecode
	}
	n := (len(reply) - 8) / 12
	if n > len(infoHashes) {
		n = len(infoHashes)
	}
	results := make([]tracker.ScrapeResult, n)
	for i := 0; i < n; i++ {
		off := 8 + i*12
		results[i] = tracker.ScrapeResult{
			InfoHash:  infoHashes[i],
			Seeders:   int32(binary.BigEndian.Uint32(reply[off : off+4])),
			Completed: int32(binary.BigEndian.Uint32(reply[off+4 : off+8])),
			Leechers:  int32(binary.BigEndian.Uint32(reply[off+8 : off+12])),
		}
	}
	return results, nil
}
