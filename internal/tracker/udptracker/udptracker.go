// Package udptracker announces over the UDP tracker protocol (BEP 15).
package udptracker

import (
	"context"
	"encoding/binary"
	"errors"
	"net/url"
	"time"

	"github.com/tidebt/tide/internal/logger"
	"github.com/tidebt/tide/internal/tracker"
)

// UDPTracker announces through a shared Transport.
type UDPTracker struct {
	rawURL    string
	dest      string
	urlData   string
	log       logger.Logger
	transport *Transport
}

var _ tracker.Tracker = (*UDPTracker)(nil)

// New returns a UDPTracker for u, sending through t.
func New(rawURL string, u *url.URL, t *Transport) *UDPTracker {
	return &UDPTracker{
		rawURL:    rawURL,
		dest:      u.Host,
		urlData:   u.RequestURI(),
		log:       logger.New("tracker " + u.Host),
		transport: t,
	}
}

// URL returns the tracker URL string.
func (t *UDPTracker) URL() string { return t.rawURL }

// Announce implements tracker.Tracker.
func (t *UDPTracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	numWant := req.NumWant
	if numWant <= 0 {
		numWant = tracker.NumWant
	}
	tor := req.Torrent

	// BEP 15 announce request body after the 16-byte header.
	body := make([]byte, 82)
	copy(body[0:20], tor.InfoHash[:])
	copy(body[20:40], tor.PeerID[:])
	binary.BigEndian.PutUint64(body[40:48], uint64(tor.BytesDownloaded))
	binary.BigEndian.PutUint64(body[48:56], uint64(tor.BytesLeft))
	binary.BigEndian.PutUint64(body[56:64], uint64(tor.BytesUploaded))
	binary.BigEndian.PutUint32(body[64:68], uint32(req.Event))
	// IP address 0 = default
	binary.BigEndian.PutUint32(body[72:76], req.Key)
	binary.BigEndian.PutUint32(body[76:80], uint32(numWant))
	binary.BigEndian.PutUint16(body[80:82], tor.Port)
	body = appendURLData(body, t.urlData)

	reply, err := t.transport.Do(ctx, t.dest, actionAnnounce, body)
	if err != nil {
		return nil, err
	}
	return parseAnnounceResponse(reply)
}

// appendURLData adds the BEP 41 option for the request URI.
func appendURLData(b []byte, urlData string) []byte {
	if urlData == "" || urlData == "/" {
		return b
	}
	for len(urlData) > 0 {
		chunk := urlData
		if len(chunk) > 255 {
			chunk = chunk[:255]
		}
		b = append(b, 0x2, byte(len(chunk)))
		b = append(b, chunk...)
		urlData = urlData[len(chunk):]
	}
	return b
}

func parseAnnounceResponse(b []byte) (*tracker.AnnounceResponse, error) {
	if len(b) < 20 {
		return nil, tracker.ErrDecode
	}
	interval := binary.BigEndian.Uint32(b[8:12])
	leechers := binary.BigEndian.Uint32(b[12:16])
	seeders := binary.BigEndian.Uint32(b[16:20])
	peers, err := tracker.DecodePeersCompact(b[20:])
	if err != nil {
		return nil, err
	}
	return &tracker.AnnounceResponse{
		Interval: time.Duration(interval) * time.Second,
		Leechers: int32(leechers),
		Seeders:  int32(seeders),
		Peers:    peers,
	}, nil
}

var errTrackerError = errors.New("tracker returned error")
