// Package tracker announces torrents to HTTP and UDP trackers.
package tracker

import (
	"context"
	"errors"
	"net"
	"time"
)

// NumWant is the default number of peers requested in an announce.
const NumWant = 100

// Tracker announces a torrent.
type Tracker interface {
	// Announce the torrent to the tracker. Should be called periodically
	// with the interval returned in the response, and on events.
	Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error)
	// URL of the tracker.
	URL() string
}

// Torrent is the announced state of a torrent.
type Torrent struct {
	InfoHash        [20]byte
	PeerID          [20]byte
	Port            uint16
	BytesUploaded   int64
	BytesDownloaded int64
	BytesLeft       int64
}

// AnnounceRequest is a single announce.
type AnnounceRequest struct {
	Torrent Torrent
	Event   Event
	Key     uint32
	NumWant int
}

// AnnounceResponse is a successful announce result.
type AnnounceResponse struct {
	Interval    time.Duration
	MinInterval time.Duration
	Leechers    int32
	Seeders     int32
	Peers       []*net.TCPAddr
}

// ScrapeResult is the swarm statistics of one infohash.
type ScrapeResult struct {
	InfoHash  [20]byte
	Seeders   int32
	Completed int32
	Leechers  int32
}

// ErrDecode is returned when a tracker response cannot be parsed.
var ErrDecode = errors.New("cannot decode response")

// ErrRequestCancelled is returned when the context ends mid-announce.
var ErrRequestCancelled = errors.New("request cancelled")

// Error is a failure reason sent by the tracker.
type Error struct {
	FailureReason string
	// RetryIn is a tracker-mandated minimum wait before the next try.
	RetryIn time.Duration
}

func (e *Error) Error() string { return e.FailureReason }
