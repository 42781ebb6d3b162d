// Package httptracker announces over HTTP GET per BEP 3.
package httptracker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zeebo/bencode"

	"github.com/tidebt/tide/internal/logger"
	"github.com/tidebt/tide/internal/tracker"
)

// HTTPTracker announces to an HTTP(S) tracker URL.
type HTTPTracker struct {
	rawURL    string
	url       *url.URL
	log       logger.Logger
	http      *http.Client
	trackerID string
}

var _ tracker.Tracker = (*HTTPTracker)(nil)

// New returns an HTTPTracker for u.
func New(rawURL string, u *url.URL, timeout time.Duration) *HTTPTracker {
	return &HTTPTracker{
		rawURL: rawURL,
		url:    u,
		log:    logger.New("tracker " + u.Host),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
				TLSHandshakeTimeout: timeout,
				DisableKeepAlives:   true,
			},
		},
	}
}

// URL returns the tracker URL string.
func (t *HTTPTracker) URL() string { return t.rawURL }

type announceResponse struct {
	FailureReason  string             `bencode:"failure reason"`
	WarningMessage string             `bencode:"warning message"`
	RetryIn        string             `bencode:"retry in"`
	Interval       int32              `bencode:"interval"`
	MinInterval    int32              `bencode:"min interval"`
	TrackerID      string             `bencode:"tracker id"`
	Complete       int32              `bencode:"complete"`
	Incomplete     int32              `bencode:"incomplete"`
	Peers          bencode.RawMessage `bencode:"peers"`
	Peers6         bencode.RawMessage `bencode:"peers6"`
}

type peerDict struct {
	IP   string `bencode:"ip"`
	Port uint16 `bencode:"port"`
}

// Announce implements tracker.Tracker.
func (t *HTTPTracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	tor := req.Torrent
	q := url.Values{}
	q.Set("info_hash", string(tor.InfoHash[:]))
	q.Set("peer_id", string(tor.PeerID[:]))
	q.Set("port", strconv.FormatUint(uint64(tor.Port), 10))
	q.Set("uploaded", strconv.FormatInt(tor.BytesUploaded, 10))
	q.Set("downloaded", strconv.FormatInt(tor.BytesDownloaded, 10))
	q.Set("left", strconv.FormatInt(tor.BytesLeft, 10))
	q.Set("compact", "1")
	q.Set("no_peer_id", "1")
	q.Set("key", strconv.FormatUint(uint64(req.Key), 10))
	numWant := req.NumWant
	if numWant <= 0 {
		numWant = tracker.NumWant
	}
	q.Set("numwant", strconv.Itoa(numWant))
	if req.Event != tracker.EventNone {
		q.Set("event", req.Event.String())
	}
	if t.trackerID != "" {
		q.Set("trackerid", t.trackerID)
	}

	u := *t.url
	if u.RawQuery != "" {
		u.RawQuery += "&" + q.Encode()
	} else {
		u.RawQuery = q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, tracker.ErrRequestCancelled
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tracker status %d: %q", resp.StatusCode, string(data))
	}

	var response announceResponse
	if err = bencode.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, tracker.ErrDecode
	}
	if response.WarningMessage != "" {
		t.log.Warning(response.WarningMessage)
	}
	if response.FailureReason != "" {
		retryIn, _ := strconv.Atoi(response.RetryIn)
		return nil, &tracker.Error{
			FailureReason: response.FailureReason,
			RetryIn:       time.Duration(retryIn) * time.Minute,
		}
	}
	if response.TrackerID != "" {
		t.trackerID = response.TrackerID
	}

	peers, err := parsePeers(response.Peers)
	if err != nil {
		return nil, err
	}
	if len(response.Peers6) > 0 {
		var b []byte
		if err = bencode.DecodeBytes(response.Peers6, &b); err == nil {
			peers6, err2 := tracker.DecodePeersCompact6(b)
			if err2 == nil {
				peers = append(peers, peers6...)
			}
		}
	}

	return &tracker.AnnounceResponse{
		Interval:    time.Duration(response.Interval) * time.Second,
		MinInterval: time.Duration(response.MinInterval) * time.Second,
		Leechers:    response.Incomplete,
		Seeders:     response.Complete,
		Peers:       peers,
	}, nil
}

// parsePeers handles both the packed-string and the list-of-dicts model.
func parsePeers(raw bencode.RawMessage) ([]*net.TCPAddr, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == 'l' {
		var dicts []peerDict
		if err := bencode.DecodeBytes(raw, &dicts); err != nil {
			return nil, tracker.ErrDecode
		}
		addrs := make([]*net.TCPAddr, 0, len(dicts))
		for _, pd := range dicts {
			ip := net.ParseIP(pd.IP)
			if ip == nil {
				continue
			}
			addrs = append(addrs, &net.TCPAddr{IP: ip, Port: int(pd.Port)})
		}
		return addrs, nil
	}
	var b []byte
	if err := bencode.DecodeBytes(raw, &b); err != nil {
		return nil, tracker.ErrDecode
	}
	return tracker.DecodePeersCompact(b)
}
