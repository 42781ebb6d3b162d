package torrent

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidebt/tide/internal/metainfo"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig
	cfg.Database = filepath.Join(dir, "session.db")
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.ListenHost = "127.0.0.1"
	cfg.ListenPort = 0
	cfg.DHTEnabled = false
	cfg.LSDEnabled = false
	cfg.PortMappingEnabled = false
	cfg.UnchokeInterval = 100 * time.Millisecond
	cfg.AutoManageInterval = 100 * time.Millisecond
	cfg.MaxOpenFiles = 0
	return cfg
}

func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// makeTestTorrent writes content to dir/name and returns the bencoded
// torrent for it.
func makeTestTorrent(t *testing.T, dir, name string, content []byte) []byte {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0750))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	info, err := metainfo.NewInfoBytes(path, metainfo.CreateOptions{PieceLength: 16384})
	require.NoError(t, err)
	b, err := metainfo.NewBytes(info, nil, nil, "")
	require.NoError(t, err)
	return b
}

func waitStatus(t *testing.T, tor *Torrent, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if tor.Stats().Status == want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("torrent did not reach status %s (now %s)", want, tor.Stats().Status)
}

func collectAlerts(s *Session, sink *[]Alert) {
	*sink = append(*sink, s.PopAlerts()...)
}

func TestMinimalDownload(t *testing.T) {
	content := bytes.Repeat([]byte{0xCD}, 2*16384)

	seederCfg := testConfig(t)
	meta := makeTestTorrent(t, seederCfg.DataDir, "data.bin", content)
	seeder := newTestSession(t, seederCfg)
	st, err := seeder.AddTorrent(bytes.NewReader(meta), AddTorrentOptions{})
	require.NoError(t, err)
	waitStatus(t, st, StatusSeeding, 10*time.Second)

	leecherCfg := testConfig(t)
	leecher := newTestSession(t, leecherCfg)
	lt, err := leecher.AddTorrent(bytes.NewReader(meta), AddTorrentOptions{})
	require.NoError(t, err)

	lt.AddPeers([]*net.TCPAddr{{IP: net.IPv4(127, 0, 0, 1), Port: seeder.ListenPort()}})

	var alerts []Alert
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		collectAlerts(leecher, &alerts)
		if lt.Stats().Status == StatusSeeding {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	collectAlerts(leecher, &alerts)
	require.Equal(t, StatusSeeding, lt.Stats().Status, "download did not finish")

	// Downloaded bytes must match the original content.
	got, err := os.ReadFile(filepath.Join(leecherCfg.DataDir, "data.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))

	// Alert sequence of S1.
	var added, connected, finished bool
	pieces := make(map[uint32]bool)
	for _, a := range alerts {
		switch al := a.(type) {
		case TorrentAddedAlert:
			added = true
		case PeerConnectedAlert:
			connected = true
		case PieceFinishedAlert:
			pieces[al.Index] = true
		case TorrentFinishedAlert:
			finished = true
		}
	}
	assert.True(t, added, "missing torrent_added alert")
	assert.True(t, connected, "missing peer_connected alert")
	assert.True(t, pieces[0] && pieces[1], "missing piece_finished alerts")
	assert.True(t, finished, "missing torrent_finished alert")
}

func TestGracefulPause(t *testing.T) {
	// Two leechers of the same torrent stay connected with nothing to
	// exchange; pausing one must not drop the connection.
	content := bytes.Repeat([]byte{0x5A}, 16384)

	cfgA := testConfig(t)
	meta := makeTestTorrent(t, t.TempDir(), "data.bin", content)
	a := newTestSession(t, cfgA)
	ta, err := a.AddTorrent(bytes.NewReader(meta), AddTorrentOptions{})
	require.NoError(t, err)
	waitStatus(t, ta, StatusDownloading, 10*time.Second)

	cfgB := testConfig(t)
	b := newTestSession(t, cfgB)
	tb, err := b.AddTorrent(bytes.NewReader(meta), AddTorrentOptions{})
	require.NoError(t, err)
	waitStatus(t, tb, StatusDownloading, 10*time.Second)

	tb.AddPeers([]*net.TCPAddr{{IP: net.IPv4(127, 0, 0, 1), Port: a.ListenPort()}})

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) && tb.Stats().Peers == 0 {
		time.Sleep(50 * time.Millisecond)
	}
	require.NotZero(t, tb.Stats().Peers, "peers did not connect")

	tb.Pause()
	waitStatus(t, tb, StatusPaused, 5*time.Second)
	time.Sleep(300 * time.Millisecond)
	assert.NotZero(t, tb.Stats().Peers, "pause must keep peers connected")
}

func TestListenPortBindRetry(t *testing.T) {
	// Occupy a port, then start a session asking for it: the next port
	// must be bound and announced in a listen-succeeded alert.
	busy, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer func() { _ = busy.Close() }()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	cfg := testConfig(t)
	cfg.ListenPort = busyPort
	cfg.MaxRetryPortBind = 3
	cfg.FallbackToAnyPort = false
	s, err := New(cfg)
	if err != nil {
		t.Skipf("nearby ports unavailable: %s", err)
	}
	defer func() { _ = s.Close() }()

	assert.Equal(t, busyPort+1, s.ListenPort())
	var found bool
	for _, a := range s.PopAlerts() {
		if al, ok := a.(ListenSucceededAlert); ok {
			assert.Equal(t, busyPort+1, al.Addr.Port)
			found = true
		}
	}
	assert.True(t, found, "missing listen-succeeded alert")
}

func TestMetadataEviction(t *testing.T) {
	// With a loaded limit of 2, adding a third torrent evicts the
	// first; touching the first reloads it and evicts the second.
	cfg := testConfig(t)
	cfg.ActiveLoadedLimit = 2
	s := newTestSession(t, cfg)

	dir := t.TempDir()
	var tors [3]*Torrent
	for i, name := range []string{"t1.bin", "t2.bin", "t3.bin"} {
		content := bytes.Repeat([]byte{byte(i + 1)}, 16384)
		meta := makeTestTorrent(t, dir, name, content)
		tor, err := s.AddTorrent(bytes.NewReader(meta), AddTorrentOptions{Paused: true, SkipVerify: true})
		require.NoError(t, err)
		tors[i] = tor
	}

	loaded := func(tor *Torrent) (ok bool) {
		s.execWait(func() { ok = tor.loaded() })
		return
	}
	assert.False(t, loaded(tors[0]), "t1 should be evicted")
	assert.True(t, loaded(tors[1]))
	assert.True(t, loaded(tors[2]))

	// Touching t1 reloads it at t2's expense.
	s.execWait(func() { s.touchTorrent(tors[0]) })
	assert.True(t, loaded(tors[0]))
	assert.False(t, loaded(tors[1]), "t2 should be evicted")
	assert.True(t, loaded(tors[2]))
}

func TestDuplicateTorrentRejected(t *testing.T) {
	cfg := testConfig(t)
	s := newTestSession(t, cfg)
	meta := makeTestTorrent(t, t.TempDir(), "d.bin", bytes.Repeat([]byte{7}, 16384))

	_, err := s.AddTorrent(bytes.NewReader(meta), AddTorrentOptions{Paused: true})
	require.NoError(t, err)
	_, err = s.AddTorrent(bytes.NewReader(meta), AddTorrentOptions{Paused: true})
	assert.Equal(t, ErrDuplicateTorrent, err)
}

func TestRemoveTorrentDeletesResume(t *testing.T) {
	cfg := testConfig(t)
	s := newTestSession(t, cfg)
	meta := makeTestTorrent(t, t.TempDir(), "r.bin", bytes.Repeat([]byte{9}, 16384))

	tor, err := s.AddTorrent(bytes.NewReader(meta), AddTorrentOptions{Paused: true})
	require.NoError(t, err)
	require.NoError(t, s.RemoveTorrent(tor, false))
	assert.Nil(t, s.GetTorrent(tor.ID()))

	// The infohash is free again.
	_, err = s.AddTorrent(bytes.NewReader(meta), AddTorrentOptions{Paused: true})
	assert.NoError(t, err)
}

func TestResumeAcrossSessions(t *testing.T) {
	cfg := testConfig(t)
	meta := makeTestTorrent(t, cfg.DataDir, "keep.bin", bytes.Repeat([]byte{3}, 16384))

	s1, err := New(cfg)
	require.NoError(t, err)
	tor, err := s1.AddTorrent(bytes.NewReader(meta), AddTorrentOptions{})
	require.NoError(t, err)
	waitStatus(t, tor, StatusSeeding, 10*time.Second)
	id := tor.ID()
	require.NoError(t, s1.Close())

	s2, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()
	restored := s2.GetTorrent(id)
	require.NotNil(t, restored, "torrent not restored from resume data")
	waitStatus(t, restored, StatusSeeding, 10*time.Second)
}
