package resumer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newTestResumer(t *testing.T) *Resumer {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0640, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	r, err := New(db)
	require.NoError(t, err)
	return r
}

func TestTorrentSpecRoundTrip(t *testing.T) {
	r := newTestResumer(t)
	spec := &Spec{
		InfoHash:      []byte("aaaaaaaaaaaaaaaaaaaa"),
		Name:          "test torrent",
		Pieces:        []byte{0xf0},
		Trackers:      [][]string{{"http://tr.example/announce"}},
		SavePath:      "/data",
		QueuePosition: 3,
		Paused:        true,
		Downloaded:    1234,
	}
	require.NoError(t, r.WriteTorrent("id1", spec))

	got, err := r.ReadTorrent("id1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, FileFormat, got.FileFormat)
	assert.Equal(t, FileVersion, got.FileVersion)
	assert.Equal(t, spec.InfoHash, got.InfoHash)
	assert.Equal(t, spec.Trackers, got.Trackers)
	assert.Equal(t, 3, got.QueuePosition)
	assert.True(t, got.Paused)

	ids, err := r.TorrentIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"id1"}, ids)

	require.NoError(t, r.DeleteTorrent("id1"))
	got, err = r.ReadTorrent("id1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionStateRoundTrip(t *testing.T) {
	r := newTestResumer(t)
	st, err := r.ReadSession()
	require.NoError(t, err)
	assert.Nil(t, st)

	require.NoError(t, r.WriteSession(&SessionState{PeerID: []byte("12345678901234567890")}))
	st, err = r.ReadSession()
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, []byte("12345678901234567890"), st.PeerID)
}

func TestUnknownKeysIgnored(t *testing.T) {
	// A dictionary with keys this version does not know must load.
	r := newTestResumer(t)
	raw := []byte("d9:file-like3:abc9:info-hash20:aaaaaaaaaaaaaaaaaaaa14:queue_positioni1e7:unknowni42ee")
	err := r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(torrentsBucket).Put([]byte("x"), raw)
	})
	require.NoError(t, err)
	got, err := r.ReadTorrent("x")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.QueuePosition)
}
