package metainfo

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndParse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	content := bytes.Repeat([]byte{0xAB}, 40000)
	require.NoError(t, os.WriteFile(path, content, 0644))

	info, err := NewInfoBytes(path, CreateOptions{PieceLength: 16384})
	require.NoError(t, err)

	mi, err := New(bytes.NewReader(mustMetaBytes(t, info)))
	require.NoError(t, err)
	assert.Equal(t, "data.bin", mi.Info.Name)
	assert.Equal(t, int64(40000), mi.Info.TotalLength)
	assert.Equal(t, uint32(16384), mi.Info.PieceLength)
	assert.Equal(t, uint32(3), mi.Info.NumPieces)
	assert.Equal(t, uint32(40000-2*16384), mi.Info.PieceLengthAt(2))

	// Piece hashes must match a direct SHA-1 of the content.
	h := sha1.New() // nolint: gosec
	_, _ = h.Write(content[:16384])
	assert.Equal(t, h.Sum(nil), mi.Info.PieceHash(0))
}

func mustMetaBytes(t *testing.T, info []byte) []byte {
	t.Helper()
	b, err := NewBytes(info, [][]string{{"http://tracker.example/announce"}}, nil, "")
	require.NoError(t, err)
	return b
}

func TestInvalidPieceLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	_, err := NewInfoBytes(path, CreateOptions{PieceLength: 1000})
	assert.Error(t, err)
}

func TestRejectsParentTraversal(t *testing.T) {
	// A file path of ".." must be rejected.
	raw := []byte("d5:filesld6:lengthi5e4:pathl2:..eee4:name4:evil12:piece lengthi16384e6:pieces20:aaaaaaaaaaaaaaaaaaaae")
	_, err := NewInfo(raw)
	assert.Error(t, err)
}

func TestAnnounceListFiltering(t *testing.T) {
	info := validInfoBytes(t)
	b, err := NewBytes(info, [][]string{{"http://ok/announce", "xyz://bad"}}, nil, "")
	require.NoError(t, err)
	mi, err := New(bytes.NewReader(b))
	require.NoError(t, err)
	require.Len(t, mi.AnnounceList, 1)
	assert.Equal(t, []string{"http://ok/announce"}, mi.AnnounceList[0])
}

func validInfoBytes(t *testing.T) []byte {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{1}, 100), 0644))
	info, err := NewInfoBytes(path, CreateOptions{})
	require.NoError(t, err)
	return info
}
