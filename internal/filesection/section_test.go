package filesection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, size int64) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "f"))
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestWriteReadAcrossFiles(t *testing.T) {
	f1 := openTemp(t, 4)
	f2 := openTemp(t, 6)
	s := Sections{
		{File: f1, Offset: 0, Length: 4},
		{File: f2, Offset: 0, Length: 6},
	}
	assert.Equal(t, int64(10), s.Length())

	n, err := s.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	buf := make([]byte, 10)
	_, err = s.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(buf))

	// Read spanning the file boundary.
	buf = make([]byte, 4)
	_, err = s.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(buf))
}

func TestReadAtPastEnd(t *testing.T) {
	f := openTemp(t, 4)
	s := Sections{{File: f, Offset: 0, Length: 4}}
	buf := make([]byte, 8)
	_, err := s.ReadAt(buf, 0)
	assert.Error(t, err)
}
