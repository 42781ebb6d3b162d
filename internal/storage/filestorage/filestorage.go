// Package filestorage stores torrent data as plain files on disk.
package filestorage

import (
	"os"
	"path/filepath"

	"github.com/tidebt/tide/internal/storage"
)

// FileStorage keeps files under a root directory.
type FileStorage struct {
	dest string
}

// New returns a FileStorage rooted at dest.
func New(dest string) (*FileStorage, error) {
	if err := os.MkdirAll(dest, 0750); err != nil {
		return nil, err
	}
	return &FileStorage{dest: dest}, nil
}

// RootDir returns the root directory of the storage.
func (s *FileStorage) RootDir() string { return s.dest }

// Open opens the named file, creating and sizing it if necessary.
// exists reports whether the file was already there, whatever its size.
func (s *FileStorage) Open(name string, size int64) (f storage.File, exists bool, err error) {
	name = filepath.Clean(name)
	path := filepath.Join(s.dest, name)

	// A previous run may have left a shorter file; truncation up is fine.
	var of *os.File
	of, err = os.OpenFile(path, os.O_RDWR, 0640)
	if os.IsNotExist(err) {
		if err = os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return
		}
		of, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0640)
		if err != nil {
			return
		}
	} else if err != nil {
		return
	} else {
		exists = true
	}
	defer func() {
		if err != nil {
			_ = of.Close()
		}
	}()
	fi, err := of.Stat()
	if err != nil {
		return
	}
	if fi.Size() != size {
		if err = of.Truncate(size); err != nil {
			return
		}
	}
	f = of
	return
}
