package store

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrNoSnapshot indicates the snapshot file does not exist yet. Loaders
// treat it as "start empty", not as a failure.
var ErrNoSnapshot = errors.New("no snapshot on disk")

// SnapshotFile wraps one on-disk JSON snapshot with crash-safe writes:
// content goes to a temp file in the same directory and is moved into place
// with an atomic rename, so a crash mid-write never corrupts the previous
// good file.
type SnapshotFile struct {
	path string
}

func NewSnapshotFile(path string) *SnapshotFile {
	return &SnapshotFile{path: path}
}

func (f *SnapshotFile) Path() string {
	return f.path
}

func (f *SnapshotFile) Write(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, f.path)
}

func (f *SnapshotFile) Read() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	return data, err
}
