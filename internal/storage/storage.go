// Package storage is the filesystem surface a transfer session depends on.
package storage

import (
	"io"
)

// WriteFile is an open destination file.
type WriteFile interface {
	io.Writer
	io.Closer
	Sync() error
}

// Store exposes the five primitive operations used by transfer sessions.
// Implementations must report an already-present path from CreateExclusive
// with an error satisfying errors.Is(err, os.ErrExist).
type Store interface {
	// OpenRead opens path for reading.
	OpenRead(path string) (io.ReadCloser, error)
	// Create opens path for writing, creating it or truncating an existing file.
	Create(path string) (WriteFile, error)
	// Size returns the length of the file at path in bytes.
	Size(path string) (int64, error)
	// CreateExclusive atomically creates path only if it does not exist.
	CreateExclusive(path string) (io.WriteCloser, error)
	// Remove deletes path.
	Remove(path string) error
}
