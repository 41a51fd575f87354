package storage

import (
	"fmt"
	"io"
	"os"
)

// Compile-time interface check.
var _ Store = (*Local)(nil)

const (
	filePerm = 0o644
	lockPerm = 0o644
)

// Local is a Store backed by the local filesystem.
type Local struct{}

// NewLocal creates a local filesystem store.
func NewLocal() *Local { return &Local{} }

func (*Local) OpenRead(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

//nolint:ireturn // implements Store interface
func (*Local) Create(path string) (WriteFile, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

func (*Local) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("stat %s: not a regular file", path)
	}
	return info.Size(), nil
}

func (*Local) CreateExclusive(path string) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, lockPerm)
	if err != nil {
		return nil, fmt.Errorf("create exclusive %s: %w", path, err)
	}
	return f, nil
}

func (*Local) Remove(path string) error {
	return os.Remove(path)
}
