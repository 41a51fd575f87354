package proto

import (
	"errors"
	"math"
	"path/filepath"
	"strings"

	"github.com/bamsammich/transdata/internal/fault"
	"github.com/bamsammich/transdata/internal/lock"
)

// MaxPathLen bounds a resolved destination path, terminator included.
const MaxPathLen = 1024

var (
	errInvalidName = errors.New("file name must be a single path element")
	errLockName    = errors.New("file name ends in the lock marker suffix")
	errInvalidSize = errors.New("advertised size exceeds the largest storable file")
)

// ValidateName rejects names that would escape the destination directory,
// cannot name a regular file, or would collide with a lock marker.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, "/\\\x00") {
		return fault.Errorf(fault.ArgumentInvalid, "validate name", "%q: %w", name, errInvalidName)
	}
	if strings.HasSuffix(name, lock.Suffix) {
		return fault.Errorf(fault.ArgumentInvalid, "validate name", "%q: %w", name, errLockName)
	}
	return nil
}

// ResolvePath joins root and a client-supplied name into a destination path.
func ResolvePath(root, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	p := filepath.Join(root, name)
	if len(p) >= MaxPathLen {
		return "", fault.Errorf(fault.BufferOverflow, "resolve path",
			"%d bytes exceeds limit of %d", len(p), MaxPathLen-1)
	}
	return p, nil
}

func checkSize(size uint64) error {
	if size > math.MaxInt64 {
		return fault.New(fault.ArgumentInvalid, "check size", errInvalidSize)
	}
	return nil
}
