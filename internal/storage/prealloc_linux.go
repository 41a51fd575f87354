//go:build linux

package storage

import (
	"golang.org/x/sys/unix"
)

// Preallocate reserves size bytes of disk for f without changing its
// length, so a transfer that comes up short is still seen as short. It is
// advisory: files that are not backed by a descriptor, and filesystems
// without fallocate, are left alone.
func Preallocate(f WriteFile, size int64) {
	fd, ok := f.(interface{ Fd() uintptr })
	if !ok || size <= 0 {
		return
	}
	//nolint:errcheck,gosec // advisory; G115: fd values are small non-negative integers
	unix.Fallocate(int(fd.Fd()), unix.FALLOC_FL_KEEP_SIZE, 0, size)
}
