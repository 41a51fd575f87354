//go:build !linux

package storage

// Preallocate is a no-op on non-Linux platforms (fallocate is Linux-only).
func Preallocate(_ WriteFile, _ int64) {}
