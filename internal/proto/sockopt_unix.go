//go:build unix

package proto

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// setAbortiveLinger sets SO_LINGER{on, 0} so the next close emits a reset.
// Connections without a socket descriptor (e.g. net.Pipe) are left alone.
func setAbortiveLinger(nc net.Conn) error {
	sc, ok := nc.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		//nolint:gosec // G115: socket descriptors are small non-negative integers
		sockErr = unix.SetsockoptLinger(int(fd), unix.SOL_SOCKET, unix.SO_LINGER,
			&unix.Linger{Onoff: 1, Linger: 0})
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}

func interrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}
