//go:build !unix

package proto

import (
	"errors"
	"net"
	"syscall"
)

func setAbortiveLinger(nc net.Conn) error {
	if tc, ok := nc.(*net.TCPConn); ok {
		return tc.SetLinger(0)
	}
	return nil
}

func interrupted(err error) bool {
	return errors.Is(err, syscall.EINTR)
}
