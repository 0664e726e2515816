//go:build !windows
// +build !windows

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlReuseAddr arms SO_REUSEADDR on the socket before bind, so a
// restarted node can rebind its listen address immediately instead of
// waiting out the old socket.
func controlReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
