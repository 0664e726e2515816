package transport

import (
	"errors"
	"net"
	"syscall"
)

// isConnReset reports whether err wraps ECONNRESET: on some platforms a
// previously sent datagram that drew an ICMP port-unreachable surfaces as
// a read error on the next call, even though UDP is connectionless. This
// is not a real transport failure and must not be logged as one.
func isConnReset(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	return errors.Is(opErr.Err, syscall.ECONNRESET)
}
