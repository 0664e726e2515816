//go:build windows
// +build windows

package transport

import "syscall"

// controlReuseAddr is a no-op on Windows: SO_REUSEADDR has materially
// different (and looser) semantics there than on POSIX systems, and the
// default bind behavior is already adequate for this transport's needs.
func controlReuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}
