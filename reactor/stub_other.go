//go:build !linux && !windows
// +build !linux,!windows

// File: reactor/stub_other.go
//
// Stub reactor for platforms without an epoll/IOCP adapter. Matches the
// teacher's honest "this platform is not supported" stance rather than
// faking readiness semantics; the socket handler falls back to a
// goroutine-pump transport on this platform (see iohandler/socket).
package reactor

import "errors"

func newPlatformReactor() (Reactor, error) {
	return nil, errors.New("reactor: this platform is not supported")
}
