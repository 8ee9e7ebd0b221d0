//go:build windows

// File: iohandler/socket/rawio_windows.go
//
// Grounded verbatim on the teacher's examples/reactor_echo/socket_windows.go.
package socket

import (
	"syscall"

	"golang.org/x/sys/windows"
)

func rawRead(fd uintptr, buf []byte) (int, error) {
	return syscall.Read(syscall.Handle(fd), buf)
}

func rawWrite(fd uintptr, buf []byte) (int, error) {
	return syscall.Write(syscall.Handle(fd), buf)
}

func rawClose(fd uintptr) error {
	return syscall.Closesocket(syscall.Handle(fd))
}

// rawCloseWrite half-closes the write side via x/sys/windows, matching
// the reactor package's own choice of x/sys over plain syscall for
// Windows-specific socket operations.
func rawCloseWrite(fd uintptr) error {
	return windows.Shutdown(windows.Handle(fd), windows.SHUT_WR)
}
