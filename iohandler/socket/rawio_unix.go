//go:build linux || darwin

// File: iohandler/socket/rawio_unix.go
//
// Grounded verbatim on the teacher's examples/reactor_echo/socket_unix.go:
// once a net.Conn's fd is extracted via SyscallConn, this handler talks to
// it directly through syscall.Read/Write/Close rather than net.Conn's own
// methods, so the platform reactor (not the Go runtime's netpoller) is the
// sole arbiter of readiness.
package socket

import "syscall"

func rawRead(fd uintptr, buf []byte) (int, error) {
	return syscall.Read(int(fd), buf)
}

func rawWrite(fd uintptr, buf []byte) (int, error) {
	return syscall.Write(int(fd), buf)
}

func rawClose(fd uintptr) error {
	return syscall.Close(int(fd))
}

// rawCloseWrite half-closes the write side, letting the peer observe
// EOF while this side can still read — §4.4's "shutdown(write) flushes
// then closes write side".
func rawCloseWrite(fd uintptr) error {
	return syscall.Shutdown(int(fd), syscall.SHUT_WR)
}
