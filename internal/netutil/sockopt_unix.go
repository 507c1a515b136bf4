//go:build unix

package netutil

import (
	"net"

	"golang.org/x/sys/unix"
)

func setBuffers(conn *net.UDPConn, read, write int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	err = raw.Control(func(fd uintptr) {
		if read > 0 {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, read)
		}
		if serr == nil && write > 0 {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, write)
		}
	})
	if err != nil {
		return err
	}
	return serr
}

// ReadBufferSize returns the kernel receive buffer size of conn.
func ReadBufferSize(conn *net.UDPConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var size int
	var serr error
	err = raw.Control(func(fd uintptr) {
		size, serr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	})
	if err != nil {
		return 0, err
	}
	return size, serr
}
