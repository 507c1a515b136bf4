//go:build !unix

package netutil

import (
	"net"

	"github.com/pkg/errors"
)

func setBuffers(conn *net.UDPConn, read, write int) error {
	if read > 0 {
		if err := conn.SetReadBuffer(read); err != nil {
			return err
		}
	}
	if write > 0 {
		return conn.SetWriteBuffer(write)
	}
	return nil
}

func ReadBufferSize(conn *net.UDPConn) (int, error) {
	return 0, errors.New("not supported")
}
