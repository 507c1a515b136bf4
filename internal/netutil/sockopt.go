package netutil

import (
	"net"

	"golang.org/x/net/ipv4"
)

// DSCP AF41 (interactive video), shifted into the TOS byte.
const TOSVideo = 0x22 << 2

// SocketOptions tunes a UDP socket. Zero fields are left alone.
type SocketOptions struct {
	ReadBuffer  int
	WriteBuffer int
	TOS         int
}

// Tune applies opts to conn. Failures are logged and returned, but the socket
// is still usable.
func Tune(conn *net.UDPConn, opts SocketOptions) error {
	var firstErr error
	keep := func(err error) {
		if err != nil {
			log.Debug("%s: %v", conn.LocalAddr(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if opts.ReadBuffer > 0 || opts.WriteBuffer > 0 {
		keep(setBuffers(conn, opts.ReadBuffer, opts.WriteBuffer))
	}
	if opts.TOS > 0 {
		if la, ok := conn.LocalAddr().(*net.UDPAddr); ok && (la.IP == nil || la.IP.To4() != nil) {
			keep(ipv4.NewConn(conn).SetTOS(opts.TOS))
		}
	}
	return firstErr
}
