// Package netutil holds the network helpers shared by caster and viewer:
// local-network checks, cached address resolution and socket tuning.
package netutil

import (
	"net"

	"github.com/pkg/errors"

	"github.com/lanikai/alohacast/internal/logging"
)

var log = logging.DefaultLogger.WithTag("netutil")

// AddrLister returns the host's interface addresses, as net.InterfaceAddrs.
type AddrLister func() ([]net.Addr, error)

// SameLAN reports whether ip is reachable without routing, i.e. it is a
// loopback address or lies in the subnet of one of the listed interfaces.
// A nil list uses net.InterfaceAddrs.
func SameLAN(ip net.IP, list AddrLister) (bool, error) {
	if list == nil {
		list = net.InterfaceAddrs
	}
	addrs, err := list()
	if err != nil {
		return false, errors.Wrap(err, "list interface addresses")
	}
	return sameLAN(ip, addrs), nil
}

func sameLAN(ip net.IP, addrs []net.Addr) bool {
	if ip.IsLoopback() {
		return true
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		// Link-local ranges only match on the same family.
		if (ipnet.IP.To4() == nil) != (ip.To4() == nil) {
			continue
		}
		if ipnet.Contains(ip) {
			log.Trace(3, "%s is in %s", ip, ipnet)
			return true
		}
	}
	return false
}
