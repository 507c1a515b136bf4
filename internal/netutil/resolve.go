package netutil

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"
)

const (
	DefaultCacheSize = 32
	DefaultCacheTTL  = time.Minute
)

type cachedAddr struct {
	addr    *net.UDPAddr
	expires time.Time
}

// Resolver turns "host:port" strings into UDP addresses, caching results so
// the viewer's retry loops do not hit DNS on every attempt.
type Resolver struct {
	TTL time.Duration

	// Lookup defaults to net.DefaultResolver.LookupIPAddr.
	Lookup func(ctx context.Context, host string) ([]net.IPAddr, error)

	mu    sync.Mutex
	cache *lru.Cache
	now   func() time.Time
}

func NewResolver(size int) *Resolver {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Resolver{
		TTL:    DefaultCacheTTL,
		Lookup: net.DefaultResolver.LookupIPAddr,
		cache:  lru.New(size),
		now:    time.Now,
	}
}

// Resolve looks up hostport, preferring IPv4 results.
func (r *Resolver) Resolve(ctx context.Context, hostport string) (*net.UDPAddr, error) {
	r.mu.Lock()
	if v, ok := r.cache.Get(hostport); ok {
		c := v.(cachedAddr)
		if r.now().Before(c.expires) {
			r.mu.Unlock()
			return c.addr, nil
		}
		r.cache.Remove(hostport)
	}
	r.mu.Unlock()

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		if port, err = net.DefaultResolver.LookupPort(ctx, "udp", portStr); err != nil {
			return nil, errors.Wrapf(err, "invalid port in %q", hostport)
		}
	}

	var ip net.IP
	if ip = net.ParseIP(host); ip == nil {
		ips, err := r.Lookup(ctx, host)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve %s", host)
		}
		ip = pickIP(ips)
		if ip == nil {
			return nil, errors.Errorf("no addresses for %s", host)
		}
	}

	addr := &net.UDPAddr{IP: ip, Port: port}
	r.mu.Lock()
	r.cache.Add(hostport, cachedAddr{addr, r.now().Add(r.TTL)})
	r.mu.Unlock()
	return addr, nil
}

func pickIP(ips []net.IPAddr) net.IP {
	for _, a := range ips {
		if a.IP.To4() != nil {
			return a.IP
		}
	}
	if len(ips) > 0 {
		return ips[0].IP
	}
	return nil
}
