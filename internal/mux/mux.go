package mux

import (
	"net"
	"sync"

	"github.com/lanikai/alohacast/internal/logging"
)

var log = logging.DefaultLogger.WithTag("mux")

const (
	// DefaultBufferPackets is the endpoint queue length used when none is given.
	DefaultBufferPackets = 32

	// MaxDatagramSize holds any UDP payload.
	MaxDatagramSize = 65536
)

// MatchFunc decides whether a datagram belongs to an endpoint.
type MatchFunc func(b []byte) bool

// MatchAll accepts every datagram. Use it for the catch-all endpoint.
func MatchAll(b []byte) bool {
	return true
}

// MatchRange matches datagrams whose first byte is within [lower, upper].
func MatchRange(lower, upper byte) MatchFunc {
	return func(b []byte) bool {
		return len(b) > 0 && b[0] >= lower && b[0] <= upper
	}
}

type route struct {
	match    MatchFunc
	endpoint *Endpoint
}

// Mux splits the datagrams read from one connection between endpoints.
// Routes are tried in creation order and the first match wins, so create the
// catch-all endpoint last.
type Mux struct {
	conn    net.Conn
	bufSize int

	mu     sync.Mutex
	routes []route

	// Closed when the read loop exits.
	done chan struct{}
	err  error
}

// NewMux starts reading conn. The Mux owns conn and closes it.
func NewMux(conn net.Conn, bufSize int) *Mux {
	m := newMux(conn, bufSize)
	go m.readLoop()
	return m
}

func newMux(conn net.Conn, bufSize int) *Mux {
	if bufSize <= 0 {
		bufSize = MaxDatagramSize
	}
	return &Mux{
		conn:    conn,
		bufSize: bufSize,
		done:    make(chan struct{}),
	}
}

// NewEndpoint adds a route for datagrams accepted by match. The endpoint
// queues up to n unread datagrams.
func (m *Mux) NewEndpoint(match MatchFunc, n int) *Endpoint {
	if n <= 0 {
		n = DefaultBufferPackets
	}
	e := newEndpoint(m, n, m.bufSize)

	m.mu.Lock()
	m.routes = append(m.routes, route{match, e})
	m.mu.Unlock()
	return e
}

// RemoveEndpoint drops the route for e. Its datagrams fall through to later
// routes.
func (m *Mux) RemoveEndpoint(e *Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.routes {
		if r.endpoint == e {
			m.routes = append(m.routes[:i], m.routes[i+1:]...)
			return
		}
	}
}

// Close shuts every endpoint and the connection.
func (m *Mux) Close() error {
	m.mu.Lock()
	for _, r := range m.routes {
		r.endpoint.shut()
	}
	m.routes = nil
	m.mu.Unlock()

	return m.conn.Close()
}

// Err blocks until the read loop stops and returns what stopped it.
func (m *Mux) Err() error {
	<-m.done
	return m.err
}

func (m *Mux) readLoop() {
	defer close(m.done)
	defer m.Close()

	buf := make([]byte, m.bufSize)
	for {
		n, err := m.conn.Read(buf)
		if err != nil {
			m.err = err
			log.Debug("read loop exiting: %v", err)
			return
		}

		// The endpoint keeps buf and hands back one of its spares.
		buf = m.dispatch(buf[:n])
		buf = buf[:cap(buf)]
	}
}

func (m *Mux) dispatch(buf []byte) []byte {
	var e *Endpoint

	m.mu.Lock()
	for _, r := range m.routes {
		if r.match(buf) {
			e = r.endpoint
			break
		}
	}
	m.mu.Unlock()

	if e == nil {
		log.Warn("no endpoint for %d-byte datagram", len(buf))
		return buf
	}
	return e.deliver(buf)
}
