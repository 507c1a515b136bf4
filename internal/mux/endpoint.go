package mux

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ring is a fixed set of datagram buffers used as a FIFO. Buffers are swapped
// in and out rather than copied, so the Mux reads straight into them.
type ring struct {
	bufs  [][]byte
	head  int // oldest queued buffer
	count int // queued buffers, 0 <= count <= len(bufs)
}

func newRing(n, size int) ring {
	pool := make([]byte, n*size)
	bufs := make([][]byte, n)
	for i := range bufs {
		bufs[i] = pool[i*size : (i+1)*size : (i+1)*size]
	}
	return ring{bufs: bufs}
}

// swapIn queues buf and hands back a spare buffer. When the ring is full the
// oldest datagram is evicted and evicted is true.
func (r *ring) swapIn(buf []byte) (spare []byte, evicted bool) {
	if r.count == len(r.bufs) {
		spare = r.bufs[r.head]
		r.bufs[r.head] = buf
		r.head = (r.head + 1) % len(r.bufs)
		return spare, true
	}
	tail := (r.head + r.count) % len(r.bufs)
	spare = r.bufs[tail]
	r.bufs[tail] = buf
	r.count++
	return spare, false
}

// pop copies the oldest datagram into p.
func (r *ring) pop(p []byte) (int, bool) {
	if r.count == 0 {
		return 0, false
	}
	n := copy(p, r.bufs[r.head])
	r.head = (r.head + 1) % len(r.bufs)
	r.count--
	return n, true
}

// Endpoint is one side of a Mux. Datagrams the Mux routes here wait in a
// bounded queue; when a slow reader lets it fill, the oldest is dropped.
type Endpoint struct {
	mux *Mux

	mu       sync.Mutex
	queue    ring
	deadline time.Time

	// Signalled (non-blocking, capacity 1) whenever the queue is non-empty.
	ready chan struct{}
	done  chan struct{}

	dropped uint64
}

func newEndpoint(m *Mux, n, size int) *Endpoint {
	return &Endpoint{
		mux:   m,
		queue: newRing(n, size),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Close detaches the endpoint from its Mux. Pending and future reads return
// io.EOF.
func (e *Endpoint) Close() error {
	e.shut()
	e.mux.RemoveEndpoint(e)
	return nil
}

func (e *Endpoint) shut() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

// Dropped returns how many datagrams were evicted before being read.
func (e *Endpoint) Dropped() uint64 {
	return atomic.LoadUint64(&e.dropped)
}

func (e *Endpoint) signal() {
	select {
	case e.ready <- struct{}{}:
	default:
	}
}

// deliver is called by the Mux with a freshly read datagram. It returns a
// buffer for the Mux's next read.
func (e *Endpoint) deliver(buf []byte) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-e.done:
		return buf
	default:
	}

	spare, evicted := e.queue.swapIn(buf)
	if evicted {
		atomic.AddUint64(&e.dropped, 1)
	}
	e.signal()
	return spare
}

func (e *Endpoint) take(p []byte) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.queue.pop(p)
	if ok && e.queue.count > 0 {
		e.signal()
	}
	return n, ok
}

// Read copies the next datagram into p. It blocks until one arrives, the
// endpoint closes (io.EOF), or the read deadline passes
// (os.ErrDeadlineExceeded).
func (e *Endpoint) Read(p []byte) (int, error) {
	if n, ok := e.take(p); ok {
		return n, nil
	}

	e.mu.Lock()
	deadline := e.deadline
	e.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		t := time.NewTimer(d)
		defer t.Stop()
		expired = t.C
	}

	for {
		select {
		case <-e.done:
			return 0, io.EOF
		case <-expired:
			return 0, os.ErrDeadlineExceeded
		case <-e.ready:
			// Another reader may have won the race.
			if n, ok := e.take(p); ok {
				return n, nil
			}
		}
	}
}

// SetReadDeadline applies to this endpoint only.
func (e *Endpoint) SetReadDeadline(t time.Time) error {
	e.mu.Lock()
	e.deadline = t
	e.mu.Unlock()
	return nil
}
