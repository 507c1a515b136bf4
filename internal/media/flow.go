package media

import (
	"sort"
	"sync"

	"github.com/lanikai/alohacast/internal/logging"
)

var log = logging.DefaultLogger.WithTag("media")

// DefaultCapacity is the per-subscriber queue length used when Flow.Capacity
// is zero. At 1400 bytes per chunk this is a little under 1.5 MB of backlog.
const DefaultCapacity = 1024

// Flow fans byte slices out from one writer to subscribers keyed by address.
// Each subscriber owns a buffered queue; once full, the oldest chunk is
// dropped for each new one. A single mutex guards the subscriber map and is
// held only for map changes and for the fan-out loop, never across I/O.
type Flow struct {
	// Capacity of each subscriber queue.
	Capacity int

	// Start is called when the first subscriber is added.
	Start func()

	// Stop is called when the last subscriber is removed.
	Stop func()

	subscribers map[string]chan []byte
	missed      map[string]uint64
	closed      bool

	sync.Mutex
}

// Subscribe registers addr and returns its queue. If addr is already
// registered, the existing queue is returned and created is false.
func (f *Flow) Subscribe(addr string) (ch <-chan []byte, created bool) {
	f.Lock()
	defer f.Unlock()

	if f.closed {
		return nil, false
	}
	if s, ok := f.subscribers[addr]; ok {
		return s, false
	}

	if f.subscribers == nil {
		f.subscribers = make(map[string]chan []byte)
		f.missed = make(map[string]uint64)
	}
	capacity := f.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := make(chan []byte, capacity)
	f.subscribers[addr] = s
	if f.Start != nil && len(f.subscribers) == 1 {
		f.Start()
	}
	return s, true
}

// Unsubscribe removes addr and closes its queue. Reports whether addr was
// registered; removing an unknown address is a no-op.
func (f *Flow) Unsubscribe(addr string) bool {
	f.Lock()
	defer f.Unlock()

	s, ok := f.subscribers[addr]
	if !ok {
		return false
	}
	close(s)
	delete(f.subscribers, addr)
	if n := f.missed[addr]; n > 0 {
		log.Info("%s missed %d chunks", addr, n)
	}
	delete(f.missed, addr)

	if f.Stop != nil && len(f.subscribers) == 0 {
		go f.Stop()
	}
	return true
}

// Write copies p once and queues the copy for every subscriber. Subscribers
// share the copy and must treat it as read-only.
func (f *Flow) Write(p []byte) (n int, err error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)

	f.Lock()
	defer f.Unlock()

	if f.closed {
		return 0, errClosed
	}

	for addr, subscriber := range f.subscribers {
		select {
		case subscriber <- chunk:
			// Added slice reference to subscriber
		default:
			// Drop oldest byte slice, add newest
			select {
			case <-subscriber:
			default:
			}
			subscriber <- chunk

			if f.missed[addr]++; f.missed[addr] == 1 {
				log.Warn("media.Flow: subscriber %s is falling behind", addr)
			}
		}
	}

	return len(p), nil
}

// Len returns the number of subscribers.
func (f *Flow) Len() int {
	f.Lock()
	defer f.Unlock()
	return len(f.subscribers)
}

// Addrs returns the subscribed addresses, sorted.
func (f *Flow) Addrs() []string {
	f.Lock()
	defer f.Unlock()

	addrs := make([]string, 0, len(f.subscribers))
	for addr := range f.subscribers {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Close drops every subscriber. Their queues are closed without further
// notice, and later writes fail.
func (f *Flow) Close() error {
	f.Lock()
	defer f.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	for addr, subscriber := range f.subscribers {
		close(subscriber)
		delete(f.subscribers, addr)
	}
	return nil
}
