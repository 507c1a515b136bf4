//////////////////////////////////////////////////////////////////////////////
//
// Caster captures a screen and streams it to registered viewers over UDP
//
// One socket carries both control messages and payload. Three duties run
// while the caster is up:
//
//   listener     START / STOP registrations, replies OK
//   broadcaster  capture stdout -> media.Flow (one queue per viewer)
//   sender       one per viewer, drains its queue with WriteTo
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohacast

import (
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/lanikai/alohacast/internal/capture"
	"github.com/lanikai/alohacast/internal/media"
	"github.com/lanikai/alohacast/internal/monitor"
	"github.com/lanikai/alohacast/internal/netutil"
	"github.com/lanikai/alohacast/internal/protocol"
	"github.com/lanikai/alohacast/internal/subprocess"
)

type Caster struct {
	cfg CasterConfig
	id  string

	// Guards everything below except the counters.
	mu      sync.Mutex
	state   CasterState
	conn    *net.UDPConn
	proc    *subprocess.Process
	source  io.Reader
	viewers *media.Flow
	quit    chan struct{}

	// Listener and broadcaster.
	wg sync.WaitGroup

	// Per-viewer senders.
	senders sync.WaitGroup

	chunks uint64
}

func NewCaster(cfg CasterConfig) *Caster {
	cfg.setDefaults()
	return &Caster{
		cfg: cfg,
		id:  uuid.New().String(),
	}
}

// Start captures screenIndex and begins accepting viewers. In CropArea mode
// the saved crop rectangle for that screen is used.
func (c *Caster) Start(screenIndex int, mode capture.ShareMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Running {
		return ErrAlreadyRunning
	}

	source, proc, err := c.openSource(screenIndex, mode)
	if err != nil {
		return err
	}

	laddr, err := net.ResolveUDPAddr("udp", c.cfg.Addr)
	if err == nil {
		c.conn, err = net.ListenUDP("udp", laddr)
	}
	if err != nil {
		if proc != nil {
			proc.Quit(c.cfg.GracePeriod)
		}
		return errors.Wrapf(err, "listen on %s", c.cfg.Addr)
	}
	netutil.Tune(c.conn, c.cfg.Socket)

	c.proc = proc
	c.source = source
	c.viewers = &media.Flow{
		Capacity: c.cfg.QueueLength,
		Start: func() {
			log.Info("First viewer joined")
			c.publish("audience", "watched", "")
		},
		Stop: func() {
			log.Info("No viewers left")
			c.publish("audience", "idle", "")
		},
	}
	c.quit = make(chan struct{})
	atomic.StoreUint64(&c.chunks, 0)
	c.state = Running

	c.wg.Add(2)
	go c.listen(c.conn, c.viewers, c.quit)
	go c.broadcast(source, c.viewers, c.quit)

	log.Info("Casting on %s", c.conn.LocalAddr())
	c.publish("state", Running.String(), "")
	return nil
}

func (c *Caster) openSource(screenIndex int, mode capture.ShareMode) (io.Reader, *subprocess.Process, error) {
	if c.cfg.Source != nil {
		return c.cfg.Source, nil, nil
	}

	screens, err := c.cfg.Screens()
	if err != nil {
		return nil, nil, errors.Wrap(err, "list screens")
	}
	target, err := capture.Resolve(screens, screenIndex, mode, c.cfg.Crops)
	if err != nil {
		return nil, nil, err
	}

	proc, err := subprocess.Start(capture.Command(c.cfg.Capture, target))
	if err != nil {
		return nil, nil, errors.Wrap(err, "spawn capture")
	}
	go c.watch(proc)
	return proc.Stdout, proc, nil
}

// watch logs capture errors until the process exits.
func (c *Caster) watch(proc *subprocess.Process) {
	for ev := range proc.Events() {
		if e, ok := ev.(subprocess.ErrorEvent); ok {
			log.Warn("capture: %s", e.Line)
			c.publish("error", "", e.Line)
		}
	}
}

// Stop ends the capture, closes the socket and drops all viewers, who are
// not told. Stop on a stopped caster is a no-op.
func (c *Caster) Stop() error {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return nil
	}
	c.state = Stopped
	conn, proc, source, viewers, quit := c.conn, c.proc, c.source, c.viewers, c.quit
	c.proc = nil
	c.source = nil
	c.mu.Unlock()

	if proc != nil {
		if err := proc.Quit(c.cfg.GracePeriod); err != nil {
			log.Debug("capture exited: %v", err)
		}
	}

	close(quit)
	if closer, ok := source.(io.Closer); ok && proc == nil {
		closer.Close()
	}
	conn.Close()
	c.wg.Wait()

	viewers.Close()
	c.senders.Wait()

	log.Info("Stopped after %d chunks", atomic.LoadUint64(&c.chunks))
	c.publish("state", Stopped.String(), "")
	return nil
}

func (c *Caster) State() CasterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Addr is the bound socket address, or nil when stopped.
func (c *Caster) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return nil
	}
	return c.conn.LocalAddr()
}

// Viewers lists the registered viewer addresses.
func (c *Caster) Viewers() []string {
	c.mu.Lock()
	viewers := c.viewers
	c.mu.Unlock()
	if viewers == nil {
		return nil
	}
	return viewers.Addrs()
}

// Chunks is the number of chunks broadcast since Start.
func (c *Caster) Chunks() uint64 {
	return atomic.LoadUint64(&c.chunks)
}

func (c *Caster) listen(conn *net.UDPConn, viewers *media.Flow, quit <-chan struct{}) {
	defer c.wg.Done()

	buf := make([]byte, 2048)
	for {
		select {
		case <-quit:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				log.Error("listener: %v", err)
				return
			}
			// e.g. ICMP port unreachable from a viewer that went away.
			log.Debug("listener: %v", err)
			continue
		}

		c.handle(conn, viewers, buf[:n], addr)
	}
}

func (c *Caster) handle(conn *net.UDPConn, viewers *media.Flow, p []byte, from net.Addr) {
	msg, err := protocol.Parse(p)
	if err != nil {
		log.Warn("Bad control message from %s: %v", from, err)
		return
	}

	switch msg.Kind {
	case protocol.Start:
		key := from.String()
		queue, created := viewers.Subscribe(key)
		if queue == nil {
			return
		}
		if created {
			log.Info("Viewer %s joined (%d total)", key, viewers.Len())
			c.senders.Add(1)
			go c.send(conn, queue, from)
			c.publish("viewer", "joined", key)
		} else {
			log.Debug("Viewer %s already registered", key)
		}

	case protocol.Stop:
		key := canonicalAddr(msg.Addr)
		if viewers.Unsubscribe(key) {
			log.Info("Viewer %s left (%d total)", key, viewers.Len())
			c.publish("viewer", "left", key)
		} else {
			log.Debug("STOP for unknown viewer %s", key)
		}

	default:
		log.Debug("Ignoring %d-byte %v datagram from %s", len(p), msg.Kind, from)
		return
	}

	if _, err := conn.WriteTo(protocol.OKMessage(), from); err != nil {
		log.Debug("reply to %s: %v", from, err)
	}
}

// canonicalAddr formats a literal host:port the way net.UDPAddr does, so an
// address named in STOP matches the one seen by the listener.
func canonicalAddr(s string) string {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return s
	}
	ip := net.ParseIP(host)
	p, err := strconv.Atoi(port)
	if ip == nil || err != nil {
		return s
	}
	return (&net.UDPAddr{IP: ip, Port: p}).String()
}

// send drains one viewer's queue. It exits when the queue is closed, i.e.
// when the viewer is removed or the caster stops.
func (c *Caster) send(conn *net.UDPConn, queue <-chan []byte, to net.Addr) {
	defer c.senders.Done()

	var failures int
	for chunk := range queue {
		if _, err := conn.WriteTo(chunk, to); err != nil {
			if failures++; failures == 1 {
				log.Debug("send to %s: %v", to, err)
			}
		}
	}
	log.Debug("Sender for %s exiting", to)
}

func (c *Caster) broadcast(source io.Reader, viewers *media.Flow, quit <-chan struct{}) {
	defer c.wg.Done()

	buf := make([]byte, c.cfg.ChunkSize)
	for {
		n, err := source.Read(buf)
		if n > 0 {
			viewers.Write(buf[:n])
			atomic.AddUint64(&c.chunks, 1)
		}
		if err != nil {
			select {
			case <-quit:
			default:
				if err == io.EOF {
					log.Info("Capture stream ended")
				} else {
					log.Warn("Capture read: %v", err)
				}
			}
			return
		}
	}
}

func (c *Caster) publish(kind, state, message string) {
	if c.cfg.Monitor == nil {
		return
	}
	c.cfg.Monitor.Publish(monitor.Event{
		Session: c.id,
		Kind:    kind,
		State:   state,
		Message: message,
	})
}
