//////////////////////////////////////////////////////////////////////////////
//
// Viewer receives a cast, decodes it and delivers ordered frames
//
//   socket -> mux -> payload -> playback queue -> decoder stdin
//                         \-> recorder (when recording)
//   decoder stdout -> frame reader -> pipeline -> Frames()
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohacast

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/lanikai/alohacast/internal/monitor"
	"github.com/lanikai/alohacast/internal/mux"
	"github.com/lanikai/alohacast/internal/netutil"
	"github.com/lanikai/alohacast/internal/pipeline"
	"github.com/lanikai/alohacast/internal/protocol"
	"github.com/lanikai/alohacast/internal/recorder"
	"github.com/lanikai/alohacast/internal/subprocess"
)

const controlBufferPackets = 4

type Viewer struct {
	cfg ViewerConfig
	id  string

	raw    chan pipeline.RawFrame
	pipe   *pipeline.Pipeline
	frames <-chan pipeline.DisplayImage
	rec    *recorder.Session

	mu         sync.Mutex
	state      ConnectionState
	listeners  []func(ConnectionState)
	link       *link
	cancel     context.CancelFunc
	connecting bool
	closed     bool
}

func NewViewer(cfg ViewerConfig) *Viewer {
	cfg.setDefaults()

	v := &Viewer{
		cfg: cfg,
		id:  uuid.New().String(),
		raw: make(chan pipeline.RawFrame),
		rec: recorder.New(recorder.Config{
			Binary:  cfg.Binary,
			Dir:     cfg.SaveDir,
			Command: cfg.Record,
		}),
	}
	v.pipe = pipeline.New(pipeline.Config{Workers: cfg.Workers, OutputBuffer: 2})
	v.frames = v.pipe.Start(context.Background(), v.raw)
	return v
}

// ID identifies this viewer in logs and monitor events.
func (v *Viewer) ID() string {
	return v.id
}

// Frames delivers decoded images in stream order. It is closed by Close.
func (v *Viewer) Frames() <-chan pipeline.DisplayImage {
	return v.frames
}

func (v *Viewer) State() ConnectionState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// OnStateChange registers f to be called after every state transition.
func (v *Viewer) OnStateChange(f func(ConnectionState)) {
	v.mu.Lock()
	v.listeners = append(v.listeners[:len(v.listeners):len(v.listeners)], f)
	v.mu.Unlock()
}

// Stats of the frame pipeline.
func (v *Viewer) Stats() pipeline.Stats {
	return v.pipe.Stats()
}

func (v *Viewer) setState(s ConnectionState) {
	v.mu.Lock()
	if v.state == s || v.state == Closed {
		v.mu.Unlock()
		return
	}
	old := v.state
	v.state = s
	listeners := v.listeners
	v.mu.Unlock()

	log.Info("[%.8s] %v -> %v", v.id, old, s)
	v.publish("state", s.String(), "")
	for _, f := range listeners {
		f(s)
	}
}

func (v *Viewer) publish(kind, state, message string) {
	if v.cfg.Monitor == nil {
		return
	}
	v.cfg.Monitor.Publish(monitor.Event{
		Session: v.id,
		Kind:    kind,
		State:   state,
		Message: message,
	})
}

// Connect performs the START handshake and begins playback. On timeout the
// viewer enters Retry and ErrHandshakeTimeout is returned; Connect may then
// be called again. Connecting an established viewer does nothing.
func (v *Viewer) Connect(ctx context.Context) error {
	v.mu.Lock()
	switch {
	case v.closed:
		v.mu.Unlock()
		return ErrClosed
	case v.connecting:
		v.mu.Unlock()
		return errors.New("alohacast: connect already in progress")
	case v.state.Connected():
		v.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	v.cancel = cancel
	v.connecting = true
	v.mu.Unlock()

	v.setState(Connecting)
	l, err := v.dial(ctx)

	v.mu.Lock()
	v.cancel = nil
	v.connecting = false
	closed := v.closed
	if err == nil && !closed {
		v.link = l
	}
	v.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrHandshakeTimeout) {
			v.setState(Retry)
		} else {
			v.setState(NotConnected)
		}
		log.Warn("[%.8s] connect to %s: %v", v.id, v.cfg.Caster, err)
		return err
	}
	if closed {
		v.teardown(l)
		return ErrClosed
	}

	v.setState(ConnectedNoStreaming)
	l.start()
	return nil
}

// dial resolves the caster, spawns the decoder and runs the handshake.
func (v *Viewer) dial(ctx context.Context) (*link, error) {
	raddr, err := v.cfg.Resolver.Resolve(ctx, v.cfg.Caster)
	if err != nil {
		return nil, err
	}
	if !v.cfg.AllowRemote {
		ok, err := netutil.SameLAN(raddr.IP, v.cfg.InterfaceAddrs)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Wrapf(ErrNotLAN, "%s", raddr.IP)
		}
	}

	// A connected socket: the kernel picks the local address, which is the
	// address the caster will register us under.
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", raddr)
	}
	netutil.Tune(conn, v.cfg.Socket)

	proc, err := subprocess.Start(v.cfg.Decode(v.cfg.Binary))
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "spawn decoder")
	}

	handshake := &exchange{
		name:     "handshake",
		conn:     conn,
		request:  protocol.StartMessage(),
		isAck:    isOK,
		interval: v.cfg.RetryInterval,
		timeout:  v.cfg.HandshakeTimeout,
	}
	if err := handshake.run(ctx); err != nil {
		conn.Close()
		proc.Quit(v.cfg.GracePeriod)
		return nil, err
	}

	log.Info("[%.8s] connected to %s from %s", v.id, raddr, conn.LocalAddr())
	return &link{
		v:        v,
		conn:     conn,
		remote:   raddr,
		local:    conn.LocalAddr(),
		proc:     proc,
		playback: make(chan []byte, v.cfg.QueueLength),
		done:     make(chan struct{}),
	}, nil
}

// StartRecord taps the incoming stream into a new recording. No-op when
// already recording.
func (v *Viewer) StartRecord() error {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := v.rec.Start(); err != nil {
		return err
	}
	v.publish("record", "started", v.rec.Path())
	return nil
}

// StopRecord finalizes the current recording. No-op when not recording.
func (v *Viewer) StopRecord() error {
	if !v.rec.IsRecording() {
		return nil
	}
	err := v.rec.Stop()
	v.publish("record", "stopped", v.rec.Path())
	return err
}

func (v *Viewer) IsRecording() bool {
	return v.rec.IsRecording()
}

// RecordingPath of the current or most recent recording.
func (v *Viewer) RecordingPath() string {
	return v.rec.Path()
}

// Close abandons a pending handshake, stops recording, asks the caster to
// drop us and stops playback. Safe to call more than once.
func (v *Viewer) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	cancel, l := v.cancel, v.link
	v.link = nil
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := v.StopRecord(); err != nil {
		log.Warn("[%.8s] stop recording: %v", v.id, err)
	}
	if l != nil {
		v.teardown(l)
	}

	v.pipe.Stop()

	v.mu.Lock()
	v.state = Closed
	listeners := v.listeners
	v.mu.Unlock()
	v.publish("state", Closed.String(), "")
	for _, f := range listeners {
		f(Closed)
	}
	return nil
}

// teardown sends STOP from a second socket, retrying like the handshake,
// then stops the link.
func (v *Viewer) teardown(l *link) {
	conn, err := net.DialUDP("udp", nil, l.remote)
	if err != nil {
		log.Warn("[%.8s] exit socket: %v", v.id, err)
	} else {
		exit := &exchange{
			name:     "teardown",
			conn:     conn,
			request:  protocol.StopMessage(l.local),
			isAck:    isOK,
			interval: v.cfg.RetryInterval,
			timeout:  v.cfg.HandshakeTimeout,
		}
		if err := exit.run(context.Background()); err != nil {
			log.Warn("[%.8s] caster did not acknowledge STOP: %v", v.id, err)
		}
		conn.Close()
	}
	l.close()
}

// lost handles a socket failure on an established link.
func (v *Viewer) lost(l *link, err error) {
	v.mu.Lock()
	if v.link != l {
		v.mu.Unlock()
		return
	}
	v.link = nil
	v.mu.Unlock()

	log.Warn("[%.8s] connection lost: %v", v.id, err)
	v.publish("error", "", err.Error())
	l.close()
	v.setState(NotConnected)
}

// link is one established session with the caster.
type link struct {
	v      *Viewer
	conn   *net.UDPConn
	remote *net.UDPAddr
	local  net.Addr
	proc   *subprocess.Process

	mux      *mux.Mux
	control  *mux.Endpoint
	payload  *mux.Endpoint
	playback chan []byte

	mu        sync.Mutex
	started   bool
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (l *link) start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.started {
		return
	}
	l.started = true

	l.mux = mux.NewMux(l.conn, l.v.cfg.MaxDatagram)
	l.control = l.mux.NewEndpoint(protocol.IsControl, controlBufferPackets)
	l.payload = l.mux.NewEndpoint(mux.MatchAll, l.v.cfg.QueueLength)

	l.wg.Add(4)
	go l.readControl()
	go l.readPayload()
	go l.play()
	go l.watch()
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		started := l.started
		l.mu.Unlock()

		close(l.done)
		if started {
			l.mux.Close()
		} else {
			l.conn.Close()
		}
		if err := l.proc.Quit(l.v.cfg.GracePeriod); err != nil {
			log.Debug("decoder exited: %v", err)
		}
		l.wg.Wait()
		if started {
			if n := l.payload.Dropped(); n > 0 {
				log.Info("[%.8s] %d datagrams dropped by a slow reader", l.v.id, n)
			}
		}
	})
}

func (l *link) isDone() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// readControl absorbs late replies, e.g. the OK to a resent START.
func (l *link) readControl() {
	defer l.wg.Done()

	buf := make([]byte, protocol.MaxControlSize)
	for {
		n, err := l.control.Read(buf)
		if err != nil {
			return
		}
		log.Trace(3, "late control message %q", buf[:n])
	}
}

// readPayload forwards every datagram to playback, and to the recorder when
// recording. A read failure ends the link.
func (l *link) readPayload() {
	defer l.wg.Done()
	defer close(l.playback)

	buf := make([]byte, l.v.cfg.MaxDatagram)
	var dropped int
	for {
		n, err := l.payload.Read(buf)
		if err != nil {
			if !l.isDone() {
				if err == io.EOF {
					err = l.mux.Err()
				}
				if err == nil {
					err = io.ErrUnexpectedEOF
				}
				go l.v.lost(l, err)
			}
			return
		}

		l.v.rec.Write(buf[:n])

		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		select {
		case l.playback <- chunk:
		default:
			// Decoder is behind. Only this goroutine sends, so after taking
			// one out there is room.
			select {
			case <-l.playback:
			default:
			}
			l.playback <- chunk
			if dropped++; dropped == 1 {
				log.Warn("[%.8s] decoder falling behind, dropping chunks", l.v.id)
			}
		}
	}
}

// play feeds the decoder.
func (l *link) play() {
	defer l.wg.Done()
	defer l.proc.CloseStdin()

	for chunk := range l.playback {
		if _, err := l.proc.Stdin.Write(chunk); err != nil {
			if !l.isDone() {
				log.Warn("[%.8s] decoder input: %v", l.v.id, err)
			}
			return
		}
	}
}

// watch follows the decoder's log. Its first output stream announces the
// frame geometry, at which point frames start flowing.
func (l *link) watch() {
	defer l.wg.Done()

	reading := false
	for ev := range l.proc.Events() {
		switch e := ev.(type) {
		case subprocess.StreamEvent:
			if e.Direction != subprocess.Output || reading {
				continue
			}
			fr, err := subprocess.NewFrameReader(l.proc.Stdout, e)
			if err != nil {
				log.Error("[%.8s] %v", l.v.id, err)
				continue
			}
			reading = true
			log.Info("[%.8s] streaming %dx%d %s", l.v.id, e.Width, e.Height, e.PixelFormat)
			l.wg.Add(1)
			go l.readFrames(fr)
			l.v.setState(Streaming)

		case subprocess.ErrorEvent:
			log.Warn("[%.8s] decoder: %s", l.v.id, e.Line)
			l.v.publish("error", "", e.Line)
		}
	}
}

func (l *link) readFrames(fr *subprocess.FrameReader) {
	defer l.wg.Done()

	for {
		pix, err := fr.Next()
		if err != nil {
			if err != io.EOF && !l.isDone() {
				log.Warn("[%.8s] decoder output: %v", l.v.id, err)
			}
			return
		}

		frame := pipeline.RawFrame{
			Width:  uint32(fr.Width),
			Height: uint32(fr.Height),
			Pix:    pix,
		}
		select {
		case l.v.raw <- frame:
		case <-l.done:
			// Let the decoder run to completion.
			io.Copy(io.Discard, l.proc.Stdout)
			return
		}
	}
}
