package alohacast

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/alohacast/internal/subprocess"
)

// fakeDecoder announces a 2x1 rgb24 output stream, then passes its input
// through unchanged: each 6-byte chunk becomes one frame.
func fakeDecoder(binary string) subprocess.Command {
	script := strings.Join([]string{
		`echo "Output #0, rawvideo, to pipe:1:" >&2`,
		`echo "  Stream #0:0: Video: rawvideo (RGB[24] / 0x18424752), rgb24, 2x1, q=2-31, 30 fps" >&2`,
		`exec cat`,
	}, "; ")
	return subprocess.Command{
		Binary:      "sh",
		Args:        []string{"-c", script},
		Stdin:       true,
		ParseEvents: true,
	}
}

func fakeRecorder(binary, path string) subprocess.Command {
	return subprocess.Command{
		Binary: "sh",
		Args:   []string{"-c", `cat > "$0"`, path},
		Stdin:  true,
	}
}

func requireShell(t *testing.T) {
	for _, bin := range []string{"sh", "cat"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available", bin)
		}
	}
}

func newTestViewer(t *testing.T, caster string) *Viewer {
	v := NewViewer(ViewerConfig{
		Caster:           caster,
		Workers:          3,
		SaveDir:          t.TempDir(),
		RetryInterval:    20 * time.Millisecond,
		HandshakeTimeout: time.Second,
		GracePeriod:      200 * time.Millisecond,
		Decode:           fakeDecoder,
		Record:           fakeRecorder,
	})
	t.Cleanup(func() { v.Close() })
	return v
}

// silentPeer reads and discards everything.
func silentPeer(t *testing.T) string {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	go func() {
		buf := make([]byte, 2048)
		for {
			if _, _, err := conn.ReadFrom(buf); err != nil {
				return
			}
		}
	}()
	return conn.LocalAddr().String()
}

type stateLog struct {
	sync.Mutex
	states []ConnectionState
}

func (l *stateLog) add(s ConnectionState) {
	l.Lock()
	l.states = append(l.states, s)
	l.Unlock()
}

func (l *stateLog) get() []ConnectionState {
	l.Lock()
	defer l.Unlock()
	return append([]ConnectionState(nil), l.states...)
}

func TestViewerEndToEnd(t *testing.T) {
	requireShell(t)
	c, w := startTestCaster(t)
	v := newTestViewer(t, c.Addr().String())

	var states stateLog
	v.OnStateChange(states.add)

	require.NoError(t, v.Connect(context.Background()))
	assert.Equal(t, []string{"127.0.0.1"}, hosts(c.Viewers()))
	require.Eventually(t, func() bool { return v.State() == Streaming }, 2*time.Second, 5*time.Millisecond)

	// Connecting again is a no-op.
	require.NoError(t, v.Connect(context.Background()))
	assert.Len(t, c.Viewers(), 1)

	const frames = 30
	go func() {
		for i := 0; i < frames; i++ {
			w.Write([]byte{byte(i), 10, 20, byte(i), 30, 40})
			time.Sleep(2 * time.Millisecond)
		}
	}()

	for i := 0; i < frames; i++ {
		select {
		case img := <-v.Frames():
			require.Equal(t, uint32(2), img.Width)
			require.Equal(t, uint32(1), img.Height)
			require.Equal(t, []byte{byte(i), 10, 20, 255, byte(i), 30, 40, 255}, img.Pix, "frame %d", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}

	require.NoError(t, v.Close())
	assert.Empty(t, c.Viewers(), "STOP should have removed the viewer")
	assert.Equal(t, Closed, v.State())
	assert.Equal(t, []ConnectionState{Connecting, ConnectedNoStreaming, Streaming, Closed}, states.get())

	for range v.Frames() {
	}
	require.NoError(t, v.Close())
}

func hosts(addrs []string) []string {
	var out []string
	for _, a := range addrs {
		host, _, _ := net.SplitHostPort(a)
		out = append(out, host)
	}
	return out
}

func TestViewerSocketFailure(t *testing.T) {
	requireShell(t)
	c, _ := startTestCaster(t)
	v := newTestViewer(t, c.Addr().String())

	var states stateLog
	v.OnStateChange(states.add)

	require.NoError(t, v.Connect(context.Background()))
	require.Eventually(t, func() bool { return v.State() == Streaming }, 2*time.Second, 5*time.Millisecond)

	v.mu.Lock()
	l := v.link
	v.mu.Unlock()
	require.NotNil(t, l)
	assert.Equal(t, DefaultMaxDatagram, cap(l.payload.queue.bufs[0]))

	// Pull the socket out from under the running link.
	require.NoError(t, l.conn.Close())

	require.Eventually(t, func() bool { return v.State() == NotConnected }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, NotConnected, states.get()[len(states.get())-1])
	select {
	case <-l.proc.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("decoder still running after connection loss")
	}
	v.mu.Lock()
	assert.Nil(t, v.link)
	v.mu.Unlock()

	// The viewer can connect again.
	require.NoError(t, v.Connect(context.Background()))
	require.Eventually(t, func() bool { return v.State() == Streaming }, 2*time.Second, 5*time.Millisecond)
	v.mu.Lock()
	local := v.link.local.String()
	v.mu.Unlock()
	assert.Contains(t, c.Viewers(), canonicalAddr(local))
}

func TestViewerRecord(t *testing.T) {
	requireShell(t)
	c, w := startTestCaster(t)
	v := newTestViewer(t, c.Addr().String())

	require.NoError(t, v.Connect(context.Background()))
	require.Eventually(t, func() bool { return len(c.Viewers()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, v.StartRecord())
	assert.True(t, v.IsRecording())
	path := v.RecordingPath()
	require.NoError(t, v.StartRecord())
	assert.Equal(t, path, v.RecordingPath())

	var want strings.Builder
	for i := 0; i < 5; i++ {
		chunk := fmt.Sprintf("rec-%d;", i)
		want.WriteString(chunk)
		_, err := w.Write([]byte(chunk))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return c.Chunks() == 5 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, v.StopRecord())
	assert.False(t, v.IsRecording())
	require.NoError(t, v.StopRecord())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want.String(), string(data))
}

func TestViewerHandshakeTimeout(t *testing.T) {
	requireShell(t)
	v := newTestViewer(t, silentPeer(t))
	v.cfg.HandshakeTimeout = 150 * time.Millisecond

	err := v.Connect(context.Background())
	assert.Equal(t, ErrHandshakeTimeout, err)
	assert.Equal(t, Retry, v.State())

	// Retry is user-retriable.
	assert.Equal(t, ErrHandshakeTimeout, v.Connect(context.Background()))

	require.NoError(t, v.Close())
	assert.Equal(t, Closed, v.State())
	_, ok := <-v.Frames()
	assert.False(t, ok)
}

func TestViewerCloseDuringHandshake(t *testing.T) {
	requireShell(t)
	v := newTestViewer(t, silentPeer(t))
	v.cfg.HandshakeTimeout = 10 * time.Second

	result := make(chan error, 1)
	go func() { result <- v.Connect(context.Background()) }()
	require.Eventually(t, func() bool { return v.State() == Connecting }, time.Second, 5*time.Millisecond)

	require.NoError(t, v.Close())
	select {
	case err := <-result:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Close")
	}
	assert.Equal(t, Closed, v.State())
}

func TestViewerNotLAN(t *testing.T) {
	v := newTestViewer(t, "192.0.2.1:8080")
	v.cfg.InterfaceAddrs = func() ([]net.Addr, error) {
		return []net.Addr{&net.IPNet{IP: net.IPv4(10, 0, 0, 5), Mask: net.CIDRMask(8, 32)}}, nil
	}

	err := v.Connect(context.Background())
	assert.True(t, errors.Is(err, ErrNotLAN), "got %v", err)
	assert.Equal(t, NotConnected, v.State())
}

func TestViewerClosed(t *testing.T) {
	v := newTestViewer(t, "127.0.0.1:8080")
	require.NoError(t, v.Close())

	assert.Equal(t, ErrClosed, v.Connect(context.Background()))
	assert.Equal(t, ErrClosed, v.StartRecord())
	assert.False(t, v.IsRecording())
}

func TestViewerConfigDefaults(t *testing.T) {
	cfg := ViewerConfig{Caster: "caster.local"}
	cfg.setDefaults()
	assert.Equal(t, "caster.local:8080", cfg.Caster)
	assert.Equal(t, DefaultRetryInterval, cfg.RetryInterval)
	assert.Equal(t, DefaultHandshakeTimeout, cfg.HandshakeTimeout)
	assert.Equal(t, DefaultMaxDatagram, cfg.MaxDatagram)
}
