package mux

import (
	"io"
	"net"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchSwapsBuffers(t *testing.T) {
	m := newMux(nil, 64)
	e := m.NewEndpoint(MatchRange(0, 255), 4)
	assert.Equal(t, 0, e.queue.count)

	pkt := []byte("test")
	spare := m.dispatch(pkt)

	assert.Equal(t, 1, e.queue.count)
	assert.True(t, identical(e.queue.bufs[0], pkt), "endpoint should own the dispatched buffer")
	assert.False(t, identical(spare, pkt), "dispatch should hand back a different buffer")
	assert.Equal(t, 64, cap(spare))

	buf := make([]byte, 32)
	n, err := e.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, pkt, buf[:n])
	assert.Equal(t, 0, e.queue.count)
}

func TestUnmatchedDatagramReturned(t *testing.T) {
	m := newMux(nil, 8)
	m.NewEndpoint(MatchRange('a', 'z'), 2)

	pkt := []byte{0x00, 0x01}
	assert.True(t, identical(m.dispatch(pkt), pkt))
}

func TestRemovedEndpointFallsThrough(t *testing.T) {
	m := newMux(nil, 8)
	first := m.NewEndpoint(MatchAll, 2)
	second := m.NewEndpoint(MatchAll, 2)
	require.NoError(t, first.Close())

	m.dispatch(append(make([]byte, 0, 8), 'x'))
	buf := make([]byte, 8)
	n, err := second.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf[:n]))

	_, err = first.Read(buf)
	assert.Equal(t, io.EOF, err)
}

func TestFirstMatchWins(t *testing.T) {
	m := newMux(nil, 64)
	ctl := m.NewEndpoint(func(b []byte) bool { return string(b) == "OK" }, 4)
	data := m.NewEndpoint(MatchAll, 4)

	m.dispatch([]byte("payload"))
	m.dispatch([]byte("OK"))

	buf := make([]byte, 64)
	n, err := ctl.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(buf[:n]))

	n, err = data.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf[:n]))
}

func TestOverflowDropsOldest(t *testing.T) {
	m := newMux(nil, 8)
	e := m.NewEndpoint(MatchAll, 2)

	for _, s := range []string{"a", "b", "c"} {
		m.dispatch(append(make([]byte, 0, 8), s...))
	}
	assert.Equal(t, uint64(1), e.Dropped())

	buf := make([]byte, 8)
	n, _ := e.Read(buf)
	assert.Equal(t, "b", string(buf[:n]))
	n, _ = e.Read(buf)
	assert.Equal(t, "c", string(buf[:n]))
}

func TestReadDeadline(t *testing.T) {
	m := newMux(nil, 8)
	e := m.NewEndpoint(MatchAll, 2)

	e.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	start := time.Now()
	_, err := e.Read(make([]byte, 8))
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded))
	assert.True(t, time.Since(start) >= 20*time.Millisecond)

	var ne net.Error
	require.True(t, errors.As(err, &ne))
	assert.True(t, ne.Timeout())
}

func TestMuxOverUDP(t *testing.T) {
	server, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer server.Close()

	conn, err := net.DialUDP("udp4", nil, server.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	m := NewMux(conn, 1500)
	ctl := m.NewEndpoint(func(b []byte) bool { return string(b) == "OK" }, 4)
	data := m.NewEndpoint(MatchAll, 16)

	_, err = server.WriteTo([]byte("chunk"), conn.LocalAddr())
	require.NoError(t, err)
	_, err = server.WriteTo([]byte("OK"), conn.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 1500)
	ctl.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := ctl.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(buf[:n]))

	data.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = data.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "chunk", string(buf[:n]))

	// Closing the mux closes the endpoints.
	require.NoError(t, m.Close())
	assert.Error(t, m.Err())
	_, err = data.Read(buf)
	assert.Equal(t, io.EOF, err)
}

// Checks if two byte slices refer to the exact same memory region.
func identical(b1, b2 []byte) bool {
	return len(b1) == len(b2) &&
		reflect.ValueOf(b1).Pointer() == reflect.ValueOf(b2).Pointer()
}
