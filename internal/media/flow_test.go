package media

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan []byte) [][]byte {
	var out [][]byte
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, p)
		default:
			return out
		}
	}
}

func TestSubscribeAndWrite(t *testing.T) {
	var f Flow

	var wg sync.WaitGroup

	// Hundred subscribers
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s, created := f.Subscribe(fmt.Sprintf("10.0.0.1:%d", 1000+n))
			assert.True(t, created)

			// Test that each one receives packet
			p, ok := <-s
			assert.True(t, ok)
			assert.Equal(t, []byte{0xc0, 0xff, 0xee}, p)
		}(i)
	}

	// Write packet until every subscriber has one.
	done := make(chan struct{})
	go func() {
		packet := []byte{0xc0, 0xff, 0xee}
		for {
			select {
			case <-done:
				return
			default:
				f.Write(packet)
			}
		}
	}()

	wg.Wait()
	close(done)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	var f Flow

	a, created := f.Subscribe("10.0.0.2:5000")
	require.True(t, created)
	b, created := f.Subscribe("10.0.0.2:5000")
	assert.False(t, created)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, f.Len())
}

func TestFanOutToAllViewers(t *testing.T) {
	var f Flow
	a, _ := f.Subscribe("10.0.0.2:5000")
	b, _ := f.Subscribe("10.0.0.3:5000")

	var sent [][]byte
	for i := 0; i < 10; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, 100+i)
		sent = append(sent, chunk)
		n, err := f.Write(chunk)
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}

	assert.Equal(t, sent, drain(a))
	assert.Equal(t, sent, drain(b))
}

func TestWriteCopiesChunk(t *testing.T) {
	var f Flow
	a, _ := f.Subscribe("10.0.0.2:5000")

	p := []byte("abc")
	f.Write(p)
	p[0] = 'x'

	assert.Equal(t, []byte("abc"), <-a)
}

func TestUnsubscribe(t *testing.T) {
	var f Flow
	a, _ := f.Subscribe("10.0.0.2:5000")
	b, _ := f.Subscribe("10.0.0.3:5000")

	f.Write([]byte("one"))
	assert.True(t, f.Unsubscribe("10.0.0.2:5000"))
	f.Write([]byte("two"))

	// a got everything up to removal, then its queue closed.
	assert.Equal(t, [][]byte{[]byte("one")}, drain(a))
	_, ok := <-a
	assert.False(t, ok)

	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, drain(b))
	assert.Equal(t, []string{"10.0.0.3:5000"}, f.Addrs())

	// Unknown addresses are a no-op.
	assert.False(t, f.Unsubscribe("10.0.0.9:5000"))
	assert.False(t, f.Unsubscribe("10.0.0.2:5000"))
	assert.Equal(t, 1, f.Len())
}

func TestOverflowDropsOldest(t *testing.T) {
	f := Flow{Capacity: 2}
	a, _ := f.Subscribe("10.0.0.2:5000")

	f.Write([]byte("1"))
	f.Write([]byte("2"))
	f.Write([]byte("3"))

	assert.Equal(t, [][]byte{[]byte("2"), []byte("3")}, drain(a))
}

func TestStartStopHooks(t *testing.T) {
	started, stopped := make(chan struct{}, 1), make(chan struct{}, 1)
	f := Flow{
		Start: func() { started <- struct{}{} },
		Stop:  func() { stopped <- struct{}{} },
	}

	f.Subscribe("a:1")
	f.Subscribe("b:1")
	assert.Len(t, started, 1)

	f.Unsubscribe("a:1")
	f.Unsubscribe("b:1")
	<-stopped
}

func TestClose(t *testing.T) {
	var f Flow
	a, _ := f.Subscribe("10.0.0.2:5000")
	require.NoError(t, f.Close())

	_, ok := <-a
	assert.False(t, ok)

	_, err := f.Write([]byte("x"))
	assert.Equal(t, errClosed, err)

	ch, created := f.Subscribe("10.0.0.3:5000")
	assert.Nil(t, ch)
	assert.False(t, created)
	assert.NoError(t, f.Close())
}
