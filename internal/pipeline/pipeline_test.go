package pipeline

import (
	"context"
	"encoding/binary"
	"math/rand"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tagged returns a 2x2 frame carrying tag in its first four bytes.
func tagged(tag uint32) RawFrame {
	pix := make([]byte, 12)
	binary.BigEndian.PutUint32(pix, tag)
	return RawFrame{Width: 2, Height: 2, Pix: pix}
}

func tagOf(img DisplayImage) uint32 {
	return binary.BigEndian.Uint32(img.Pix)
}

// passthrough copies the tag and sleeps a random 0-maxDelay.
func passthrough(maxDelay time.Duration) ConvertFunc {
	return func(f RawFrame) (DisplayImage, error) {
		if maxDelay > 0 {
			time.Sleep(time.Duration(rand.Int63n(int64(maxDelay))))
		}
		pix := make([]byte, 4*f.Width*f.Height)
		copy(pix, f.Pix[:4])
		return DisplayImage{Width: f.Width, Height: f.Height, Pix: pix}, nil
	}
}

func feed(frames []RawFrame, interval time.Duration) <-chan RawFrame {
	in := make(chan RawFrame)
	go func() {
		defer close(in)
		for _, f := range frames {
			in <- f
			if interval > 0 {
				time.Sleep(interval)
			}
		}
	}()
	return in
}

func collect(t *testing.T, out <-chan DisplayImage, timeout time.Duration) []uint32 {
	var tags []uint32
	deadline := time.After(timeout)
	for {
		select {
		case img, ok := <-out:
			if !ok {
				return tags
			}
			tags = append(tags, tagOf(img))
		case <-deadline:
			t.Fatalf("timed out after %d images", len(tags))
		}
	}
}

func TestOrderPreservedUnderRandomDelay(t *testing.T) {
	const frames, workers = 100, 5

	in := make([]RawFrame, frames)
	for i := range in {
		in[i] = tagged(uint32(i))
	}

	p := New(Config{Workers: workers, Convert: passthrough(50 * time.Millisecond)})
	out := p.Start(context.Background(), feed(in, time.Second/30))

	tags := collect(t, out, 20*time.Second)
	require.Len(t, tags, frames)
	for i, tag := range tags {
		assert.Equal(t, uint32(i), tag)
	}

	p.Wait()
	st := p.Stats()
	assert.Equal(t, uint64(frames), st.Dispatched)
	assert.Equal(t, uint64(frames), st.Published)
	assert.Zero(t, st.InFlight)
}

func TestBoundedInFlight(t *testing.T) {
	const frames, workers = 200, 4

	var converting, maxConverting int32
	convert := func(f RawFrame) (DisplayImage, error) {
		n := atomic.AddInt32(&converting, 1)
		for {
			m := atomic.LoadInt32(&maxConverting)
			if n <= m || atomic.CompareAndSwapInt32(&maxConverting, m, n) {
				break
			}
		}
		defer atomic.AddInt32(&converting, -1)
		return passthrough(2 * time.Millisecond)(f)
	}

	in := make([]RawFrame, frames)
	for i := range in {
		in[i] = tagged(uint32(i))
	}

	p := New(Config{Workers: workers, Convert: convert})
	out := p.Start(context.Background(), feed(in, 0))
	tags := collect(t, out, 20*time.Second)
	require.Len(t, tags, frames)

	st := p.Stats()
	assert.True(t, st.MaxInFlight <= workers, "max in flight %d", st.MaxInFlight)
	assert.True(t, atomic.LoadInt32(&maxConverting) <= workers)
}

func TestSingleWorkerHoldsOneFrame(t *testing.T) {
	const frames = 2000

	in := make([]RawFrame, frames)
	for i := range in {
		in[i] = tagged(uint32(i))
	}

	p := New(Config{Workers: 1, Convert: passthrough(0)})
	tags := collect(t, p.Start(context.Background(), feed(in, 0)), 20*time.Second)
	require.Len(t, tags, frames)
	p.Wait()

	st := p.Stats()
	assert.Equal(t, int64(1), st.MaxInFlight)
	assert.Zero(t, st.InFlight)
}

func TestDrainedPipelinesLeaveNoGoroutines(t *testing.T) {
	before := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		in := make(chan RawFrame, 1)
		in <- tagged(uint32(i))
		close(in)

		p := New(Config{Workers: 3, Convert: passthrough(0)})
		tags := collect(t, p.Start(context.Background(), in), 5*time.Second)
		require.Equal(t, []uint32{uint32(i)}, tags)
		p.Wait()
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 2*time.Second, 10*time.Millisecond, "goroutines: %d before", before)
}

func TestStopWhileWorkersWaitForTurn(t *testing.T) {
	const workers = 5

	// Worker 0 is slow, so workers 1..4 finish first and wait for their turn.
	convert := func(f RawFrame) (DisplayImage, error) {
		if tagOf(DisplayImage{Pix: f.Pix}) == 0 {
			time.Sleep(100 * time.Millisecond)
		}
		return passthrough(0)(f)
	}

	in := make(chan RawFrame)
	p := New(Config{Workers: workers, Convert: convert})
	p.Start(context.Background(), in)

	// Nobody reads the output.
	for i := 0; i < workers; i++ {
		in <- tagged(uint32(i))
	}
	time.Sleep(200 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop")
	}

	// Stop is idempotent.
	p.Stop()
}

func TestContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(Config{Workers: 3, Convert: passthrough(0)})
	out := p.Start(ctx, make(chan RawFrame))

	cancel()
	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("output not closed after cancel")
	}
	p.Wait()
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	const frames, workers = 30, 3

	in := make([]RawFrame, frames)
	for i := range in {
		in[i] = RawFrame{Width: 1, Height: 1, Pix: []byte{byte(i), 0, 0}}
	}
	// Wrong sizes, including one that lands on every worker.
	in[4].Pix = in[4].Pix[:2]
	in[5].Pix = append(in[5].Pix, 0)
	in[9].Pix = nil

	p := New(Config{Workers: workers})
	out := p.Start(context.Background(), feed(in, 0))

	var got []byte
	for img := range out {
		require.Len(t, img.Pix, 4)
		assert.Equal(t, byte(0xff), img.Pix[3])
		got = append(got, img.Pix[0])
	}

	var want []byte
	for i := 0; i < frames; i++ {
		if i != 4 && i != 5 && i != 9 {
			want = append(want, byte(i))
		}
	}
	assert.Equal(t, want, got)
	assert.Equal(t, uint64(3), p.Stats().Skipped)
}

func TestConverterPanicIsSkipped(t *testing.T) {
	convert := func(f RawFrame) (DisplayImage, error) {
		if f.Pix[0] == 1 {
			panic("boom")
		}
		return DisplayImage{Width: 1, Height: 1, Pix: []byte{f.Pix[0], 0, 0, 0}}, nil
	}

	in := []RawFrame{{1, 1, []byte{0}}, {1, 1, []byte{1}}, {1, 1, []byte{2}}}
	p := New(Config{Workers: 2, Convert: convert})

	var got []byte
	for img := range p.Start(context.Background(), feed(in, 0)) {
		got = append(got, img.Pix[0])
	}
	assert.Equal(t, []byte{0, 2}, got)
}

func TestSingleWorker(t *testing.T) {
	in := make([]RawFrame, 10)
	for i := range in {
		in[i] = tagged(uint32(i))
	}
	p := New(Config{Workers: 1, Convert: passthrough(time.Millisecond)})
	tags := collect(t, p.Start(context.Background(), feed(in, 0)), 5*time.Second)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, tags)
}

func TestDisplayImage(t *testing.T) {
	img, err := ConvertRGB24(RawFrame{Width: 2, Height: 1, Pix: []byte{1, 2, 3, 4, 5, 6}})
	require.NoError(t, err)

	rgba := img.Image()
	assert.Equal(t, 2, rgba.Bounds().Dx())
	r, g, b, a := rgba.At(1, 0).RGBA()
	assert.Equal(t, []uint32{4, 5, 6, 0xff}, []uint32{r >> 8, g >> 8, b >> 8, a >> 8})
}

func TestStartTwicePanics(t *testing.T) {
	p := New(Config{Workers: 1})
	p.Start(context.Background(), make(chan RawFrame))
	defer p.Stop()
	assert.Panics(t, func() { p.Start(context.Background(), make(chan RawFrame)) })
}
