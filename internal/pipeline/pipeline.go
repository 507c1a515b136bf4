//////////////////////////////////////////////////////////////////////////////
//
// Ordered parallel frame pipeline
//
// Frames are dealt round-robin to N workers. Workers convert in parallel but
// publish strictly in submission order: the aggregator hands a one-shot turn
// token to worker (turn mod N) and accepts a result only from that worker.
//
//   in -> dispatcher -> inbox[i] -> worker i -> results -> aggregator -> out
//                                      ^                       |
//                                      +------ token[i] -------+
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package pipeline

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/lanikai/alohacast/internal/logging"
)

var log = logging.DefaultLogger.WithTag("pipeline")

// Config for a Pipeline.
type Config struct {
	// Number of conversion workers. Defaults to runtime.NumCPU().
	Workers int

	// Frame converter. Defaults to ConvertRGB24.
	Convert ConvertFunc

	// Capacity of the output channel read by the display consumer.
	OutputBuffer int
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Dispatched  uint64 // Frames handed to a worker
	Published   uint64 // Images delivered to the output channel
	Skipped     uint64 // Frames dropped because conversion failed
	InFlight    int64  // Frames held by a worker
	MaxInFlight int64  // High-water mark of InFlight
}

type result struct {
	worker int
	img    DisplayImage
	skip   bool
}

type Pipeline struct {
	n       int
	convert ConvertFunc

	// Per-worker private queues. Unbuffered, so a worker holds at most one
	// frame that has not been aggregated.
	inboxes []chan RawFrame

	// Per-worker single-slot turn tokens, written only by the aggregator.
	tokens []chan struct{}

	// Closed by each worker when it exits.
	done []chan struct{}

	results chan result
	out     chan DisplayImage

	quit     chan struct{}
	quitOnce sync.Once
	stopped  chan struct{} // closed once every goroutine has exited
	started  int32
	wg       sync.WaitGroup

	dispatched  uint64
	published   uint64
	skipped     uint64
	inFlight    int64
	maxInFlight int64
}

// New creates a pipeline. It does nothing until Start.
func New(cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Convert == nil {
		cfg.Convert = ConvertRGB24
	}
	if cfg.OutputBuffer < 0 {
		cfg.OutputBuffer = 0
	}

	p := &Pipeline{
		n:       cfg.Workers,
		convert: cfg.Convert,
		inboxes: make([]chan RawFrame, cfg.Workers),
		tokens:  make([]chan struct{}, cfg.Workers),
		done:    make([]chan struct{}, cfg.Workers),
		results: make(chan result),
		out:     make(chan DisplayImage, cfg.OutputBuffer),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for i := 0; i < p.n; i++ {
		p.inboxes[i] = make(chan RawFrame)
		p.tokens[i] = make(chan struct{}, 1)
		p.done[i] = make(chan struct{})
	}
	return p
}

// Workers returns the pool size.
func (p *Pipeline) Workers() int {
	return p.n
}

// Start launches the dispatcher, the workers and the aggregator, and returns
// the channel on which converted images appear in submission order.
//
// Closing in drains the pipeline: every frame already received is published,
// then the output channel is closed. Cancelling ctx has the same effect as
// Stop, without waiting.
func (p *Pipeline) Start(ctx context.Context, in <-chan RawFrame) <-chan DisplayImage {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		panic("pipeline: already started")
	}

	p.wg.Add(p.n + 2)
	go p.dispatch(in)
	for i := 0; i < p.n; i++ {
		go p.work(i)
	}
	go p.aggregate()

	go func() {
		p.wg.Wait()
		close(p.stopped)
	}()
	go func() {
		select {
		case <-ctx.Done():
			p.shutdown()
		case <-p.quit:
		case <-p.stopped:
		}
	}()

	log.Debug("Started with %d workers", p.n)
	return p.out
}

// Stop is called when the display consumer goes away. Goroutines blocked on a
// queue or waiting for their turn are released; Stop returns once all of them
// have exited. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.shutdown()
	p.wg.Wait()
}

// Wait blocks until every pipeline goroutine has exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) shutdown() {
	p.quitOnce.Do(func() {
		close(p.quit)
	})
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Dispatched:  atomic.LoadUint64(&p.dispatched),
		Published:   atomic.LoadUint64(&p.published),
		Skipped:     atomic.LoadUint64(&p.skipped),
		InFlight:    atomic.LoadInt64(&p.inFlight),
		MaxInFlight: atomic.LoadInt64(&p.maxInFlight),
	}
}

func (p *Pipeline) enter() {
	n := atomic.AddInt64(&p.inFlight, 1)
	for {
		max := atomic.LoadInt64(&p.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt64(&p.maxInFlight, max, n) {
			return
		}
	}
}

func (p *Pipeline) leave() {
	atomic.AddInt64(&p.inFlight, -1)
}
