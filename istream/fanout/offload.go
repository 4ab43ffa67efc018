package fanout

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// OffloadPool bounds concurrent blocking-producer goroutines across
// every Offload stream sharing it, sized from GOMAXPROCS (correctly
// reported inside containers thanks to go.uber.org/automaxprocs at
// startup) so the core never grows an unbounded goroutine-per-request
// pool; this is deliberately not a general-purpose async runtime, only
// a bounded escape hatch for the handful of producers that must block
// (e.g. local filesystem reads).
type OffloadPool struct {
	sem *semaphore.Weighted
}

// NewOffloadPool sizes the pool from the process's GOMAXPROCS.
func NewOffloadPool() *OffloadPool {
	n := int64(runtime.GOMAXPROCS(0))
	if n < 1 {
		n = 1
	}
	return &OffloadPool{sem: semaphore.NewWeighted(n)}
}

// NewOffloadPoolSize returns a pool capped at an explicit worker count.
func NewOffloadPoolSize(n int64) *OffloadPool {
	if n < 1 {
		n = 1
	}
	return &OffloadPool{sem: semaphore.NewWeighted(n)}
}

// Go blocks until a worker slot is free, then runs fn on a new
// goroutine bounded by the pool, releasing the slot when fn returns.
// Other offload-shaped producers (e.g. the compression filters) use
// this instead of duplicating the semaphore dance Offload.Read does.
func (p *OffloadPool) Go(fn func()) {
	_ = p.sem.Acquire(context.Background(), 1)
	go func() {
		defer p.sem.Release(1)
		fn()
	}()
}

// Producer performs one blocking unit of work.
type Producer func() (data []byte, eof bool, err error)

type offloadResult struct {
	data []byte
	eof  bool
	err  error
}

// Offload runs a blocking Producer on pool's bounded worker set,
// translating its synchronous result back into push-mode Stream
// callbacks. It has no loop of its own: the owning event loop must
// call Drain after kicking off a Read to collect a finished worker's
// result. Grounded on the worker-pool idiom of
// go.uber.org/automaxprocs plus golang.org/x/sync/semaphore, standing
// in for the original's thread-pool offload of blocking filesystem
// work (original_source/src/fs/).
type Offload struct {
	pool     *OffloadPool
	produce  Producer
	handler  istream.Handler
	pending  chan offloadResult
	inflight bool
	eof      bool
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewOffload(pool *OffloadPool, produce Producer) *Offload {
	ctx, cancel := context.WithCancel(context.Background())
	return &Offload{pool: pool, produce: produce, pending: make(chan offloadResult, 1), ctx: ctx, cancel: cancel}
}

func (o *Offload) SetHandler(h istream.Handler) { o.handler = h }

func (o *Offload) Available(partial bool) int64 { return -1 }

func (o *Offload) Skip(n int64) int64 { return 0 }

func (o *Offload) Read() {
	if o.eof {
		o.deliverEOF()
		return
	}
	if o.inflight || o.closed {
		return
	}
	o.inflight = true
	if err := o.pool.sem.Acquire(o.ctx, 1); err != nil {
		o.inflight = false
		o.deliverError(err)
		return
	}
	go func() {
		defer o.pool.sem.Release(1)
		data, eof, err := o.produce()
		select {
		case o.pending <- offloadResult{data: data, eof: eof, err: err}:
		case <-o.ctx.Done():
		}
	}()
}

// Drain collects one completed worker result, if any, and delivers it
// synchronously to the handler. It returns whether a result was
// collected. Callers typically poll Drain from whatever readiness
// mechanism (epoll/kqueue wakeup, a ticking select) drives the rest of
// the event loop.
func (o *Offload) Drain() bool {
	select {
	case res := <-o.pending:
		o.inflight = false
		if res.err != nil {
			o.deliverError(res.err)
			return true
		}
		if len(res.data) > 0 && o.handler != nil {
			o.handler.OnData(res.data)
		}
		if res.eof {
			o.eof = true
			o.deliverEOF()
		}
		return true
	default:
		return false
	}
}

func (o *Offload) FillBucketList(list *bucket.List) error {
	list.EnableFallback()
	return nil
}

func (o *Offload) ConsumeBucketList(n int) (int, bool) { return 0, false }

func (o *Offload) ConsumeDirect(n int64) error { return nil }

func (o *Offload) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (o *Offload) SetDirect(mask istream.DirectMask) {}

func (o *Offload) Close() {
	if o.closed {
		return
	}
	o.closed = true
	o.cancel()
}

func (o *Offload) deliverEOF() {
	if o.handler != nil {
		o.handler.OnEOF()
	}
}

func (o *Offload) deliverError(err error) {
	if o.handler != nil {
		o.handler.OnError(err)
	}
}
