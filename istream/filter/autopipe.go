package filter

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
	"github.com/bpcore/flowproxy/pool"
)

// AutoPipe gives a downstream handler that only wants direct (FD)
// transfers a zero-copy path even when input cannot itself offer one:
// a single push of at least the threshold is written into a leased
// pipe and the pipe's read end is offered via OnDirect instead of
// copying through OnData. A smaller push is forwarded through OnData
// unchanged; bytes are not accumulated across pushes. Grounded on
// original_source/src/istream/AutoPipeIstream.cxx, using the pipe
// stock built for spec §5's leased-pipe pool.
type AutoPipe struct {
	base
	input     istream.Stream
	stock     *pool.PipeStock
	threshold int
	buf       []byte
}

// NewAutoPipe wraps input; once a single push delivers at least
// threshold bytes, those bytes are piped instead of copied.
func NewAutoPipe(input istream.Stream, stock *pool.PipeStock, threshold int) *AutoPipe {
	a := &AutoPipe{input: input, stock: stock, threshold: threshold}
	input.SetHandler(a)
	return a
}

func (a *AutoPipe) SetHandler(h istream.Handler) { a.setHandler(h) }

func (a *AutoPipe) Available(partial bool) int64 { return a.input.Available(partial) }

func (a *AutoPipe) Skip(n int64) int64 { return a.input.Skip(n) }

func (a *AutoPipe) Read() { a.input.Read() }

func (a *AutoPipe) FillBucketList(list *bucket.List) error { return a.input.FillBucketList(list) }

func (a *AutoPipe) ConsumeBucketList(n int) (int, bool) { return a.input.ConsumeBucketList(n) }

func (a *AutoPipe) ConsumeDirect(n int64) error { return a.input.ConsumeDirect(n) }

func (a *AutoPipe) AsFD() (istream.Descriptor, bool) { return a.input.AsFD() }

func (a *AutoPipe) SetDirect(mask istream.DirectMask) { a.input.SetDirect(mask) }

func (a *AutoPipe) Close() {
	if a.closed {
		return
	}
	a.closed = true
	a.input.Close()
}

func (a *AutoPipe) OnData(data []byte) (int, istream.Disposition) {
	if a.handler == nil {
		return len(data), istream.Continue
	}
	if len(data) < a.threshold {
		return a.handler.OnData(data)
	}
	lease, err := a.stock.Acquire()
	if err != nil {
		return a.handler.OnData(data)
	}
	n, werr := lease.WriteEnd().Write(data)
	lease.WriteEnd().Close()
	if werr != nil {
		lease.Release(pool.PipeDestroy)
		return a.handler.OnData(data)
	}
	f, ok := lease.ReadEnd().(interface{ Fd() uintptr })
	if !ok {
		lease.Release(pool.PipeDestroy)
		return a.handler.OnData(data)
	}
	lease.Abandon()
	dn, _, disp := a.handler.OnDirect(istream.FDPipe, f.Fd(), 0, int64(n), false)
	return int(dn), disp
}

func (a *AutoPipe) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	if a.handler == nil {
		return maxLen, istream.DirectOK, istream.Continue
	}
	return a.handler.OnDirect(kind, fd, offset, maxLen, thenEOF)
}

func (a *AutoPipe) OnEOF() { a.deliverEOF() }

func (a *AutoPipe) OnError(err error) { a.deliverError(err) }
