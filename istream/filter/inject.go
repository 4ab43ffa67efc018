package filter

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// Inject is a pass-through filter with an externally-held control
// handle that can force-terminate the stream at any time, independent
// of input's own lifecycle. It is used to wire an out-of-band abort
// signal (e.g. a request-level cancellation) into an otherwise passive
// forwarding stream. Grounded on original_source's BlockSink/cancel
// plumbing (original_source/src/istream/BlockSink.hxx).
type Inject struct {
	base
	input istream.Stream
}

// InjectControl lets the owner of an Inject abort it from outside the
// stream's own call chain.
type InjectControl struct {
	i *Inject
}

// NewInject wraps input and returns the control handle.
func NewInject(input istream.Stream) (*Inject, InjectControl) {
	i := &Inject{input: input}
	input.SetHandler(i)
	return i, InjectControl{i: i}
}

// Cancel aborts the stream with err, as if input itself had failed.
func (c InjectControl) Cancel(err error) {
	if c.i.destroyed {
		return
	}
	c.i.input.Close()
	c.i.deliverError(err)
}

func (i *Inject) SetHandler(h istream.Handler) { i.setHandler(h) }

func (i *Inject) Available(partial bool) int64 { return i.input.Available(partial) }

func (i *Inject) Skip(n int64) int64 { return i.input.Skip(n) }

func (i *Inject) Read() { i.input.Read() }

func (i *Inject) FillBucketList(list *bucket.List) error { return i.input.FillBucketList(list) }

func (i *Inject) ConsumeBucketList(n int) (int, bool) { return i.input.ConsumeBucketList(n) }

func (i *Inject) ConsumeDirect(n int64) error { return i.input.ConsumeDirect(n) }

func (i *Inject) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (i *Inject) SetDirect(mask istream.DirectMask) { i.input.SetDirect(mask) }

func (i *Inject) Close() {
	if i.closed {
		return
	}
	i.closed = true
	i.input.Close()
}

func (i *Inject) OnData(data []byte) (int, istream.Disposition) {
	if i.handler == nil {
		return len(data), istream.Continue
	}
	return i.handler.OnData(data)
}

func (i *Inject) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	if i.handler == nil {
		return maxLen, istream.DirectOK, istream.Continue
	}
	return i.handler.OnDirect(kind, fd, offset, maxLen, thenEOF)
}

func (i *Inject) OnEOF() { i.deliverEOF() }

func (i *Inject) OnError(err error) { i.deliverError(err) }
