package source

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// FifoHandler lets a producer find out what happened to data it
// pushed into a Fifo: how much was consumed, when the buffer ran dry,
// and when the consumer closed it.
type FifoHandler interface {
	OnConsumed(n int)
	OnDrained()
	OnClosed()
}

// Fifo is a caller-pushable buffer stream: producers call Push to
// append bytes and Finish to mark EOF; the consumer reads it like any
// other Stream. Grounded on
// original_source/src/istream/FifoBufferIstream.cxx.
type Fifo struct {
	buf      []byte
	finished bool
	closed   bool
	err      error
	errSent  bool
	handler  istream.Handler
	producer FifoHandler
}

func NewFifo(producer FifoHandler) *Fifo {
	return &Fifo{producer: producer}
}

// Push appends data for delivery. It must not be called after Finish.
func (f *Fifo) Push(data []byte) {
	if f.finished || f.closed || f.err != nil {
		return
	}
	f.buf = append(f.buf, data...)
	if len(f.buf) > 0 {
		f.pushPending()
	}
}

// Finish marks end-of-file once all pushed data has drained.
func (f *Fifo) Finish() { f.finished = true }

// Fail turns the stream into a terminal error: pending bytes are
// dropped and the consumer sees OnError — immediately if a handler is
// attached, otherwise on its next Read.
func (f *Fifo) Fail(err error) {
	if f.closed || f.err != nil {
		return
	}
	f.err = err
	f.buf = nil
	if f.handler != nil && !f.errSent {
		f.errSent = true
		f.handler.OnError(err)
	}
}

func (f *Fifo) pushPending() {
	if f.handler == nil || len(f.buf) == 0 {
		return
	}
	n, disp := f.handler.OnData(f.buf)
	if disp == istream.Destroyed {
		return
	}
	if n > 0 {
		f.buf = f.buf[n:]
		if f.producer != nil {
			f.producer.OnConsumed(n)
		}
	}
	if len(f.buf) == 0 && f.producer != nil {
		f.producer.OnDrained()
	}
}

func (f *Fifo) SetHandler(h istream.Handler) { f.handler = h }

func (f *Fifo) Available(partial bool) int64 {
	if !f.finished && partial {
		return int64(len(f.buf))
	}
	if !f.finished {
		return -1
	}
	return int64(len(f.buf))
}

func (f *Fifo) Skip(n int64) int64 {
	if n > int64(len(f.buf)) {
		n = int64(len(f.buf))
	}
	f.buf = f.buf[n:]
	return n
}

func (f *Fifo) Read() {
	if f.err != nil {
		if !f.errSent && f.handler != nil {
			f.errSent = true
			f.handler.OnError(f.err)
		}
		return
	}
	if len(f.buf) > 0 {
		f.pushPending()
		return
	}
	if f.finished && f.handler != nil {
		f.handler.OnEOF()
	}
}

func (f *Fifo) FillBucketList(list *bucket.List) error {
	if f.err != nil {
		return f.err
	}
	if len(f.buf) > 0 {
		list.PushSpan(f.buf)
	}
	if !f.finished {
		list.SetMore()
	}
	return nil
}

func (f *Fifo) ConsumeBucketList(n int) (int, bool) {
	if n > len(f.buf) {
		n = len(f.buf)
	}
	f.buf = f.buf[n:]
	if f.producer != nil && n > 0 {
		f.producer.OnConsumed(n)
	}
	eof := f.finished && len(f.buf) == 0
	return n, eof
}

func (f *Fifo) ConsumeDirect(n int64) error { return nil }

func (f *Fifo) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (f *Fifo) SetDirect(mask istream.DirectMask) {}

func (f *Fifo) Close() {
	if f.closed {
		return
	}
	f.closed = true
	if f.producer != nil {
		f.producer.OnClosed()
	}
}
