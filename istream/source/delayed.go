package source

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// Delayed is a stream that starts out empty (more=true, per spec
// §4.C) and begins delegating to an inner Stream once Control.Set is
// called. Grounded on original_source/src/istream/DelayedIstream.cxx;
// the original's cancellable-pointer is rendered here as a plain
// CancelFunc consulted from Close.
type Delayed struct {
	inner       istream.Stream
	err         error
	eof         bool
	handler     istream.Handler
	onCancel    func()
	closed      bool
	readPending bool
}

// Control is the producer-side handle returned alongside a Delayed
// stream; it is the only way to resolve it.
type Control struct {
	d *Delayed
}

// NewDelayed returns an empty, not-yet-resolved Delayed stream and its
// Control. onCancel, if non-nil, is invoked if the stream is closed
// before being resolved (spec: "a cancellation token consulted on
// close").
func NewDelayed(onCancel func()) (*Delayed, Control) {
	d := &Delayed{onCancel: onCancel}
	return d, Control{d: d}
}

// Set resolves the Delayed stream to inner. If a Read had already
// been requested and is still pending, it is forwarded immediately.
func (c Control) Set(inner istream.Stream) {
	d := c.d
	if d.closed || d.inner != nil || d.eof || d.err != nil {
		return
	}
	d.inner = inner
	inner.SetHandler(d.handler)
	if d.readPending {
		d.readPending = false
		inner.Read()
	}
}

// SetEOF resolves the Delayed stream directly to end-of-file.
func (c Control) SetEOF() {
	d := c.d
	if d.closed || d.inner != nil {
		return
	}
	d.eof = true
	if d.readPending && d.handler != nil {
		d.readPending = false
		d.handler.OnEOF()
	}
}

// SetError resolves the Delayed stream directly to err.
func (c Control) SetError(err error) {
	d := c.d
	if d.closed || d.inner != nil {
		return
	}
	d.err = err
	if d.readPending && d.handler != nil {
		d.readPending = false
		d.handler.OnError(err)
	}
}

func (d *Delayed) SetHandler(h istream.Handler) {
	d.handler = h
	if d.inner != nil {
		d.inner.SetHandler(h)
	}
}

func (d *Delayed) Available(partial bool) int64 {
	switch {
	case d.inner != nil:
		return d.inner.Available(partial)
	case d.eof:
		return 0
	case d.err != nil:
		return -1
	default:
		return -1 // unresolved: unknown, and "more" is implicitly true
	}
}

func (d *Delayed) Skip(n int64) int64 {
	if d.inner != nil {
		return d.inner.Skip(n)
	}
	return 0
}

func (d *Delayed) Read() {
	switch {
	case d.inner != nil:
		d.inner.Read()
	case d.eof:
		if d.handler != nil {
			d.handler.OnEOF()
		}
	case d.err != nil:
		if d.handler != nil {
			d.handler.OnError(d.err)
		}
	default:
		d.readPending = true
	}
}

func (d *Delayed) FillBucketList(list *bucket.List) error {
	if d.inner != nil {
		return d.inner.FillBucketList(list)
	}
	if d.err != nil {
		return d.err
	}
	list.SetMore()
	return nil
}

func (d *Delayed) ConsumeBucketList(n int) (int, bool) {
	if d.inner != nil {
		return d.inner.ConsumeBucketList(n)
	}
	return 0, d.eof
}

func (d *Delayed) ConsumeDirect(n int64) error {
	if d.inner != nil {
		return d.inner.ConsumeDirect(n)
	}
	return nil
}

func (d *Delayed) AsFD() (istream.Descriptor, bool) {
	if d.inner != nil {
		return d.inner.AsFD()
	}
	return istream.Descriptor{}, false
}

func (d *Delayed) SetDirect(mask istream.DirectMask) {
	if d.inner != nil {
		d.inner.SetDirect(mask)
	}
}

func (d *Delayed) Close() {
	if d.closed {
		return
	}
	d.closed = true
	if d.inner != nil {
		d.inner.Close()
		return
	}
	if d.onCancel != nil {
		d.onCancel()
	}
}
