package filter

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// Catch intercepts an input error and gives a callback the chance to
// recover it into a clean EOF (e.g. treating a truncated upstream body
// as "done" rather than failing the whole response). If the callback
// returns false the error is forwarded unchanged. Grounded on
// original_source/src/istream/CatchIstream.cxx.
type Catch struct {
	base
	input   istream.Stream
	recover func(err error) bool
}

func NewCatch(input istream.Stream, recover func(err error) bool) *Catch {
	c := &Catch{input: input, recover: recover}
	input.SetHandler(c)
	return c
}

func (c *Catch) SetHandler(h istream.Handler) { c.setHandler(h) }

func (c *Catch) Available(partial bool) int64 { return c.input.Available(partial) }

func (c *Catch) Skip(n int64) int64 { return c.input.Skip(n) }

func (c *Catch) Read() { c.input.Read() }

func (c *Catch) FillBucketList(list *bucket.List) error { return c.input.FillBucketList(list) }

func (c *Catch) ConsumeBucketList(n int) (int, bool) { return c.input.ConsumeBucketList(n) }

func (c *Catch) ConsumeDirect(n int64) error { return c.input.ConsumeDirect(n) }

func (c *Catch) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (c *Catch) SetDirect(mask istream.DirectMask) { c.input.SetDirect(mask) }

func (c *Catch) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.input.Close()
}

func (c *Catch) OnData(data []byte) (int, istream.Disposition) {
	if c.handler == nil {
		return len(data), istream.Continue
	}
	return c.handler.OnData(data)
}

func (c *Catch) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	if c.handler == nil {
		return maxLen, istream.DirectOK, istream.Continue
	}
	return c.handler.OnDirect(kind, fd, offset, maxLen, thenEOF)
}

func (c *Catch) OnEOF() { c.deliverEOF() }

func (c *Catch) OnError(err error) {
	if c.recover != nil && c.recover(err) {
		c.deliverEOF()
		return
	}
	c.deliverError(err)
}
