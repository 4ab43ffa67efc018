// Package fanout implements the multi-input/multi-output stream
// combinators of spec §4.E: Concat (sequential substream activation),
// Tee (duplication with independent weak/strong cursors), and Offload
// (bounded thread-pool handoff for blocking producers).
package fanout

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// Concat reads a sequence of Streams one after another, presenting
// them to its handler as a single logical Stream. When one substream
// reaches EOF, the next is activated automatically; Concat reaches EOF
// only once the last substream does. Grounded on
// original_source/src/istream/ConcatIstream.cxx.
type Concat struct {
	handler   istream.Handler
	streams   []istream.Stream
	idx       int
	closed    bool
	destroyed bool
}

func NewConcat(streams ...istream.Stream) *Concat {
	c := &Concat{streams: streams}
	for _, s := range streams {
		s.SetHandler(c)
	}
	return c
}

func (c *Concat) SetHandler(h istream.Handler) { c.handler = h }

func (c *Concat) current() istream.Stream {
	for c.idx < len(c.streams) {
		return c.streams[c.idx]
	}
	return nil
}

func (c *Concat) Available(partial bool) int64 {
	var total int64
	for i := c.idx; i < len(c.streams); i++ {
		a := c.streams[i].Available(partial)
		if a < 0 {
			return -1
		}
		total += a
	}
	if len(c.streams) == c.idx {
		return 0
	}
	return total
}

func (c *Concat) Skip(n int64) int64 {
	cur := c.current()
	if cur == nil {
		return 0
	}
	return cur.Skip(n)
}

func (c *Concat) Read() {
	cur := c.current()
	if cur == nil {
		c.deliverEOF()
		return
	}
	cur.Read()
}

func (c *Concat) FillBucketList(list *bucket.List) error {
	cur := c.current()
	if cur == nil {
		return nil
	}
	if err := cur.FillBucketList(list); err != nil {
		return err
	}
	if !list.More() && len(c.streams) > c.idx+1 {
		list.SetMore()
	}
	return nil
}

func (c *Concat) ConsumeBucketList(n int) (int, bool) {
	cur := c.current()
	if cur == nil {
		return 0, true
	}
	consumed, eof := cur.ConsumeBucketList(n)
	if eof {
		return consumed, c.advance()
	}
	return consumed, false
}

func (c *Concat) ConsumeDirect(n int64) error {
	cur := c.current()
	if cur == nil {
		return nil
	}
	return cur.ConsumeDirect(n)
}

func (c *Concat) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (c *Concat) SetDirect(mask istream.DirectMask) {
	for _, s := range c.streams[c.idx:] {
		s.SetDirect(mask)
	}
}

func (c *Concat) Close() {
	if c.closed {
		return
	}
	c.closed = true
	for i := c.idx; i < len(c.streams); i++ {
		c.streams[i].Close()
	}
}

func (c *Concat) deliverEOF() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	if c.handler != nil {
		c.handler.OnEOF()
	}
}

func (c *Concat) deliverError(err error) {
	if c.destroyed {
		return
	}
	c.destroyed = true
	if c.handler != nil {
		c.handler.OnError(err)
	}
}

// advance moves to the next substream, returning whether Concat as a
// whole is now at EOF.
func (c *Concat) advance() bool {
	c.idx++
	return c.idx >= len(c.streams)
}

// --- Handler side: receiving from the current substream ---

func (c *Concat) OnData(data []byte) (int, istream.Disposition) {
	if c.handler == nil {
		return len(data), istream.Continue
	}
	return c.handler.OnData(data)
}

func (c *Concat) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	if thenEOF && len(c.streams) > c.idx+1 {
		thenEOF = false
	}
	if c.handler == nil {
		return maxLen, istream.DirectOK, istream.Continue
	}
	return c.handler.OnDirect(kind, fd, offset, maxLen, thenEOF)
}

func (c *Concat) OnEOF() {
	if c.advance() {
		c.deliverEOF()
		return
	}
	c.current().Read()
}

func (c *Concat) OnError(err error) { c.deliverError(err) }
