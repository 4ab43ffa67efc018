package fanout

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// Tee duplicates a single input to two outputs: Strong, whose handler
// is the stream's real consumer (closing it tears down the whole Tee
// and its input), and Weak, a best-effort second consumer (e.g. a
// cache-fill sidecar) that does not keep the Tee alive on its own.
//
// A push from input is acknowledged to input only once every attached
// output has accepted it; the minimum acknowledgement across outputs
// advances the master cursor (spec §4.D). Bytes not yet accepted by
// the slowest output are held in a private copy (buf) so a faster
// output is never re-delivered the same bytes on retry. Grounded on
// original_source/src/istream/TeeIstream.cxx and spec §8 scenario 7.
type Tee struct {
	input  istream.Stream
	strong teeSlot
	weak   teeSlot

	buf     []byte
	skipped int64
	closed  bool
}

type teeSlot struct {
	handler  istream.Handler
	attached bool
	pos      int
}

// NewTee returns the Strong and Weak output facades for input. Both
// must have SetHandler called before Read is driven on either.
func NewTee(input istream.Stream) (strong *TeeOutput, weak *TeeOutput) {
	t := &Tee{input: input}
	input.SetHandler(t)
	return &TeeOutput{tee: t, isStrong: true}, &TeeOutput{tee: t, isStrong: false}
}

// Skipped reports how many bytes the weak output has missed entirely
// (never delivered): the undelivered rest of the buffer when weak
// destroyed itself during a delivery, plus every byte of a direct
// transfer, which goes to the strong output only. Detaching weak by
// other means adds nothing to the count.
func (t *Tee) Skipped() int64 { return t.skipped }

// flush offers buf[slot.pos:] to an attached slot's handler and
// advances its cursor. It reports whether the slot destroyed itself.
func (t *Tee) flush(slot *teeSlot) (destroyed bool) {
	if !slot.attached || slot.handler == nil || slot.pos >= len(t.buf) {
		return false
	}
	n, disp := slot.handler.OnData(t.buf[slot.pos:])
	slot.pos += n
	return disp == istream.Destroyed
}

// retire trims buf by the amount every attached slot has now accepted
// and returns that amount (the count the upstream producer may treat
// as consumed).
func (t *Tee) retire() int {
	min := len(t.buf)
	any := false
	for _, slot := range []*teeSlot{&t.strong, &t.weak} {
		if slot.attached {
			any = true
			if slot.pos < min {
				min = slot.pos
			}
		}
	}
	if !any {
		min = len(t.buf)
	}
	if min <= 0 {
		return 0
	}
	t.buf = t.buf[min:]
	t.strong.pos -= min
	if t.strong.pos < 0 {
		t.strong.pos = 0
	}
	t.weak.pos -= min
	if t.weak.pos < 0 {
		t.weak.pos = 0
	}
	return min
}

func (t *Tee) OnData(data []byte) (int, istream.Disposition) {
	consumed := 0
	if len(t.buf) > 0 {
		// A prior push hasn't fully drained. The producer re-sends from
		// its cursor, so data begins with exactly the bytes still held
		// in buf; retry those first and only then look at what follows,
		// so a fast output already past this backlog is never
		// re-delivered it.
		t.drain()
		if t.closed {
			return consumed, istream.Destroyed
		}
		consumed = t.retire()
		if len(t.buf) > 0 {
			return consumed, istream.Continue
		}
		if consumed >= len(data) {
			return len(data), istream.Continue
		}
		data = data[consumed:]
	}
	t.buf = append(t.buf[:0], data...)
	t.strong.pos = 0
	t.weak.pos = 0
	t.drain()
	n := t.retire()
	consumed += n
	if t.closed {
		return consumed, istream.Destroyed
	}
	return consumed, istream.Continue
}

// drain pushes the current buffer to both attached outputs, detaching
// weak (without touching strong) if weak destroys itself, and tearing
// down the whole Tee if strong does.
func (t *Tee) drain() {
	if t.flush(&t.strong) {
		t.closed = true
		t.input.Close()
		return
	}
	if t.weak.attached && t.flush(&t.weak) {
		t.skipped += int64(len(t.buf) - t.weak.pos)
		t.weak.attached = false
		t.weak.handler = nil
	}
}

func (t *Tee) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	// Direct (splice) transfer bypasses the buffered copy the weak side
	// would need to inspect, so it is routed to the strong side only;
	// the weak side simply accrues Skipped for these bytes.
	if !t.strong.attached || t.strong.handler == nil {
		return maxLen, istream.DirectOK, istream.Continue
	}
	n, res, disp := t.strong.handler.OnDirect(kind, fd, offset, maxLen, thenEOF)
	if n > 0 {
		t.skipped += n
	}
	if disp == istream.Destroyed {
		t.closed = true
		t.input.Close()
	}
	return n, res, disp
}

func (t *Tee) OnEOF() {
	if t.strong.attached && t.strong.handler != nil {
		t.strong.handler.OnEOF()
	}
	if t.weak.attached && t.weak.handler != nil {
		t.weak.handler.OnEOF()
	}
}

func (t *Tee) OnError(err error) {
	if t.strong.attached && t.strong.handler != nil {
		t.strong.handler.OnError(err)
	}
	if t.weak.attached && t.weak.handler != nil {
		t.weak.handler.OnError(err)
	}
}

// TeeOutput is one of Tee's two output facades.
type TeeOutput struct {
	tee      *Tee
	isStrong bool
}

func (o *TeeOutput) slot() *teeSlot {
	if o.isStrong {
		return &o.tee.strong
	}
	return &o.tee.weak
}

func (o *TeeOutput) SetHandler(h istream.Handler) {
	slot := o.slot()
	slot.handler = h
	slot.attached = h != nil
}

func (o *TeeOutput) Available(partial bool) int64 { return o.tee.input.Available(partial) }

func (o *TeeOutput) Skip(n int64) int64 {
	if o.isStrong {
		return o.tee.input.Skip(n)
	}
	return 0
}

func (o *TeeOutput) Read() {
	if o.isStrong {
		o.tee.input.Read()
		return
	}
	// The weak side can't independently drive input, but it can nudge
	// delivery of whatever backlog is already buffered for it.
	if o.tee.flush(&o.tee.weak) {
		o.tee.skipped += int64(len(o.tee.buf) - o.tee.weak.pos)
		o.tee.weak.attached = false
		o.tee.weak.handler = nil
	}
}

func (o *TeeOutput) FillBucketList(list *bucket.List) error {
	if !o.isStrong {
		list.EnableFallback()
		return nil
	}
	return o.tee.input.FillBucketList(list)
}

func (o *TeeOutput) ConsumeBucketList(n int) (int, bool) {
	if !o.isStrong {
		return 0, false
	}
	return o.tee.input.ConsumeBucketList(n)
}

func (o *TeeOutput) ConsumeDirect(n int64) error {
	if !o.isStrong {
		return nil
	}
	return o.tee.input.ConsumeDirect(n)
}

func (o *TeeOutput) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (o *TeeOutput) SetDirect(mask istream.DirectMask) {
	if o.isStrong {
		o.tee.input.SetDirect(mask)
	}
}

// Close detaches this output. Closing the strong output tears down
// the shared input (and implicitly the weak side); closing the weak
// output only detaches it, leaving strong and the input running.
func (o *TeeOutput) Close() {
	if o.isStrong {
		if o.tee.closed {
			return
		}
		o.tee.closed = true
		o.tee.input.Close()
		return
	}
	o.tee.weak.attached = false
	o.tee.weak.handler = nil
}
