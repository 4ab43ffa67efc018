package filter

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// Head truncates its input to at most N bytes. If Authoritative is
// set, Available reports exactly N regardless of what the input
// claims. Grounded on original_source/src/istream/HeadIstream.cxx.
type Head struct {
	base
	input         istream.Stream
	remaining     int64
	authoritative bool
}

// NewHead wraps input, limiting it to n bytes.
func NewHead(input istream.Stream, n int64, authoritative bool) *Head {
	h := &Head{input: input, remaining: n, authoritative: authoritative}
	input.SetHandler(h)
	return h
}

func (h *Head) SetHandler(handler istream.Handler) { h.setHandler(handler) }

func (h *Head) Available(partial bool) int64 {
	if h.authoritative {
		return h.remaining
	}
	inner := h.input.Available(partial)
	if inner < 0 {
		return inner
	}
	if inner > h.remaining {
		return h.remaining
	}
	return inner
}

func (h *Head) Skip(n int64) int64 {
	if n > h.remaining {
		n = h.remaining
	}
	got := h.input.Skip(n)
	h.remaining -= got
	return got
}

func (h *Head) Read() {
	if h.remaining <= 0 {
		h.deliverEOF()
		return
	}
	h.input.Read()
}

func (h *Head) FillBucketList(list *bucket.List) error {
	if h.remaining <= 0 {
		return nil
	}
	inner := bucket.New()
	if err := h.input.FillBucketList(inner); err != nil {
		return err
	}
	before := inner.GetTotalBufferSize()
	moved := list.SpliceBuffersFrom(inner, h.remaining, true)
	// Spec: "if inner had more, still marks more" — even if we moved
	// every byte inner offered, inner's own more flag (or the part of
	// inner we didn't have room/budget for) must still propagate.
	if inner.More() || moved < before {
		list.SetMore()
	}
	return nil
}

func (h *Head) ConsumeBucketList(n int) (int, bool) {
	if int64(n) > h.remaining {
		n = int(h.remaining)
	}
	consumed, innerEOF := h.input.ConsumeBucketList(n)
	h.remaining -= int64(consumed)
	return consumed, innerEOF || h.remaining <= 0
}

func (h *Head) ConsumeDirect(n int64) error {
	h.remaining -= n
	return h.input.ConsumeDirect(n)
}

func (h *Head) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (h *Head) SetDirect(mask istream.DirectMask) { h.input.SetDirect(mask) }

func (h *Head) Close() {
	if h.closed {
		return
	}
	h.closed = true
	h.input.Close()
}

// --- Handler side: receiving from h.input ---

func (h *Head) OnData(data []byte) (int, istream.Disposition) {
	if int64(len(data)) > h.remaining {
		data = data[:h.remaining]
	}
	if h.handler == nil {
		return len(data), istream.Continue
	}
	n, disp := h.handler.OnData(data)
	if disp == istream.Destroyed {
		return n, disp
	}
	h.remaining -= int64(n)
	if h.remaining <= 0 {
		h.deliverEOF()
	}
	return n, istream.Continue
}

func (h *Head) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	if maxLen > h.remaining {
		maxLen = h.remaining
		thenEOF = true
	}
	if h.handler == nil {
		return maxLen, istream.DirectOK, istream.Continue
	}
	n, res, disp := h.handler.OnDirect(kind, fd, offset, maxLen, thenEOF)
	if disp == istream.Destroyed {
		return n, res, disp
	}
	h.remaining -= n
	return n, res, istream.Continue
}

func (h *Head) OnEOF() { h.deliverEOF() }

func (h *Head) OnError(err error) { h.deliverError(err) }
