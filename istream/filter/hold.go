package filter

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// Hold buffers everything input produces and withholds it from the
// downstream handler until Release is called, at which point anything
// already buffered (and everything input produces from then on) is
// forwarded normally. Used to gate a response body behind a decision
// that needs to see the whole thing first (e.g. a size-dependent
// content-encoding choice). Grounded on
// original_source/src/istream/HoldIstream.hxx.
type Hold struct {
	base
	input    istream.Stream
	released bool
	buf      []byte
	inputEOF bool
	inputErr error
}

func NewHold(input istream.Stream) *Hold {
	h := &Hold{input: input}
	input.SetHandler(h)
	return h
}

// Release lets buffered and future data reach the downstream handler.
func (h *Hold) Release() {
	if h.released {
		return
	}
	h.released = true
	h.tryFlush()
}

func (h *Hold) SetHandler(handler istream.Handler) { h.setHandler(handler) }

func (h *Hold) Available(partial bool) int64 {
	if !h.released {
		return -1
	}
	return h.input.Available(partial)
}

func (h *Hold) Skip(n int64) int64 {
	if !h.released {
		return 0
	}
	return h.input.Skip(n)
}

func (h *Hold) Read() {
	if !h.released {
		h.input.Read()
		return
	}
	if len(h.buf) > 0 {
		h.tryFlush()
		return
	}
	h.input.Read()
}

func (h *Hold) FillBucketList(list *bucket.List) error {
	if !h.released {
		list.EnableFallback()
		return nil
	}
	return h.input.FillBucketList(list)
}

func (h *Hold) ConsumeBucketList(n int) (int, bool) {
	if !h.released {
		return 0, false
	}
	return h.input.ConsumeBucketList(n)
}

func (h *Hold) ConsumeDirect(n int64) error { return h.input.ConsumeDirect(n) }

func (h *Hold) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (h *Hold) SetDirect(mask istream.DirectMask) { h.input.SetDirect(mask) }

func (h *Hold) Close() {
	if h.closed {
		return
	}
	h.closed = true
	h.input.Close()
}

func (h *Hold) tryFlush() {
	if !h.released || h.handler == nil {
		return
	}
	if len(h.buf) > 0 {
		n, disp := h.handler.OnData(h.buf)
		if disp == istream.Destroyed {
			return
		}
		h.buf = h.buf[n:]
		if len(h.buf) > 0 {
			return
		}
	}
	if h.inputErr != nil {
		h.deliverError(h.inputErr)
	} else if h.inputEOF {
		h.deliverEOF()
	}
}

func (h *Hold) OnData(data []byte) (int, istream.Disposition) {
	if !h.released {
		h.buf = append(h.buf, data...)
		return len(data), istream.Continue
	}
	if len(h.buf) > 0 {
		// Leftover from before Release that the downstream only
		// partially accepted; keep delivery in order.
		h.buf = append(h.buf, data...)
		h.tryFlush()
		return len(data), istream.Continue
	}
	if h.handler == nil {
		return len(data), istream.Continue
	}
	return h.handler.OnData(data)
}

func (h *Hold) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	if !h.released {
		return 0, istream.DirectBlocking, istream.Continue
	}
	if h.handler == nil {
		return maxLen, istream.DirectOK, istream.Continue
	}
	return h.handler.OnDirect(kind, fd, offset, maxLen, thenEOF)
}

func (h *Hold) OnEOF() {
	if !h.released {
		h.inputEOF = true
		return
	}
	h.deliverEOF()
}

func (h *Hold) OnError(err error) {
	if !h.released {
		h.inputErr = err
		return
	}
	h.deliverError(err)
}
