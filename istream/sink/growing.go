package sink

import (
	"github.com/bpcore/flowproxy/gbuf"
	"github.com/bpcore/flowproxy/istream"
)

// Growing drains a Stream into a gbuf.GrowingBuffer, accepting
// whatever push-mode data arrives (it never applies backpressure)
// until input reaches EOF or errors. Used for small, fully-buffered
// outputs such as assembled response headers.
type Growing struct {
	base
	buf *gbuf.GrowingBuffer
}

// NewGrowing starts draining input into buf, invoking onReady once the
// sink reaches a terminal state.
func NewGrowing(input istream.Stream, buf *gbuf.GrowingBuffer, onReady func()) *Growing {
	g := &Growing{buf: buf}
	g.start(input, onReady)
	input.SetHandler(g)
	return g
}

// Buffer returns the destination buffer.
func (g *Growing) Buffer() *gbuf.GrowingBuffer { return g.buf }

func (g *Growing) OnData(data []byte) (int, istream.Disposition) {
	g.buf.Write(data)
	return len(data), istream.Continue
}

func (g *Growing) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	return 0, istream.DirectBlocking, istream.Continue
}

func (g *Growing) OnEOF() { g.finishOK() }

func (g *Growing) OnError(err error) { g.finishErr(err) }
