package sink

import "github.com/bpcore/flowproxy/istream"

// Block never accepts any data (OnData always returns 0), used in
// tests to exercise a permanently-backpressured consumer. It still
// reports EOF/Error as the terminal result, but Done via OnEOF only
// happens if input reaches EOF without ever offering data (since any
// offered data is refused and input will normally then stall).
type Block struct {
	base
}

func NewBlock(input istream.Stream, onReady func()) *Block {
	b := &Block{}
	b.start(input, onReady)
	input.SetHandler(b)
	return b
}

func (b *Block) OnData(data []byte) (int, istream.Disposition) { return 0, istream.Continue }

func (b *Block) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	return 0, istream.DirectBlocking, istream.Continue
}

func (b *Block) OnEOF() { b.finishOK() }

func (b *Block) OnError(err error) { b.finishErr(err) }
