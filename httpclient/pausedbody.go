package httpclient

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// pausedBody gates pull of a request body Stream behind an explicit
// Release/Discard decision, implementing the "optional stream gated
// by the control pair" spec §4.H.2 describes for Expect: 100-continue
// bodies: input is never even Read() until Release is called, and
// Discard tears it down instead of ever sending it (any other final
// status before 100 Continue).
type pausedBody struct {
	input     istream.Stream
	handler   istream.Handler
	released  bool
	discarded bool
}

func newPausedBody(input istream.Stream) *pausedBody {
	p := &pausedBody{input: input}
	input.SetHandler(p)
	return p
}

// Release allows the body to be pulled and forwarded normally. The
// caller is responsible for driving a subsequent Read() (e.g. via the
// request writer's pump) now that pulling is unblocked.
func (p *pausedBody) Release() {
	if p.released || p.discarded {
		return
	}
	p.released = true
}

// Discard tears down the withheld body without ever sending it.
func (p *pausedBody) Discard() {
	if p.released || p.discarded {
		return
	}
	p.discarded = true
	p.input.Close()
	if p.handler != nil {
		p.handler.OnEOF()
	}
}

func (p *pausedBody) SetHandler(h istream.Handler) { p.handler = h }

func (p *pausedBody) Available(partial bool) int64 {
	if p.discarded {
		return 0
	}
	if !p.released {
		return -1
	}
	return p.input.Available(partial)
}

func (p *pausedBody) Skip(n int64) int64 {
	if !p.released {
		return 0
	}
	return p.input.Skip(n)
}

func (p *pausedBody) Read() {
	if p.discarded {
		if p.handler != nil {
			p.handler.OnEOF()
		}
		return
	}
	if !p.released {
		return
	}
	p.input.Read()
}

func (p *pausedBody) FillBucketList(list *bucket.List) error {
	if !p.released {
		list.EnableFallback()
		return nil
	}
	return p.input.FillBucketList(list)
}

func (p *pausedBody) ConsumeBucketList(n int) (int, bool) {
	if !p.released {
		return 0, false
	}
	return p.input.ConsumeBucketList(n)
}

func (p *pausedBody) ConsumeDirect(n int64) error { return p.input.ConsumeDirect(n) }

func (p *pausedBody) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (p *pausedBody) SetDirect(mask istream.DirectMask) { p.input.SetDirect(mask) }

func (p *pausedBody) Close() {
	if p.discarded {
		return
	}
	p.input.Close()
}

// --- Handler side: forwarding input's callbacks once released ---

func (p *pausedBody) OnData(data []byte) (int, istream.Disposition) {
	if p.handler == nil {
		return len(data), istream.Continue
	}
	return p.handler.OnData(data)
}

func (p *pausedBody) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	if p.handler == nil {
		return maxLen, istream.DirectOK, istream.Continue
	}
	return p.handler.OnDirect(kind, fd, offset, maxLen, thenEOF)
}

func (p *pausedBody) OnEOF() {
	if p.handler != nil {
		p.handler.OnEOF()
	}
}

func (p *pausedBody) OnError(err error) {
	if p.handler != nil {
		p.handler.OnError(err)
	}
}
