package source

import (
	"io"
	"os"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
	"github.com/bpcore/flowproxy/pool"
)

// PipeLease is a Stream over a leased pipe pair that already has a
// known number of bytes written to it (e.g. the output of a CPU-bound
// filter's worker, see istream/fanout.Offload). Push mode reads the
// pipe into an internal slab buffer; direct mode offers the read end
// for splicing straight to the caller's fd. Grounded on
// original_source/src/istream/PipeLeaseIstream.cxx.
type PipeLease struct {
	lease     *pool.PipeLease
	remaining int64
	direct    bool
	slab      []byte
	handler   istream.Handler
}

// NewPipeLease wraps lease, whose read end already has n unread bytes
// waiting.
func NewPipeLease(lease *pool.PipeLease, n int64) *PipeLease {
	return &PipeLease{lease: lease, remaining: n}
}

func (p *PipeLease) SetHandler(h istream.Handler) { p.handler = h }

func (p *PipeLease) Available(partial bool) int64 { return p.remaining }

func (p *PipeLease) Skip(n int64) int64 {
	if n > p.remaining {
		n = p.remaining
	}
	if n <= 0 {
		return 0
	}
	if _, err := io.CopyN(io.Discard, p.lease.ReadEnd(), n); err != nil {
		return 0
	}
	p.remaining -= n
	return n
}

func (p *PipeLease) Read() {
	if p.handler == nil {
		return
	}
	if p.remaining <= 0 {
		p.finish()
		return
	}
	if p.slab == nil {
		p.slab = make([]byte, 32*1024)
	}
	want := int64(len(p.slab))
	if want > p.remaining {
		want = p.remaining
	}
	n, err := p.lease.ReadEnd().Read(p.slab[:want])
	if n > 0 {
		accepted, disp := p.handler.OnData(p.slab[:n])
		if disp == istream.Destroyed {
			return
		}
		p.remaining -= int64(accepted)
	}
	if err != nil && err != io.EOF {
		p.handler.OnError(err)
		return
	}
	if p.remaining <= 0 {
		p.finish()
	}
}

func (p *PipeLease) finish() {
	p.lease.Release(pool.PipeReuse)
	if p.handler != nil {
		p.handler.OnEOF()
	}
}

func (p *PipeLease) FillBucketList(list *bucket.List) error {
	// Bucket/pull mode can't expose pipe contents without copying
	// them through a slab first; signal fallback so the consumer uses
	// push mode instead (mirrors the original's own pipe handling).
	list.EnableFallback()
	return nil
}

func (p *PipeLease) ConsumeBucketList(n int) (int, bool) { return 0, p.remaining <= 0 }

func (p *PipeLease) ConsumeDirect(n int64) error {
	p.remaining -= n
	if p.remaining <= 0 {
		p.lease.Release(pool.PipeReuse)
	}
	return nil
}

func (p *PipeLease) AsFD() (istream.Descriptor, bool) {
	if f, ok := p.lease.ReadEnd().(*os.File); ok {
		d := istream.Descriptor{Kind: istream.FDPipe, FD: f.Fd(), Length: p.remaining, Owned: true}
		p.lease.Abandon()
		return d, true
	}
	return istream.Descriptor{}, false
}

func (p *PipeLease) SetDirect(mask istream.DirectMask) { p.direct = mask.Accepts(istream.FDPipe) }

func (p *PipeLease) Close() {
	p.lease.Release(pool.PipeDestroy)
}
