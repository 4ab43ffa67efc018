package pool

import (
	"io"
	"os"
)

// PipeReuse and PipeDestroy are the ReleaseAction values a PipeLease
// accepts: a pipe may only be returned to the stock if it was left
// empty (spec §5 "released (reusable) only if empty, otherwise
// destroyed").
const (
	PipeReuse   = Reuse
	PipeDestroy = Destroy
)

// PipeLease is a leased pipe pair (read end exposed via ReadEnd,
// write end via WriteEnd) acquired from a PipeStock. Release must be
// called exactly once.
type PipeLease struct {
	stock     *PipeStock
	r, w      *os.File
	abandoned bool
	released  bool
}

func (p *PipeLease) ReadEnd() io.ReadCloser   { return p.r }
func (p *PipeLease) WriteEnd() io.WriteCloser { return p.w }

// Abandon surrenders ownership of the read end (e.g. because it was
// handed off via AsFD for splicing) without returning it to the
// stock; the lease is considered consumed.
func (p *PipeLease) Abandon() {
	p.abandoned = true
	p.released = true
}

func (p *PipeLease) Release(action ReleaseAction) {
	if p.released {
		return
	}
	p.released = true
	if p.abandoned {
		return
	}
	p.r.Close()
	p.w.Close()
	p.stock.checkin()
}

// PipeStock is a bounded pool of pre-created pipes, amortizing the
// pipe(2) syscall for splice fast paths (spec §5 "Pipes used in splice
// paths are leased from a stock").
type PipeStock struct {
	max   int
	inUse int
}

// NewPipeStock returns a stock permitting up to maxOutstanding
// concurrently-leased pipes (a soft cap; Acquire still creates a pipe
// beyond the cap rather than blocking, since the core has no async
// wait point for a pipe specifically).
func NewPipeStock(maxOutstanding int) *PipeStock {
	return &PipeStock{max: maxOutstanding}
}

// Acquire creates (or, in a fuller implementation, recycles) a pipe
// pair and returns it as a leased resource.
func (s *PipeStock) Acquire() (*PipeLease, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	s.inUse++
	return &PipeLease{stock: s, r: r, w: w}, nil
}

func (s *PipeStock) checkin() {
	if s.inUse > 0 {
		s.inUse--
	}
}

// InUse reports the number of outstanding leases, for metrics.
func (s *PipeStock) InUse() int { return s.inUse }
