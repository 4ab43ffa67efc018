package sink

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/pool"
)

// Rubber drains a Stream into a single pool.Rubber allocation, used
// for caching a response body address-stably. It allocates hintSize
// bytes up front (rounded by the allocator's granularity) and reports
// RubberTooLarge if the stream turns out to exceed the handle's
// allocated capacity, or RubberOutOfMemory if the initial Alloc itself
// failed. See SPEC_FULL.md's rubber sink supplement for the
// Allocated()-vs-Size() distinction this surfaces.
type Rubber struct {
	base
	allocator *pool.Rubber
	handle    *pool.RubberHandle
	outcome   pool.RubberOutcome
}

// NewRubber allocates hintSize bytes from allocator and starts
// draining input into it.
func NewRubber(input istream.Stream, allocator *pool.Rubber, hintSize int, onReady func()) *Rubber {
	r := &Rubber{allocator: allocator}
	r.start(input, onReady)
	handle, err := allocator.Alloc(hintSize)
	if err != nil {
		r.outcome = pool.RubberOutOfMemory
		if re, ok := err.(*pool.RubberError); ok {
			r.outcome = re.Outcome
		}
		r.finishErr(err)
		input.Close()
		return r
	}
	r.handle = handle
	input.SetHandler(r)
	return r
}

// Handle returns the backing allocation, valid once Result() == Done.
func (r *Rubber) Handle() *pool.RubberHandle { return r.handle }

// Outcome reports which pool.RubberOutcome this sink finished with.
func (r *Rubber) Outcome() pool.RubberOutcome { return r.outcome }

func (r *Rubber) OnData(data []byte) (int, istream.Disposition) {
	if err := r.allocator.Append(r.handle, data); err != nil {
		r.outcome = pool.RubberOutOfMemory
		if re, ok := err.(*pool.RubberError); ok {
			r.outcome = re.Outcome
		}
		r.finishErr(err)
		return 0, istream.Destroyed
	}
	return len(data), istream.Continue
}

func (r *Rubber) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	return 0, istream.DirectBlocking, istream.Continue
}

func (r *Rubber) OnEOF() {
	r.outcome = pool.RubberDone
	r.finishOK()
}

func (r *Rubber) OnError(err error) {
	r.outcome = pool.RubberFailed
	r.finishErr(err)
}
