// Package sink implements the terminal consumers of spec §4 that
// accept a Stream's output without themselves being a Stream: Growing
// (into a gbuf.GrowingBuffer), Rubber (into a pool.Rubber allocation),
// and Block (a sink that never accepts anything, used to test
// backpressure against a permanently-blocked consumer).
package sink

import "github.com/bpcore/flowproxy/istream"

// Result is reported once a sink reaches a terminal state.
type Result int

const (
	// Pending means the sink has not yet reached a terminal state.
	Pending Result = iota
	Done
	Error
)

// base is shared bookkeeping for every sink: it drives input to
// completion and exposes the outcome to its owner via a callback.
type base struct {
	input   istream.Stream
	result  Result
	err     error
	onReady func()
}

func (b *base) start(input istream.Stream, onReady func()) {
	b.input = input
	b.onReady = onReady
}

func (b *base) finishOK() {
	if b.result != Pending {
		return
	}
	b.result = Done
	if b.onReady != nil {
		b.onReady()
	}
}

func (b *base) finishErr(err error) {
	if b.result != Pending {
		return
	}
	b.result = Error
	b.err = err
	if b.onReady != nil {
		b.onReady()
	}
}

// Result reports the sink's current terminal state.
func (b *base) Result() Result { return b.result }

// Err reports the error that ended the sink, if Result is Error.
func (b *base) Err() error { return b.err }

// Read drives the underlying input one step; call repeatedly (or from
// an event loop's readiness notification) until Result() != Pending.
func (b *base) Read() { b.input.Read() }
