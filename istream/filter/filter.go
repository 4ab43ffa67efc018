// Package filter implements the one-input/one-output stream
// transforms of spec §4.D: head/byte/four throttles, chunked/dechunk,
// the gzip/brotli/deflate compressors, subst, replace, auto-pipe,
// catch, inject, hold, and suspend/half-suspend.
//
// All filters share the same contract (spec §4.D): a filter owns its
// input as a Handler, exposes itself as a Stream to its downstream
// handler, propagates an input error once and self-destructs, flushes
// queued output before forwarding EOF, and closes its input when
// closed.
package filter

import "github.com/bpcore/flowproxy/istream"

// base is embedded by every filter to hold the shared
// handler/closed/destroyed bookkeeping and give a single place to
// implement the "propagate once" error rule.
type base struct {
	handler   istream.Handler
	closed    bool
	destroyed bool
}

func (b *base) setHandler(h istream.Handler) { b.handler = h }

// deliverError forwards err to the downstream handler exactly once.
func (b *base) deliverError(err error) {
	if b.destroyed {
		return
	}
	b.destroyed = true
	if b.handler != nil {
		b.handler.OnError(err)
	}
}

func (b *base) deliverEOF() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	if b.handler != nil {
		b.handler.OnEOF()
	}
}
