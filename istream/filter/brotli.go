package filter

import (
	"github.com/andybalholm/brotli"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/fanout"
)

// Brotli compresses its input with brotli, via andybalholm/brotli.
// Grounded on modules/caddyhttp/encode/brotli/brotli.go.
type Brotli struct{ *compressor }

// NewBrotli wraps input with a brotli encoder at the given quality
// (brotli.DefaultCompression if zero), dispatching compression work
// to pool (nil runs inline on the calling goroutine).
func NewBrotli(input istream.Stream, quality int, pool *fanout.OffloadPool) *Brotli {
	c := &compressor{pool: pool, result: make(chan error, 1)}
	if quality == 0 {
		quality = brotli.DefaultCompression
	}
	w := brotli.NewWriterLevel(&c.workBuf, quality)
	c.input = input
	c.writer = w
	input.SetHandler(c)
	return &Brotli{compressor: c}
}
