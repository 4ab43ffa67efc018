// Package gbuf implements GrowingBuffer, the chunk-list byte container
// used to accumulate generated content (response headers, rewritten
// fragments) without the repeated copying a single growing []byte
// would need. Grounded on
// original_source/src/istream/GrowingBuffer.cxx.
package gbuf

import "github.com/bpcore/flowproxy/pool"

type chunk struct {
	buf  []byte
	head int
	tail int
	next *chunk
}

func (c *chunk) data() []byte { return c.buf[c.head:c.tail] }

// GrowingBuffer is an append-only, chunked byte buffer with a single
// read cursor. Small writes are coalesced into the tail chunk's spare
// capacity rather than each allocating their own chunk; Write falls
// back to an oversized chunk when a single write is larger than one
// slab-sized chunk. ReserveAndPrepend additionally supports inserting
// a fixed-size header in front of everything already buffered, used
// by protocol encoders that only learn a length once the body they're
// framing is fully generated.
type GrowingBuffer struct {
	slab        *pool.Slab
	first, last *chunk
	size        int64

	readChunk *chunk
	readPos   int
	consumed  int64
}

// New returns an empty GrowingBuffer whose chunks are sized from slab
// (pool.DefaultSlab if nil).
func New(slab *pool.Slab) *GrowingBuffer {
	if slab == nil {
		slab = pool.DefaultSlab
	}
	return &GrowingBuffer{slab: slab}
}

// Len reports the number of bytes written but not yet consumed.
func (g *GrowingBuffer) Len() int64 { return g.size - g.consumed }

// Write appends data, using the last chunk's spare tail capacity first
// (the small-write optimization) and allocating a new chunk only once
// that is exhausted.
func (g *GrowingBuffer) Write(data []byte) (int, error) {
	total := len(data)
	for len(data) > 0 {
		if g.last != nil && g.last.tail < len(g.last.buf) {
			room := len(g.last.buf) - g.last.tail
			n := room
			if n > len(data) {
				n = len(data)
			}
			copy(g.last.buf[g.last.tail:], data[:n])
			g.last.tail += n
			data = data[n:]
			g.size += int64(n)
			continue
		}
		size := g.slab.ChunkSize()
		if len(data) > size {
			size = len(data)
		}
		buf := make([]byte, size)
		n := copy(buf, data)
		c := &chunk{buf: buf, head: 0, tail: n}
		g.appendChunk(c)
		data = data[n:]
		g.size += int64(n)
	}
	return total, nil
}

// WriteString is a convenience wrapper around Write.
func (g *GrowingBuffer) WriteString(s string) (int, error) { return g.Write([]byte(s)) }

func (g *GrowingBuffer) appendChunk(c *chunk) {
	if g.last != nil {
		g.last.next = c
	} else {
		g.first = c
	}
	g.last = c
	if g.readChunk == nil {
		g.readChunk = c
	}
}

// ReserveAndPrepend reserves n bytes at the very front of the buffer,
// ahead of any content already written, and returns that span for the
// caller to fill in place (e.g. with a just-computed length header).
// The reserved bytes count toward Len immediately.
func (g *GrowingBuffer) ReserveAndPrepend(n int) []byte {
	size := g.slab.ChunkSize()
	if n > size {
		size = n
	}
	buf := make([]byte, size)
	head := size - n
	c := &chunk{buf: buf, head: head, tail: size}
	c.next = g.first
	g.first = c
	if g.last == nil {
		g.last = c
	}
	if g.readChunk == nil || (g.readChunk == c.next) {
		g.readChunk = c
		g.readPos = head
	}
	g.size += int64(n)
	return buf[head:size]
}

// FillBucketList hands the unconsumed chunk spans to pushSpan, in
// order, as borrowed slices.
func (g *GrowingBuffer) FillBucketList(pushSpan func(data []byte)) {
	c := g.readChunk
	pos := g.readPos
	for c != nil {
		span := c.buf[pos:c.tail]
		if len(span) > 0 {
			pushSpan(span)
		}
		c = c.next
		pos = 0
		if c != nil {
			pos = c.head
		}
	}
}

// Consume advances the read cursor by n bytes.
func (g *GrowingBuffer) Consume(n int) {
	g.consumed += int64(n)
	for n > 0 && g.readChunk != nil {
		avail := g.readChunk.tail - g.readPos
		if avail > n {
			g.readPos += n
			return
		}
		n -= avail
		g.readChunk = g.readChunk.next
		if g.readChunk != nil {
			g.readPos = g.readChunk.head
		} else {
			g.readPos = 0
		}
	}
}

// Peek returns up to n unconsumed bytes without advancing the cursor,
// copying across a chunk boundary only if necessary.
func (g *GrowingBuffer) Peek(n int) []byte {
	if g.readChunk == nil {
		return nil
	}
	first := g.readChunk.buf[g.readPos:g.readChunk.tail]
	if len(first) >= n || g.readChunk.next == nil {
		if len(first) > n {
			return first[:n]
		}
		return first
	}
	out := make([]byte, 0, n)
	c := g.readChunk
	pos := g.readPos
	for c != nil && len(out) < n {
		span := c.buf[pos:c.tail]
		remain := n - len(out)
		if len(span) > remain {
			span = span[:remain]
		}
		out = append(out, span...)
		c = c.next
		pos = 0
		if c != nil {
			pos = c.head
		}
	}
	return out
}

// Bytes materializes the entire unconsumed content as one contiguous
// slice. Intended for small buffers (e.g. a finished header block);
// large bodies should stream via FillBucketList instead.
func (g *GrowingBuffer) Bytes() []byte {
	out := make([]byte, 0, g.Len())
	g.FillBucketList(func(data []byte) { out = append(out, data...) })
	return out
}
