package filter

import (
	"strconv"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// MaxChunkSize bounds how many body bytes Chunked wraps into a single
// chunk frame, matching the wire-format sizing chosen for this module
// (spec §4.D); larger pushes from input are split across frames.
const MaxChunkSize = 32768

// chunkSeg is one planned element of the bucket-mode output: either a
// generated framing span (header, chunk-trailing CRLF, terminator) or
// a count of inner data bytes that belong to the current chunk.
type chunkSeg struct {
	gen   []byte // owned framing bytes; nil for an inner-data segment
	inner int64  // inner data bytes still unconsumed (gen == nil)
}

// Chunked wraps its input in HTTP/1.1 chunked transfer-coding: each
// push from input becomes "<hex-size>\r\n<data>\r\n", and input's EOF
// becomes the terminating "0\r\n\r\n". Bucket mode interleaves
// generated framing spans with the input's own borrowed buckets, up to
// MaxChunkSize data bytes per frame, tracked by a segment plan so a
// partial consume resumes exactly where it stopped. Grounded on
// original_source/src/istream/ChunkedIstream.cxx.
type Chunked struct {
	base
	input    istream.Stream
	pending  []byte
	inputEOF bool

	segs         []chunkSeg
	plannedInner int64 // inner bytes covered by segs but not yet consumed
	termQueued   bool
}

func NewChunked(input istream.Stream) *Chunked {
	c := &Chunked{input: input}
	input.SetHandler(c)
	return c
}

func (c *Chunked) SetHandler(h istream.Handler) { c.setHandler(h) }

func (c *Chunked) Available(partial bool) int64 {
	if len(c.segs) > 0 {
		// Mid-bucket-walk: the unconsumed segment plan is an exact
		// lower bound, but framing not yet planned is unknown.
		var queued int64
		for _, s := range c.segs {
			queued += int64(len(s.gen)) + s.inner
		}
		if partial {
			return queued
		}
		return -1
	}
	total := int64(len(c.pending))
	if c.inputEOF {
		return total
	}
	inner := c.input.Available(partial)
	if inner < 0 {
		if partial {
			return total
		}
		return -1
	}
	return total + inner + frameOverhead(inner) + 5
}

// frameOverhead reports the framing bytes frame() will wrap around n
// input bytes: a hex size line plus CRLF pairs per chunk, with the
// terminating "0\r\n\r\n" accounted separately by Available.
func frameOverhead(n int64) int64 {
	var o int64
	for n > 0 {
		chunk := n
		if chunk > MaxChunkSize {
			chunk = MaxChunkSize
		}
		o += int64(len(strconv.FormatInt(chunk, 16))) + 4
		n -= chunk
	}
	return o
}

func (c *Chunked) Skip(n int64) int64 { return 0 }

func (c *Chunked) Read() {
	if len(c.pending) > 0 {
		c.tryFlush()
		return
	}
	if c.inputEOF {
		c.deliverEOF()
		return
	}
	c.input.Read()
}

func (c *Chunked) FillBucketList(list *bucket.List) error {
	if len(c.pending) > 0 {
		// Push-mode output already materialized (mixed-mode use):
		// serve it before framing anything new.
		list.PushSpan(c.pending)
		if !c.inputEOF {
			list.SetMore()
		}
		return nil
	}

	inner := bucket.New()
	if !c.inputEOF {
		if err := c.input.FillBucketList(inner); err != nil {
			return err
		}
		if inner.Fallback() {
			list.EnableFallback()
			return nil
		}
		c.planSegments(inner.GetTotalBufferSize())
	}
	if c.inputEOF && !c.termQueued {
		c.segs = append(c.segs, chunkSeg{gen: []byte("0\r\n\r\n")})
		c.termQueued = true
	}

	for i := range c.segs {
		s := &c.segs[i]
		if s.gen != nil {
			if list.Full() {
				list.SetMore()
				return nil
			}
			list.PushSpan(s.gen)
			continue
		}
		moved := list.SpliceBuffersFrom(inner, s.inner, false)
		if moved < s.inner {
			// The inner stream enumerated less than planned this
			// round, or the list filled up.
			list.SetMore()
			return nil
		}
	}
	if !c.termQueued {
		list.SetMore()
	}
	return nil
}

// planSegments extends the segment plan to frame every inner byte the
// input can currently enumerate, one header/data/CRLF triple per chunk
// of up to MaxChunkSize bytes.
func (c *Chunked) planSegments(innerAvail int64) {
	extra := innerAvail - c.plannedInner
	for extra > 0 {
		n := extra
		if n > MaxChunkSize {
			n = MaxChunkSize
		}
		c.segs = append(c.segs,
			chunkSeg{gen: []byte(strconv.FormatInt(n, 16) + "\r\n")},
			chunkSeg{inner: n},
			chunkSeg{gen: []byte("\r\n")})
		c.plannedInner += n
		extra -= n
	}
}

func (c *Chunked) ConsumeBucketList(n int) (int, bool) {
	if len(c.pending) > 0 {
		if n > len(c.pending) {
			n = len(c.pending)
		}
		c.pending = c.pending[n:]
		return n, c.inputEOF && len(c.pending) == 0
	}

	total := 0
	for n > 0 && len(c.segs) > 0 {
		s := &c.segs[0]
		if s.gen != nil {
			take := len(s.gen)
			if take > n {
				take = n
			}
			s.gen = s.gen[take:]
			total += take
			n -= take
			if len(s.gen) > 0 {
				break
			}
			c.segs = c.segs[1:]
			continue
		}
		take := s.inner
		if take > int64(n) {
			take = int64(n)
		}
		consumed, eof := c.input.ConsumeBucketList(int(take))
		s.inner -= int64(consumed)
		c.plannedInner -= int64(consumed)
		total += consumed
		n -= consumed
		if eof {
			c.inputEOF = true
		}
		if s.inner == 0 {
			c.segs = c.segs[1:]
		}
		if int64(consumed) < take {
			break
		}
	}
	if c.inputEOF && !c.termQueued {
		c.segs = append(c.segs, chunkSeg{gen: []byte("0\r\n\r\n")})
		c.termQueued = true
	}
	return total, c.termQueued && len(c.segs) == 0
}

func (c *Chunked) ConsumeDirect(n int64) error { return nil }

func (c *Chunked) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (c *Chunked) SetDirect(mask istream.DirectMask) {}

func (c *Chunked) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.input.Close()
}

func (c *Chunked) tryFlush() {
	if c.handler == nil || len(c.pending) == 0 {
		return
	}
	n, disp := c.handler.OnData(c.pending)
	if disp == istream.Destroyed {
		return
	}
	c.pending = c.pending[n:]
	if len(c.pending) == 0 && c.inputEOF {
		c.deliverEOF()
	}
}

func (c *Chunked) frame(data []byte) {
	for len(data) > 0 {
		n := len(data)
		if n > MaxChunkSize {
			n = MaxChunkSize
		}
		chunk := data[:n]
		data = data[n:]
		c.pending = append(c.pending, strconv.FormatInt(int64(n), 16)...)
		c.pending = append(c.pending, '\r', '\n')
		c.pending = append(c.pending, chunk...)
		c.pending = append(c.pending, '\r', '\n')
	}
}

// --- Handler side: receiving from c.input ---

func (c *Chunked) OnData(data []byte) (int, istream.Disposition) {
	// Backpressure: refuse new input while a large frame is still
	// queued for the downstream handler.
	if len(c.pending) > MaxChunkSize*4 {
		return 0, istream.Continue
	}
	c.frame(data)
	c.tryFlush()
	return len(data), istream.Continue
}

func (c *Chunked) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	return 0, istream.DirectBlocking, istream.Continue
}

func (c *Chunked) OnEOF() {
	c.inputEOF = true
	c.pending = append(c.pending, '0', '\r', '\n', '\r', '\n')
	c.tryFlush()
}

func (c *Chunked) OnError(err error) { c.deliverError(err) }
