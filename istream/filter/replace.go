package filter

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// DefaultMaxBufferedBytes is Replace's default cap on total source
// length, matching the original's fixed limit but exposed here as a
// configurable field (see SPEC_FULL.md's "Replace filter" supplement).
const DefaultMaxBufferedBytes = 8 << 20

// substitution is one scheduled range replacement. Its stream's
// handler is the substitution itself, so pushes are forwarded
// downstream only while it is the active (frontmost, reached)
// substitution; an inactive substitution refuses data with 0.
type substitution struct {
	r          *Replace
	start, end int64
	stream     istream.Stream // nil once drained (or for a pure deletion)
}

func (s *substitution) active() bool {
	return len(s.r.subs) > 0 && s.r.subs[0] == s && s.r.position == s.start
}

func (s *substitution) OnData(data []byte) (int, istream.Disposition) {
	if !s.active() || s.r.handler == nil {
		return 0, istream.Continue
	}
	n, disp := s.r.handler.OnData(data)
	if disp == istream.Destroyed {
		return n, disp
	}
	return n, istream.Continue
}

func (s *substitution) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	return 0, istream.DirectBlocking, istream.Continue
}

func (s *substitution) OnEOF() {
	s.stream = nil
	if s.active() {
		s.r.toNext(s)
		if s.r.isEOF() {
			s.r.deliverEOF()
		}
	}
}

func (s *substitution) OnError(err error) { s.r.deliverError(err) }

// Replace buffers its input and lets a controller splice replacement
// sub-streams into byte ranges of it, used for template-style content
// rewriting (SSI/ESI-style includes). Emission is incremental: buffered
// bytes flow downstream as soon as they are settled — up to the next
// substitution's start, up to Settle's offset, or (after Finish) to the
// end — so downstream backpressure stalls the pipeline instead of the
// whole source accumulating first. position tracks the source offset
// delivered so far; settled is the offset below which no further Add
// may land. Grounded on original_source/src/istream/ReplaceIstream.cxx
// (TryReadFromBuffer/ReadFromBufferLoop/Settle/settled_position).
type Replace struct {
	base
	input            istream.Stream
	MaxBufferedBytes int

	buf          []byte // source bytes from position onward
	sourceLength int64  // total source bytes seen
	position     int64  // source offset fully emitted (or skipped)
	settled      int64

	subs     []*substitution
	finished bool
	inputEOF bool
}

func NewReplace(input istream.Stream) *Replace {
	r := &Replace{input: input, MaxBufferedBytes: DefaultMaxBufferedBytes}
	input.SetHandler(r)
	return r
}

// Add schedules the range [start,end) to be replaced by s (nil deletes
// the range). Ranges must be submitted in increasing order; a start
// inside an already-settled region is always a caller bug, so it
// panics rather than erroring at runtime.
func (r *Replace) Add(start, end int64, s istream.Stream) {
	if start < r.settled || start > end {
		panic("filter: overlapping Replace splice")
	}
	sub := &substitution{r: r, start: start, end: end, stream: s}
	if s != nil {
		s.SetHandler(sub)
	}
	r.subs = append(r.subs, sub)
	r.settled = end
}

// Settle marks everything below offset as final: no later Add may
// start before it, so buffered bytes up to offset become emittable
// even before Finish.
func (r *Replace) Settle(offset int64) {
	if offset > r.settled {
		r.settled = offset
	}
}

// Finish signals that no further splices or settles will come; the
// tail after the last substitution becomes emittable.
func (r *Replace) Finish() { r.finished = true }

func (r *Replace) SetHandler(h istream.Handler) { r.setHandler(h) }

// endOffsetUntil reports the source offset up to which buffered bytes
// ahead of substitution idx may be emitted, or -1 if nothing beyond
// pos is settled yet. The result never exceeds what has actually been
// buffered.
func (r *Replace) endOffsetUntil(pos int64, idx int) int64 {
	var end int64
	switch {
	case idx < len(r.subs):
		end = r.subs[idx].start
	case r.finished:
		end = r.sourceLength
	case r.settled > pos:
		end = r.settled
	default:
		return -1
	}
	if end > r.sourceLength {
		end = r.sourceLength
	}
	return end
}

func (r *Replace) isEOF() bool {
	return r.inputEOF && r.finished && len(r.subs) == 0 && r.position >= r.sourceLength
}

// toNext retires the finished frontmost substitution: the replaced
// source range is skipped and position jumps to its end.
func (r *Replace) toNext(s *substitution) {
	skip := s.end - s.start
	if skip > int64(len(r.buf)) {
		skip = int64(len(r.buf))
	}
	r.buf = r.buf[skip:]
	r.position = s.end
	r.subs = r.subs[1:]
}

// readSubstitution drives the frontmost substitution while it is
// active, reporting false once something blocked or the stream was
// destroyed.
func (r *Replace) readSubstitution() bool {
	for len(r.subs) > 0 && r.subs[0].start == r.position {
		s := r.subs[0]
		if s.stream != nil {
			s.stream.Read()
			if r.destroyed {
				return false
			}
			if len(r.subs) > 0 && r.subs[0] == s {
				// Still active after a Read: the substitution is
				// blocking.
				return false
			}
			continue
		}
		r.toNext(s)
		if r.isEOF() {
			r.deliverEOF()
			return false
		}
	}
	return true
}

// tryReadFromBuffer emits settled buffered bytes up to the next
// substitution (or the settled/final end), reporting false once the
// handler blocked or the stream was destroyed.
func (r *Replace) tryReadFromBuffer() bool {
	end := r.endOffsetUntil(r.position, 0)
	if end < 0 {
		return true
	}
	for r.position < end && r.handler != nil {
		span := r.buf[:end-r.position]
		n, disp := r.handler.OnData(span)
		if disp == istream.Destroyed {
			return false
		}
		r.buf = r.buf[n:]
		r.position += int64(n)
		if n < len(span) {
			return false
		}
	}
	if r.isEOF() {
		r.deliverEOF()
		return false
	}
	return true
}

// pump alternates substitution draining and buffer emission until
// input data runs out or something blocks.
func (r *Replace) pump() bool {
	for {
		if !r.readSubstitution() {
			return false
		}
		if !r.tryReadFromBuffer() {
			return false
		}
		if len(r.subs) == 0 || r.subs[0].start > r.sourceLength || r.subs[0].start != r.position {
			return true
		}
	}
}

func (r *Replace) Available(partial bool) int64 {
	if !partial && !r.finished {
		return -1
	}
	var avail int64
	if !r.inputEOF && r.finished {
		a := r.input.Available(partial)
		if a < 0 {
			if !partial {
				return -1
			}
		} else {
			avail = a
		}
	}
	pos := r.position
	for _, s := range r.subs {
		avail += s.start - pos
		if s.stream != nil {
			a := s.stream.Available(partial)
			if a >= 0 {
				avail += a
			} else if !partial {
				return -1
			}
		}
		pos = s.end
	}
	if r.finished && r.sourceLength > pos {
		avail += r.sourceLength - pos
	}
	return avail
}

func (r *Replace) Skip(n int64) int64 { return 0 }

func (r *Replace) Read() {
	if r.destroyed {
		return
	}
	if !r.pump() {
		return
	}
	if r.inputEOF {
		if r.isEOF() {
			r.deliverEOF()
		}
		return
	}
	r.input.Read()
}

func (r *Replace) FillBucketList(list *bucket.List) error {
	if !r.inputEOF {
		// Pull whatever the input can enumerate into the source buffer
		// first, so the walk below sees everything currently known.
		tmp := bucket.New()
		if err := r.input.FillBucketList(tmp); err != nil {
			return err
		}
		if tmp.Fallback() {
			list.EnableFallback()
		}
		var total int64
		for _, b := range tmp.Buckets() {
			if err := r.appendSource(b.Data); err != nil {
				return err
			}
			total += int64(len(b.Data))
		}
		if total > 0 || !tmp.More() {
			if _, eof := r.input.ConsumeBucketList(int(total)); eof {
				r.inputEOF = true
			}
		}
	}

	fillPos := r.position
	for idx := 0; ; idx++ {
		end := r.endOffsetUntil(fillPos, idx)
		if end < 0 {
			// Past the last substitution and the settled position: not
			// yet ready to read.
			list.SetMore()
			return nil
		}
		if end > fillPos {
			if list.Full() {
				list.SetMore()
				return nil
			}
			list.PushSpan(r.buf[fillPos-r.position : end-r.position])
		}
		if idx >= len(r.subs) {
			if !r.inputEOF || !r.finished {
				list.SetMore()
			}
			return nil
		}
		s := r.subs[idx]
		if end < s.start {
			// The substitution starts beyond the buffered source.
			list.SetMore()
			return nil
		}
		if s.stream != nil {
			tmp := bucket.New()
			if err := s.stream.FillBucketList(tmp); err != nil {
				return err
			}
			list.SpliceBuffersFrom(tmp, -1, true)
			if list.More() || list.Fallback() {
				return nil
			}
		}
		fillPos = s.end
	}
}

func (r *Replace) ConsumeBucketList(n int) (int, bool) {
	total := 0
	for {
		end := r.endOffsetUntil(r.position, 0)
		if end < 0 {
			break
		}
		if end > r.position {
			before := int(end - r.position)
			if n <= before {
				total += n
				r.position += int64(n)
				r.buf = r.buf[n:]
				n = 0
				break
			}
			n -= before
			total += before
			r.position = end
			r.buf = r.buf[before:]
		}
		if len(r.subs) == 0 || r.position < r.subs[0].start {
			break
		}
		s := r.subs[0]
		eof := true
		var consumed int
		if s.stream != nil {
			consumed, eof = s.stream.ConsumeBucketList(n)
		}
		total += consumed
		n -= consumed
		if eof {
			r.toNext(s)
		}
		if n == 0 || !eof {
			break
		}
	}
	return total, r.isEOF()
}

func (r *Replace) ConsumeDirect(n int64) error { return nil }

func (r *Replace) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (r *Replace) SetDirect(mask istream.DirectMask) {}

func (r *Replace) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.input.Close()
	for _, s := range r.subs {
		if s.stream != nil {
			s.stream.Close()
		}
	}
}

// appendSource records freshly-arrived source bytes, dropping any
// prefix that falls inside an already-skipped replacement range.
func (r *Replace) appendSource(data []byte) error {
	if r.sourceLength+int64(len(data)) > int64(r.MaxBufferedBytes) {
		return istream.NewError("ReplaceTooLarge", "buffered input exceeded MaxBufferedBytes", false, nil)
	}
	newStart := r.sourceLength
	r.sourceLength += int64(len(data))
	if r.position > newStart {
		drop := r.position - newStart
		if drop >= int64(len(data)) {
			return nil
		}
		data = data[drop:]
	}
	r.buf = append(r.buf, data...)
	return nil
}

func (r *Replace) OnData(data []byte) (int, istream.Disposition) {
	if err := r.appendSource(data); err != nil {
		r.deliverError(err)
		return 0, istream.Destroyed
	}
	r.pump()
	if r.destroyed {
		return len(data), istream.Destroyed
	}
	return len(data), istream.Continue
}

func (r *Replace) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	return 0, istream.DirectBlocking, istream.Continue
}

func (r *Replace) OnEOF() {
	r.inputEOF = true
	r.pump()
	if !r.destroyed && r.isEOF() {
		r.deliverEOF()
	}
}

func (r *Replace) OnError(err error) { r.deliverError(err) }
