package filter

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// MaxChunkSizeDigits bounds how many hex digits a chunk-size line may
// contain before Dechunk treats the input as malformed, so a hostile
// or broken peer cannot send an unbounded digit run. Since 16 hex
// digits can exceed an int64, a size whose next digit would overflow
// sizeRemaining is rejected as malformed too.
const MaxChunkSizeDigits = 16

type dechunkState int

const (
	stateNone dechunkState = iota
	stateSize
	stateAfterSize
	stateData
	stateAfterData
	stateTrailer
	stateTrailerData
	stateEnd
)

// TrailerHandler is an optional capability a Dechunk handler may
// implement to receive trailer header fields as they are parsed.
type TrailerHandler interface {
	OnTrailer(name, value []byte)
}

// EndHandler is an optional capability notified at two points in the
// chunked terminator: OnDechunkEndSeen fires as soon as the "0" final
// chunk's size line is recognized (before trailers are parsed), and
// OnDechunkEnd fires once the terminating blank line has been
// consumed and the underlying body is fully decoded. Splitting the two
// lets an owner stop accounting for body length early while still
// waiting for trailers before signalling request completion.
type EndHandler interface {
	OnDechunkEndSeen()
	OnDechunkEnd()
}

// MaxChunkDescriptors bounds how many chunk-data runs a single
// FillBucketList pass will parse out of the wire buffer before
// yielding; the walk resumes on the next pass once the consumer has
// drained what was offered.
const MaxChunkDescriptors = 16

// wireScan is the resumable chunk-framing cursor. The push parser
// (OnData) and the bucket walker share one instance on the Dechunk so
// either mode leaves the framing position where the other can pick it
// up; FillBucketList scans ahead on a scratch copy without disturbing
// it.
type wireScan struct {
	state          dechunkState
	sizeRemaining  int64
	sizeDigits     int
	crSeen         bool
	trailerContent bool
	endSeen        bool
}

// next advances the cursor over data until it produces the next
// chunk-data run, reaches the terminator, or exhausts data. It returns
// the wire bytes processed, the data run (empty if this call only
// covered framing), and whether the terminator was fully consumed.
func (w *wireScan) next(data []byte) (wire int, run []byte, end bool, err error) {
	i := 0
	for i < len(data) {
		b := data[i]
		switch w.state {
		case stateNone, stateSize:
			if isHexDigit(b) {
				if w.sizeDigits >= MaxChunkSizeDigits || w.sizeRemaining > (1<<59)-1 {
					return i, nil, false, istream.NewError("ChunkedMalformed", "chunk size too long", false, nil)
				}
				w.sizeRemaining = w.sizeRemaining*16 + hexVal(b)
				w.sizeDigits++
				w.state = stateSize
				i++
				continue
			}
			if b == ';' {
				w.state = stateAfterSize
				i++
				continue
			}
			if b == '\r' {
				w.state = stateAfterSize
				w.crSeen = true
				i++
				continue
			}
			return i, nil, false, istream.NewError("ChunkedMalformed", "invalid chunk size line", false, nil)

		case stateAfterSize:
			if w.crSeen {
				if b != '\n' {
					return i, nil, false, istream.NewError("ChunkedMalformed", "expected LF after chunk size", false, nil)
				}
				w.crSeen = false
				i++
				if w.sizeRemaining == 0 {
					w.endSeen = true
					w.state = stateTrailer
					w.trailerContent = false
				} else {
					w.state = stateData
				}
				continue
			}
			if b == '\r' {
				w.crSeen = true
			}
			i++

		case stateData:
			n := int64(len(data) - i)
			if n > w.sizeRemaining {
				n = w.sizeRemaining
			}
			run = data[i : i+int(n)]
			i += int(n)
			w.sizeRemaining -= n
			if w.sizeRemaining == 0 {
				w.state = stateAfterData
				w.crSeen = false
			}
			return i, run, false, nil

		case stateAfterData:
			if !w.crSeen {
				if b != '\r' {
					return i, nil, false, istream.NewError("ChunkedMalformed", "expected CR after chunk data", false, nil)
				}
				w.crSeen = true
				i++
				continue
			}
			if b != '\n' {
				return i, nil, false, istream.NewError("ChunkedMalformed", "expected LF after chunk data", false, nil)
			}
			w.crSeen = false
			w.sizeDigits = 0
			w.sizeRemaining = 0
			w.state = stateNone
			i++

		case stateTrailer:
			// Structural walk only; trailer field capture is the push
			// parser's concern.
			if b == '\r' {
				w.state = stateTrailerData
			} else {
				w.trailerContent = true
			}
			i++

		case stateTrailerData:
			if b != '\n' {
				return i, nil, false, istream.NewError("ChunkedMalformed", "expected LF in trailer", false, nil)
			}
			i++
			if !w.trailerContent {
				w.state = stateEnd
				return i, nil, true, nil
			}
			w.trailerContent = false
			w.state = stateTrailer

		case stateEnd:
			return i, nil, true, nil
		}
	}
	return i, nil, false, nil
}

// Dechunk reverses HTTP/1.1 chunked transfer-coding, delivering decoded
// body bytes to its handler and, when the handler implements
// TrailerHandler/EndHandler, trailer fields and end-of-body
// notifications. Grounded on
// original_source/src/istream/DechunkIstream.cxx and
// original_source/test/t_istream_dechunk.cxx.
type Dechunk struct {
	base
	input istream.Stream

	scan          wireScan
	trailerName   []byte
	trailerValue  []byte
	inTrailerName bool
	endSeenFired  bool
	endFired      bool

	pending  []byte
	inputEOF bool
}

func NewDechunk(input istream.Stream) *Dechunk {
	d := &Dechunk{input: input}
	input.SetHandler(d)
	return d
}

func (d *Dechunk) SetHandler(h istream.Handler) { d.setHandler(h) }

func (d *Dechunk) Available(partial bool) int64 { return -1 }

func (d *Dechunk) Skip(n int64) int64 { return 0 }

func (d *Dechunk) Read() {
	if len(d.pending) > 0 {
		d.tryFlush()
		return
	}
	if d.scan.state == stateEnd {
		d.deliverEOF()
		return
	}
	d.input.Read()
}

func (d *Dechunk) FillBucketList(list *bucket.List) error {
	if len(d.pending) > 0 {
		// Push-mode output already decoded (mixed-mode use): serve it
		// before walking more wire.
		list.PushSpan(d.pending)
		if d.scan.state != stateEnd {
			list.SetMore()
		}
		return nil
	}
	if d.scan.state == stateEnd {
		return nil
	}

	inner := bucket.New()
	if err := d.input.FillBucketList(inner); err != nil {
		return err
	}
	if inner.Fallback() {
		list.EnableFallback()
		return nil
	}

	// Scan ahead on a scratch cursor, emitting decoded chunk-data runs
	// as borrowed buckets. The run count is bounded; when the cap is
	// hit the walk yields and resumes after the consumer drains.
	scratch := d.scan
	descs := 0
	end := false
	for _, b := range inner.Buckets() {
		data := b.Data
		for len(data) > 0 {
			wire, run, e, err := scratch.next(data)
			if err != nil {
				return err
			}
			data = data[wire:]
			if len(run) > 0 {
				if descs >= MaxChunkDescriptors || list.Full() {
					list.SetMore()
					return nil
				}
				list.PushSpan(run)
				descs++
			}
			if e {
				end = true
				break
			}
			if wire == 0 {
				break
			}
		}
		if end {
			break
		}
	}
	if !end {
		// Terminator not yet buffered; more wire is needed.
		list.SetMore()
	}
	return nil
}

// ConsumeBucketList advances the real wire cursor far enough to cover
// n decoded data bytes (plus the framing around them), consuming the
// corresponding wire bytes from the input. End-of-body callbacks fire
// here in bucket mode, where no push-side OnData will ever see the
// terminator.
func (d *Dechunk) ConsumeBucketList(n int) (int, bool) {
	if len(d.pending) > 0 {
		if n > len(d.pending) {
			n = len(d.pending)
		}
		d.pending = d.pending[n:]
		return n, d.scan.state == stateEnd && len(d.pending) == 0
	}

	inner := bucket.New()
	if err := d.input.FillBucketList(inner); err != nil {
		return 0, false
	}
	wire := 0
	taken := 0
outer:
	for _, b := range inner.Buckets() {
		data := b.Data
		for len(data) > 0 {
			if taken >= n && d.scan.state == stateData && d.scan.sizeRemaining > 0 {
				// The next chunk's data begins here and the consumer
				// didn't take it; stop before over-consuming.
				break outer
			}
			w, run, end, err := d.scan.next(data)
			if err != nil {
				break outer
			}
			if len(run) > 0 {
				if taken+len(run) > n {
					// Partially consumed run: roll the cursor back to
					// the unconsumed tail.
					over := taken + len(run) - n
					d.scan.sizeRemaining += int64(over)
					d.scan.state = stateData
					w -= over
					run = run[:len(run)-over]
				}
				taken += len(run)
			}
			wire += w
			data = data[w:]
			d.fireEndCallbacks()
			if end || (taken >= n && d.scan.state == stateData && d.scan.sizeRemaining > 0) {
				break outer
			}
			if w == 0 {
				break outer
			}
		}
	}
	if wire > 0 {
		if _, eof := d.input.ConsumeBucketList(wire); eof {
			d.inputEOF = true
		}
	}
	return taken, d.scan.state == stateEnd
}

// fireEndCallbacks delivers the EndHandler notifications exactly once
// each as the wire cursor crosses the 0-chunk and the terminator.
func (d *Dechunk) fireEndCallbacks() {
	if d.scan.endSeen && !d.endSeenFired {
		d.endSeenFired = true
		if eh, ok := d.handler.(EndHandler); ok {
			eh.OnDechunkEndSeen()
		}
	}
	if d.scan.state == stateEnd && !d.endFired {
		d.endFired = true
		if eh, ok := d.handler.(EndHandler); ok {
			eh.OnDechunkEnd()
		}
	}
}

func (d *Dechunk) ConsumeDirect(n int64) error { return nil }

func (d *Dechunk) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (d *Dechunk) SetDirect(mask istream.DirectMask) {}

func (d *Dechunk) Close() {
	if d.closed {
		return
	}
	d.closed = true
	d.input.Close()
}

func (d *Dechunk) tryFlush() {
	if d.handler == nil || len(d.pending) == 0 {
		return
	}
	n, disp := d.handler.OnData(d.pending)
	if disp == istream.Destroyed {
		return
	}
	d.pending = d.pending[n:]
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func hexVal(b byte) int64 {
	switch {
	case b >= '0' && b <= '9':
		return int64(b - '0')
	case b >= 'a' && b <= 'f':
		return int64(b-'a') + 10
	default:
		return int64(b-'A') + 10
	}
}

func (d *Dechunk) fail(msg string) {
	d.deliverError(istream.NewError("ChunkedMalformed", msg, false, nil))
}

// OnData receives raw chunked-wire bytes from input and decodes them
// into d.pending, emitting trailer callbacks as trailer lines
// complete.
func (d *Dechunk) OnData(data []byte) (int, istream.Disposition) {
	i := 0
	dataStart := -1
	flushData := func(end int) {
		if dataStart >= 0 && end > dataStart {
			d.pending = append(d.pending, data[dataStart:end]...)
		}
		dataStart = -1
	}

	for i < len(data) {
		b := data[i]
		switch d.scan.state {
		case stateNone, stateSize:
			if isHexDigit(b) {
				if d.scan.sizeDigits >= MaxChunkSizeDigits || d.scan.sizeRemaining > (1<<59)-1 {
					d.fail("chunk size too long")
					return i, istream.Destroyed
				}
				d.scan.sizeRemaining = d.scan.sizeRemaining*16 + hexVal(b)
				d.scan.sizeDigits++
				d.scan.state = stateSize
				i++
				continue
			}
			if b == ';' {
				d.scan.state = stateAfterSize
				i++
				continue
			}
			if b == '\r' {
				d.scan.state = stateAfterSize
				d.scan.crSeen = true
				i++
				continue
			}
			d.fail("invalid chunk size line")
			return i, istream.Destroyed

		case stateAfterSize:
			if d.scan.crSeen {
				if b != '\n' {
					d.fail("expected LF after chunk size")
					return i, istream.Destroyed
				}
				d.scan.crSeen = false
				i++
				if d.scan.sizeRemaining == 0 {
					d.scan.endSeen = true
					if !d.endSeenFired {
						d.endSeenFired = true
						if eh, ok := d.handler.(EndHandler); ok {
							eh.OnDechunkEndSeen()
						}
					}
					d.scan.state = stateTrailer
					d.inTrailerName = true
					d.trailerName = d.trailerName[:0]
					d.trailerValue = d.trailerValue[:0]
				} else {
					d.scan.state = stateData
					dataStart = i
				}
				continue
			}
			if b == '\r' {
				d.scan.crSeen = true
			}
			i++

		case stateData:
			remain := d.scan.sizeRemaining
			avail := int64(len(data) - i)
			if avail <= remain {
				i = len(data)
				d.scan.sizeRemaining -= avail
				flushData(len(data))
				dataStart = i
				if d.scan.sizeRemaining == 0 {
					d.scan.state = stateAfterData
					d.scan.crSeen = false
				}
				break
			}
			i += int(remain)
			d.scan.sizeRemaining = 0
			flushData(i)
			d.scan.state = stateAfterData
			d.scan.crSeen = false

		case stateAfterData:
			if !d.scan.crSeen {
				if b != '\r' {
					d.fail("expected CR after chunk data")
					return i, istream.Destroyed
				}
				d.scan.crSeen = true
				i++
				continue
			}
			if b != '\n' {
				d.fail("expected LF after chunk data")
				return i, istream.Destroyed
			}
			d.scan.crSeen = false
			d.scan.sizeDigits = 0
			d.scan.sizeRemaining = 0
			d.scan.state = stateNone
			i++

		case stateTrailer:
			if b == '\r' {
				d.scan.state = stateTrailerData
				i++
				continue
			}
			if b == ':' && d.inTrailerName {
				d.inTrailerName = false
				i++
				continue
			}
			if d.inTrailerName {
				d.trailerName = append(d.trailerName, b)
			} else if !(b == ' ' && len(d.trailerValue) == 0) {
				d.trailerValue = append(d.trailerValue, b)
			}
			i++

		case stateTrailerData:
			if b != '\n' {
				d.fail("expected LF in trailer")
				return i, istream.Destroyed
			}
			i++
			if len(d.trailerName) == 0 {
				d.scan.state = stateEnd
				flushData(-1)
				d.tryFlush()
				if !d.endFired {
					d.endFired = true
					if eh, ok := d.handler.(EndHandler); ok {
						eh.OnDechunkEnd()
					}
				}
				if len(d.pending) == 0 {
					d.deliverEOF()
				}
				return i, istream.Continue
			}
			if th, ok := d.handler.(TrailerHandler); ok {
				th.OnTrailer(d.trailerName, d.trailerValue)
			}
			d.trailerName = d.trailerName[:0]
			d.trailerValue = d.trailerValue[:0]
			d.inTrailerName = true
			d.scan.state = stateTrailer

		case stateEnd:
			i = len(data)
		}
	}

	flushData(len(data))
	d.tryFlush()
	return len(data), istream.Continue
}

func (d *Dechunk) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	return 0, istream.DirectBlocking, istream.Continue
}

func (d *Dechunk) OnEOF() {
	d.inputEOF = true
	if d.scan.state != stateEnd {
		d.fail("input ended mid-chunk")
		return
	}
}

func (d *Dechunk) OnError(err error) { d.deliverError(err) }
