// Package escape implements the escape/replacement filter of spec
// §4.I: a Class interface locating the next character needing
// escaping and supplying its replacement entity, and a Stream that
// walks its input emitting the replacement eagerly before any further
// input bytes. Grounded on original_source/src/escape/Istream.cxx and
// the concrete HTML/URL tables in src/escape/HTML.hxx.
package escape

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// Class locates characters needing escaping within a span and
// supplies their replacement text. Implementations (HTML, URL) are
// static lookup tables, never mutated at runtime (spec §5
// Mutability).
type Class interface {
	// Find returns the offset of the next byte in data that needs
	// escaping, or -1 if none do.
	Find(data []byte) int
	// CharToEntity returns the replacement span for the single byte c.
	CharToEntity(c byte) []byte
}

// Stream wraps input, replacing every byte Class.Find locates with
// Class.CharToEntity's span. While a replacement is being emitted
// (escaped != nil) a downstream block (0 accepted) is propagated as 0
// to input too, per spec §4.I "returns 0 to preserve the invariant".
// Bucket-mode pull always falls back to push, since the entity
// expansion interleaves generated bytes with borrowed input spans.
type Stream struct {
	class   Class
	input   istream.Stream
	handler istream.Handler

	pending   []byte // unescaped input bytes not yet scanned/emitted
	escaped   []byte // replacement bytes queued ahead of pending
	inputEOF  bool
	destroyed bool
}

// New wraps input, escaping characters per class.
func New(input istream.Stream, class Class) *Stream {
	s := &Stream{class: class, input: input}
	input.SetHandler(s)
	return s
}

func (s *Stream) SetHandler(h istream.Handler) { s.handler = h }

// Available reports pending-escape length plus, if partial, input's
// own Available (spec §4.I).
func (s *Stream) Available(partial bool) int64 {
	n := int64(len(s.escaped) + len(s.pending))
	if partial {
		a := s.input.Available(true)
		if a < 0 {
			return -1
		}
		return n + a
	}
	if len(s.pending) > 0 {
		// Can't know the final escaped length without scanning ahead
		// past what's already buffered.
		return -1
	}
	a := s.input.Available(false)
	if a < 0 {
		return -1
	}
	return n + a
}

func (s *Stream) Skip(n int64) int64 { return 0 }

func (s *Stream) Read() {
	if s.flush() {
		return
	}
	if s.inputEOF {
		s.deliverEOF()
		return
	}
	s.input.Read()
}

func (s *Stream) FillBucketList(list *bucket.List) error {
	list.EnableFallback()
	return nil
}

func (s *Stream) ConsumeBucketList(n int) (int, bool) { return 0, false }

func (s *Stream) ConsumeDirect(n int64) error { return nil }

func (s *Stream) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (s *Stream) SetDirect(mask istream.DirectMask) {}

func (s *Stream) Close() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.input.Close()
}

// flush emits as much of escaped+pending as the downstream handler
// will accept, scanning pending for the next escape point as it goes.
// It returns true when output stopped with bytes still queued (the
// handler blocked, is absent, or destroyed the stream), and false once
// both queues are empty. It never delivers EOF; its callers do.
func (s *Stream) flush() bool {
	if s.handler == nil {
		return len(s.escaped) > 0 || len(s.pending) > 0
	}
	for {
		if len(s.escaped) > 0 {
			n, disp := s.handler.OnData(s.escaped)
			if disp == istream.Destroyed {
				return true
			}
			s.escaped = s.escaped[n:]
			if n == 0 {
				return true // blocked mid-replacement
			}
			continue
		}
		if len(s.pending) == 0 {
			return false
		}
		at := s.class.Find(s.pending)
		if at < 0 {
			n, disp := s.handler.OnData(s.pending)
			if disp == istream.Destroyed {
				return true
			}
			s.pending = s.pending[n:]
			if n == 0 {
				return true
			}
			continue
		}
		if at > 0 {
			n, disp := s.handler.OnData(s.pending[:at])
			if disp == istream.Destroyed {
				return true
			}
			s.pending = s.pending[n:]
			if n < at {
				return true // blocked before reaching the escape point
			}
			continue
		}
		// at == 0: the very next byte needs escaping.
		s.escaped = s.class.CharToEntity(s.pending[0])
		s.pending = s.pending[1:]
	}
}

func (s *Stream) deliverEOF() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	if s.handler != nil {
		s.handler.OnEOF()
	}
}

func (s *Stream) deliverError(err error) {
	if s.destroyed {
		return
	}
	s.destroyed = true
	if s.handler != nil {
		s.handler.OnError(err)
	}
}

// --- Handler side: receiving from input ---

// maxPending bounds how much unscanned input this filter will queue
// before refusing more, so a permanently-blocked downstream can't make
// it buffer without limit.
const maxPending = 64 * 1024

func (s *Stream) OnData(data []byte) (int, istream.Disposition) {
	if len(s.escaped) > 0 || len(s.pending)+len(s.escaped) > maxPending {
		return 0, istream.Continue
	}
	s.pending = append(s.pending, data...)
	s.flush()
	if s.destroyed {
		return len(data), istream.Destroyed
	}
	return len(data), istream.Continue
}

func (s *Stream) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	return 0, istream.DirectBlocking, istream.Continue
}

func (s *Stream) OnEOF() {
	s.inputEOF = true
	if !s.flush() {
		s.deliverEOF()
	}
}

func (s *Stream) OnError(err error) { s.deliverError(err) }
