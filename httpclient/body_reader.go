package httpclient

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
	"github.com/bpcore/flowproxy/istream/filter"
	"github.com/bpcore/flowproxy/istream/source"
)

// bodyFraming is the response_body_reader framing mode of spec
// §4.H.2/§3.
type bodyFraming int

const (
	framingKnownLength bodyFraming = iota
	framingChunked
	framingUnknown // EOF-terminated: socket close = body EOF
)

// bodyReader is the stream exposed to the caller as the response
// body (spec §3 "response_body_reader"): it owns the framing mode,
// accepts wire bytes pushed in by Response as they're decoded out of
// the socket buffer, and for chunked framing observes
// OnDechunkEndSeen itself (rather than exposing it to the caller) so
// Response can mark the socket reusable the instant the 0-chunk is
// seen, before the caller has drained the decoded body.
type bodyReader struct {
	framing bodyFraming
	raw     *source.Fifo   // wire bytes as they arrive from the socket
	decoded istream.Stream // what the caller reads: raw itself, or a Dechunk wrapping raw
	handler istream.Handler

	remaining int64 // framingKnownLength: bytes of body left to accept

	// pendingErr parks an error that arrived before the caller attached
	// its handler (Send is still on the stack when a premature close is
	// detected); it is replayed on the next Read. failed marks the
	// stream terminal so no OnData can follow the error.
	pendingErr error
	failed     bool

	dechunk   *filter.Dechunk
	onEndSeen func()
}

func newBodyReader(framing bodyFraming, length int64, onEndSeen func()) *bodyReader {
	r := &bodyReader{framing: framing, remaining: length, onEndSeen: onEndSeen}
	r.raw = source.NewFifo(r)
	if framing == framingChunked {
		r.dechunk = filter.NewDechunk(r.raw)
		r.dechunk.SetHandler(r)
		r.decoded = r.dechunk
	} else {
		r.decoded = r.raw
		r.raw.SetHandler(r)
	}
	return r
}

// Stream returns the Stream the caller should read the body from. It
// is r itself (not r.decoded directly) so that attaching the caller's
// handler goes through SetHandler below rather than replacing
// whichever internal object r installed itself as the handler of.
func (r *bodyReader) Stream() istream.Stream { return r }

func (r *bodyReader) Available(partial bool) int64 { return r.decoded.Available(partial) }
func (r *bodyReader) Skip(n int64) int64           { return r.decoded.Skip(n) }
func (r *bodyReader) Read() {
	if r.failed {
		return
	}
	if r.pendingErr != nil && r.handler != nil {
		err := r.pendingErr
		r.pendingErr = nil
		r.failed = true
		r.handler.OnError(err)
		return
	}
	r.decoded.Read()
}
func (r *bodyReader) FillBucketList(list *bucket.List) error {
	return r.decoded.FillBucketList(list)
}
func (r *bodyReader) ConsumeBucketList(n int) (int, bool) { return r.decoded.ConsumeBucketList(n) }
func (r *bodyReader) ConsumeDirect(n int64) error         { return r.decoded.ConsumeDirect(n) }
func (r *bodyReader) AsFD() (istream.Descriptor, bool)    { return istream.Descriptor{}, false }
func (r *bodyReader) SetDirect(mask istream.DirectMask)   { r.decoded.SetDirect(mask) }
func (r *bodyReader) Close()                              { r.decoded.Close() }

// Push delivers wire bytes arriving from the socket. For
// framingKnownLength the caller (Response) must not pass more than
// remaining bytes; it is responsible for splitting at the frame
// boundary and diverting anything past it.
func (r *bodyReader) Push(data []byte) {
	if r.framing == framingKnownLength {
		r.remaining -= int64(len(data))
	}
	r.raw.Push(data)
}

// Done marks the body fully received from the wire.
func (r *bodyReader) Done() { r.raw.Finish() }

// SocketClosed tells the reader the underlying socket ended. For
// framingUnknown this is the normal, expected end of body; for
// framingKnownLength with bytes still outstanding, or for
// framingChunked at any point before Done, it is a premature close.
func (r *bodyReader) SocketClosed() (premature bool) {
	switch r.framing {
	case framingUnknown:
		r.raw.Finish()
		return false
	case framingKnownLength:
		if r.remaining > 0 {
			return true
		}
		r.raw.Finish()
		return false
	default: // framingChunked
		return true
	}
}

// IsSocketDone reports whether every byte this reader still needs is
// already sitting in bufferedAvailable, so the socket can be released
// for reuse without waiting for the caller to drain the body (spec
// §4.H.2 "is_socket_done").
func (r *bodyReader) IsSocketDone(bufferedAvailable int64) bool {
	return r.framing == framingKnownLength && r.remaining <= bufferedAvailable
}

// --- source.FifoHandler (r is raw's producer-side observer) ---

func (r *bodyReader) OnConsumed(n int) {}
func (r *bodyReader) OnDrained()       {}
func (r *bodyReader) OnClosed()        {}

// --- istream.Handler: r stands between the Dechunk filter and the
// real caller so it can intercept filter.EndHandler notifications. ---

func (r *bodyReader) SetHandler(h istream.Handler) { r.handler = h }

func (r *bodyReader) OnData(data []byte) (int, istream.Disposition) {
	if r.failed {
		return len(data), istream.Continue
	}
	if r.handler == nil {
		// Refused bytes stay queued until the caller attaches and reads.
		return 0, istream.Continue
	}
	return r.handler.OnData(data)
}

func (r *bodyReader) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	if r.handler == nil {
		return maxLen, istream.DirectOK, istream.Continue
	}
	return r.handler.OnDirect(kind, fd, offset, maxLen, thenEOF)
}

func (r *bodyReader) OnEOF() {
	if r.failed {
		return
	}
	if r.handler != nil {
		r.handler.OnEOF()
	}
}

func (r *bodyReader) OnError(err error) {
	if r.failed {
		return
	}
	if r.handler == nil {
		if r.pendingErr == nil {
			r.pendingErr = err
		}
		return
	}
	r.failed = true
	r.handler.OnError(err)
}

func (r *bodyReader) OnDechunkEndSeen() {
	if r.onEndSeen != nil {
		r.onEndSeen()
	}
}

func (r *bodyReader) OnDechunkEnd() {}

var (
	_ istream.Handler   = (*bodyReader)(nil)
	_ istream.Stream    = (*bodyReader)(nil)
	_ filter.EndHandler = (*bodyReader)(nil)
)
