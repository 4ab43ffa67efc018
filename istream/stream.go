// Package istream defines the composable byte-stream abstraction that
// underlies the rest of this module: a uniform Stream/Handler contract
// with two data-transfer protocols (push and bucket-pull), a
// destruct-observer idiom for safe reentrancy, and the direct
// (zero-copy splice) escalation path.
package istream

import (
	"errors"
	"io"

	"github.com/bpcore/flowproxy/istream/bucket"
)

// Disposition is returned by every Handler callback so the calling
// Stream can tell whether it is still safe to keep touching its own
// state after the callback returns. It stands in for the original
// implementation's destruct-observer idiom: in a language without a
// borrow checker, a callback might synchronously destroy the object
// that is in the middle of calling it. Go gives us a value to return
// instead of a stack-local sentinel.
type Disposition int

const (
	// Continue means the callback ran without destroying its caller.
	Continue Disposition = iota
	// Destroyed means the callback (directly or transitively) closed
	// the Stream that invoked it. The Stream must not touch its own
	// fields again and must return immediately.
	Destroyed
)

// FDKind enumerates the descriptor kinds a direct (splice) transfer
// may carry, and doubles as a bitmask for DirectMask.
type FDKind uint8

const (
	FDNone FDKind = 0
	// FDFile is a regular, seekable file.
	FDFile FDKind = 1 << iota
	// FDPipe is one end of a pipe (splice source/sink).
	FDPipe
	// FDSocket is a stream socket.
	FDSocket
)

// DirectMask is the set of FDKind values a Handler is willing to
// accept via OnDirect. FDAny matches every kind.
type DirectMask uint8

const FDAny DirectMask = DirectMask(FDFile | FDPipe | FDSocket)

func (m DirectMask) Accepts(kind FDKind) bool {
	return m&DirectMask(kind) != 0
}

// Descriptor is a borrowed (or, when Owned is true, transferred) file
// descriptor exposed by AsFD/OnDirect.
type Descriptor struct {
	Kind   FDKind
	FD     uintptr
	Offset int64
	// Length is the number of unread bytes remaining at FD starting at
	// Offset, or -1 if unknown (e.g. a pipe).
	Length int64
	Owned  bool
}

// DirectResult is returned by Handler.OnDirect and mirrors the
// BufferedResult alphabet used by the socket layer (spec §4.G), scoped
// to the subset meaningful for a direct splice.
type DirectResult int

const (
	DirectOK DirectResult = iota
	DirectBlocking
	DirectEmpty
	DirectEnd
	DirectClosed
	DirectErrno
)

// Handler is a sink's view of an upstream Stream. Exactly one Handler
// is bound to a Stream at a time (see Stream.SetHandler). A Stream
// must never call more than one of OnData/OnDirect per push, must
// never call OnData or OnDirect after OnEOF or OnError, and must
// return immediately without touching its own state once a callback
// reports Destroyed.
type Handler interface {
	// OnData offers data for push-mode delivery. The handler returns
	// the number of bytes it consumed (which may be less than
	// len(data), including zero when the handler cannot currently
	// accept anything) and a Disposition telling the Stream whether it
	// is still alive.
	OnData(data []byte) (n int, disp Disposition)

	// OnDirect offers a descriptor for zero-copy transfer. maxLen
	// bounds how many bytes may be transferred in this call; thenEOF
	// indicates the stream has nothing beyond this descriptor's
	// window.
	OnDirect(kind FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (n int64, result DirectResult, disp Disposition)

	// OnEOF signals that no further data will ever arrive.
	OnEOF()

	// OnError signals a terminal error; no further callbacks follow.
	OnError(err error)
}

// ReadyHandler is an optional capability: a Handler that wants to be
// notified when a previously-blocked producer becomes ready to push
// again (pull-mode nudge), without the producer owning a readiness
// event of its own.
type ReadyHandler interface {
	OnReady()
}

// Stream is a producer of a finite or infinite, lazy, ordered sequence
// of bytes. See spec §3/§4.A for the full contract. Implementations
// embed destructObserver (via NewDestructObserver) so that producers
// calling into a Handler, or filters calling into their upstream
// Stream, can detect synchronous self-destruction.
type Stream interface {
	// SetHandler binds (or rebinds, before the first Read) the single
	// handler that will receive callbacks.
	SetHandler(h Handler)

	// Read asks the Stream to make progress: it must result in at
	// least one of a data delivery, an EOF, an error, or a readiness
	// subscription that will cause one of those later.
	Read()

	// Available reports a byte count, or -1 if unknown. When
	// partial is false the result must be the exact remaining length;
	// when true it may be a conservative lower bound.
	Available(partial bool) int64

	// Skip discards up to n bytes without delivering them, returning
	// how many were actually skipped (which may be less than n, or 0
	// if skipping isn't supported and the caller must Read/discard
	// manually).
	Skip(n int64) int64

	// FillBucketList requests pull-mode delivery: the Stream pushes
	// zero or more borrowed Buckets into list and sets list's more/
	// fallback flags.
	FillBucketList(list *bucket.List) error

	// ConsumeBucketList advances the pull-mode cursor by n bytes
	// (which per spec §9 may be n+1 to support next-substream
	// activation) and reports whether the Stream is now at EOF.
	ConsumeBucketList(n int) (consumed int, eof bool)

	// ConsumeDirect acknowledges that n bytes of a previously-offered
	// direct descriptor were transferred.
	ConsumeDirect(n int64) error

	// AsFD may transfer ownership of a descriptor to the caller when,
	// and only when, the Stream's entire remaining content is that
	// descriptor's unread tail. On success the Stream has destroyed
	// itself and must not be used again.
	AsFD() (Descriptor, bool)

	// SetDirect enables or narrows the set of descriptor kinds this
	// Stream's *handler* can accept; a Stream that cannot honor direct
	// transfer simply ignores this.
	SetDirect(mask DirectMask)

	// Close releases the Stream. After Close begins, the Stream must
	// not receive further method calls (enforced by callers, not by
	// the Stream itself).
	Close()
}

// ErrClosedPrematurely is the canonical "peer hung up mid-body" error
// (spec §7); Retryable reports true.
var ErrClosedPrematurely = &StreamError{Code: "SocketClosedPrematurely", retryable: true, msg: "socket closed prematurely"}

// StreamError is the common error type used across istream, bsocket,
// fastcgi and httpclient so callers can uniformly ask Retryable().
type StreamError struct {
	Code      string
	msg       string
	retryable bool
	Err       error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.msg + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.msg
}

func (e *StreamError) Unwrap() error { return e.Err }

func (e *StreamError) Retryable() bool { return e.retryable }

// NewError builds a StreamError wrapping cause (analogous to the
// original's NestException).
func NewError(code, msg string, retryable bool, cause error) *StreamError {
	return &StreamError{Code: code, msg: msg, retryable: retryable, Err: cause}
}

// Retryable reports whether err, or any error it wraps, is marked
// retryable. io.ErrUnexpectedEOF also counts as retryable; a nil error
// or any other error with no opinion is not.
func Retryable(err error) bool {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// destructObserver is embedded by Stream implementations that call
// into their Handler and need to know, after the call returns,
// whether the call synchronously closed them.
type destructObserver struct {
	destroyed bool
}

// Mark records that the owning Stream has begun closing.
func (d *destructObserver) Mark() { d.destroyed = true }

// Destroyed reports whether Mark has been called.
func (d *destructObserver) Destroyed() bool { return d.destroyed }

// guard is a convenience for callers: it snapshots the observer before
// invoking a callback and reports whether the callback destroyed it.
type guard struct {
	obs *destructObserver
}

func newGuard(obs *destructObserver) guard { return guard{obs: obs} }

func (g guard) destroyed() bool { return g.obs != nil && g.obs.Destroyed() }
