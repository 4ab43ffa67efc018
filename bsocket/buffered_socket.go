// Package bsocket implements BufferedSocket, the connection-level
// read/write engine every upstream and downstream connection in this
// module is built on: a net.Conn wrapped with an input FIFO, read/
// write deadlines, and a direct (splice) write fast path. Grounded on
// original_source/src/buffered_socket.cxx/.hxx, with the net.Conn
// lifecycle conventions (deadline handling, half-close) taken from
// listeners.go and listen_unix.go in the teacher repo.
package bsocket

import (
	"errors"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/metrics"
	"github.com/bpcore/flowproxy/pool"
)

// MaxInputSize bounds the input FIFO. A handler that returns More while
// the FIFO is already at this size has overflowed the buffer, which is
// a protocol error rather than a reason to grow without bound.
const MaxInputSize = 64 * 1024

// ErrBroken is returned from Write after the handler elected to keep
// the socket alive (reads may continue) despite a broken write side.
var ErrBroken = errors.New("bsocket: write side broken")

// State is BufferedSocket's lifecycle, matching spec §4.G.
type State int

const (
	StateUninitialised State = iota
	StateConnected
	StateDisconnected
	StateEnded
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "uninitialised"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateEnded:
		return "ended"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Result is the alphabet a Handler's data callback returns, telling
// BufferedSocket how to proceed (spec §4.G's BufferedResult).
type Result int

const (
	// OK means the handler consumed everything it wanted; keep reading
	// normally.
	OK Result = iota
	// Partial means the handler consumed some but not all of what was
	// offered and is content to wait for the rest to arrive later.
	Partial
	// More means the handler needs more buffered data than is
	// currently available before it can make progress; the socket
	// should read again immediately if possible.
	More
	// AgainOptional asks the socket to invoke the handler again right
	// away (more already-buffered data may be parseable), but it is
	// not an error if nothing changed.
	AgainOptional
	// AgainExpect is like AgainOptional but the handler asserts there
	// must be more parseable data buffered; the socket treats a no-op
	// repeat as a protocol error.
	AgainExpect
	// Blocking means the handler cannot currently accept anything
	// (downstream backpressure); stop reading until Resume is called.
	Blocking
	// Closed means the handler wants the socket closed.
	Closed
	// Destroyed means the handler destroyed the socket synchronously
	// during the callback; BufferedSocket must not touch its own state
	// again.
	Destroyed
)

// DirectResult is the alphabet the direct-path dispatcher consumes,
// parallel to Result but scoped to a splice attempt.
type DirectResult int

const (
	DirectOK DirectResult = iota
	DirectBlocking
	DirectEmpty
	DirectEnd
	DirectClosed
	DirectErrno
)

// Handler receives BufferedSocket's events. OnBufferedData is given
// the unconsumed input FIFO content and returns how many bytes it
// consumed along with a Result describing how the socket should
// proceed.
type Handler interface {
	OnBufferedData(data []byte) (consumed int, result Result)
	OnBufferedClosed() Result
	OnBufferedWrite() Result
	OnBufferedError(err error)
}

// DirectHandler is an optional Handler capability: when the handler
// has enabled direct transfer (SetDirect) and the input FIFO is empty,
// the socket offers its own descriptor so the handler can splice bytes
// straight off the connection without them touching the FIFO.
type DirectHandler interface {
	OnBufferedDirect(kind istream.FDKind, fd uintptr) DirectResult
}

// BrokenHandler is an optional Handler capability consulted when a
// write hits EPIPE/ECONNRESET. Returning OK requests "broken" status:
// the write side is dead but reads continue (the peer may still be
// sending a response). Any other Result destroys the socket.
type BrokenHandler interface {
	OnBufferedBroken(err error) Result
}

// BufferedSocket wraps a net.Conn with an input FIFO and deadline
// management. It is not safe for concurrent use from multiple
// goroutines; callers are expected to drive it from a single
// connection-owning goroutine or event loop iteration.
type BufferedSocket struct {
	conn    net.Conn
	handler Handler
	log     *zap.Logger

	state State

	input      []byte
	inputEOF   bool
	blocked    bool
	deferred   bool
	broken     bool
	expectMore bool

	direct istream.DirectMask

	readTimeout  time.Duration
	writeTimeout time.Duration

	pipeStock *pool.PipeStock
}

// New wraps conn, ready to have its Handler attached and Read driven.
func New(conn net.Conn, log *zap.Logger) *BufferedSocket {
	if log == nil {
		log = zap.NewNop()
	}
	s := &BufferedSocket{conn: conn, log: log, state: StateConnected}
	metrics.SocketsActive.WithLabelValues(StateConnected.String()).Inc()
	return s
}

// setState transitions the socket's lifecycle state and keeps
// metrics.SocketsActive in sync, so the gauge always reflects live
// BufferedSocket instances by state rather than being a dead
// registration (spec §1 treats metrics export as an external
// collaborator, but this core is still responsible for feeding it).
func (s *BufferedSocket) setState(next State) {
	if s.state == next {
		return
	}
	metrics.SocketsActive.WithLabelValues(s.state.String()).Dec()
	metrics.SocketsActive.WithLabelValues(next.String()).Inc()
	s.state = next
}

func (s *BufferedSocket) SetHandler(h Handler) { s.handler = h }

// SetPipeStock stores a leased-pipe pool on the socket. WriteFrom
// splices straight from its source and does not draw from it.
func (s *BufferedSocket) SetPipeStock(stock *pool.PipeStock) { s.pipeStock = stock }

func (s *BufferedSocket) SetTimeouts(read, write time.Duration) {
	s.readTimeout = read
	s.writeTimeout = write
}

// SetDirect enables (or narrows) direct delivery: while the input FIFO
// is empty and the handler implements DirectHandler, reads are offered
// as a raw descriptor instead of buffered bytes. A handler may flip
// this off mid-flight; the socket re-enters the buffered path on the
// same iteration.
func (s *BufferedSocket) SetDirect(mask istream.DirectMask) { s.direct = mask }

// GetDirectMask reports which descriptor kinds this socket can hand to
// a direct consumer. A stream socket offers exactly FDSocket.
func (s *BufferedSocket) GetDirectMask() istream.DirectMask {
	return istream.DirectMask(istream.FDSocket)
}

func (s *BufferedSocket) State() State { return s.state }

// Connected reports whether the socket can still be read from or
// written to.
func (s *BufferedSocket) Connected() bool { return s.state == StateConnected }

// Available reports how many unconsumed bytes sit in the input FIFO.
func (s *BufferedSocket) Available() int { return len(s.input) }

// IsEmpty reports whether the input FIFO holds no unconsumed bytes.
func (s *BufferedSocket) IsEmpty() bool { return len(s.input) == 0 }

// IsFull reports whether the input FIFO has reached MaxInputSize.
func (s *BufferedSocket) IsFull() bool { return len(s.input) >= MaxInputSize }

// Consumed advances the input FIFO's read cursor by n bytes, for
// consumers (bucket walkers) that read the buffer out-of-band rather
// than through the OnBufferedData return value.
func (s *BufferedSocket) Consumed(n int) {
	if n > len(s.input) {
		n = len(s.input)
	}
	s.input = s.input[n:]
}

// Read pulls more bytes from the connection into the input FIFO (if
// not currently blocked) and, once there is anything buffered,
// invokes the handler's data callback in a loop until it returns
// something other than AgainOptional/AgainExpect. expectMore=true
// records that the conversation is mid-frame, so an EOF with no
// handler attached is fabricated into a premature-close error rather
// than a silent end.
func (s *BufferedSocket) Read(expectMore bool) {
	s.expectMore = expectMore
	if s.state != StateConnected || s.blocked {
		return
	}
	if !s.inputEOF {
		if err := s.fill(); err != nil {
			s.fail(err)
			return
		}
	}
	s.invoke()
}

func (s *BufferedSocket) fill() error {
	room := MaxInputSize - len(s.input)
	if room <= 0 {
		return nil
	}
	if s.readTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
	buf := make([]byte, room)
	n, err := s.conn.Read(buf)
	if n > 0 {
		s.input = append(s.input, buf[:n]...)
	}
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return err
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		s.inputEOF = true
	}
	return nil
}

func (s *BufferedSocket) invoke() {
	for {
		if s.handler == nil {
			if s.inputEOF && s.expectMore {
				s.fail(istream.ErrClosedPrematurely)
			}
			return
		}
		if s.direct != 0 && len(s.input) == 0 && !s.inputEOF {
			if !s.dispatchDirect() {
				return
			}
			continue
		}
		if len(s.input) == 0 {
			if s.inputEOF {
				res := s.handler.OnBufferedClosed()
				s.applyResult(res)
			}
			return
		}
		consumed, res := s.handler.OnBufferedData(s.input)
		if consumed > 0 {
			s.input = s.input[consumed:]
		}
		switch res {
		case AgainOptional, AgainExpect:
			if consumed == 0 && res == AgainExpect {
				s.fail(errors.New("bsocket: handler asserted AgainExpect without progress"))
				return
			}
			continue
		case Blocking:
			s.blocked = true
			return
		case Closed:
			s.Close()
			return
		case Destroyed:
			s.setState(StateDestroyed)
			return
		case More:
			if s.inputEOF {
				s.fail(errors.New("bsocket: handler requested More at EOF"))
				return
			}
			if s.IsFull() {
				s.fail(errors.New("bsocket: input buffer overflow"))
				return
			}
			if err := s.fill(); err != nil {
				s.fail(err)
				return
			}
			continue
		default: // OK, Partial
			return
		}
	}
}

// dispatchDirect offers the socket's descriptor to the handler's
// direct path. Returns true when the invoke loop should keep going
// (progress was made or the buffered path should take over), false
// when the loop must stop.
func (s *BufferedSocket) dispatchDirect() bool {
	dh, ok := s.handler.(DirectHandler)
	if !ok || !s.direct.Accepts(istream.FDSocket) {
		// Direct was requested but cannot be served; the buffered
		// path takes over for this iteration.
		s.direct = 0
		return true
	}
	fd, ok := s.AsFD()
	if !ok {
		s.direct = 0
		return true
	}
	switch dh.OnBufferedDirect(istream.FDSocket, fd) {
	case DirectOK:
		return true
	case DirectBlocking:
		s.blocked = true
		return false
	case DirectEmpty:
		// Nothing to splice right now; fall back to a buffered fill
		// so the next iteration has bytes (or an EOF) to act on.
		if err := s.fill(); err != nil {
			s.fail(err)
			return false
		}
		if len(s.input) == 0 && !s.inputEOF {
			return false
		}
		return true
	case DirectEnd:
		s.inputEOF = true
		return true
	case DirectClosed:
		return false
	default: // DirectErrno
		s.fail(errors.New("bsocket: direct transfer failed"))
		return false
	}
}

// Resume un-blocks a socket previously left Blocking by its handler.
// Bytes already sitting in the input FIFO are offered to the handler
// again first; only with an empty FIFO does it read more from the
// connection.
func (s *BufferedSocket) Resume() {
	if !s.blocked {
		return
	}
	s.blocked = false
	if len(s.input) > 0 && s.state == StateConnected {
		s.invoke()
		return
	}
	s.Read(s.expectMore)
}

func (s *BufferedSocket) fail(err error) {
	if s.state == StateDestroyed {
		return
	}
	s.setState(StateDisconnected)
	if s.handler != nil {
		s.handler.OnBufferedError(err)
	}
	s.conn.Close()
}

// Write sends data to the connection, respecting the configured write
// deadline. A broken peer (EPIPE/ECONNRESET) is routed through the
// handler's BrokenHandler capability, which may keep the read side
// alive; otherwise the error destroys the socket.
func (s *BufferedSocket) Write(data []byte) (int, error) {
	if s.broken {
		return 0, ErrBroken
	}
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	n, err := s.conn.Write(data)
	if err != nil && isBrokenPipe(err) {
		if bh, ok := s.handler.(BrokenHandler); ok && bh.OnBufferedBroken(err) == OK {
			s.broken = true
			return n, ErrBroken
		}
		s.fail(err)
	}
	return n, err
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}

// DeferNextWrite schedules a write attempt to happen on the next pass
// through InvokeDeferred rather than synchronously, standing in for
// the original's "defer_next_write" microtask so a write triggered
// from deep inside a callback doesn't reenter the handler.
func (s *BufferedSocket) DeferNextWrite() { s.deferred = true }

// InvokeDeferred runs a deferred write, if one was scheduled. Callers
// drive this once per event-loop pass.
func (s *BufferedSocket) InvokeDeferred() {
	if !s.deferred {
		return
	}
	s.deferred = false
	if s.handler != nil {
		res := s.handler.OnBufferedWrite()
		s.applyResult(res)
	}
}

func (s *BufferedSocket) applyResult(res Result) {
	switch res {
	case Blocking:
		s.blocked = true
	case Closed:
		s.Close()
	case Destroyed:
		s.setState(StateDestroyed)
	}
}

// AsFD exposes the connection's raw descriptor for splice setups. It
// refuses while the input FIFO is non-empty: buffered bytes would be
// silently lost if the caller bypassed the FIFO.
func (s *BufferedSocket) AsFD() (uintptr, bool) {
	if len(s.input) != 0 || s.conn == nil {
		return 0, false
	}
	sc, ok := s.conn.(syscall.Conn)
	if !ok {
		return 0, false
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd uintptr
	got := false
	if err := rc.Control(func(f uintptr) { fd = f; got = true }); err != nil {
		return 0, false
	}
	return fd, got
}

// Abandon surrenders the connection without closing it, so the fd can
// go back to a connection pool. The socket itself is dead afterwards.
func (s *BufferedSocket) Abandon() net.Conn {
	conn := s.conn
	s.conn = nil
	s.handler = nil
	s.input = nil
	s.setState(StateDestroyed)
	return conn
}

// Close ends the connection and transitions to StateEnded.
func (s *BufferedSocket) Close() {
	if s.state == StateEnded || s.state == StateDestroyed {
		return
	}
	s.setState(StateEnded)
	if s.conn != nil {
		s.conn.Close()
	}
}

// Conn exposes the underlying connection for code that needs to, e.g.,
// perform a protocol upgrade.
func (s *BufferedSocket) Conn() net.Conn { return s.conn }
