package bsocket

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpcore/flowproxy/istream"
)

type recordingHandler struct {
	data    []byte
	closed  bool
	errored error
}

func (h *recordingHandler) OnBufferedData(data []byte) (int, Result) {
	h.data = append(h.data, data...)
	return len(data), OK
}

func (h *recordingHandler) OnBufferedClosed() Result {
	h.closed = true
	return OK
}

func (h *recordingHandler) OnBufferedWrite() Result { return OK }

func (h *recordingHandler) OnBufferedError(err error) { h.errored = err }

func TestBufferedSocketReadsIntoHandler(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	s := New(server, nil)
	h := &recordingHandler{}
	s.SetHandler(h)
	assert.Equal(t, StateConnected, s.State())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Read(false)
	}()

	_, err := client.Write([]byte("hello"))
	require.NoError(t, err)
	<-done

	assert.Equal(t, "hello", string(h.data))
}

func TestBufferedSocketClosedOnPeerEOF(t *testing.T) {
	client, server := net.Pipe()

	s := New(server, nil)
	h := &recordingHandler{}
	s.SetHandler(h)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Read(false)
	}()
	client.Close()
	<-done

	assert.True(t, h.closed)
}

func TestBufferedSocketCloseTransitionsToEnded(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	s := New(server, nil)
	s.Close()
	assert.Equal(t, StateEnded, s.State())
	assert.False(t, s.Connected())

	// Close is idempotent.
	s.Close()
	assert.Equal(t, StateEnded, s.State())
}

func TestBufferedSocketBlockingStopsReads(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := New(server, nil)
	h := &blockingThenOKHandler{blockFor: 1}
	s.SetHandler(h)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Read(false)
	}()
	_, err := client.Write([]byte("x"))
	require.NoError(t, err)
	<-done

	assert.True(t, s.blocked)
	assert.Equal(t, 1, h.calls)

	s.Resume()
	assert.False(t, s.blocked)
}

type blockingThenOKHandler struct {
	blockFor int
	calls    int
}

func (h *blockingThenOKHandler) OnBufferedData(data []byte) (int, Result) {
	h.calls++
	if h.calls <= h.blockFor {
		return 0, Blocking
	}
	return len(data), OK
}
func (h *blockingThenOKHandler) OnBufferedClosed() Result  { return OK }
func (h *blockingThenOKHandler) OnBufferedWrite() Result   { return OK }
func (h *blockingThenOKHandler) OnBufferedError(err error) {}

func TestBufferedSocketWriteRespectsDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := New(server, nil)
	s.SetTimeouts(0, 10*time.Millisecond)

	// net.Pipe is synchronous and unbuffered with nothing reading, so a
	// write must time out rather than block forever.
	_, err := s.Write([]byte("hello"))
	require.Error(t, err)
}

func TestBufferedSocketDeferredWrite(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := New(server, nil)
	h := &recordingHandler{}
	s.SetHandler(h)

	s.InvokeDeferred() // no-op, nothing deferred
	s.DeferNextWrite()
	s.InvokeDeferred()
	assert.False(t, s.deferred)
}

func TestBufferedSocketFIFOAccounting(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := New(server, nil)
	h := &partialHandler{}
	s.SetHandler(h)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Read(false)
	}()
	_, err := client.Write([]byte("abcdef"))
	require.NoError(t, err)
	<-done

	// The handler consumed 2 of 6 bytes and reported Partial.
	assert.Equal(t, 4, s.Available())
	assert.False(t, s.IsEmpty())
	assert.False(t, s.IsFull())

	// Out-of-band consumption through the read cursor.
	s.Consumed(3)
	assert.Equal(t, 1, s.Available())
	s.Consumed(100)
	assert.True(t, s.IsEmpty())
}

type partialHandler struct{}

func (h *partialHandler) OnBufferedData(data []byte) (int, Result) { return 2, Partial }
func (h *partialHandler) OnBufferedClosed() Result                 { return OK }
func (h *partialHandler) OnBufferedWrite() Result                  { return OK }
func (h *partialHandler) OnBufferedError(err error)                {}

func TestBufferedSocketAbandonSurrendersConn(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	s := New(server, nil)
	conn := s.Abandon()
	require.NotNil(t, conn)
	assert.Equal(t, StateDestroyed, s.State())

	// The surrendered conn is still usable.
	go client.Write([]byte("x"))
	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	require.NoError(t, err)
	conn.Close()
}

func TestBufferedSocketAsFDRefusedWithBufferedInput(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := New(server, nil)
	h := &partialHandler{}
	s.SetHandler(h)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Read(false)
	}()
	_, err := client.Write([]byte("abcdef"))
	require.NoError(t, err)
	<-done

	require.False(t, s.IsEmpty())
	_, ok := s.AsFD()
	assert.False(t, ok)
}

func TestBufferedSocketDirectFallsBackWithoutRawFD(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// net.Pipe conns carry no raw descriptor, so a direct request must
	// degrade to the buffered path on the same read cycle. The handler
	// returns AgainOptional so the invoke loop comes back around with
	// an empty FIFO and actually visits the direct dispatcher.
	s := New(server, nil)
	h := &againHandler{}
	s.SetHandler(h)
	s.SetDirect(s.GetDirectMask())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Read(false)
	}()
	_, err := client.Write([]byte("direct?"))
	require.NoError(t, err)
	<-done

	assert.Equal(t, "direct?", string(h.data))
	assert.Equal(t, istream.DirectMask(0), s.direct)
}

type againHandler struct {
	data []byte
}

func (h *againHandler) OnBufferedData(data []byte) (int, Result) {
	h.data = append(h.data, data...)
	return len(data), AgainOptional
}
func (h *againHandler) OnBufferedClosed() Result  { return OK }
func (h *againHandler) OnBufferedWrite() Result   { return OK }
func (h *againHandler) OnBufferedError(err error) {}

// OnBufferedDirect makes againHandler a DirectHandler, so the fallback
// under test comes from the missing raw descriptor, not from a handler
// without the direct capability.
func (h *againHandler) OnBufferedDirect(kind istream.FDKind, fd uintptr) DirectResult {
	return DirectErrno
}

func TestBufferedSocketExpectMoreFabricatesPrematureClose(t *testing.T) {
	client, server := net.Pipe()

	s := New(server, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Read(true)
	}()
	client.Close()
	<-done

	// No handler was attached; the EOF mid-conversation must still
	// have torn the socket down rather than leaving it connected.
	assert.Equal(t, StateDisconnected, s.State())
}
