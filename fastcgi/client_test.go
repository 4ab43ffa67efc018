package fastcgi

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bpcore/flowproxy/bsocket"
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/source"
	"github.com/bpcore/flowproxy/pool"
)

// bodyCollector drains an istream.Stream, recording everything it sees.
type bodyCollector struct {
	data []byte
	eof  bool
	err  error
}

func (c *bodyCollector) OnData(data []byte) (int, istream.Disposition) {
	c.data = append(c.data, data...)
	return len(data), istream.Continue
}

func (c *bodyCollector) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	return 0, istream.DirectBlocking, istream.Continue
}

func (c *bodyCollector) OnEOF()          { c.eof = true }
func (c *bodyCollector) OnError(e error) { c.err = e }

func drainStream(t *testing.T, s istream.Stream, out *bodyCollector) {
	t.Helper()
	for i := 0; i < 1000 && !out.eof && out.err == nil; i++ {
		s.Read()
	}
	require.True(t, out.eof || out.err != nil, "body stream never reached a terminal state")
}

func rawResponse(t *testing.T, requestID uint16, status string, body string) []byte {
	t.Helper()
	head := "Status: " + status + "\r\nContent-Type: text/plain\r\n\r\n"
	var out []byte
	out = frameRecord(out, TypeStdout, requestID, []byte(head+body))
	out = frameRecord(out, TypeEndRequest, requestID, []byte{0, 0, 0, 0, StatusRequestComplete, 0, 0, 0})
	return out
}

func TestClientDecodesResponseHeadersAndBody(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go io.Copy(io.Discard, serverConn)
	go serverConn.Write(rawResponse(t, 1, "200 OK", "hello from upstream"))

	sock := bsocket.New(clientConn, zaptest.NewLogger(t))
	client := New(sock, zaptest.NewLogger(t), 1)

	released := make(chan pool.ReleaseAction, 1)
	client.SetLease(pool.LeaseFunc(func(a pool.ReleaseAction) { released <- a }))

	var gotStatus int
	var gotHeaders map[string]string
	var gotBody istream.Stream
	responded := make(chan struct{})

	client.Send(RequestMeta{Method: "GET", RequestURI: "/", ContentLength: -1}, source.NewString(""), false, responseCapture{
		onResponse: func(status int, headers map[string]string, body istream.Stream) {
			gotStatus, gotHeaders, gotBody = status, headers, body
			close(responded)
		},
		onError: func(err error) { t.Fatalf("unexpected error: %v", err) },
	})

	select {
	case <-responded:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}

	assert.Equal(t, 200, gotStatus)
	assert.Equal(t, "text/plain", gotHeaders["Content-Type"])

	out := &bodyCollector{}
	gotBody.SetHandler(out)
	drainStream(t, gotBody, out)
	assert.Equal(t, "hello from upstream", string(out.data))

	select {
	case action := <-released:
		assert.Equal(t, pool.Reuse, action)
	case <-time.After(time.Second):
		t.Fatal("lease was never released")
	}
}

// responseCapture adapts plain functions to Handler for table-free tests.
type responseCapture struct {
	onResponse func(status int, headers map[string]string, body istream.Stream)
	onError    func(err error)
}

func (r responseCapture) OnResponse(status int, headers map[string]string, body istream.Stream) {
	r.onResponse(status, headers, body)
}
func (r responseCapture) OnError(err error) { r.onError(err) }

func TestRetryableClassification(t *testing.T) {
	assert.True(t, Retryable(istream.ErrClosedPrematurely))
	assert.False(t, Retryable(istream.NewError("GARBAGE", "bad", false, nil)))
}

// A server that sends headers plus part of the declared body and then
// hangs up must surface a retryable premature-close error on the body
// stream's own handler (the caller already owns the body by then), not
// on the top-level Handler, and the lease must not be reused.
func TestClientPrematureCloseRoutesToBodyHandler(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go io.Copy(io.Discard, serverConn)
	go func() {
		head := "Status: 200\r\nContent-Length: 10\r\n\r\nfoo"
		serverConn.Write(frameRecord(nil, TypeStdout, 1, []byte(head)))
		serverConn.Close()
	}()

	sock := bsocket.New(clientConn, zaptest.NewLogger(t))
	client := New(sock, zaptest.NewLogger(t), 1)

	released := make(chan pool.ReleaseAction, 1)
	client.SetLease(pool.LeaseFunc(func(a pool.ReleaseAction) { released <- a }))

	var gotBody istream.Stream
	client.Send(RequestMeta{Method: "GET", RequestURI: "/", ContentLength: -1}, source.NewString(""), false, responseCapture{
		onResponse: func(status int, headers map[string]string, body istream.Stream) { gotBody = body },
		onError:    func(err error) { t.Errorf("error bypassed the body stream: %v", err) },
	})
	require.NotNil(t, gotBody)

	out := &bodyCollector{}
	gotBody.SetHandler(out)
	drainStream(t, gotBody, out)
	require.Error(t, out.err)
	assert.True(t, Retryable(out.err))

	select {
	case action := <-released:
		assert.Equal(t, pool.Destroy, action)
	case <-time.After(time.Second):
		t.Fatal("lease was never released")
	}
}
