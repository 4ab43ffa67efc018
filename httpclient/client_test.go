package httpclient

import (
	"io"
	"net"
	"strings"
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

type responseCapture struct {
	onStatus func(status int, headers map[string]string, body istream.Stream)
	onError  func(err error)
}

func (r responseCapture) OnStatus(status int, headers map[string]string, body istream.Stream) {
	r.onStatus(status, headers, body)
}
func (r responseCapture) OnError(err error) { r.onError(err) }

func newPipeSocket(t *testing.T) (*bsocket.BufferedSocket, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})
	return bsocket.New(clientConn, zaptest.NewLogger(t)), serverConn
}

func TestClientDecodesKnownLengthResponse(t *testing.T) {
	sock, server := newPipeSocket(t)
	go io.Copy(io.Discard, server)
	go server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\nContent-Type: text/plain\r\n\r\nhello"))

	client := New(sock, zaptest.NewLogger(t))
	released := make(chan pool.ReleaseAction, 1)
	client.SetLease(pool.LeaseFunc(func(a pool.ReleaseAction) { released <- a }))

	var status int
	var headers map[string]string
	var body istream.Stream
	done := make(chan struct{})
	client.Send(Request{Method: "GET", URI: "/", Headers: map[string]string{"Host": "example.test"}, ContentLength: 0}, false, responseCapture{
		onStatus: func(s int, h map[string]string, b istream.Stream) {
			status, headers, body = s, h, b
			close(done)
		},
		onError: func(err error) { t.Fatalf("unexpected error: %v", err) },
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status")
	}

	assert.Equal(t, 200, status)
	assert.Equal(t, "text/plain", headers["Content-Type"])

	out := &bodyCollector{}
	body.SetHandler(out)
	drainStream(t, body, out)
	assert.Equal(t, "hello", string(out.data))
	assert.True(t, client.KeepAlive())

	select {
	case action := <-released:
		assert.Equal(t, pool.Reuse, action)
	case <-time.After(time.Second):
		t.Fatal("lease was never released")
	}
}

func TestClientDecodesChunkedResponse(t *testing.T) {
	sock, server := newPipeSocket(t)
	go io.Copy(io.Discard, server)
	go server.Write([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"))

	client := New(sock, zaptest.NewLogger(t))
	var body istream.Stream
	done := make(chan struct{})
	client.Send(Request{Method: "GET", URI: "/", Headers: map[string]string{"Host": "example.test"}, ContentLength: 0}, false, responseCapture{
		onStatus: func(s int, h map[string]string, b istream.Stream) {
			body = b
			close(done)
		},
		onError: func(err error) { t.Fatalf("unexpected error: %v", err) },
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status")
	}

	out := &bodyCollector{}
	body.SetHandler(out)
	drainStream(t, body, out)
	assert.Equal(t, "hello world", string(out.data))
}

func TestClientHeadRequestHasNoBody(t *testing.T) {
	sock, server := newPipeSocket(t)
	go io.Copy(io.Discard, server)
	go server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n"))

	client := New(sock, zaptest.NewLogger(t))
	var body istream.Stream
	done := make(chan struct{})
	client.Send(Request{Method: "HEAD", URI: "/", Headers: map[string]string{"Host": "example.test"}, Body: source.NewString(""), ContentLength: 0}, true, responseCapture{
		onStatus: func(s int, h map[string]string, b istream.Stream) {
			body = b
			close(done)
		},
		onError: func(err error) { t.Fatalf("unexpected error: %v", err) },
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status")
	}

	out := &bodyCollector{}
	body.SetHandler(out)
	drainStream(t, body, out)
	assert.Empty(t, out.data)
	assert.True(t, out.eof)
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, Retryable(istream.ErrClosedPrematurely))
	assert.True(t, Retryable(istream.NewError("GARBAGE", "bad", true, nil)))
}

// Spec §8 scenario 5: a 2048-byte body earns "Expect: 100-continue",
// is paused until the interim response arrives, and the final 204
// carries no body.
func TestClientHandles100ContinueThenNoContentBody(t *testing.T) {
	sock, server := newPipeSocket(t)

	wire := make([]byte, 0, 4096)
	readDone := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := server.Read(buf)
			wire = append(wire, buf[:n]...)
			if err != nil {
				close(readDone)
				return
			}
		}
	}()
	go server.Write([]byte("HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 204 No Content\r\n\r\n"))

	client := New(sock, zaptest.NewLogger(t))
	released := make(chan pool.ReleaseAction, 1)
	client.SetLease(pool.LeaseFunc(func(a pool.ReleaseAction) { released <- a }))

	body := make([]byte, 2048)
	for i := range body {
		body[i] = 'x'
	}

	var status int
	var respBody istream.Stream
	done := make(chan struct{})
	client.Send(Request{
		Method:        "POST",
		URI:           "/",
		Headers:       map[string]string{"Host": "example.test"},
		Body:          source.New(body),
		ContentLength: int64(len(body)),
	}, false, responseCapture{
		onStatus: func(s int, h map[string]string, b istream.Stream) {
			status, respBody = s, b
			close(done)
		},
		onError: func(err error) { t.Fatalf("unexpected error: %v", err) },
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status")
	}

	assert.Equal(t, 204, status)

	out := &bodyCollector{}
	respBody.SetHandler(out)
	drainStream(t, respBody, out)
	assert.Empty(t, out.data)

	select {
	case action := <-released:
		assert.Equal(t, pool.Reuse, action)
	case <-time.After(time.Second):
		t.Fatal("lease was never released")
	}

	server.Close()
	<-readDone
	assert.Contains(t, string(wire), "Expect: 100-continue")
	assert.True(t, strings.Contains(string(wire), strings.Repeat("x", 2048)), "paused body must have been sent after the 100 Continue")
}

// Spec §8 scenario 6: the server announces Content-Length 100, sends
// only 40 bytes, then closes. The body stream's handler must see a
// retryable premature-close error, and the lease must release with
// reuse=false.
func TestClientDeliversPrematureCloseOnBodyStream(t *testing.T) {
	sock, server := newPipeSocket(t)
	go io.Copy(io.Discard, server)
	go func() {
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n" + strings.Repeat("a", 40)))
		server.Close()
	}()

	client := New(sock, zaptest.NewLogger(t))
	released := make(chan pool.ReleaseAction, 1)
	client.SetLease(pool.LeaseFunc(func(a pool.ReleaseAction) { released <- a }))

	var respBody istream.Stream
	done := make(chan struct{})
	client.Send(Request{Method: "GET", URI: "/", Headers: map[string]string{"Host": "example.test"}, ContentLength: 0}, false, responseCapture{
		onStatus: func(s int, h map[string]string, b istream.Stream) {
			respBody = b
			close(done)
		},
		onError: func(err error) { t.Fatalf("unexpected error before status: %v", err) },
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status")
	}

	out := &bodyCollector{}
	respBody.SetHandler(out)

	drainStream(t, respBody, out)
	require.Error(t, out.err)
	assert.True(t, istream.Retryable(out.err))
	assert.ErrorIs(t, out.err, istream.ErrClosedPrematurely)

	select {
	case action := <-released:
		assert.Equal(t, pool.Destroy, action)
	case <-time.After(time.Second):
		t.Fatal("lease was never released")
	}
}
