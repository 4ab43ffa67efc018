package httpclient

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bpcore/flowproxy/bsocket"
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/pool"
	"github.com/bpcore/flowproxy/trace"
)

// MaxLineSize bounds a single status/header line before it is treated
// as GARBAGE, mirroring the FastCGI client's MaxHeaderLineSize.
const MaxLineSize = 8 * 1024

// Handler receives the decoded HTTP response.
type Handler interface {
	// OnStatus is called once a response's header block finishes
	// parsing. A 100 Continue interim response is handled inside Client
	// and never reaches OnStatus; any other status, including other
	// 1xx codes, does.
	OnStatus(status int, headers map[string]string, body istream.Stream)
	OnError(err error)
}

// Client drives one HTTP/1.1 request/response exchange over a
// bsocket.BufferedSocket. Grounded on spec §4.H.2; see package doc for
// the specific teacher/example grounding of each piece.
type Client struct {
	sock    *bsocket.BufferedSocket
	log     *zap.Logger
	lease   pool.Lease
	watch   *trace.Stopwatch
	handler Handler

	headOnly bool
	paused   *pausedBody
	writer   *requestWriter

	state     responseState
	interim   bool
	headers   map[string]string
	status    Status
	keepAlive bool

	body        *bodyReader
	bodyEndSeen bool

	err error
}

func New(sock *bsocket.BufferedSocket, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{sock: sock, log: log, keepAlive: true}
}

// SetLease supplies the pooled-connection lease this Client releases
// (REUSE or DESTROY) once the exchange completes or errors.
func (c *Client) SetLease(l pool.Lease) { c.lease = l }

// SetStopwatch attaches a trace span recorder; every call is safe on a
// nil Stopwatch, so callers that don't trace simply skip this.
func (c *Client) SetStopwatch(w *trace.Stopwatch) { c.watch = w }

// Send serializes req and starts decoding the response into handler.
// headOnly must be true for a HEAD request (spec §4.H.2: HEAD has no
// body regardless of any Content-Length in the response).
func (c *Client) Send(req Request, headOnly bool, handler Handler) {
	c.handler = handler
	c.headOnly = headOnly
	if req.Upgrade != "" {
		c.keepAlive = false
	}

	prepared := Build(req)
	c.paused = prepared.paused
	c.writer = newRequestWriter(c.sock, prepared.stream)
	prepared.stream.SetHandler(c.writer)
	c.writer.pump()

	c.watch.Mark("request sent")
	c.sock.SetHandler(c)
	c.sock.Read(true)
}

// KeepAlive reports whether the connection may be reused for another
// request once this exchange finishes.
func (c *Client) KeepAlive() bool { return c.keepAlive }

func (c *Client) OnBufferedData(data []byte) (int, bsocket.Result) {
	pos := 0
	for {
		switch c.state {
		case stateStatus:
			idx := indexCRLF(data[pos:])
			if idx < 0 {
				if len(data)-pos > MaxLineSize {
					c.fail(istream.NewError("GARBAGE", "HTTP status line too long", true, nil))
					return pos, bsocket.Destroyed
				}
				return pos, bsocket.More
			}
			line := string(data[pos : pos+idx])
			pos += idx + 2
			st, err := parseStatusLine(line)
			if err != nil {
				c.fail(err)
				return pos, bsocket.Destroyed
			}
			c.status = st
			c.headers = make(map[string]string)
			if st.Code == 100 {
				c.interim = true
			}
			c.state = stateHeaders

		case stateHeaders:
			idx := indexCRLF(data[pos:])
			if idx < 0 {
				if len(data)-pos > MaxLineSize {
					c.fail(istream.NewError("GARBAGE", "HTTP header line too long", true, nil))
					return pos, bsocket.Destroyed
				}
				return pos, bsocket.More
			}
			line := data[pos : pos+idx]
			pos += idx + 2
			if len(line) == 0 {
				if c.interim {
					c.interim = false
					c.state = stateStatus
					if c.paused != nil {
						c.paused.Release()
						c.writer.pump()
					}
					continue
				}
				c.onHeadersComplete()
				continue
			}
			name, value, ok := strings.Cut(string(line), ":")
			if !ok {
				c.fail(istream.NewError("GARBAGE", "malformed HTTP header", true, nil))
				return pos, bsocket.Destroyed
			}
			c.headers[strings.TrimSpace(name)] = strings.TrimSpace(strings.TrimPrefix(value, " "))

		case stateBody:
			n, res, done := c.feedBody(data[pos:])
			pos += n
			if done {
				c.state = stateEnd
				continue
			}
			return pos, res

		case stateEnd:
			if pos < len(data) {
				c.log.Debug("excess data after HTTP response")
				c.keepAlive = false
			}
			c.finish()
			return len(data), bsocket.Closed
		}
	}
}

// feedBody consumes as much of chunk as the current framing mode can
// use in one call, returning bytes consumed, the bsocket.Result the
// caller should use if not done, and whether the body is now fully
// received.
func (c *Client) feedBody(chunk []byte) (int, bsocket.Result, bool) {
	switch c.body.framing {
	case framingKnownLength:
		n := len(chunk)
		if int64(n) > c.body.remaining {
			n = int(c.body.remaining)
		}
		c.body.Push(chunk[:n])
		if c.body.remaining <= 0 {
			c.body.Done()
			return n, bsocket.OK, true
		}
		return n, bsocket.More, false
	case framingChunked:
		c.body.Push(chunk)
		if c.bodyEndSeen {
			return len(chunk), bsocket.OK, true
		}
		return len(chunk), bsocket.More, false
	default: // framingUnknown: everything is body until the socket closes
		c.body.Push(chunk)
		return len(chunk), bsocket.More, false
	}
}

func (c *Client) onHeadersComplete() {
	if c.paused != nil {
		// A final status arrived without the interim 100: the withheld
		// body is never sent.
		c.paused.Discard()
		c.paused = nil
	}
	connClose := strings.Contains(strings.ToLower(c.headers["Connection"]), "close")
	c.keepAlive = !connClose

	noBody := c.headOnly || c.status.Code == 204 || c.status.Code == 304 || (c.status.Code >= 100 && c.status.Code < 200)
	upgrade := isUpgrade(c.status.Code, c.headers)

	var framing bodyFraming
	var length int64 = -1
	te := strings.ToLower(c.headers["Transfer-Encoding"])
	switch {
	case strings.Contains(te, "chunked"):
		framing = framingChunked
	case !noBody:
		if cl, ok := c.headers["Content-Length"]; ok {
			n, err := strconv.ParseInt(cl, 10, 64)
			if err != nil || n < 0 {
				c.fail(istream.NewError("GARBAGE", "invalid Content-Length", true, nil))
				return
			}
			framing = framingKnownLength
			length = n
		} else {
			framing = framingUnknown
			c.keepAlive = false
		}
	}
	if upgrade {
		c.keepAlive = false
		framing = framingUnknown
		noBody = false
	}
	if noBody {
		framing = framingKnownLength
		length = 0
	}

	c.watch.Mark("response headers")
	c.body = newBodyReader(framing, length, func() { c.bodyEndSeen = true })
	c.state = stateBody
	if c.handler != nil {
		c.handler.OnStatus(c.status.Code, c.headers, c.body.Stream())
	}
	if noBody {
		c.body.Done()
		c.state = stateEnd
	}
}

func (c *Client) finish() {
	c.watch.End(nil)
	action := pool.Destroy
	if c.keepAlive {
		action = pool.Reuse
	}
	if c.lease != nil {
		c.lease.Release(action)
		c.lease = nil
	}
}

func (c *Client) OnBufferedClosed() bsocket.Result {
	if c.state == stateEnd {
		return bsocket.Closed
	}
	premature := c.state == stateBody && c.body != nil && c.body.framing != framingUnknown
	if premature {
		c.fail(istream.ErrClosedPrematurely)
	} else if c.state == stateBody {
		// framingUnknown: socket close is the expected end of body.
		c.body.Done()
		c.keepAlive = false
		c.finish()
	} else {
		c.fail(istream.ErrClosedPrematurely)
	}
	return bsocket.Destroyed
}

func (c *Client) OnBufferedWrite() bsocket.Result { return bsocket.OK }

func (c *Client) OnBufferedError(err error) { c.fail(err) }

// fail delivers err once, via the path spec §7/§4.H.2 calls for: before
// the response was handed to the caller (OnStatus not yet called), the
// error goes to the client Handler's OnError; afterwards it must go to
// the body stream's own handler instead, since the caller has already
// moved on to treating body as its active Stream.
func (c *Client) fail(err error) {
	if c.err != nil {
		return
	}
	c.err = err
	c.watch.End(err)
	c.keepAlive = false
	if c.lease != nil {
		c.lease.Release(pool.Destroy)
		c.lease = nil
	}
	if c.body != nil {
		c.body.OnError(err)
		return
	}
	if c.handler != nil {
		c.handler.OnError(err)
	}
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// Retryable classifies err per spec §4.H.2: UNSPECIFIED is not
// retryable; REFUSED/PREMATURE/IO/GARBAGE all are.
func Retryable(err error) bool { return istream.Retryable(err) }
