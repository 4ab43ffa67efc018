package fastcgi

import (
	"encoding/binary"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bpcore/flowproxy/bsocket"
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/fanout"
	"github.com/bpcore/flowproxy/istream/source"
	"github.com/bpcore/flowproxy/pool"
	"github.com/bpcore/flowproxy/trace"
)

// MaxHeaderLineSize and MaxTotalHeaderSize are the GARBAGE limits of
// spec §4.H.1 ("Header lines longer than 8 KiB or totaling more than
// 64 KiB are protocol errors").
const (
	MaxHeaderLineSize  = 8 * 1024
	MaxTotalHeaderSize = 64 * 1024
)

// responseState is the FSM named in spec §3 "response state".
type responseState int

const (
	stateReceivingHeaders responseState = iota
	stateBody
	stateEndPending
	stateDone
)

// Handler receives the decoded FastCGI response.
type Handler interface {
	// OnResponse is called exactly once, as soon as the blank line
	// ending the header block is seen. body is a Stream the caller
	// pulls the response body from.
	OnResponse(status int, headers map[string]string, body istream.Stream)
	// OnError delivers a transport or protocol error. If it happens
	// before OnResponse, no body Stream was ever produced; afterwards
	// it is delivered only as an OnError on body's handler, not here.
	OnError(err error)
}

// beginRequestBody encodes BEGIN_REQUEST's 8-byte payload: role (2),
// flags (1), 5 reserved.
func beginRequestBody(role uint16, flags uint8) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint16(b[:2], role)
	b[2] = flags
	return b
}

// BuildRequest assembles the single concatenated source Stream spec
// §4.H.1 describes: BEGIN_REQUEST, PARAMS (one or more plus the
// terminating empty record), then body reframed into STDIN records.
func BuildRequest(requestID uint16, meta RequestMeta, body istream.Stream) istream.Stream {
	begin := source.New(frameRecord(nil, TypeBeginRequest, requestID, beginRequestBody(RoleResponder, FlagKeepConn)))
	params := source.New(EncodeParamsRecords(requestID, meta.Build()))
	stdin := newStdinFramer(requestID, body)
	return fanout.NewConcat(begin, params, stdin)
}

// Client drives one FastCGI request/response conversation over a
// bsocket.BufferedSocket: it writes the framed request and, acting as
// the socket's Handler, decodes the interleaved STDOUT/STDERR/
// END_REQUEST records of the response. Grounded on
// caddyhttp/fastcgi/fcgiclient.go and fastcgi.go, restructured around
// the push/bucket Stream model instead of blocking io.Reader.
type Client struct {
	sock    *bsocket.BufferedSocket
	log     *zap.Logger
	reqID   uint16
	stderrW io.Writer
	lease   pool.Lease
	watch   *trace.Stopwatch
	handler Handler

	state     responseState
	noBody    bool
	headerBuf []byte
	headers   map[string]string
	status    int

	contentLength int // bytes remaining in the current record's payload
	skipLength    int // padding/ignored bytes to drop before the next header
	curType       uint8
	ignoring      bool // current record's request_id didn't match

	bodyContentLength int64 // parsed "Content-Length" response header, -1 if unknown
	bodyDelivered     int64

	body *source.Fifo

	keepConn bool
	err      error
}

// New creates a Client that will drive sock for exactly one request.
// A fresh Client must be constructed per request (spec §3: the
// session object is allocated per request and destroyed afterwards).
func New(sock *bsocket.BufferedSocket, log *zap.Logger, requestID uint16) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("fcgi_session", uuid.NewString()), zap.Uint16("fcgi_request_id", requestID))
	return &Client{sock: sock, log: log, reqID: requestID, headers: make(map[string]string), bodyContentLength: -1}
}

// SetLease supplies the socket lease this Client will release (with
// REUSE or DESTROY) once the response completes or errors.
func (c *Client) SetLease(l pool.Lease) { c.lease = l }

// SetStopwatch attaches a trace span recorder; safe to leave unset.
func (c *Client) SetStopwatch(w *trace.Stopwatch) { c.watch = w }

// SetStderr directs FastCGI STDERR payload to w (spec §4.H.1: "STDERR:
// written to an optional log fd").
func (c *Client) SetStderr(w io.Writer) { c.stderrW = w }

// Send serializes meta+body as the request and starts decoding the
// response into handler. noBody should be true for a HEAD request.
func (c *Client) Send(meta RequestMeta, body istream.Stream, noBody bool, handler Handler) {
	c.handler = handler
	c.noBody = noBody
	c.body = source.NewFifo(c)

	reqStream := BuildRequest(c.reqID, meta, body)
	w := newRequestWriter(c.sock, reqStream)
	reqStream.SetHandler(w)
	w.pump()

	c.watch.Mark("request sent")
	c.sock.SetHandler(c)
	c.sock.Read(true)
}

// --- source.FifoHandler: bookkeeping for bytes delivered to the caller ---

func (c *Client) OnConsumed(n int) { c.bodyDelivered += int64(n) }
func (c *Client) OnDrained()       { c.sock.Resume() }
func (c *Client) OnClosed()        {}

// --- bsocket.Handler: decoding the response ---

func (c *Client) OnBufferedData(data []byte) (int, bsocket.Result) {
	pos := 0
	for {
		if c.state == stateDone {
			return pos, bsocket.Closed
		}
		if c.contentLength == 0 && c.skipLength == 0 {
			if len(data)-pos < HeaderLen {
				return pos, bsocket.More
			}
			hdr, _ := UnmarshalRecordHeader(data[pos:])
			pos += HeaderLen
			c.curType = hdr.Type
			c.contentLength = int(hdr.ContentLength)
			c.skipLength = int(hdr.PaddingLength)
			c.ignoring = hdr.RequestID != c.reqID
			continue
		}
		if c.contentLength > 0 {
			avail := len(data) - pos
			if avail == 0 {
				return pos, bsocket.More
			}
			n := c.contentLength
			if n > avail {
				n = avail
			}
			chunk := data[pos : pos+n]
			if !c.ignoring {
				if err := c.consumeContent(chunk); err != nil {
					c.fail(err)
					return pos + n, bsocket.Destroyed
				}
			}
			pos += n
			c.contentLength -= n
			if c.contentLength == 0 && c.skipLength == 0 && !c.ignoring && c.curType == TypeEndRequest && c.state == stateEndPending {
				c.finish(pos == len(data))
				if c.state == stateDone {
					return pos, bsocket.Closed
				}
			}
			continue
		}
		// skipLength > 0: padding or an ignored record's body.
		avail := len(data) - pos
		if avail == 0 {
			return pos, bsocket.More
		}
		n := c.skipLength
		if n > avail {
			n = avail
		}
		pos += n
		c.skipLength -= n
		if c.skipLength == 0 && !c.ignoring && c.curType == TypeEndRequest && c.state == stateEndPending {
			c.finish(pos == len(data))
			if c.state == stateDone {
				return pos, bsocket.Closed
			}
		}
	}
}

func (c *Client) consumeContent(chunk []byte) error {
	switch c.curType {
	case TypeStdout:
		switch c.state {
		case stateReceivingHeaders:
			return c.feedHeaders(chunk)
		case stateBody:
			return c.feedBody(chunk)
		}
	case TypeStderr:
		if c.stderrW != nil {
			c.stderrW.Write(chunk)
		}
	case TypeEndRequest:
		if len(chunk) >= 5 {
			// appStatus := binary.BigEndian.Uint32(chunk[:4])
			protocolStatus := chunk[4]
			if protocolStatus != StatusRequestComplete {
				return istream.NewError("FASTCGI_PROTOCOL", "non-complete END_REQUEST status", false, nil)
			}
		}
		c.state = stateEndPending
	}
	return nil
}

func (c *Client) feedHeaders(chunk []byte) error {
	c.headerBuf = append(c.headerBuf, chunk...)
	if len(c.headerBuf) > MaxTotalHeaderSize {
		return istream.NewError("GARBAGE", "fastcgi response headers exceed 64 KiB", false, nil)
	}
	idx := indexDoubleCRLF(c.headerBuf)
	if idx < 0 {
		return nil
	}
	block := c.headerBuf[:idx]
	rest := c.headerBuf[idx+4:]
	c.headerBuf = nil

	for _, line := range strings.Split(string(block), "\r\n") {
		if line == "" {
			continue
		}
		if len(line) > MaxHeaderLineSize {
			return istream.NewError("GARBAGE", "fastcgi response header line too long", false, nil)
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return istream.NewError("GARBAGE", "malformed fastcgi response header", false, nil)
		}
		c.headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	c.status = 200
	if s, ok := c.headers["Status"]; ok {
		if n, err := strconv.Atoi(strings.Fields(s)[0]); err == nil {
			c.status = n
		}
		delete(c.headers, "Status")
	}
	if cl, ok := c.headers["Content-Length"]; ok {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			c.bodyContentLength = n
		}
	}

	c.watch.Mark("response headers")
	if c.noBody {
		c.state = stateEndPending
		c.body.Finish()
	} else {
		c.state = stateBody
	}
	if c.handler != nil {
		c.handler.OnResponse(c.status, c.headers, c.body)
	}
	if len(rest) > 0 && !c.noBody {
		return c.feedBody(rest)
	}
	return nil
}

func (c *Client) feedBody(chunk []byte) error {
	if c.bodyContentLength >= 0 {
		if c.bodyDelivered+int64(len(chunk)) > c.bodyContentLength {
			return istream.NewError("GARBAGE", "fastcgi body exceeds declared Content-Length", false, nil)
		}
	}
	c.body.Push(chunk)
	return nil
}

// finish ends the conversation once END_REQUEST's content and padding
// are fully consumed. atBufferEnd reports whether pos reached the end
// of the currently-buffered data (spec §4.H.1: "releases the socket
// lease ... iff the trailing bytes equal the buffer end").
func (c *Client) finish(atBufferEnd bool) {
	c.watch.End(nil)
	c.state = stateDone
	c.body.Finish()
	if c.lease != nil {
		action := pool.Destroy
		if atBufferEnd {
			action = pool.Reuse
		}
		c.lease.Release(action)
		c.lease = nil
	}
}

func (c *Client) OnBufferedClosed() bsocket.Result {
	if c.state == stateDone {
		return bsocket.Closed
	}
	c.fail(istream.ErrClosedPrematurely)
	return bsocket.Destroyed
}

func (c *Client) OnBufferedWrite() bsocket.Result { return bsocket.OK }

func (c *Client) OnBufferedError(err error) { c.fail(err) }

// fail delivers err once. Before the header block completed the caller
// never saw a body Stream, so the error goes to the top-level Handler;
// afterwards the caller owns the body Stream and the error must arrive
// through its OnError instead (spec §7).
func (c *Client) fail(err error) {
	if c.err != nil {
		return
	}
	c.err = err
	c.watch.End(err)
	if c.lease != nil {
		c.lease.Release(pool.Destroy)
		c.lease = nil
	}
	if c.state != stateReceivingHeaders && c.body != nil {
		c.body.Fail(err)
		return
	}
	if c.handler != nil {
		c.handler.OnError(err)
	}
}

func indexDoubleCRLF(b []byte) int {
	for i := 0; i+3 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' && b[i+2] == '\r' && b[i+3] == '\n' {
			return i
		}
	}
	return -1
}

// Retryable classifies a FastCGI client error per spec §7/§4.H.1: a
// SocketClosedPrematurely or IO/REFUSED error is retryable; GARBAGE
// and other protocol errors are not.
func Retryable(err error) bool { return istream.Retryable(err) }
