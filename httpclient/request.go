// Package httpclient implements the HTTP/1.1 client of spec §4.H.2:
// request serialization (request line, header block, body), response
// status/header parsing, body framing (known length, chunked,
// unknown-until-EOF, upgrade), 100-continue negotiation, and
// keep-alive tracking. Grounded on caddyhttp/proxy/reverseproxy.go's
// dialer/pooled-buffer shape and the behavioral contracts pinned down
// by modules/caddyhttp/reverseproxy/streaming_test.go,
// httptransport_test.go, and buffering_test.go (kept as fixtures,
// not copied — the reverseproxy.go body implementing those tests was
// never present in the retrieval pack).
package httpclient

import (
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/bpcore/flowproxy/gbuf"
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/fanout"
	"github.com/bpcore/flowproxy/istream/filter"
	"github.com/bpcore/flowproxy/istream/source"
)

// ExpectContinueThreshold is the partial-availability floor above
// which (or when length is unknown) a request body gets
// "Expect: 100-continue" (spec §4.H.2: "≥ 1024 bytes (or unknown)").
const ExpectContinueThreshold = 1024

// Request is everything the client needs to serialize one HTTP/1.1
// request.
type Request struct {
	Method  string
	URI     string
	Headers map[string]string // caller-supplied; Host should be included
	Body    istream.Stream    // nil for a bodyless request

	// ContentLength, if >= 0, frames Body with a Content-Length
	// header and sends it as-is; if negative, the body is
	// framed with Transfer-Encoding: chunked (spec §4.H.2), unless
	// VerbatimChunked is true.
	ContentLength int64

	// VerbatimChunked marks Body as already being chunk-framed bytes
	// (e.g. forwarded from a Dechunk'd upstream in passthrough mode);
	// the client writes it unchanged instead of wrapping it again
	// (spec §4.H.2: "except when the body is itself a dechunked
	// stream in verbatim mode").
	VerbatimChunked bool

	// Upgrade, if non-empty, sets Connection: upgrade and Upgrade: <value>
	// and forces keep-alive off regardless of framing (spec §4.H.2).
	Upgrade string
}

// preparedRequest is the built wire Stream plus the control handle
// needed to release/discard a paused (100-continue) body.
type preparedRequest struct {
	stream istream.Stream
	paused *pausedBody // nil if no Expect: 100-continue was used
}

// Build assembles the concatenated source Stream spec §4.H.2
// describes: the request line, the header block (via a
// gbuf.GrowingBuffer), and the body — chunk-wrapped when the length is
// unknown, gated behind 100-continue when the body is large/unknown.
func Build(req Request) preparedRequest {
	line := req.Method + " " + req.URI + " HTTP/1.1\r\n"

	headers := gbuf.New(nil)
	writeHeader := func(name, value string) {
		if !httpguts.ValidHeaderFieldName(name) {
			return
		}
		headers.WriteString(name)
		headers.WriteString(": ")
		headers.WriteString(value)
		headers.WriteString("\r\n")
	}

	expectContinue := false
	var body istream.Stream = req.Body
	if req.Upgrade != "" {
		writeHeader("Connection", "upgrade")
		writeHeader("Upgrade", req.Upgrade)
	} else if body != nil {
		if req.ContentLength >= 0 {
			writeHeader("Content-Length", strconv.FormatInt(req.ContentLength, 10))
		} else if req.VerbatimChunked {
			writeHeader("Transfer-Encoding", "chunked")
		} else {
			writeHeader("Transfer-Encoding", "chunked")
			body = filter.NewChunked(body)
		}
		avail := req.Body.Available(true)
		if avail < 0 || avail >= ExpectContinueThreshold {
			expectContinue = true
			writeHeader("Expect", "100-continue")
		}
	}
	for name, value := range req.Headers {
		if strings.EqualFold(name, "Content-Length") || strings.EqualFold(name, "Transfer-Encoding") ||
			strings.EqualFold(name, "Connection") || strings.EqualFold(name, "Upgrade") || strings.EqualFold(name, "Expect") {
			continue // framing headers above are authoritative
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			continue
		}
		writeHeader(name, value)
	}
	headers.WriteString("\r\n")

	parts := []istream.Stream{source.New(append([]byte(line), headers.Bytes()...))}
	var paused *pausedBody
	if body != nil {
		if expectContinue {
			paused = newPausedBody(body)
			parts = append(parts, paused)
		} else {
			parts = append(parts, body)
		}
	}
	return preparedRequest{stream: fanout.NewConcat(parts...), paused: paused}
}
