// Package fastcgi implements the FastCGI client of spec §4.H.1: it
// frames a request as BEGIN_REQUEST/PARAMS/STDIN records over an
// istream.Stream source, and parses the interleaved STDOUT/STDERR/
// END_REQUEST response records arriving through a bsocket.BufferedSocket,
// surfacing the decoded HTTP response as headers plus an istream.Stream
// body.
//
// Grounded on caddyhttp/fastcgi/fcgiclient.go (wire constants, record
// layout, name/value encoding) and caddyhttp/fastcgi/fastcgi.go (param
// building from an HTTP request), adapted from the teacher's blocking
// io.Reader client into the push/bucket model spec §4.H.1 describes.
// Record-header binary layout cross-checked against
// other_examples/98463eff_kozaktomas-gophpfpm__fcgi_client.go.go and
// gophpeek-fcgx/fcgx.go.
package fastcgi

import "encoding/binary"

// Record types (spec §6).
const (
	TypeBeginRequest uint8 = 1
	TypeAbortRequest uint8 = 2
	TypeEndRequest   uint8 = 3
	TypeParams       uint8 = 4
	TypeStdin        uint8 = 5
	TypeStdout       uint8 = 6
	TypeStderr       uint8 = 7
	TypeData         uint8 = 8
)

// Roles.
const (
	RoleResponder  uint16 = 1
	RoleAuthorizer uint16 = 2
	RoleFilter     uint16 = 3
)

// BeginRequest flags.
const FlagKeepConn uint8 = 1

// Protocol status codes carried in END_REQUEST.
const (
	StatusRequestComplete uint8 = 0
	StatusCantMultiplex   uint8 = 1
	StatusOverloaded      uint8 = 2
	StatusUnknownRole     uint8 = 3
)

// HeaderLen is the fixed FastCGI record header size (spec §6).
const HeaderLen = 8

// MaxRecordContent is the largest content-length a single record's
// 16-bit field can carry; STDIN bodies larger than this are split
// across multiple STDIN records (spec §4.H.1 step 4).
const MaxRecordContent = 65535

// RecordHeader is the 8-byte FastCGI record header (spec §6).
type RecordHeader struct {
	Version       uint8
	Type          uint8
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
	Reserved      uint8
}

// Marshal encodes h into an 8-byte buffer.
func (h RecordHeader) Marshal() [HeaderLen]byte {
	var b [HeaderLen]byte
	b[0] = h.Version
	b[1] = h.Type
	binary.BigEndian.PutUint16(b[2:4], h.RequestID)
	binary.BigEndian.PutUint16(b[4:6], h.ContentLength)
	b[6] = h.PaddingLength
	b[7] = h.Reserved
	return b
}

// UnmarshalRecordHeader decodes an 8-byte FastCGI record header. It
// reports false if b is shorter than HeaderLen.
func UnmarshalRecordHeader(b []byte) (RecordHeader, bool) {
	if len(b) < HeaderLen {
		return RecordHeader{}, false
	}
	return RecordHeader{
		Version:       b[0],
		Type:          b[1],
		RequestID:     binary.BigEndian.Uint16(b[2:4]),
		ContentLength: binary.BigEndian.Uint16(b[4:6]),
		PaddingLength: b[6],
		Reserved:      b[7],
	}, true
}

// pad8 returns the padding length that rounds contentLength up to a
// multiple of 8, matching the teacher's `uint8(-contentLength & 7)`.
func pad8(contentLength int) uint8 {
	return uint8((-contentLength) & 7)
}

// frameRecord encodes recType's header plus content plus its padding
// into one contiguous buffer appended to dst.
func frameRecord(dst []byte, recType uint8, requestID uint16, content []byte) []byte {
	h := RecordHeader{Version: 1, Type: recType, RequestID: requestID, ContentLength: uint16(len(content)), PaddingLength: pad8(len(content))}
	hb := h.Marshal()
	dst = append(dst, hb[:]...)
	dst = append(dst, content...)
	for i := uint8(0); i < h.PaddingLength; i++ {
		dst = append(dst, 0)
	}
	return dst
}

// encodeSize appends a FastCGI 1-or-4-byte length prefix for size
// (spec §6 name-value pair encoding).
func encodeSize(dst []byte, size int) []byte {
	if size > 127 {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(size)|(1<<31))
		return append(dst, b[:]...)
	}
	return append(dst, byte(size))
}

// encodeNameValue appends one length-prefixed name/value pair.
func encodeNameValue(dst []byte, name, value string) []byte {
	dst = encodeSize(dst, len(name))
	dst = encodeSize(dst, len(value))
	dst = append(dst, name...)
	dst = append(dst, value...)
	return dst
}
