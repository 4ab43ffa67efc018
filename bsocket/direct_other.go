//go:build !linux

package bsocket

import (
	"io"
	"os"
)

// WriteFrom sends up to maxLen bytes from src to the socket. Non-Linux
// platforms have no splice(2); this falls back to a buffered copy.
func (s *BufferedSocket) WriteFrom(src *os.File, maxLen int64) (int64, error) {
	return io.CopyN(s.conn, src, maxLen)
}
