//go:build linux

package bsocket

import (
	"io"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// WriteFrom sends up to maxLen bytes from src to the socket. When the
// underlying connection exposes a raw file descriptor (syscall.Conn),
// it uses splice(2) from src's descriptor whatever kind of file src
// is; a splice error is returned as is, except EAGAIN, which yields
// (0, nil). It falls back to io.CopyN only when the connection is not
// a syscall.Conn or its raw descriptor cannot be reached.
func (s *BufferedSocket) WriteFrom(src *os.File, maxLen int64) (int64, error) {
	sc, ok := s.conn.(syscall.Conn)
	if !ok {
		return io.CopyN(s.conn, src, maxLen)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return io.CopyN(s.conn, src, maxLen)
	}

	var n int64
	var sErr error
	ctrlErr := rc.Control(func(dstFD uintptr) {
		n, sErr = unix.Splice(int(src.Fd()), nil, int(dstFD), nil, int(maxLen), unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
	})
	if ctrlErr != nil {
		return io.CopyN(s.conn, src, maxLen)
	}
	if sErr != nil {
		if sErr == unix.EAGAIN {
			return 0, nil
		}
		return 0, sErr
	}
	return n, nil
}
