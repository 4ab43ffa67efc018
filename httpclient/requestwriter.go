package httpclient

import (
	"github.com/bpcore/flowproxy/bsocket"
	"github.com/bpcore/flowproxy/istream"
)

// requestWriter drains the prepared request Stream straight into a
// BufferedSocket, the same "sink that writes into the buffered
// socket" shape as fastcgi.requestWriter.
type requestWriter struct {
	sock   *bsocket.BufferedSocket
	stream istream.Stream
}

func newRequestWriter(sock *bsocket.BufferedSocket, stream istream.Stream) *requestWriter {
	return &requestWriter{sock: sock, stream: stream}
}

func (w *requestWriter) pump() { w.stream.Read() }

func (w *requestWriter) OnData(data []byte) (int, istream.Disposition) {
	n, err := w.sock.Write(data)
	if err != nil {
		return 0, istream.Continue
	}
	if n < len(data) {
		w.sock.DeferNextWrite()
	}
	return n, istream.Continue
}

func (w *requestWriter) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	return 0, istream.DirectBlocking, istream.Continue
}

func (w *requestWriter) OnEOF() {}

func (w *requestWriter) OnError(err error) {}
