package fastcgi

import (
	"github.com/bpcore/flowproxy/bsocket"
	"github.com/bpcore/flowproxy/istream"
)

// requestWriter drains a request Stream by writing each push straight
// to a BufferedSocket, standing in for the "sink that writes into the
// buffered socket" spec §2's data-flow paragraph describes. It does
// not yet support direct (splice) transfer of the request body; a
// descriptor offered via OnDirect is rejected so the upstream Stream
// falls back to push mode.
type requestWriter struct {
	sock   *bsocket.BufferedSocket
	stream istream.Stream
}

func newRequestWriter(sock *bsocket.BufferedSocket, stream istream.Stream) *requestWriter {
	return &requestWriter{sock: sock, stream: stream}
}

// pump kicks off the request Stream; OnData/OnEOF drive the rest.
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
