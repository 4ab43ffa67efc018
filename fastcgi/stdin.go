package fastcgi

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// stdinFramer wraps a request body Stream, reframing every push into
// one or more STDIN records (content capped at MaxRecordContent bytes
// each) and appending the empty terminating STDIN record at input
// EOF (spec §4.H.1 step 4). Shaped like istream/filter.Chunked, but
// framing FastCGI records instead of HTTP chunks.
type stdinFramer struct {
	requestID uint16
	input     istream.Stream
	handler   istream.Handler
	pending   []byte
	inputEOF  bool
	closed    bool
	destroyed bool
}

func newStdinFramer(requestID uint16, input istream.Stream) *stdinFramer {
	s := &stdinFramer{requestID: requestID, input: input}
	input.SetHandler(s)
	return s
}

func (s *stdinFramer) SetHandler(h istream.Handler) { s.handler = h }

func (s *stdinFramer) Available(partial bool) int64 { return -1 }

func (s *stdinFramer) Skip(n int64) int64 { return 0 }

func (s *stdinFramer) Read() {
	if len(s.pending) > 0 {
		s.flush()
		return
	}
	if s.inputEOF {
		s.deliverEOF()
		return
	}
	s.input.Read()
}

func (s *stdinFramer) FillBucketList(list *bucket.List) error {
	list.EnableFallback()
	return nil
}

func (s *stdinFramer) ConsumeBucketList(n int) (int, bool) { return 0, false }

func (s *stdinFramer) ConsumeDirect(n int64) error { return nil }

func (s *stdinFramer) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (s *stdinFramer) SetDirect(mask istream.DirectMask) {}

func (s *stdinFramer) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.input.Close()
}

func (s *stdinFramer) flush() {
	if s.handler == nil || len(s.pending) == 0 {
		return
	}
	n, disp := s.handler.OnData(s.pending)
	if disp == istream.Destroyed {
		return
	}
	s.pending = s.pending[n:]
	if len(s.pending) == 0 && s.inputEOF {
		s.deliverEOF()
	}
}

func (s *stdinFramer) frame(data []byte) {
	for len(data) > 0 {
		n := len(data)
		if n > MaxRecordContent {
			n = MaxRecordContent
		}
		s.pending = frameRecord(s.pending, TypeStdin, s.requestID, data[:n])
		data = data[n:]
	}
}

func (s *stdinFramer) deliverEOF() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	if s.handler != nil {
		s.handler.OnEOF()
	}
}

func (s *stdinFramer) deliverError(err error) {
	if s.destroyed {
		return
	}
	s.destroyed = true
	if s.handler != nil {
		s.handler.OnError(err)
	}
}

// --- Handler side: receiving from s.input ---

func (s *stdinFramer) OnData(data []byte) (int, istream.Disposition) {
	if len(s.pending) > MaxRecordContent*2 {
		return 0, istream.Continue
	}
	s.frame(data)
	s.flush()
	return len(data), istream.Continue
}

func (s *stdinFramer) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	return 0, istream.DirectBlocking, istream.Continue
}

func (s *stdinFramer) OnEOF() {
	s.inputEOF = true
	s.pending = frameRecord(s.pending, TypeStdin, s.requestID, nil)
	s.flush()
}

func (s *stdinFramer) OnError(err error) { s.deliverError(err) }
