package filter

import (
	"time"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// Suspend pauses delivery of OnData/OnEOF/OnError to its handler until
// Resume is called. Like Hold, Suspend keeps pulling from input and
// buffers what arrives while suspended, so input itself never sees
// backpressure it didn't ask for; what Suspend adds is the
// "half-suspend" variant's optional auto-resume duration, so a suspension cannot
// outlive a caller that forgets to call Resume. Grounded on
// original_source/src/istream/FacadeIstream.hxx's pause/resume
// bookkeeping.
type Suspend struct {
	base
	input     istream.Stream
	suspended bool
	buf       []byte
	inputEOF  bool
	inputErr  error
	timer     *time.Timer
}

// NewSuspend starts suspended; autoResume, if non-zero, resumes the
// stream unconditionally after that duration.
func NewSuspend(input istream.Stream, autoResume time.Duration) *Suspend {
	s := &Suspend{input: input, suspended: true}
	input.SetHandler(s)
	if autoResume > 0 {
		s.timer = time.AfterFunc(autoResume, s.Resume)
	}
	return s
}

// Resume releases buffered data and lets the stream flow normally.
func (s *Suspend) Resume() {
	if !s.suspended {
		return
	}
	s.suspended = false
	if s.timer != nil {
		s.timer.Stop()
	}
	s.tryFlush()
}

func (s *Suspend) SetHandler(h istream.Handler) { s.setHandler(h) }

func (s *Suspend) Available(partial bool) int64 {
	if s.suspended {
		return -1
	}
	return s.input.Available(partial)
}

func (s *Suspend) Skip(n int64) int64 {
	if s.suspended {
		return 0
	}
	return s.input.Skip(n)
}

func (s *Suspend) Read() {
	if len(s.buf) > 0 && !s.suspended {
		s.tryFlush()
		return
	}
	s.input.Read()
}

func (s *Suspend) FillBucketList(list *bucket.List) error {
	if s.suspended {
		list.EnableFallback()
		return nil
	}
	return s.input.FillBucketList(list)
}

func (s *Suspend) ConsumeBucketList(n int) (int, bool) {
	if s.suspended {
		return 0, false
	}
	return s.input.ConsumeBucketList(n)
}

func (s *Suspend) ConsumeDirect(n int64) error { return s.input.ConsumeDirect(n) }

func (s *Suspend) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (s *Suspend) SetDirect(mask istream.DirectMask) { s.input.SetDirect(mask) }

func (s *Suspend) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.input.Close()
}

func (s *Suspend) tryFlush() {
	if s.suspended || s.handler == nil {
		return
	}
	if len(s.buf) > 0 {
		n, disp := s.handler.OnData(s.buf)
		if disp == istream.Destroyed {
			return
		}
		s.buf = s.buf[n:]
		if len(s.buf) > 0 {
			return
		}
	}
	if s.inputErr != nil {
		s.deliverError(s.inputErr)
	} else if s.inputEOF {
		s.deliverEOF()
	}
}

func (s *Suspend) OnData(data []byte) (int, istream.Disposition) {
	if s.suspended {
		s.buf = append(s.buf, data...)
		return len(data), istream.Continue
	}
	if s.handler == nil {
		return len(data), istream.Continue
	}
	return s.handler.OnData(data)
}

func (s *Suspend) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	if s.suspended {
		return 0, istream.DirectBlocking, istream.Continue
	}
	if s.handler == nil {
		return maxLen, istream.DirectOK, istream.Continue
	}
	return s.handler.OnDirect(kind, fd, offset, maxLen, thenEOF)
}

func (s *Suspend) OnEOF() {
	if s.suspended {
		s.inputEOF = true
		return
	}
	s.deliverEOF()
}

func (s *Suspend) OnError(err error) {
	if s.suspended {
		s.inputErr = err
		return
	}
	s.deliverError(err)
}
