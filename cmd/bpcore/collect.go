package main

import (
	"go.uber.org/zap/zapcore"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/sink"
)

// collectSink is a minimal terminal consumer for the demo commands:
// it hands every chunk to onData and, once input reaches a terminal
// state, reports the outcome via onDone — the same shape as
// sink.Growing but without committing to a gbuf.GrowingBuffer
// destination, since the demo just wants to stream bytes to stdout.
type collectSink struct {
	result  sink.Result
	err     error
	input   istream.Stream
	onData  func([]byte)
	onDone  func(error)
	started bool
}

func newCollectSink(input istream.Stream, onData func([]byte), onDone func(error)) *collectSink {
	s := &collectSink{input: input, onData: onData, onDone: onDone}
	input.SetHandler(s)
	return s
}

func (s *collectSink) Result() sink.Result { return s.result }

func (s *collectSink) Read() { s.input.Read() }

func (s *collectSink) OnData(data []byte) (int, istream.Disposition) {
	s.onData(data)
	return len(data), istream.Continue
}

func (s *collectSink) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	return 0, istream.DirectBlocking, istream.Continue
}

func (s *collectSink) OnEOF() {
	if s.result != sink.Pending {
		return
	}
	s.result = sink.Done
	s.onDone(nil)
}

func (s *collectSink) OnError(err error) {
	if s.result != sink.Pending {
		return
	}
	s.result = sink.Error
	s.err = err
	s.onDone(err)
}

// zapColoredLevel renders the level name with ANSI color, the same
// terminal-aware formatting caddy's console encoder applies.
func zapColoredLevel(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	zapcore.CapitalColorLevelEncoder(level, enc)
}
