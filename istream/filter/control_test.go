package filter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/source"
)

func TestHoldWithholdsUntilRelease(t *testing.T) {
	in := source.NewString("held back")
	h := NewHold(in)
	out := &collector{}
	h.SetHandler(out)

	h.Read()
	assert.Empty(t, out.data)
	assert.False(t, out.eof)

	h.Release()
	drainUntilTerminal(t, h, out)
	assert.Equal(t, "held back", string(out.data))
	assert.True(t, out.eof)
}

func TestHoldKeepsOrderAcrossPartialFlush(t *testing.T) {
	fifo := source.NewFifo(nil)
	h := NewHold(fifo)
	out := &stingyCollector{accept: 2}
	h.SetHandler(out)

	fifo.Push([]byte("abcd"))
	h.Read()
	h.Release() // downstream takes 2 of the 4 buffered bytes

	fifo.Push([]byte("ef")) // must queue behind the leftover, not jump it
	out.accept = 100
	fifo.Finish()
	for i := 0; i < 100 && !out.eof; i++ {
		h.Read()
	}
	assert.Equal(t, "abcdef", string(out.data))
}

// stingyCollector accepts at most accept bytes per OnData call.
type stingyCollector struct {
	collector
	accept int
}

func (c *stingyCollector) OnData(data []byte) (int, istream.Disposition) {
	if len(data) > c.accept {
		data = data[:c.accept]
	}
	c.data = append(c.data, data...)
	return len(data), istream.Continue
}

func TestInjectPassthroughAndCancel(t *testing.T) {
	in := source.NewString("flows through")
	i, ctl := NewInject(in)
	out := &collector{}
	i.SetHandler(out)

	drainUntilTerminal(t, i, out)
	assert.Equal(t, "flows through", string(out.data))

	// Cancel after EOF is a no-op: the error must not follow the EOF.
	ctl.Cancel(errors.New("late"))
	assert.NoError(t, out.err)
}

func TestInjectCancelAborts(t *testing.T) {
	fifo := source.NewFifo(nil)
	i, ctl := NewInject(fifo)
	out := &collector{}
	i.SetHandler(out)

	fifo.Push([]byte("partial"))
	i.Read()
	require.Equal(t, "partial", string(out.data))

	injected := errors.New("request aborted")
	ctl.Cancel(injected)
	assert.ErrorIs(t, out.err, injected)
	assert.False(t, out.eof)
}

func TestSuspendBuffersUntilResume(t *testing.T) {
	in := source.NewString("delayed delivery")
	s := NewSuspend(in, 0)
	out := &collector{}
	s.SetHandler(out)

	s.Read()
	assert.Empty(t, out.data)

	s.Resume()
	drainUntilTerminal(t, s, out)
	assert.Equal(t, "delayed delivery", string(out.data))
	assert.True(t, out.eof)
}

func TestSuspendAutoResume(t *testing.T) {
	in := source.NewString("timer fired")
	s := NewSuspend(in, 5*time.Millisecond)
	done := make(chan struct{})
	out := &signalCollector{done: done}
	s.SetHandler(out)

	// Buffer everything while suspended; the auto-resume timer then
	// flushes it from its own goroutine.
	s.Read()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("auto-resume never flushed the stream")
	}
	assert.Equal(t, "timer fired", string(out.data))
}

// signalCollector closes done on the terminal callback, giving tests a
// happens-before edge when that callback runs on a timer goroutine.
type signalCollector struct {
	collector
	done chan struct{}
}

func (c *signalCollector) OnEOF() {
	c.collector.OnEOF()
	close(c.done)
}

func TestByteEmitsOneBytePerPush(t *testing.T) {
	in := source.NewString("xyz")
	b := NewByte(in)
	out := &countingCollector{}
	b.SetHandler(out)

	for i := 0; i < 100 && !out.eof; i++ {
		b.Read()
	}
	assert.Equal(t, "xyz", string(out.data))
	assert.Equal(t, 1, out.maxPush)
}

func TestFourEmitsFourBytesPerPush(t *testing.T) {
	in := source.NewString("0123456789")
	f := NewFour(in)
	out := &countingCollector{}
	f.SetHandler(out)

	for i := 0; i < 100 && !out.eof; i++ {
		f.Read()
	}
	assert.Equal(t, "0123456789", string(out.data))
	assert.LessOrEqual(t, out.maxPush, 4)
}

type countingCollector struct {
	collector
	maxPush int
}

func (c *countingCollector) OnData(data []byte) (int, istream.Disposition) {
	if len(data) > c.maxPush {
		c.maxPush = len(data)
	}
	return c.collector.OnData(data)
}
