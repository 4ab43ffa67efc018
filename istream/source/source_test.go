package source

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

type collector struct {
	data []byte
	eof  bool
	err  error
}

func (c *collector) OnData(data []byte) (int, istream.Disposition) {
	c.data = append(c.data, data...)
	return len(data), istream.Continue
}

func (c *collector) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	return 0, istream.DirectBlocking, istream.Continue
}

func (c *collector) OnEOF()          { c.eof = true }
func (c *collector) OnError(e error) { c.err = e }

func TestMemoryPushDeliversSpanThenEOF(t *testing.T) {
	m := NewString("hello")
	out := &collector{}
	m.SetHandler(out)

	assert.EqualValues(t, 5, m.Available(false))
	m.Read()
	assert.Equal(t, "hello", string(out.data))
	assert.True(t, out.eof)
	assert.EqualValues(t, 0, m.Available(false))
}

func TestMemoryPartialAcceptance(t *testing.T) {
	m := NewString("hello")
	out := &takeTwo{}
	m.SetHandler(out)

	for i := 0; i < 10 && !out.eof; i++ {
		m.Read()
	}
	assert.Equal(t, "hello", string(out.data))
	assert.True(t, out.eof)
}

type takeTwo struct{ collector }

func (c *takeTwo) OnData(data []byte) (int, istream.Disposition) {
	if len(data) > 2 {
		data = data[:2]
	}
	return c.collector.OnData(data)
}

func TestMemoryBucketModeMatchesPushMode(t *testing.T) {
	m := NewString("bucketed")
	list := bucket.New()
	require.NoError(t, m.FillBucketList(list))
	require.Len(t, list.Buckets(), 1)
	assert.Equal(t, "bucketed", string(list.Buckets()[0].Data))
	assert.False(t, list.More())

	n, eof := m.ConsumeBucketList(int(list.GetTotalBufferSize()))
	assert.Equal(t, 8, n)
	assert.True(t, eof)
}

func TestMemorySkip(t *testing.T) {
	m := NewString("abcdef")
	assert.EqualValues(t, 2, m.Skip(2))
	out := &collector{}
	m.SetHandler(out)
	m.Read()
	assert.Equal(t, "cdef", string(out.data))
}

func TestNullIsImmediateEOF(t *testing.T) {
	n := NewNull()
	out := &collector{}
	n.SetHandler(out)
	assert.EqualValues(t, 0, n.Available(false))
	n.Read()
	assert.True(t, out.eof)
	assert.Empty(t, out.data)
}

func TestFailDeliversStoredError(t *testing.T) {
	boom := errors.New("boom")
	f := NewFail(boom)
	out := &collector{}
	f.SetHandler(out)
	f.Read()
	assert.ErrorIs(t, out.err, boom)

	list := bucket.New()
	assert.ErrorIs(t, NewFail(boom).FillBucketList(list), boom)
}

func TestDelayedForwardsPendingReadOnSet(t *testing.T) {
	d, ctl := NewDelayed(nil)
	out := &collector{}
	d.SetHandler(out)

	d.Read() // nothing resolved yet; must be parked, not dropped
	assert.Empty(t, out.data)

	ctl.Set(NewString("finally"))
	assert.Equal(t, "finally", string(out.data))
	for i := 0; i < 10 && !out.eof; i++ {
		d.Read()
	}
	assert.True(t, out.eof)
}

func TestDelayedSetEOFAndSetError(t *testing.T) {
	d, ctl := NewDelayed(nil)
	out := &collector{}
	d.SetHandler(out)
	d.Read()
	ctl.SetEOF()
	assert.True(t, out.eof)

	boom := errors.New("late failure")
	d2, ctl2 := NewDelayed(nil)
	out2 := &collector{}
	d2.SetHandler(out2)
	d2.Read()
	ctl2.SetError(boom)
	assert.ErrorIs(t, out2.err, boom)
}

func TestDelayedCloseBeforeResolveCancels(t *testing.T) {
	cancelled := false
	d, ctl := NewDelayed(func() { cancelled = true })
	d.Close()
	assert.True(t, cancelled)

	// Resolving after close must be a no-op.
	ctl.Set(NewString("ignored"))
	out := &collector{}
	d.SetHandler(out)
	assert.Empty(t, out.data)
}

func TestFifoPushDrainFinish(t *testing.T) {
	events := &fifoEvents{}
	f := NewFifo(events)
	out := &collector{}
	f.SetHandler(out)

	f.Push([]byte("one "))
	f.Push([]byte("two"))
	assert.Equal(t, "one two", string(out.data))
	assert.Equal(t, 7, events.consumed)
	assert.True(t, events.drained)

	f.Finish()
	f.Read()
	assert.True(t, out.eof)
}

type fifoEvents struct {
	consumed int
	drained  bool
	closed   bool
}

func (e *fifoEvents) OnConsumed(n int) { e.consumed += n }
func (e *fifoEvents) OnDrained()       { e.drained = true }
func (e *fifoEvents) OnClosed()        { e.closed = true }

func TestFifoFailDropsPendingAndDeliversError(t *testing.T) {
	f := NewFifo(nil)
	out := &collector{}

	f.Push([]byte("never seen"))
	boom := errors.New("upstream died")
	f.Fail(boom)
	f.SetHandler(out)
	f.Read()

	assert.ErrorIs(t, out.err, boom)
	assert.Empty(t, out.data)

	// Terminal: further pushes and reads change nothing.
	f.Push([]byte("late"))
	f.Read()
	assert.Empty(t, out.data)
}

func TestFifoCloseNotifiesProducer(t *testing.T) {
	events := &fifoEvents{}
	f := NewFifo(events)
	f.Close()
	assert.True(t, events.closed)
}
