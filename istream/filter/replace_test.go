package filter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpcore/flowproxy/istream/bucket"
	"github.com/bpcore/flowproxy/istream/source"
)

func TestReplaceSplicesSubstreams(t *testing.T) {
	in := source.NewString("Hello NAME, welcome to PLACE!")
	r := NewReplace(in)
	out := &collector{}
	r.SetHandler(out)

	r.Add(6, 10, source.NewString("Alice"))
	r.Add(23, 28, source.NewString("the machine room"))
	r.Finish()

	drainUntilTerminal(t, r, out)
	assert.Equal(t, "Hello Alice, welcome to the machine room!", string(out.data))
	assert.True(t, out.eof)
}

func TestReplacePassthroughWithoutSplices(t *testing.T) {
	in := source.NewString("untouched")
	r := NewReplace(in)
	out := &collector{}
	r.SetHandler(out)
	r.Finish()

	drainUntilTerminal(t, r, out)
	assert.Equal(t, "untouched", string(out.data))
}

func TestReplaceEmptySubstreamDeletesRange(t *testing.T) {
	in := source.NewString("keep<cut>keep")
	r := NewReplace(in)
	out := &collector{}
	r.SetHandler(out)

	r.Add(4, 9, source.NewString(""))
	r.Finish()

	drainUntilTerminal(t, r, out)
	assert.Equal(t, "keepkeep", string(out.data))
}

func TestReplaceOverflowErrors(t *testing.T) {
	big := strings.Repeat("x", 128)
	in := source.NewString(big)
	r := NewReplace(in)
	r.MaxBufferedBytes = 64
	out := &collector{}
	r.SetHandler(out)
	r.Finish()

	drainUntilTerminal(t, r, out)
	require.Error(t, out.err)
	assert.False(t, out.eof)
}

func TestReplaceOverlappingSplicePanics(t *testing.T) {
	r := NewReplace(source.NewString("abcdef"))
	r.Add(0, 4, source.NewString("x"))
	assert.Panics(t, func() { r.Add(2, 5, source.NewString("y")) })
}

// Settled bytes must flow downstream incrementally — before Finish is
// ever called and before the input has even ended.
func TestReplaceEmitsIncrementallyBeforeFinish(t *testing.T) {
	fifo := source.NewFifo(nil)
	r := NewReplace(fifo)
	out := &collector{}
	r.SetHandler(out)

	r.Add(4, 7, source.NewString("REPL"))
	fifo.Push([]byte("pre-OLDpost"))
	r.Read()

	// Everything up to the substitution's end is settled and must be
	// out already; the tail is not settled, so it stays buffered.
	assert.Equal(t, "pre-REPL", string(out.data))
	assert.False(t, out.eof)

	fifo.Finish()
	r.Finish()
	drainUntilTerminal(t, r, out)
	assert.Equal(t, "pre-REPLpost", string(out.data))
}

func TestReplaceSettleReleasesPrefix(t *testing.T) {
	fifo := source.NewFifo(nil)
	r := NewReplace(fifo)
	out := &collector{}
	r.SetHandler(out)

	fifo.Push([]byte("hello world"))
	r.Read()
	assert.Empty(t, out.data)

	r.Settle(5)
	r.Read()
	assert.Equal(t, "hello", string(out.data))
	assert.False(t, out.eof)

	fifo.Finish()
	r.Finish()
	drainUntilTerminal(t, r, out)
	assert.Equal(t, "hello world", string(out.data))
}

// A blocked downstream must stall emission mid-range without losing
// bytes or reordering them.
func TestReplaceBackpressure(t *testing.T) {
	r := NewReplace(source.NewString("Hello NAME!"))
	out := &stingyCollector{accept: 3}
	r.SetHandler(out)
	r.Add(6, 10, source.NewString("Bob"))
	r.Finish()

	for i := 0; i < 100 && !out.eof; i++ {
		r.Read()
	}
	assert.Equal(t, "Hello Bob!", string(out.data))
	assert.True(t, out.eof)
}

func TestReplaceBucketMode(t *testing.T) {
	r := NewReplace(source.NewString("Hello NAME, welcome to PLACE!"))
	r.Add(6, 10, source.NewString("Alice"))
	r.Add(23, 28, source.NewString("the machine room"))
	r.Finish()

	var out []byte
	for i := 0; i < 100; i++ {
		list := bucket.New()
		require.NoError(t, r.FillBucketList(list))
		for _, b := range list.Buckets() {
			out = append(out, b.Data...)
		}
		_, eof := r.ConsumeBucketList(int(list.GetTotalBufferSize()))
		if eof {
			assert.Equal(t, "Hello Alice, welcome to the machine room!", string(out))
			return
		}
	}
	t.Fatal("bucket drain never reached EOF")
}
