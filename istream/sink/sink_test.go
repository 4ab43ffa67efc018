package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpcore/flowproxy/gbuf"
	"github.com/bpcore/flowproxy/istream/source"
)

func TestGrowingDrainsInputToEOF(t *testing.T) {
	in := source.NewString("hello world")
	buf := gbuf.New(nil)

	ready := 0
	g := NewGrowing(in, buf, func() { ready++ })
	for i := 0; i < 10 && g.Result() == Pending; i++ {
		g.Read()
	}

	require.Equal(t, Done, g.Result())
	assert.Equal(t, 1, ready)
	assert.Equal(t, "hello world", string(buf.Bytes()))
}

func TestBlockNeverAcceptsData(t *testing.T) {
	in := source.NewString("hello")
	b := NewBlock(in, nil)

	// A blocked sink refusing all data never lets input reach EOF, so
	// it should stay Pending no matter how many times it's driven.
	for i := 0; i < 5; i++ {
		b.Read()
	}
	assert.Equal(t, Pending, b.Result())
}

func TestGrowingFinishErrIsIdempotent(t *testing.T) {
	buf := gbuf.New(nil)
	g := &Growing{buf: buf}
	calls := 0
	g.start(nil, func() { calls++ })

	g.OnError(assert.AnError)
	g.OnError(assert.AnError)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Error, g.Result())
	assert.Equal(t, assert.AnError, g.Err())
}
