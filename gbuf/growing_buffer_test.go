package gbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpcore/flowproxy/pool"
)

func TestGrowingBufferCoalescesSmallWrites(t *testing.T) {
	slab := pool.NewSlab(16)
	g := New(slab)

	n, err := g.WriteString("ab")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = g.WriteString("cd")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, int64(4), g.Len())
	assert.Equal(t, "abcd", string(g.Bytes()))
	// Both writes fit the same 16-byte chunk, so only one chunk exists.
	assert.Same(t, g.first, g.last)
}

func TestGrowingBufferOversizedWriteGetsItsOwnChunk(t *testing.T) {
	slab := pool.NewSlab(4)
	g := New(slab)

	_, err := g.WriteString("hello world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(g.Bytes()))
}

func TestGrowingBufferConsumeAcrossChunks(t *testing.T) {
	slab := pool.NewSlab(4)
	g := New(slab)
	g.WriteString("aaaa")
	g.WriteString("bbbb")
	g.WriteString("cccc")

	require.Equal(t, int64(12), g.Len())
	g.Consume(6)
	assert.Equal(t, int64(6), g.Len())
	assert.Equal(t, "bbcccc", string(g.Bytes()))
}

func TestGrowingBufferPeekDoesNotAdvance(t *testing.T) {
	slab := pool.NewSlab(4)
	g := New(slab)
	g.WriteString("aaaa")
	g.WriteString("bbbb")

	peeked := g.Peek(6)
	assert.Equal(t, "aaaabb", string(peeked))
	assert.Equal(t, int64(8), g.Len(), "Peek must not consume")
}

func TestGrowingBufferReserveAndPrepend(t *testing.T) {
	slab := pool.NewSlab(16)
	g := New(slab)
	g.WriteString("body")

	header := g.ReserveAndPrepend(4)
	copy(header, "HEAD")

	assert.Equal(t, "HEADbody", string(g.Bytes()))
}

func TestGrowingBufferFillBucketListOrder(t *testing.T) {
	slab := pool.NewSlab(4)
	g := New(slab)
	g.WriteString("aaaa")
	g.WriteString("bbbb")

	var spans []string
	g.FillBucketList(func(data []byte) { spans = append(spans, string(data)) })
	assert.Equal(t, []string{"aaaa", "bbbb"}, spans)
}
