package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpcore/flowproxy/istream/source"
)

// TestConcatActivatesSubstreamsInOrder checks that Concat presents a
// sequence of sources as one logical stream, advancing to the next
// substream only once the current one reaches EOF, and reaches its own
// EOF only after the last one does.
func TestConcatActivatesSubstreamsInOrder(t *testing.T) {
	c := NewConcat(source.NewString("foo"), source.NewString("bar"), source.NewString("baz"))
	out := &collector{}
	c.SetHandler(out)

	for i := 0; i < 20 && !out.eof && out.err == nil; i++ {
		c.Read()
	}

	require.True(t, out.eof, "concat never reached EOF")
	assert.Equal(t, "foobarbaz", string(out.data))
}

// TestConcatSingleEmptySubstream exercises the edge case of a
// zero-length substream in the middle of the sequence: it should
// contribute nothing but still advance Concat to the next substream.
func TestConcatSingleEmptySubstream(t *testing.T) {
	c := NewConcat(source.NewString("a"), source.NewString(""), source.NewString("b"))
	out := &collector{}
	c.SetHandler(out)

	for i := 0; i < 20 && !out.eof && out.err == nil; i++ {
		c.Read()
	}

	require.True(t, out.eof)
	assert.Equal(t, "ab", string(out.data))
}

// TestConcatOfOneStreamBehavesLikeThatStream checks the degenerate
// single-substream case still reaches EOF correctly.
func TestConcatOfOneStreamBehavesLikeThatStream(t *testing.T) {
	c := NewConcat(source.NewString("solo"))
	out := &collector{}
	c.SetHandler(out)

	for i := 0; i < 20 && !out.eof && out.err == nil; i++ {
		c.Read()
	}

	require.True(t, out.eof)
	assert.Equal(t, "solo", string(out.data))
}
