package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/source"
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

func drainUntilTerminal(t *testing.T, s istream.Stream, out *collector) {
	t.Helper()
	for i := 0; i < 1000 && !out.eof && out.err == nil; i++ {
		s.Read()
	}
	require.True(t, out.eof || out.err != nil, "stream never reached a terminal state")
}

// TestChunkedEncode is spec §8 scenario 1: a 44-byte input encodes to
// a single "2c\r\n"-prefixed chunk followed by the terminator.
func TestChunkedEncode(t *testing.T) {
	body := "foo_bar_0123456789abcdefghijklmnopqrstuvwxyz"
	require.Len(t, body, 44)

	in := source.NewString(body)
	out := &collector{}
	c := NewChunked(in)
	c.SetHandler(out)
	assert.GreaterOrEqual(t, c.Available(true), int64(55)) // 44 + frame + terminator
	drainUntilTerminal(t, c, out)

	want := "2c\r\n" + body + "\r\n0\r\n\r\n"
	assert.Equal(t, want, string(out.data))
	assert.True(t, out.eof)
}

// TestDechunkRoundTrip is spec §8 scenario 2.
func TestDechunkRoundTrip(t *testing.T) {
	wire := "3\r\nfoo\r\n1\r\n1\r\n1\r\n2\r\n1\r\n3\r\n1\r\n4\r\n1\r\n5\r\n1\r\n6\r\n1\r\n7\r\n1\r\n8\r\n1\r\n9\r\n0\r\n\r\n"
	in := source.NewString(wire)
	out := &collector{}
	d := NewDechunk(in)
	d.SetHandler(out)
	drainUntilTerminal(t, d, out)

	assert.Equal(t, "foo123456789", string(out.data))
	assert.True(t, out.eof)
}

// TestDechunkEndSeenFiresBeforeEOF checks the end-seen/end ordering
// invariant from spec §4.D/§8.
func TestDechunkEndSeenFiresBeforeEOF(t *testing.T) {
	in := source.NewString("3\r\nfoo\r\n0\r\n\r\n")
	out := &endSeenCollector{}
	d := NewDechunk(in)
	d.SetHandler(out)
	drainUntilTerminal(t, d, &out.collector)

	require.Equal(t, 1, out.endSeenCount)
	require.True(t, out.endSeenBeforeEOF)
}

type endSeenCollector struct {
	collector
	endSeenCount     int
	endSeenBeforeEOF bool
}

func (e *endSeenCollector) OnDechunkEndSeen() {
	e.endSeenCount++
	e.endSeenBeforeEOF = !e.eof
}

func (e *endSeenCollector) OnDechunkEnd() {}

// TestDechunkRejectsIncompleteFinalChunk exercises the "incomplete EOF
// chunk is fatal" edge case from spec §4.D.
func TestDechunkRejectsIncompleteFinalChunk(t *testing.T) {
	in := source.NewString("3\r\nfoo\r\n0\r\n")
	out := &collector{}
	d := NewDechunk(in)
	d.SetHandler(out)
	for i := 0; i < 10 && out.err == nil && !out.eof; i++ {
		d.Read()
	}
	d.OnEOF()
	require.Error(t, out.err)
	assert.False(t, out.eof)
}
