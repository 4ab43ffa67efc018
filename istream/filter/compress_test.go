package filter

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/fanout"
	"github.com/bpcore/flowproxy/istream/source"
)

const lorem = "the quick brown fox jumps over the lazy dog, repeatedly, to build up enough bytes that gzip actually compresses something"

// drainAsync is drainUntilTerminal's sibling for filters whose worker
// pass may complete on a separate goroutine (the offloaded compressor
// path): it paces retries with a short sleep instead of busy-spinning,
// since the result may not be ready on the very next Read().
func drainAsync(t *testing.T, s istream.Stream, out *collector) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !out.eof && out.err == nil {
		s.Read()
		if out.eof || out.err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stream never reached a terminal state")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestGzipProducesValidGzipStreamSynchronous(t *testing.T) {
	in := source.NewString(lorem)
	g := NewGzip(in, 0, nil)
	out := &collector{}
	g.SetHandler(out)
	drainAsync(t, g, out)

	r, err := gzip.NewReader(bytes.NewReader(out.data))
	require.NoError(t, err)
	decoded, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, lorem, string(decoded))
}

func TestGzipProducesValidGzipStreamOffloaded(t *testing.T) {
	in := source.NewString(lorem)
	pool := fanout.NewOffloadPoolSize(2)
	g := NewGzip(in, 0, pool)
	out := &collector{}
	g.SetHandler(out)
	drainAsync(t, g, out)

	r, err := gzip.NewReader(bytes.NewReader(out.data))
	require.NoError(t, err)
	decoded, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, lorem, string(decoded))
}

func TestDeflateRoundTrips(t *testing.T) {
	in := source.NewString(lorem)
	d := NewDeflate(in, 0, nil)
	out := &collector{}
	d.SetHandler(out)
	drainAsync(t, d, out)

	fr := flate.NewReader(bytes.NewReader(out.data))
	decoded, err := io.ReadAll(fr)
	require.NoError(t, err)
	assert.Equal(t, lorem, string(decoded))
}

func TestBrotliRoundTrips(t *testing.T) {
	in := source.NewString(lorem)
	b := NewBrotli(in, 0, nil)
	out := &collector{}
	b.SetHandler(out)
	drainAsync(t, b, out)

	decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(out.data)))
	require.NoError(t, err)
	assert.Equal(t, lorem, string(decoded))
}
