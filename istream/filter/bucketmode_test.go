package filter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
	"github.com/bpcore/flowproxy/istream/source"
)

// bucketDrain pulls s to EOF through repeated fill/consume rounds,
// returning everything offered, in order.
func bucketDrain(t *testing.T, s istream.Stream) []byte {
	t.Helper()
	var out []byte
	for i := 0; i < 1000; i++ {
		list := bucket.New()
		require.NoError(t, s.FillBucketList(list))
		require.False(t, list.Fallback(), "unexpected bucket fallback")
		for _, b := range list.Buckets() {
			out = append(out, b.Data...)
		}
		_, eof := s.ConsumeBucketList(int(list.GetTotalBufferSize()))
		if eof {
			return out
		}
	}
	t.Fatal("bucket drain never reached EOF")
	return nil
}

// Spec §8's bucket round-trip invariant: pull mode must produce the
// same bytes push mode does.
func TestChunkedBucketModeMatchesPushMode(t *testing.T) {
	body := "foo_bar_0123456789abcdefghijklmnopqrstuvwxyz"
	got := bucketDrain(t, NewChunked(source.NewString(body)))
	assert.Equal(t, "2c\r\n"+body+"\r\n0\r\n\r\n", string(got))
}

func TestChunkedBucketModeSplitsOversizeChunks(t *testing.T) {
	body := strings.Repeat("x", MaxChunkSize+10)
	got := bucketDrain(t, NewChunked(source.New([]byte(body))))
	want := "8000\r\n" + body[:MaxChunkSize] + "\r\na\r\n" + body[MaxChunkSize:] + "\r\n0\r\n\r\n"
	assert.Equal(t, want, string(got))
}

func TestDechunkBucketModeRoundTrip(t *testing.T) {
	wire := "3\r\nfoo\r\n1\r\n1\r\n1\r\n2\r\n1\r\n3\r\n1\r\n4\r\n1\r\n5\r\n1\r\n6\r\n1\r\n7\r\n1\r\n8\r\n1\r\n9\r\n0\r\n\r\n"
	got := bucketDrain(t, NewDechunk(source.NewString(wire)))
	assert.Equal(t, "foo123456789", string(got))
}

// The bucket walker caps how many chunk-data runs one fill pass
// parses; a long run of tiny chunks must yield at the cap with more
// set, then resume and decode everything across passes.
func TestDechunkBucketModeYieldsAtDescriptorCap(t *testing.T) {
	var wire strings.Builder
	for i := 0; i < 40; i++ {
		wire.WriteString("1\r\nx\r\n")
	}
	wire.WriteString("0\r\n\r\n")

	d := NewDechunk(source.NewString(wire.String()))
	list := bucket.New()
	require.NoError(t, d.FillBucketList(list))
	assert.Len(t, list.Buckets(), MaxChunkDescriptors)
	assert.True(t, list.More())

	got := bucketDrain(t, d)
	assert.Equal(t, strings.Repeat("x", 40), string(got))
}

// End-of-body callbacks must fire in bucket mode too, end-seen
// strictly before the final consume reports EOF.
func TestDechunkBucketModeFiresEndCallbacks(t *testing.T) {
	d := NewDechunk(source.NewString("3\r\nfoo\r\n0\r\n\r\n"))
	out := &endSeenCollector{}
	d.SetHandler(out)

	got := bucketDrain(t, d)
	assert.Equal(t, "foo", string(got))
	assert.Equal(t, 1, out.endSeenCount)
}

// Chunked framing in bucket mode must survive a consumer that takes
// less than what was offered and comes back for the rest.
func TestChunkedBucketModePartialConsume(t *testing.T) {
	c := NewChunked(source.NewString("hello"))

	var out []byte
	for i := 0; i < 1000; i++ {
		list := bucket.New()
		require.NoError(t, c.FillBucketList(list))
		take := int(list.GetTotalBufferSize())
		if take > 3 {
			take = 3
		}
		budget := take
		for _, b := range list.Buckets() {
			if budget <= 0 {
				break
			}
			d := b.Data
			if len(d) > budget {
				d = d[:budget]
			}
			out = append(out, d...)
			budget -= len(d)
		}
		_, eof := c.ConsumeBucketList(take)
		if eof {
			assert.Equal(t, "5\r\nhello\r\n0\r\n\r\n", string(out))
			return
		}
	}
	t.Fatal("partial-consume drain never reached EOF")
}
