package filter

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// throttle is the shared implementation behind Byte and Four: it
// emits at most limit bytes per push, used for exercising backpressure
// in tests. When limiter is non-nil, pushes are additionally paced by
// a token-bucket (golang.org/x/time/rate) instead of firing as fast
// as the caller re-enters Read, approximating a real rate-limited
// upstream rather than a busy loop. Grounded on
// original_source/src/istream/ByteIstream.cxx and FourIstream.cxx.
type throttle struct {
	base
	input   istream.Stream
	limit   int
	limiter *rate.Limiter
	timer   *time.Timer
}

func newThrottle(input istream.Stream, limit int, limiter *rate.Limiter) *throttle {
	t := &throttle{input: input, limit: limit, limiter: limiter}
	input.SetHandler(t)
	return t
}

// NewByte emits at most 1 byte per push.
func NewByte(input istream.Stream) *Byte { return &Byte{throttle: newThrottle(input, 1, nil)} }

// NewByteLimited paces a 1-byte-per-push stream at r events/sec using
// a token-bucket limiter.
func NewByteLimited(input istream.Stream, r rate.Limit) *Byte {
	return &Byte{throttle: newThrottle(input, 1, rate.NewLimiter(r, 1))}
}

// NewFour emits at most 4 bytes per push.
func NewFour(input istream.Stream) *Four { return &Four{throttle: newThrottle(input, 4, nil)} }

type Byte struct{ *throttle }
type Four struct{ *throttle }

func (t *throttle) SetHandler(h istream.Handler) { t.setHandler(h) }

func (t *throttle) Available(partial bool) int64 { return t.input.Available(partial) }

func (t *throttle) Skip(n int64) int64 { return t.input.Skip(n) }

func (t *throttle) Read() {
	if t.limiter != nil {
		if d := t.limiter.Reserve().Delay(); d > 0 {
			t.timer = time.AfterFunc(d, t.input.Read)
			return
		}
	}
	t.input.Read()
}

func (t *throttle) FillBucketList(list *bucket.List) error {
	inner := bucket.New()
	if err := t.input.FillBucketList(inner); err != nil {
		return err
	}
	sliced := bucket.NewCapacity(1)
	sliced.SpliceBuffersFrom(inner, int64(t.limit), true)
	list.SpliceBuffersFrom(sliced, -1, true)
	if !inner.IsEmpty() || inner.More() {
		list.SetMore()
	}
	return nil
}

func (t *throttle) ConsumeBucketList(n int) (int, bool) { return t.input.ConsumeBucketList(n) }

func (t *throttle) ConsumeDirect(n int64) error { return t.input.ConsumeDirect(n) }

func (t *throttle) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (t *throttle) SetDirect(mask istream.DirectMask) {}

func (t *throttle) Close() {
	if t.closed {
		return
	}
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.input.Close()
}

func (t *throttle) OnData(data []byte) (int, istream.Disposition) {
	if len(data) > t.limit {
		data = data[:t.limit]
	}
	if t.handler == nil {
		return len(data), istream.Continue
	}
	return t.handler.OnData(data)
}

func (t *throttle) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	if maxLen > int64(t.limit) {
		maxLen = int64(t.limit)
		thenEOF = false
	}
	if t.handler == nil {
		return maxLen, istream.DirectOK, istream.Continue
	}
	return t.handler.OnDirect(kind, fd, offset, maxLen, thenEOF)
}

func (t *throttle) OnEOF() { t.deliverEOF() }

func (t *throttle) OnError(err error) { t.deliverError(err) }
