// Package bucket implements the bounded, zero-copy pull-mode batch
// described in spec §3/§4.B: a Bucket is a borrowed byte span whose
// lifetime is the producing Stream's next mutation, and a List is a
// bounded vector of Buckets plus "more"/"fallback" flags.
package bucket

// DefaultCapacity is the bucket list size named in spec §3 ("e.g. 64
// entries"); overflow past this sets More.
const DefaultCapacity = 64

// Bucket holds a borrowed byte span. It is valid only until the
// producing Stream's next push or until the consumer calls
// List.Consume for the bytes it covers.
type Bucket struct {
	Data []byte
}

// List is a bounded vector of Buckets. More indicates the producer
// has additional data it did not push this call (so the consumer
// should call FillBucketList again, or fall back to push mode).
// Fallback indicates the producer cannot enumerate further buckets at
// all and the consumer must revert to push-mode reads.
type List struct {
	buckets  []Bucket
	capacity int
	more     bool
	fallback bool
}

// New returns an empty List with the default capacity.
func New() *List { return NewCapacity(DefaultCapacity) }

// NewCapacity returns an empty List bounded to cap entries.
func NewCapacity(cap int) *List {
	return &List{buckets: make([]Bucket, 0, cap), capacity: cap}
}

// Reset empties the list for reuse (lists are typically pooled).
func (l *List) Reset() {
	l.buckets = l.buckets[:0]
	l.more = false
	l.fallback = false
}

// Push appends a bucket. If the list is already full, the bucket is
// dropped and More is set instead — per spec §4.B, "pushing into a
// full list implicitly sets more".
func (l *List) Push(b Bucket) {
	if len(b.Data) == 0 {
		return
	}
	if l.Full() {
		l.more = true
		return
	}
	l.buckets = append(l.buckets, b)
}

// PushSpan is a convenience for Push(Bucket{Data: data}).
func (l *List) PushSpan(data []byte) { l.Push(Bucket{Data: data}) }

// Full reports whether the list has reached its capacity.
func (l *List) Full() bool { return len(l.buckets) >= l.capacity }

// SetMore marks that the producer has more data beyond what is in
// this list.
func (l *List) SetMore() { l.more = true }

// More reports the more flag.
func (l *List) More() bool { return l.more }

// EnableFallback marks that the producer cannot enumerate further
// buckets and the consumer should revert to push-mode reads.
func (l *List) EnableFallback() { l.fallback = true }

// Fallback reports the fallback flag.
func (l *List) Fallback() bool { return l.fallback }

// Buckets returns the buckets currently in the list, in order.
func (l *List) Buckets() []Bucket { return l.buckets }

// IsEmpty reports whether the list holds zero buckets.
func (l *List) IsEmpty() bool { return len(l.buckets) == 0 }

// GetTotalBufferSize sums the length of every bucket currently in the
// list.
func (l *List) GetTotalBufferSize() int64 {
	var total int64
	for _, b := range l.buckets {
		total += int64(len(b.Data))
	}
	return total
}

// IsDepleted reports whether, having consumed consumed bytes from
// this list, the producer is now fully drained: !more && consumed ==
// total (spec §4.B).
func (l *List) IsDepleted(consumed int64) bool {
	return !l.more && consumed == l.GetTotalBufferSize()
}

// Consume drops the first n bytes' worth of buckets (used by a
// consumer that has finished with a prefix of the list's buckets,
// e.g. after partial downstream acceptance). Whole buckets are
// removed; a partial final bucket is trimmed in place.
func (l *List) Consume(n int64) {
	i := 0
	for i < len(l.buckets) && n > 0 {
		bl := int64(len(l.buckets[i].Data))
		if bl <= n {
			n -= bl
			i++
			continue
		}
		l.buckets[i].Data = l.buckets[i].Data[n:]
		n = 0
	}
	l.buckets = l.buckets[i:]
}

// SpliceBuffersFrom moves buffer-kind buckets from src into l, up to
// maxBytes total (a non-positive maxBytes means unbounded), stopping
// early if l fills up. If copyMore is true, src's More flag is copied
// onto l when src is exhausted by the splice; otherwise l's own More
// is left untouched by src's flag (but still set if l filled up or
// src had leftover buckets beyond maxBytes).
func (l *List) SpliceBuffersFrom(src *List, maxBytes int64, copyMore bool) int64 {
	var moved int64
	i := 0
	for i < len(src.buckets) {
		if l.Full() {
			l.more = true
			break
		}
		b := src.buckets[i]
		if maxBytes > 0 && moved+int64(len(b.Data)) > maxBytes {
			remain := maxBytes - moved
			if remain <= 0 {
				l.more = true
				break
			}
			l.Push(Bucket{Data: b.Data[:remain]})
			moved += remain
			src.buckets[i].Data = b.Data[remain:]
			l.more = true
			break
		}
		l.Push(Bucket{Data: b.Data})
		moved += int64(len(b.Data))
		i++
	}
	src.buckets = src.buckets[i:]
	if copyMore && len(src.buckets) == 0 && src.more {
		l.more = true
	}
	return moved
}

// CopyBuffersFrom copies (without removing) buckets from src into l,
// skipping the first skip bytes' worth, without mutating src.
func (l *List) CopyBuffersFrom(skip int64, src *List) {
	for _, b := range src.buckets {
		if l.Full() {
			l.more = true
			return
		}
		if skip > 0 {
			if skip >= int64(len(b.Data)) {
				skip -= int64(len(b.Data))
				continue
			}
			l.Push(Bucket{Data: b.Data[skip:]})
			skip = 0
			continue
		}
		l.Push(Bucket{Data: b.Data})
	}
	if src.more {
		l.more = true
	}
}
