// Package source implements the origin streams of spec §4.C: string/
// memory, null, fail, delayed, pipe-lease, and fifo-buffer.
package source

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// Memory is a one-shot Stream over a borrowed byte span. It pushes the
// whole span in a single call, or yields a single bucket with
// more=false. A Read whose data the handler accepts in full delivers
// EOF in the same call; after a partial acceptance, later Reads push
// the remainder. Consuming the whole bucket reports EOF. Grounded on
// original_source/src/istream/StringIstream.cxx (istream_memory /
// istream_string share the same shape in the original).
type Memory struct {
	data    []byte
	sent    bool
	handler istream.Handler
}

// New wraps data (not copied) as a Stream.
func New(data []byte) *Memory { return &Memory{data: data} }

// NewString wraps s's bytes as a Stream.
func NewString(s string) *Memory { return New([]byte(s)) }

func (m *Memory) SetHandler(h istream.Handler) { m.handler = h }

func (m *Memory) Available(partial bool) int64 {
	if m.sent {
		return 0
	}
	return int64(len(m.data))
}

func (m *Memory) Skip(n int64) int64 {
	if m.sent || n <= 0 {
		return 0
	}
	if n >= int64(len(m.data)) {
		n = int64(len(m.data))
		m.data = nil
		m.sent = true
		return n
	}
	m.data = m.data[n:]
	return n
}

func (m *Memory) Read() {
	if m.handler == nil {
		return
	}
	if m.sent {
		m.handler.OnEOF()
		return
	}
	data := m.data
	n, disp := m.handler.OnData(data)
	if disp == istream.Destroyed {
		return
	}
	if n >= len(data) {
		m.sent = true
		m.data = nil
		m.handler.OnEOF()
		return
	}
	// Partial acceptance: keep the remainder for the next Read.
	m.data = data[n:]
}

func (m *Memory) FillBucketList(list *bucket.List) error {
	if !m.sent && len(m.data) > 0 {
		list.PushSpan(m.data)
	}
	return nil
}

func (m *Memory) ConsumeBucketList(n int) (int, bool) {
	if n >= len(m.data) {
		n = len(m.data)
		m.data = nil
		m.sent = true
		return n, true
	}
	m.data = m.data[n:]
	return n, false
}

func (m *Memory) ConsumeDirect(n int64) error { return nil }

func (m *Memory) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (m *Memory) SetDirect(mask istream.DirectMask) {}

func (m *Memory) Close() { m.sent = true; m.data = nil }
