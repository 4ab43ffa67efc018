package pool

import "sync"

// DefaultSlabSize is the fixed chunk size used by GrowingBuffer and
// BufferedSocket's input FIFO, matching the original's slab default
// (spec §3 GrowingBuffer / §5 "slab-like buffers... from a shared
// pool to amortize reuse").
const DefaultSlabSize = 8192

// Slab is a fixed-size-chunk allocator backed by a sync.Pool, so
// repeatedly-allocated/released chunks (input FIFOs, GrowingBuffer
// nodes, pipe staging buffers) are recycled instead of hitting the Go
// allocator on every request.
type Slab struct {
	size int
	pool sync.Pool
}

// NewSlab returns a Slab allocating chunkSize-byte chunks.
func NewSlab(chunkSize int) *Slab {
	s := &Slab{size: chunkSize}
	s.pool.New = func() any { return make([]byte, chunkSize) }
	return s
}

// DefaultSlab is the process-wide slab used where call sites don't
// need a dedicated pool.
var DefaultSlab = NewSlab(DefaultSlabSize)

// ChunkSize reports the fixed size of chunks this Slab hands out.
func (s *Slab) ChunkSize() int { return s.size }

// Get returns a chunk, freshly zeroed or recycled.
func (s *Slab) Get() []byte { return s.pool.Get().([]byte) }

// Put returns a chunk for reuse. The caller must not retain chunk
// after calling Put.
func (s *Slab) Put(chunk []byte) {
	if cap(chunk) != s.size {
		return // foreign slice, not ours to pool
	}
	s.pool.Put(chunk[:s.size])
}
