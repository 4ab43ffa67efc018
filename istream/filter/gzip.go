package filter

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
	"github.com/bpcore/flowproxy/istream/fanout"
)

// compressWriter is the minimal surface Gzip/Deflate need from their
// underlying klauspost/compress writer.
type compressWriter interface {
	Write(p []byte) (int, error)
	Flush() error
	Close() error
}

// flushKind distinguishes the two reasons the worker is asked to
// flush: a plain sync flush so a stalled pipeline still makes
// progress (spec §4.D "submit a SYNC flush if the encoder received
// input without emitting output"), or the final flush at input EOF.
type flushKind int

const (
	flushNone flushKind = iota
	flushSync
	flushFinal
)

// compressor is the shared compression filter behind Gzip, Deflate
// and Brotli. CPU-bound Write/Flush calls run on a worker goroutine
// bounded by a fanout.OffloadPool (spec §4.E): the main thread appends
// to a mutex-protected input slab and polls a mutex-protected output
// slab, keeping those two distinct from the "unprotected" staging
// buffer the downstream handler actually reads from, exactly as spec
// §4.E describes. A nil pool runs the same transform inline on the
// calling goroutine instead of dispatching, for deterministic tests.
// Grounded on modules/caddyhttp/encode/gzip/gzip.go and
// modules/caddyhttp/encode/encode.go, generalized from an
// io.Writer-wrapping ResponseWriter into an istream filter, with the
// worker-offload shape of istream/fanout/offload.go standing in for
// original_source/src/istream/GzipIstream.cxx's dedicated thread.
type compressor struct {
	base
	input  istream.Stream
	writer compressWriter
	pool   *fanout.OffloadPool

	mu           sync.Mutex
	protectedIn  bytes.Buffer // input bytes queued for the worker
	protectedOut bytes.Buffer // worker output not yet claimed by the main thread
	working      bool         // a worker currently owns the writer
	pendingFlush flushKind    // flush the worker must perform on its next pass
	result       chan error   // signals one worker pass has finished

	workBuf bytes.Buffer // worker-goroutine-only scratch buffer for the writer's output

	unprotected  bytes.Buffer // main-thread-only staging drained to the downstream handler
	outputFull   bool         // downstream stalled on the last tryFlush; hold off rescheduling
	eofRequested bool         // OnEOF seen; a final flush has been queued
	finalDone    bool         // worker finished the final flush (mutex-protected)
	finished     bool         // finalDone's result has been folded into unprotected
}

func (c *compressor) SetHandler(h istream.Handler) { c.setHandler(h) }

func (c *compressor) Available(partial bool) int64 { return -1 }

func (c *compressor) Skip(n int64) int64 { return 0 }

func (c *compressor) Read() {
	if c.unprotected.Len() > 0 {
		c.tryFlush()
		return
	}
	if c.working {
		select {
		case err := <-c.result:
			c.working = false
			if err != nil {
				c.deliverError(err)
				return
			}
			c.collectOutput()
			c.tryFlush()
		default:
			// Worker still running; the caller is expected to Read()
			// again on the next event-loop pass.
		}
		return
	}
	if c.finished {
		c.deliverEOF()
		return
	}
	c.mu.Lock()
	hasWork := c.protectedIn.Len() > 0 || c.pendingFlush != flushNone
	c.mu.Unlock()
	if hasWork {
		c.scheduleWork()
		return
	}
	if c.eofRequested {
		// OnEOF already queued flushFinal; scheduleWork above found no
		// work only because a worker pass is still draining it into
		// protectedOut via collectOutput, or this is a stray Read()
		// that arrived after OnEOF but before OnEOF's own scheduleWork
		// ran. Either way there is nothing more to pull from input.
		return
	}
	c.input.Read()
}

func (c *compressor) FillBucketList(list *bucket.List) error {
	list.EnableFallback()
	return nil
}

func (c *compressor) ConsumeBucketList(n int) (int, bool) { return 0, false }

func (c *compressor) ConsumeDirect(n int64) error { return nil }

func (c *compressor) AsFD() (istream.Descriptor, bool) { return istream.Descriptor{}, false }

func (c *compressor) SetDirect(mask istream.DirectMask) {}

func (c *compressor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.input.Close()
}

// scheduleWork hands the currently queued input (and any pending
// flush) to a worker, either as a bounded goroutine (pool != nil) or
// inline on the calling goroutine (pool == nil, used by tests that
// want synchronous, deterministic behavior).
func (c *compressor) scheduleWork() {
	if c.working || c.closed {
		return
	}
	c.mu.Lock()
	data := append([]byte(nil), c.protectedIn.Bytes()...)
	c.protectedIn.Reset()
	kind := c.pendingFlush
	c.pendingFlush = flushNone
	c.mu.Unlock()
	if len(data) == 0 && kind == flushNone {
		return
	}
	c.working = true
	if c.pool == nil {
		c.result <- c.doWork(data, kind)
		return
	}
	c.pool.Go(func() {
		c.result <- c.doWork(data, kind)
	})
}

// doWork performs the actual compression under the worker's exclusive
// ownership of writer and workBuf, then publishes its output into the
// mutex-protected protectedOut slab for the main thread to collect.
func (c *compressor) doWork(data []byte, kind flushKind) error {
	if len(data) > 0 {
		if _, err := c.writer.Write(data); err != nil {
			return err
		}
	}
	switch kind {
	case flushSync:
		if err := c.writer.Flush(); err != nil {
			return err
		}
	case flushFinal:
		if err := c.writer.Close(); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.protectedOut.Write(c.workBuf.Bytes())
	c.workBuf.Reset()
	if kind == flushFinal {
		c.finalDone = true
	}
	c.mu.Unlock()
	return nil
}

// collectOutput moves whatever the worker published into protectedOut
// onto the main-thread-only unprotected buffer the handler reads from.
func (c *compressor) collectOutput() {
	c.mu.Lock()
	c.unprotected.Write(c.protectedOut.Bytes())
	c.protectedOut.Reset()
	doneFinal := c.finalDone
	c.mu.Unlock()
	if doneFinal {
		c.finished = true
	}
}

func (c *compressor) tryFlush() {
	if c.handler == nil || c.unprotected.Len() == 0 {
		if c.finished && c.unprotected.Len() == 0 {
			c.deliverEOF()
		}
		return
	}
	n, disp := c.handler.OnData(c.unprotected.Bytes())
	if disp == istream.Destroyed {
		return
	}
	c.unprotected.Next(n)
	if c.unprotected.Len() > 0 {
		c.outputFull = true
		return
	}
	c.outputFull = false
	if c.finished {
		c.deliverEOF()
	}
}

func (c *compressor) OnData(data []byte) (int, istream.Disposition) {
	c.mu.Lock()
	c.protectedIn.Write(data)
	// Request a sync flush so this push's bytes actually surface
	// through the writer instead of sitting in its internal window
	// until EOF (spec §4.D: "submit a SYNC flush if the encoder
	// received input without emitting output"); flushFinal, if already
	// queued by a concurrent OnEOF, takes priority.
	if c.pendingFlush == flushNone {
		c.pendingFlush = flushSync
	}
	c.mu.Unlock()
	if !c.outputFull {
		c.scheduleWork()
	}
	return len(data), istream.Continue
}

func (c *compressor) OnDirect(kind istream.FDKind, fd uintptr, offset, maxLen int64, thenEOF bool) (int64, istream.DirectResult, istream.Disposition) {
	return 0, istream.DirectBlocking, istream.Continue
}

func (c *compressor) OnEOF() {
	c.eofRequested = true
	c.mu.Lock()
	c.pendingFlush = flushFinal
	c.mu.Unlock()
	c.scheduleWork()
}

func (c *compressor) OnError(err error) { c.deliverError(err) }

// Gzip compresses its input with gzip, via klauspost/compress/gzip.
type Gzip struct{ *compressor }

// NewGzip wraps input with a gzip encoder at the given compression
// level (gzip.DefaultCompression if zero), dispatching compression
// work to pool (nil runs inline on the calling goroutine).
func NewGzip(input istream.Stream, level int, pool *fanout.OffloadPool) *Gzip {
	c := &compressor{pool: pool, result: make(chan error, 1)}
	if level == 0 {
		level = gzip.DefaultCompression
	}
	w, _ := gzip.NewWriterLevel(&c.workBuf, level)
	c.input = input
	c.writer = w
	input.SetHandler(c)
	return &Gzip{compressor: c}
}

// Deflate compresses its input with raw DEFLATE, via
// klauspost/compress/flate.
type Deflate struct{ *compressor }

func NewDeflate(input istream.Stream, level int, pool *fanout.OffloadPool) *Deflate {
	c := &compressor{pool: pool, result: make(chan error, 1)}
	if level == 0 {
		level = flate.DefaultCompression
	}
	w, _ := flate.NewWriter(&c.workBuf, level)
	c.input = input
	c.writer = w
	input.SetHandler(c)
	return &Deflate{compressor: c}
}
