package source

import (
	"github.com/bpcore/flowproxy/istream"
	"github.com/bpcore/flowproxy/istream/bucket"
)

// Null emits EOF immediately on Read and reports Available() == 0.
// Grounded on original_source's NullIstream.
type Null struct {
	handler istream.Handler
}

func NewNull() *Null { return &Null{} }

func (n *Null) SetHandler(h istream.Handler) { n.handler = h }
func (n *Null) Available(partial bool) int64 { return 0 }
func (n *Null) Skip(k int64) int64           { return 0 }
func (n *Null) Read() {
	if n.handler != nil {
		n.handler.OnEOF()
	}
}
func (n *Null) FillBucketList(list *bucket.List) error { return nil }
func (n *Null) ConsumeBucketList(k int) (int, bool)    { return 0, true }
func (n *Null) ConsumeDirect(k int64) error            { return nil }
func (n *Null) AsFD() (istream.Descriptor, bool)       { return istream.Descriptor{}, false }
func (n *Null) SetDirect(mask istream.DirectMask)      {}
func (n *Null) Close()                                 {}

// Fail is a Stream that delivers a stored error on the first Read or
// FillBucketList call. Grounded on original_source's FailIstream.
type Fail struct {
	err     error
	handler istream.Handler
	done    bool
}

func NewFail(err error) *Fail { return &Fail{err: err} }

func (f *Fail) SetHandler(h istream.Handler) { f.handler = h }
func (f *Fail) Available(partial bool) int64 { return -1 }
func (f *Fail) Skip(k int64) int64           { return 0 }

func (f *Fail) Read() {
	if f.done {
		return
	}
	f.done = true
	if f.handler != nil {
		f.handler.OnError(f.err)
	}
}

func (f *Fail) FillBucketList(list *bucket.List) error {
	if !f.done {
		f.done = true
		return f.err
	}
	return f.err
}

func (f *Fail) ConsumeBucketList(k int) (int, bool) { return 0, true }
func (f *Fail) ConsumeDirect(k int64) error         { return f.err }
func (f *Fail) AsFD() (istream.Descriptor, bool)    { return istream.Descriptor{}, false }
func (f *Fail) SetDirect(mask istream.DirectMask)   {}
func (f *Fail) Close()                              {}
