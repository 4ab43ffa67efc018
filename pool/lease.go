// Package pool implements the narrow allocator and resource-lease
// collaborators named in spec §5/§6: a per-connection/per-request
// arena, a slab allocator for fixed-size chunks, a rubber allocator
// for address-stable buffers, and a pipe stock for splice fast paths.
// The core calls these through the interfaces in this file and
// imposes no layout on their implementation, per spec §6.
package pool

// ReleaseAction tells a Lease whether its resource should be returned
// to its pool for reuse or torn down.
type ReleaseAction int

const (
	Reuse ReleaseAction = iota
	Destroy
)

// Lease is the narrow §6 collaborator: "release(action)". Sockets
// acquired from a connection pool, and pipes acquired from the pipe
// stock, are both surfaced to callers as a Lease.
type Lease interface {
	Release(action ReleaseAction)
}

// LeaseFunc adapts a plain function to Lease.
type LeaseFunc func(ReleaseAction)

func (f LeaseFunc) Release(a ReleaseAction) { f(a) }

// Cancellable is the §6 collaborator: a handle for an outstanding
// asynchronous operation that can be cancelled synchronously with no
// further callbacks (spec §5 Cancellation).
type Cancellable interface {
	Cancel()
}

// CancelFunc adapts a plain function to Cancellable.
type CancelFunc func()

func (f CancelFunc) Cancel() { f() }
