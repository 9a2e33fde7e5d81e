package timedeque

import "sync/atomic"

// registryNode is one entry on the buffer registry's append-only spine.
// The spine only ever grows: a local buffer, once allocated, lives for
// the lifetime of the Deque and is only ever released (occupied
// cleared) for reuse by a later goroutine, never removed from the
// spine, so traversal needs no lock and no reclamation protocol.
type registryNode[T any] struct {
	buffer   *localBuffer[T]
	occupied atomic.Bool
	next     atomic.Pointer[registryNode[T]]
}

// bufferRegistry is the only state of a Deque shared across every bound
// goroutine: every local buffer any thread has ever acquired, threaded
// together so a pop can walk all of them without a lock.
type bufferRegistry[T any] struct {
	head atomic.Pointer[registryNode[T]]
	// tail is an append hint, not an authority: a concurrent appender may
	// have advanced past it, so append always walks forward from
	// whatever tail currently holds to find the real end.
	tail             atomic.Pointer[registryNode[T]]
	size             atomic.Int64
	delayedTableSize int
}

func newBufferRegistry[T any](delayedTableSize int) *bufferRegistry[T] {
	first := &registryNode[T]{buffer: newLocalBuffer[T](delayedTableSize)}
	r := &bufferRegistry[T]{delayedTableSize: delayedTableSize}
	r.head.Store(first)
	r.tail.Store(first)
	r.size.Store(1)
	return r
}

// acquire claims a local buffer for exclusive push ownership: an
// existing unoccupied node if one exists, otherwise a freshly appended
// one. The single-producer invariant (see localBuffer.lastIndex's
// comment) depends on every return from acquire being exclusive until a
// matching release.
func (r *bufferRegistry[T]) acquire() *registryNode[T] {
	for n := r.head.Load(); n != nil; n = n.next.Load() {
		if n.occupied.CompareAndSwap(false, true) {
			return n
		}
	}
	return r.append()
}

// append links a new, already-occupied node onto the spine. Two
// goroutines racing to append both succeed independently (the spine
// simply grows by two); neither overwrites the other's link.
func (r *bufferRegistry[T]) append() *registryNode[T] {
	n := &registryNode[T]{buffer: newLocalBuffer[T](r.delayedTableSize)}
	n.occupied.Store(true)
	for {
		tail := r.tail.Load()
		for next := tail.next.Load(); next != nil; next = tail.next.Load() {
			tail = next
		}
		if tail.next.CompareAndSwap(nil, n) {
			r.tail.CompareAndSwap(r.tail.Load(), n)
			r.size.Add(1)
			return n
		}
	}
}

// release returns a buffer to the free pool for reacquisition by a
// later goroutine.
func (r *bufferRegistry[T]) release(n *registryNode[T]) {
	n.occupied.Store(false)
}

// walk invokes fn for every buffer currently on the spine, in spine
// order, stopping early if fn returns false. Used by the coordinator's
// pop scan and the emptiness protocol.
func (r *bufferRegistry[T]) walk(fn func(*localBuffer[T]) bool) {
	for n := r.head.Load(); n != nil; n = n.next.Load() {
		if !fn(n.buffer) {
			return
		}
	}
}

func (r *bufferRegistry[T]) len() int {
	return int(r.size.Load())
}
