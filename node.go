package timedeque

import (
	"sync"
	"sync/atomic"
)

// itemNode is the payload half of a push: a timestamp plus the value the
// caller supplied. The timestamp is written once, after the owning
// buffer-node is linked into the chain, using a release
// store; readers use an acquire load so a non-zero observation
// happens-after the node became part of the live list.
//
// A zero timestamp means "linked but not yet stamped": the
// node is newer than anything already stamped, and prefer treats it as
// an automatic winner.
type itemNode[T any] struct {
	timestamp atomic.Uint64
	payload   T
}

func (it *itemNode[T]) loadTimestamp() uint64 { return it.timestamp.Load() }

func (it *itemNode[T]) stamp(ts uint64) { it.timestamp.Store(ts) }

// bufferNode is one slot in a local buffer's doubly-linked chain. left and
// right are atomic so concurrent pushes, peeks, and unlinks can read a
// consistent adjacency without a lock; taken, toInsert, and delayed are
// single-writer-many-reader flags enforcing once-only transitions.
type bufferNode[T any] struct {
	left  atomic.Pointer[bufferNode[T]]
	right atomic.Pointer[bufferNode[T]]

	item itemNode[T]

	// index is negative for a left-origin push, positive for a
	// right-origin push, zero only for the sentinel.
	index int64

	taken    atomic.Bool
	toInsert atomic.Bool
	delayed  atomic.Bool

	// deletedFromLeft records the side from which insert or tryUnlink
	// detached this node as the head of a tail chain. makeGarbageNode
	// takes that side as an argument and does not read this field.
	deletedFromLeft bool
}

// newSentinel builds the single always-taken node a fresh local buffer
// anchors both endpoints on.
func newSentinel[T any]() *bufferNode[T] {
	n := &bufferNode[T]{index: 0}
	n.taken.Store(true)
	n.left.Store(n)
	n.right.Store(n)
	return n
}

// newPushNode allocates the node for one push, with self-loops on both
// links and index magnitude set from the buffer's per-push counter. The
// sign encodes the origin side: negative for left, positive for right.
func newPushNode[T any](v T, fromLeft bool, magnitude int64) *bufferNode[T] {
	n := &bufferNode[T]{item: itemNode[T]{payload: v}}
	if fromLeft {
		n.index = -magnitude
	} else {
		n.index = magnitude
	}
	n.left.Store(n)
	n.right.Store(n)
	return n
}

// nodePool is the pluggable node allocator behind WithNodePool. A nil
// *nodePool (the default) allocates
// a fresh bufferNode per push, same as before WithNodePool existed; a
// non-nil one recycles nodes retired through hazard reclamation via a
// sync.Pool, trading a little reuse bookkeeping for less allocator
// pressure under sustained push/pop churn.
type nodePool[T any] struct {
	pool sync.Pool
}

func newNodePool[T any]() *nodePool[T] {
	return &nodePool[T]{pool: sync.Pool{New: func() any { return new(bufferNode[T]) }}}
}

// get returns a fresh push node for v, side fromLeft, index magnitude
// magnitude: from the pool if np is non-nil, otherwise a new
// allocation.
func (np *nodePool[T]) get(v T, fromLeft bool, magnitude int64) *bufferNode[T] {
	if np == nil {
		return newPushNode(v, fromLeft, magnitude)
	}
	n := np.pool.Get().(*bufferNode[T])
	*n = bufferNode[T]{item: itemNode[T]{payload: v}}
	if fromLeft {
		n.index = -magnitude
	} else {
		n.index = magnitude
	}
	n.left.Store(n)
	n.right.Store(n)
	return n
}

// put returns a retired node to the pool for reuse. A no-op if np is
// nil (pooling disabled): the node is simply left for the garbage
// collector, as before WithNodePool existed.
func (np *nodePool[T]) put(n *bufferNode[T]) {
	if np == nil {
		return
	}
	np.pool.Put(n)
}

// sidePtr returns the link field on the same side as fromLeft: the left
// field when fromLeft is true, the right field otherwise.
func (n *bufferNode[T]) sidePtr(fromLeft bool) *atomic.Pointer[bufferNode[T]] {
	if fromLeft {
		return &n.left
	}
	return &n.right
}

// oppositePtr returns the link field on the side opposite fromLeft.
func (n *bufferNode[T]) oppositePtr(fromLeft bool) *atomic.Pointer[bufferNode[T]] {
	if fromLeft {
		return &n.right
	}
	return &n.left
}

// isSelfLoop reports whether the link field on the given side still
// points at n itself, i.e. n is the end of the chain on that side.
func (n *bufferNode[T]) isSelfLoop(fromLeft bool) bool {
	return n.sidePtr(fromLeft).Load() == n
}

// originLeft reports whether n was pushed from the left (index < 0).
// Only meaningful for non-sentinel nodes; the sentinel's index is 0 and
// is never surfaced as a peek candidate, since taken is always true.
func (n *bufferNode[T]) originLeft() bool { return n.index < 0 }

// prefer is the pop-ordering predicate: given two candidate
// nodes (either may be nil, meaning "no candidate on that side") and the
// side a pop is being attempted from, it returns the better candidate to
// pop.
func prefer[T any](a, b *bufferNode[T], fromLeft bool) *bufferNode[T] {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.item.loadTimestamp() == 0 {
		return a
	}
	if b.item.loadTimestamp() == 0 {
		return b
	}

	aLeft, bLeft := a.originLeft(), b.originLeft()
	switch {
	case aLeft && bLeft:
		// Same origin (left): popping from the left prefers the earlier
		// timestamp, popping from the right prefers the later one.
		if fromLeft {
			return earlier(a, b)
		}
		return later(a, b)
	case !aLeft && !bLeft:
		// Same origin (right): symmetric to the above.
		if fromLeft {
			return later(a, b)
		}
		return earlier(a, b)
	default:
		// Mixed origins: bias toward the node pushed at the side being
		// popped from, regardless of timestamp.
		if aLeft == fromLeft {
			return a
		}
		return b
	}
}

func earlier[T any](a, b *bufferNode[T]) *bufferNode[T] {
	if a.item.loadTimestamp() <= b.item.loadTimestamp() {
		return a
	}
	return b
}

func later[T any](a, b *bufferNode[T]) *bufferNode[T] {
	if a.item.loadTimestamp() >= b.item.loadTimestamp() {
		return a
	}
	return b
}
