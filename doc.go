// Package timedeque provides a concurrent, lock-free double-ended queue
// with a relaxed, timestamp-based ordering contract between its two ends.
//
// # Architecture
//
// The deque is built from four layers:
//   - [Deque] is the coordinator: it routes PushBack/PushFront to the
//     caller's local buffer and drives a scan-compare-CAS protocol for
//     PopBack/PopFront across every buffer currently in use.
//   - a per-goroutine local buffer (internal, see buffer.go) is a doubly
//     linked list with atomic endpoints; it owns insertion at both ends
//     and lazily unlinks nodes claimed by a pop.
//   - the buffer registry (internal, see registry.go) is a grow-only
//     lock-free list of local buffers, one per bound goroutine.
//   - safe reclamation of unlinked nodes is deferred through a
//     hazard-pointer scheme (internal/hazard) until no other goroutine
//     can still observe them.
//
// Unlike a FIFO queue or a LIFO stack, both ends of this deque are
// active at once. Correctness does not rest on linearizability: the
// relative order of two concurrent operations on opposite ends is
// decided by per-item timestamps captured near insertion time, not by a
// global sequence.
//
// # Thread Safety
//
//   - [Deque.PushBack] and [Deque.PushFront] are wait-free on the fast
//     path for the calling goroutine's own buffer.
//   - [Deque.PopBack] and [Deque.PopFront] are lock-free: a failed CAS
//     against one buffer causes the coordinator to retry, it never
//     blocks.
//   - [Deque.Empty] is best-effort: it may return false for an instant
//     while a racing pop is about to complete, and is only guaranteed to
//     converge to true after quiescence (see the two-probe protocol in
//     deque.go).
//   - No operation accepts a context or supports cancellation; each runs
//     to completion once started.
//
// # Usage
//
//	dq := timedeque.New[int]()
//	dq.PushBack(1)
//	dq.PushBack(2)
//	dq.PushBack(3)
//	v, ok := dq.PopFront() // 1, true
//	v, ok = dq.PopBack()   // 3, true
//	v, ok = dq.PopFront()  // 2, true
//
// Every exported push, pop, Empty and Clear call implicitly binds the
// calling goroutine to a local buffer on first use; see [Deque.Bind] for the explicit form that
// avoids the per-call goroutine-id lookup.
package timedeque
