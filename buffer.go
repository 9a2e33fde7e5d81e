package timedeque

import (
	"sync/atomic"

	"github.com/joeycumines/go-timedeque/internal/clock"
	"github.com/joeycumines/go-timedeque/internal/hazard"
)

// Slots 0 and 1 hold the running winner of a pop scan (the best
// candidate so far and its endpoint snapshot) and are only overwritten
// when a later buffer produces a better candidate. Slot 2 is the
// per-visit cursor: every peek announces its current node there, so a
// buffer the scan does not ultimately pick never disturbs the winner's
// protection.
const (
	hazardSlotCandidate = 0
	hazardSlotStart     = 1
	hazardSlotCursor    = 2
)

// hazardSlotsPerThread is the number of hazard announcement slots each
// bound goroutine needs.
const hazardSlotsPerThread = 3

// garbageNode is a delayed-free record: one detached tail chain awaiting
// disposal once no hazard pointer or guest can still observe it.
type garbageNode[T any] struct {
	timestamp uint64
	chain     []*bufferNode[T]
}

// bufferEnv holds the services a localBuffer needs but does not own:
// the timestamp source, the metrics collector, the logger, and
// (optionally) the node allocator. It is shared by every buffer in a
// Deque.
type bufferEnv[T any] struct {
	clock   *clock.Source
	metrics *metricsCollector
	logger  Logger
	nodes   *nodePool[T]
}

func (e *bufferEnv[T]) logPush(fromLeft bool, idx int64) {
	if e.logger == nil || !e.logger.IsEnabled(LevelDebug) {
		return
	}
	e.logger.Log(LogEntry{Level: LevelDebug, Category: "push", Message: "inserted",
		Context: map[string]any{"side": sideName(fromLeft), "index": idx}})
}

func sideName(fromLeft bool) string {
	if fromLeft {
		return "left"
	}
	return "right"
}

// localBuffer is the per-thread doubly-linked structure: one
// producer (the binding thread) pushes at either end, any thread may pop
// from either end via the coordinator.
type localBuffer[T any] struct {
	leftMost  atomic.Pointer[bufferNode[T]]
	rightMost atomic.Pointer[bufferNode[T]]

	guestCounter atomic.Int32
	inserting    atomic.Bool

	// _ separates guestCounter/inserting (written on every insert, peek,
	// and tryUnlink call from every bound goroutine) from lastIndex
	// (written only by this buffer's one occupying goroutine), so the
	// two don't false-share a cache line under concurrent traversal.
	_ cacheLinePad

	// lastIndex is plain, not atomic: only the occupying thread ever
	// pushes to this buffer (single-producer), so there is no
	// concurrent writer to race with.
	lastIndex int64

	delayedTable []atomic.Pointer[garbageNode[T]]
}

// newLocalBuffer creates a fresh buffer holding a single sentinel at
// both endpoints.
func newLocalBuffer[T any](delayedTableSize int) *localBuffer[T] {
	s := newSentinel[T]()
	b := &localBuffer[T]{
		lastIndex:    1,
		delayedTable: make([]atomic.Pointer[garbageNode[T]], delayedTableSize),
	}
	b.leftMost.Store(s)
	b.rightMost.Store(s)
	return b
}

func (b *localBuffer[T]) endpointPtr(fromLeft bool) *atomic.Pointer[bufferNode[T]] {
	if fromLeft {
		return &b.leftMost
	}
	return &b.rightMost
}

// crossedIndex reports whether res has walked past the legitimate index
// range bounded by the opposite endpoint, meaning the chain is exhausted
// on this side without yielding a candidate.
func crossedIndex[T any](res, oppositeEnd *bufferNode[T], fromLeft bool) bool {
	if fromLeft {
		return res.index > oppositeEnd.index
	}
	return res.index < oppositeEnd.index
}

// insert allocates, links at side fromLeft, detaches the prior tail if
// one fell off the end, then stamps. The returned node is already live
// and, once stamped, a legal pop target.
func (b *localBuffer[T]) insert(v T, fromLeft bool, env *bufferEnv[T], h *hazard.Handle[bufferNode[T]]) *bufferNode[T] {
	magnitude := b.lastIndex
	b.lastIndex++
	newNode := env.nodes.get(v, fromLeft, magnitude)

	b.guestCounter.Add(1)
	b.inserting.Store(true)

	place := b.endpointPtr(fromLeft).Load()
	next := place.oppositePtr(fromLeft).Load()
	for next != place && place.taken.Load() {
		place = next
		next = place.oppositePtr(fromLeft).Load()
	}

	tail := place.sidePtr(fromLeft).Load()

	if place.oppositePtr(fromLeft).Load() == place {
		b.endpointPtr(!fromLeft).Store(place)
	}

	newNode.oppositePtr(fromLeft).Store(place)
	place.sidePtr(fromLeft).Store(newNode)
	b.endpointPtr(fromLeft).Store(newNode)

	b.inserting.Store(false)

	if tail != place {
		tail.deletedFromLeft = fromLeft
		now := env.clock.Now()
		garbage := b.makeGarbageNode(tail, fromLeft, now, env)
		b.guestCounter.Add(-1)
		b.installGarbage(garbage, env, h)
	} else {
		b.guestCounter.Add(-1)
	}

	newNode.item.stamp(env.clock.Now())

	if env.metrics.enabled {
		if fromLeft {
			env.metrics.pushFront.Add(1)
		} else {
			env.metrics.pushBack.Add(1)
		}
	}
	env.logPush(fromLeft, newNode.index)

	return newNode
}

// peek walks from endpoint[fromLeft] toward the other side looking for
// the first untaken node, announcing its walk in the caller's cursor
// hazard slot. The winner slots (candidate and start) are left alone
// unless isBetter, consulted while the guest claim still pins this
// buffer's chains, reports that the found candidate beats the caller's
// running best: only then are the candidate and its endpoint snapshot
// promoted into the stable slots, so the best stays announced while a
// scan moves on to other buffers. A nil isBetter never promotes.
func (b *localBuffer[T]) peek(fromLeft bool, h *hazard.Handle[bufferNode[T]], isBetter func(*bufferNode[T]) bool) (candidate, start *bufferNode[T], err error) {
	b.guestCounter.Add(1)
	defer b.guestCounter.Add(-1)

	start = h.Protect(hazardSlotCursor, b.endpointPtr(fromLeft))
	oppositeEnd := b.endpointPtr(!fromLeft).Load()

	res := start
	visited := map[*bufferNode[T]]struct{}{res: {}}
	for {
		if crossedIndex(res, oppositeEnd, fromLeft) {
			return nil, start, nil
		}
		if !res.taken.Load() {
			candidate = h.ProtectValue(hazardSlotCursor, res)
			if isBetter != nil && isBetter(candidate) {
				h.ProtectValue(hazardSlotCandidate, candidate)
				h.ProtectValue(hazardSlotStart, start)
			}
			return candidate, start, nil
		}
		next := res.oppositePtr(fromLeft).Load()
		if next == res {
			return nil, start, nil
		}
		if _, seen := visited[next]; seen {
			return nil, start, &CycleDetectedError{Visited: len(visited), Side: sideName(fromLeft)}
		}
		visited[next] = struct{}{}
		res = h.ProtectValue(hazardSlotCursor, next)
	}
}

// tryUnlink claims node via CAS, advances the endpoint past it, and
// detaches the orphaned tail for delayed reclamation when the chain's
// safety conditions hold. Returns false only on losing the taken CAS
// (the "contended" outcome); any other path is a successful logical
// removal: the taken claim alone is what removes the item.
func (b *localBuffer[T]) tryUnlink(node, start *bufferNode[T], fromLeft bool, env *bufferEnv[T], h *hazard.Handle[bufferNode[T]]) bool {
	b.guestCounter.Add(1)

	// temp is start's own same-side neighbour: whatever start still links
	// to further out, left behind the last time start itself was claimed.
	// Detaching it (not node) is what lets a chain of claims converge.
	temp := start.sidePtr(fromLeft).Load()
	oppositeBorder := b.endpointPtr(!fromLeft).Load()

	if !node.taken.CompareAndSwap(false, true) {
		if env.metrics.enabled {
			env.metrics.contendedUnlink.Add(1)
		}
		b.guestCounter.Add(-1)
		return false
	}

	borderOK := b.endpointPtr(fromLeft).CompareAndSwap(start, node)

	if borderOK {
		// The toInsert guard is deliberately conservative: refuse
		// detachment while the about-to-be-orphaned node is still
		// reserved for insertion.
		canDetach := temp != node &&
			!b.inserting.Load() &&
			b.endpointPtr(fromLeft).Load() == node &&
			b.endpointPtr(!fromLeft).Load() == oppositeBorder &&
			!temp.toInsert.Load()

		if canDetach && start.sidePtr(fromLeft).CompareAndSwap(temp, start) {
			temp.deletedFromLeft = fromLeft
			now := env.clock.Now()
			garbage := b.makeGarbageNode(temp, fromLeft, now, env)
			b.guestCounter.Add(-1)
			b.installGarbage(garbage, env, h)
			return true
		}
		if temp != node && env.metrics.enabled {
			env.metrics.refusedUnlink.Add(1)
		}
	}

	b.guestCounter.Add(-1)
	return true
}

// makeGarbageNode walks the detached chain from head along the side it
// was deleted from, marking every node's delayed flag exactly once
// (duplicates silently skipped).
func (b *localBuffer[T]) makeGarbageNode(head *bufferNode[T], deletedFromLeft bool, now uint64, env *bufferEnv[T]) *garbageNode[T] {
	g := &garbageNode[T]{timestamp: now}
	cur := head
	for {
		if cur.delayed.CompareAndSwap(false, true) {
			g.chain = append(g.chain, cur)
		} else if env.metrics.enabled {
			env.metrics.misdirectedFree.Add(1)
		}
		next := cur.sidePtr(deletedFromLeft).Load()
		if next == cur {
			break
		}
		cur = next
	}
	return g
}

// installGarbage linear-probes delayedTable for a free slot; if every
// slot is occupied it runs a cooperative reclamation pass and probes
// again, until a slot (freed by this or any other goroutine) is free.
func (b *localBuffer[T]) installGarbage(g *garbageNode[T], env *bufferEnv[T], h *hazard.Handle[bufferNode[T]]) {
	for {
		for i := range b.delayedTable {
			if b.delayedTable[i].CompareAndSwap(nil, g) {
				return
			}
		}
		b.tryClean(env, h)
	}
}

// tryClean is the cooperative reclamation pass: if no traversal is
// in flight on this buffer (guestCounter == 0), every slot whose
// garbage-node predates now() is cleared and its chain retired through
// the hazard-pointer service. Returns whether any slot was freed.
func (b *localBuffer[T]) tryClean(env *bufferEnv[T], h *hazard.Handle[bufferNode[T]]) bool {
	if b.guestCounter.Load() != 0 {
		return false
	}
	now := env.clock.Now()
	cleaned := false
	for i := range b.delayedTable {
		g := b.delayedTable[i].Load()
		if g == nil {
			continue
		}
		if g.timestamp < now && b.delayedTable[i].CompareAndSwap(g, nil) {
			b.disposeGarbage(g, h, env)
			cleaned = true
		}
	}
	return cleaned
}

func (b *localBuffer[T]) disposeGarbage(g *garbageNode[T], h *hazard.Handle[bufferNode[T]], env *bufferEnv[T]) {
	for _, n := range g.chain {
		h.Retire(n, func(n *bufferNode[T]) {
			if env.metrics.enabled {
				env.metrics.reclaimed.Add(1)
			}
			env.nodes.put(n)
		})
	}
}

// liveNodeCount walks the left chain from rightMost for testing: it
// returns the number of nodes currently reachable from the live
// endpoints (used by reclamation tests).
func (b *localBuffer[T]) liveNodeCount() int {
	count := 1
	cur := b.rightMost.Load()
	for cur.left.Load() != cur {
		cur = cur.left.Load()
		count++
	}
	return count
}
