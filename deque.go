package timedeque

import (
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-timedeque/internal/clock"
	"github.com/joeycumines/go-timedeque/internal/hazard"
)

// Deque is a concurrent, timestamp-ordered double-ended queue. The
// zero value is not usable; call New.
type Deque[T any] struct {
	registry *bufferRegistry[T]
	hazards  *hazard.Domain[bufferNode[T]]
	env      *bufferEnv[T]
	logger   Logger
	metrics  *metricsCollector

	implicit *implicitHandles[T]

	// itemCount is the fast-path lower bound for emptiness checks:
	// incremented on every successful push, decremented only on a
	// confirmed pop.
	itemCount atomic.Int64
}

// New constructs a Deque. Every exported push/pop/empty/clear
// method implicitly binds the calling goroutine to a local buffer on
// first use (see [Deque.Bind] for the explicit form).
func New[T any](opts ...Option) *Deque[T] {
	cfg := resolveOptions(opts)
	d := &Deque[T]{
		registry: newBufferRegistry[T](cfg.delayedTableSize),
		hazards:  hazard.NewDomain[bufferNode[T]](cfg.maxThreads, hazardSlotsPerThread),
		logger:   cfg.logger,
		metrics:  newMetricsCollector(cfg.metricsEnabled),
		implicit: newImplicitHandles[T](),
	}
	var nodes *nodePool[T]
	if cfg.nodePool {
		nodes = newNodePool[T]()
	}
	d.env = &bufferEnv[T]{clock: clock.New(), metrics: d.metrics, logger: d.logger, nodes: nodes}
	return d
}

func (d *Deque[T]) handle() (*Handle[T], error) {
	return d.implicit.forGoroutine(d)
}

// PushBack inserts v at the right end. It returns false only if the
// calling goroutine cannot be bound (thread slots exhausted).
func (d *Deque[T]) PushBack(v T) bool {
	h, err := d.handle()
	if err != nil {
		return false
	}
	return d.PushBackWith(h, v)
}

// PushFront inserts v at the left end. It returns false only if the
// calling goroutine cannot be bound (thread slots exhausted).
func (d *Deque[T]) PushFront(v T) bool {
	h, err := d.handle()
	if err != nil {
		return false
	}
	return d.PushFrontWith(h, v)
}

// PushBackWith is the explicit-Handle form of PushBack.
func (d *Deque[T]) PushBackWith(h *Handle[T], v T) bool {
	h.node.buffer.insert(v, false, d.env, h.hz)
	d.itemCount.Add(1)
	return true
}

// PushFrontWith is the explicit-Handle form of PushFront.
func (d *Deque[T]) PushFrontWith(h *Handle[T], v T) bool {
	h.node.buffer.insert(v, true, d.env, h.hz)
	d.itemCount.Add(1)
	return true
}

// PopBack removes and returns the item currently preferred from the
// right end, or false if the deque was observed empty or the calling
// goroutine cannot be bound.
func (d *Deque[T]) PopBack() (T, bool) {
	var zero T
	h, err := d.handle()
	if err != nil {
		return zero, false
	}
	return d.PopBackWith(h)
}

// PopFront removes and returns the item currently preferred from the
// left end, or false if the deque was observed empty or the calling
// goroutine cannot be bound.
func (d *Deque[T]) PopFront() (T, bool) {
	var zero T
	h, err := d.handle()
	if err != nil {
		return zero, false
	}
	return d.PopFrontWith(h)
}

// PopBackWith is the explicit-Handle form of PopBack.
func (d *Deque[T]) PopBackWith(h *Handle[T]) (T, bool) {
	return d.tryRemove(false, h)
}

// PopFrontWith is the explicit-Handle form of PopFront.
func (d *Deque[T]) PopFrontWith(h *Handle[T]) (T, bool) {
	return d.tryRemove(true, h)
}

// tryRemove scans every buffer for the best candidate under
// prefer(·,·,side), guards it against pushes concurrent with the scan,
// then attempts the claim. A contended CAS just retries the whole scan;
// nothing here blocks.
func (d *Deque[T]) tryRemove(side bool, h *Handle[T]) (T, bool) {
	var zero T
	for {
		scanStart := time.Now()
		t0 := d.env.clock.Now()

		var best, bestStart *bufferNode[T]
		var bestBuf *localBuffer[T]
		zeroStamped := false

		d.registry.walk(func(b *localBuffer[T]) bool {
			// better decides both the winner promotion inside peek (which
			// re-announces the candidate and its start in the stable
			// hazard slots before the buffer's guest claim drops) and the
			// local bookkeeping below; best is unchanged between the two
			// evaluations, so they always agree.
			better := func(cand *bufferNode[T]) bool {
				return cand.item.loadTimestamp() == 0 || best == nil || prefer(cand, best, side) == cand
			}
			cand, start, err := b.peek(side, h.hz, better)
			if err != nil {
				if d.logger.IsEnabled(LevelError) {
					d.logger.Log(LogEntry{Level: LevelError, Category: "fault", Message: "cycle detected during scan", Err: err})
				}
				panic(err)
			}
			if cand == nil {
				return true
			}
			if cand.item.loadTimestamp() == 0 {
				best, bestStart, bestBuf = cand, start, b
				zeroStamped = true
				return false
			}
			if better(cand) {
				best, bestStart, bestBuf = cand, start, b
			}
			return true
		})

		d.metrics.recordScan(time.Since(scanStart))

		if best == nil {
			if d.emptyWithHandle(h) {
				d.recordPopEmpty(side)
				return zero, false
			}
			continue
		}

		// Guard policy: a stamped candidate pushed at the
		// opposite side is only eligible if it was stamped no later than
		// the scan's t0 snapshot, so a push racing with this scan can
		// never be popped by it from the far side.
		if !zeroStamped && best.originLeft() != side && best.item.loadTimestamp() > t0 {
			continue
		}

		if !bestBuf.tryUnlink(best, bestStart, side, d.env, h.hz) {
			continue // contended: the coordinator retries
		}

		payload := best.item.payload
		d.itemCount.Add(-1)
		bestBuf.tryClean(d.env, h.hz)
		d.recordPopOK(side)
		return payload, true
	}
}

func (d *Deque[T]) recordPopOK(side bool) {
	if !d.metrics.enabled {
		return
	}
	if side {
		d.metrics.popFrontOK.Add(1)
	} else {
		d.metrics.popBackOK.Add(1)
	}
}

func (d *Deque[T]) recordPopEmpty(side bool) {
	if !d.metrics.enabled {
		return
	}
	if side {
		d.metrics.popFrontEmpty.Add(1)
	} else {
		d.metrics.popBackEmpty.Add(1)
	}
}

// Empty reports whether the deque currently appears empty. It is
// best-effort: it may return false for an instant while a
// racing pop is about to complete, but converges to true within two
// probes of quiescence.
func (d *Deque[T]) Empty() bool {
	h, err := d.handle()
	if err != nil {
		return d.itemCount.Load() == 0
	}
	return d.emptyWithHandle(h)
}

type endpointSnapshot[T any] struct {
	left, right *bufferNode[T]
}

// emptyWithHandle runs the two-probe emptiness protocol. Both probes
// happen within this single call, the first round's per-buffer endpoint
// snapshot serving as the "previous probe" the second round compares
// against. That is what "two consecutive probes agree" means: the
// agreement is between this call's own two internal rounds, not across
// separate Empty() invocations.
func (d *Deque[T]) emptyWithHandle(h *Handle[T]) bool {
	if d.itemCount.Load() == 0 {
		return true
	}

	prev := make(map[*localBuffer[T]]endpointSnapshot[T])
	allProbeEmpty := false
	anyCandidate := false

	for round := 0; round < 2; round++ {
		allProbeEmpty = true
		anyCandidate = false
		d.registry.walk(func(b *localBuffer[T]) bool {
			left := b.leftMost.Load()
			right := b.rightMost.Load()

			candLeft, _, errL := b.peek(true, h.hz, nil)
			candRight, _, errR := b.peek(false, h.hz, nil)
			if errL != nil || errR != nil {
				err := errL
				if err == nil {
					err = errR
				}
				if d.logger.IsEnabled(LevelError) {
					d.logger.Log(LogEntry{Level: LevelError, Category: "fault", Message: "cycle detected during emptiness probe", Err: err})
				}
				panic(err)
			}
			hasCandidate := candLeft != nil || candRight != nil
			if hasCandidate {
				anyCandidate = true
			}

			sentinelOnly := left == right
			snap, had := prev[b]
			probeEmpty := sentinelOnly || (had && snap.left == left && snap.right == right && !hasCandidate)
			if !probeEmpty {
				allProbeEmpty = false
			}
			prev[b] = endpointSnapshot[T]{left: left, right: right}
			return true
		})
	}

	return allProbeEmpty && !anyCandidate
}

// Size returns an approximate item count: an atomic snapshot, exact only
// in quiescence.
func (d *Deque[T]) Size() int {
	return int(d.itemCount.Load())
}

// Clear repeatedly pops from the back until the deque observes empty.
func (d *Deque[T]) Clear() {
	h, err := d.handle()
	if err != nil {
		return
	}
	for {
		if _, ok := d.PopBackWith(h); !ok {
			return
		}
	}
}

// Metrics returns a point-in-time snapshot of deque activity. Zero value
// if WithMetrics(true) was not passed to New.
func (d *Deque[T]) Metrics() Metrics {
	return d.metrics.snapshot()
}

// RegistrySize reports how many local buffers the registry currently
// holds, bound or not: a fresh deque starts with one, and released
// buffers stay on the registry for reuse.
func (d *Deque[T]) RegistrySize() int {
	return d.registry.len()
}
