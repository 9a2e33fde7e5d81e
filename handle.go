package timedeque

import (
	"errors"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/joeycumines/go-timedeque/internal/hazard"
)

// Handle is one thread's binding to the deque: an exclusively-owned
// local buffer for pushing plus the hazard-pointer slots it needs to
// participate in pops on any buffer. A Handle must not be used from more
// than one goroutine concurrently.
//
// Obtain one with Deque.Bind. Every push/pop method on Deque also has an
// implicit form that resolves a Handle automatically, keyed by the
// calling goroutine's id, for callers that do not want to thread a
// Handle through their call stack explicitly.
type Handle[T any] struct {
	deque    *Deque[T]
	node     *registryNode[T]
	hz       *hazard.Handle[bufferNode[T]]
	released atomic.Bool
}

// Release returns the bound local buffer and hazard slots to their
// respective pools. Safe to call more than once; safe to call from a
// finalizer. After Release, the Handle must not be used again.
func (h *Handle[T]) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	runtime.SetFinalizer(h, nil)
	h.deque.registry.release(h.node)
	h.hz.Release()
}

// Bind acquires a Handle for the calling goroutine: a local buffer
// (fresh or reused, per the registry's free pool) and a slot set on the
// shared hazard-pointer domain. Returns ErrThreadSlotExhausted if the
// hazard-pointer domain has no free slot set.
//
// Go has no thread-exit callback, so SetFinalizer stands in for a
// thread-local-storage destructor hook: once the
// returned *Handle becomes unreachable, its resources are returned
// automatically even if the caller never calls Release. Callers on a
// hot path should still call Release explicitly, since finalization
// timing is not guaranteed.
func (d *Deque[T]) Bind() (*Handle[T], error) {
	hz, err := d.hazards.Acquire()
	if err != nil {
		if errors.Is(err, hazard.ErrSlotsExhausted) {
			return nil, ErrThreadSlotExhausted
		}
		return nil, err
	}
	node := d.registry.acquire()
	h := &Handle[T]{deque: d, node: node, hz: hz}
	runtime.SetFinalizer(h, (*Handle[T]).Release)
	return h, nil
}

// implicitHandles maps a goroutine id to the Handle that goroutine has
// already bound, for the convenience (no-Handle-argument) API surface.
// The map holds weak pointers so it never keeps a Handle alive by
// itself: once the caller's last operation returns and the goroutine
// stops touching the deque, the Handle becomes collectible and its
// finalizer releases the buffer and hazard slots. A later call from the
// same goroutine simply rebinds. Dead and explicitly-released entries
// are scavenged on each miss.
type implicitHandles[T any] struct {
	mu sync.Mutex
	m  map[uint64]weak.Pointer[Handle[T]]
}

func newImplicitHandles[T any]() *implicitHandles[T] {
	return &implicitHandles[T]{m: make(map[uint64]weak.Pointer[Handle[T]])}
}

func (r *implicitHandles[T]) forGoroutine(d *Deque[T]) (*Handle[T], error) {
	id := goroutineID()

	r.mu.Lock()
	if wp, ok := r.m[id]; ok {
		if h := wp.Value(); h != nil && !h.released.Load() {
			r.mu.Unlock()
			return h, nil
		}
		delete(r.m, id)
	}
	r.scavengeLocked()
	r.mu.Unlock()

	h, err := d.Bind()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.m[id] = weak.Make(h)
	r.mu.Unlock()
	return h, nil
}

// scavengeLocked drops entries whose handles were collected or released,
// so the map tracks live bindings only. Caller must hold mu.
func (r *implicitHandles[T]) scavengeLocked() {
	for id, wp := range r.m {
		if h := wp.Value(); h == nil || h.released.Load() {
			delete(r.m, id)
		}
	}
}

// goroutineID extracts the calling goroutine's id from its own stack
// trace header ("goroutine 123 [running]:..."). This is the common
// self-trace idiom for obtaining a goroutine id without cgo.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	if len(b) < len(prefix) || string(b[:len(prefix)]) != prefix {
		return 0
	}
	b = b[len(prefix):]

	i := 0
	for i < len(b) && b[i] != ' ' {
		i++
	}
	id, err := strconv.ParseUint(string(b[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
