package timedeque

import (
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"
)

func Test_Deque_singleThreadSequence(t *testing.T) {
	d := New[int]()
	d.PushBack(1)
	d.PushBack(2)
	d.PushBack(3)

	want := []struct {
		front bool
		val   int
	}{
		{true, 1},
		{false, 3},
		{true, 2},
	}
	for _, w := range want {
		var got int
		var ok bool
		if w.front {
			got, ok = d.PopFront()
		} else {
			got, ok = d.PopBack()
		}
		if !ok || got != w.val {
			t.Fatalf("got (%v,%v), want (%v,true)", got, ok, w.val)
		}
	}

	if d.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", d.Size())
	}
	if !d.Empty() {
		t.Fatal("Empty() should be true after draining every push")
	}
}

func Test_Deque_popFromNeverUsedDequeReturnsFalse(t *testing.T) {
	d := New[int]()
	if _, ok := d.PopFront(); ok {
		t.Fatal("PopFront on a fresh deque should return false")
	}
	if _, ok := d.PopBack(); ok {
		t.Fatal("PopBack on a fresh deque should return false")
	}
}

func Test_Deque_singlePushOppositeSidePop(t *testing.T) {
	d := New[int]()
	d.PushFront(9)
	v, ok := d.PopBack()
	if !ok || v != 9 {
		t.Fatalf("PopBack after one PushFront = (%v,%v), want (9,true)", v, ok)
	}
}

func Test_Deque_fifoViaOppositeEnds(t *testing.T) {
	d := New[int]()
	d.PushBack(1)
	d.PushBack(2)
	a, _ := d.PopFront()
	b, _ := d.PopFront()
	if a != 1 || b != 2 {
		t.Fatalf("got %d,%d want 1,2", a, b)
	}
}

func Test_Deque_lifoViaSameEnd(t *testing.T) {
	d := New[int]()
	d.PushBack(1)
	d.PushBack(2)
	a, _ := d.PopBack()
	b, _ := d.PopBack()
	if a != 2 || b != 1 {
		t.Fatalf("got %d,%d want 2,1", a, b)
	}
}

func Test_Deque_mixedEnds(t *testing.T) {
	d := New[int]()
	d.PushFront(1) // a
	d.PushBack(2)  // b
	a, _ := d.PopFront()
	b, _ := d.PopBack()
	if a != 1 || b != 2 {
		t.Fatalf("got %d,%d want 1,2", a, b)
	}
}

func Test_Deque_emptyIdempotenceInQuiescence(t *testing.T) {
	d := New[int]()
	d.PushBack(1)
	d.PopFront()
	if d.Empty() != d.Empty() {
		t.Fatal("two consecutive Empty() calls in quiescence should agree")
	}
}

func Test_Deque_twoProducersOneDrainer(t *testing.T) {
	d := New[int]()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 1000; i += 2 {
			d.PushBack(i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 2; i <= 1000; i += 2 {
			d.PushBack(i)
		}
	}()
	wg.Wait()

	seen := make(map[int]bool, 1000)
	for {
		v, ok := d.PopFront()
		if !ok {
			break
		}
		if seen[v] {
			t.Fatalf("item %d popped twice", v)
		}
		if v == 0 {
			t.Fatal("popped a zero item")
		}
		seen[v] = true
	}
	if len(seen) != 1000 {
		t.Fatalf("drained %d distinct items, want 1000", len(seen))
	}
}

func Test_Deque_fourThreadFuzzDrainMatchesPushes(t *testing.T) {
	d := New[int]()
	const threads = 4
	const perThread = 2000

	var mu sync.Mutex
	pushed := make(map[int64]bool)
	popped := make(map[int64]int)

	var wg sync.WaitGroup
	wg.Add(threads)
	for tid := 0; tid < threads; tid++ {
		tid := tid
		go func() {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(int64(tid) + 1))
			var n int64
			for i := 0; i < perThread; i++ {
				if rnd.Float64() < 0.5 {
					v := int64(tid)<<32 | n
					n++
					d.PushBack(int(v))
					mu.Lock()
					pushed[v] = true
					mu.Unlock()
				} else if v, ok := d.PopBack(); ok {
					mu.Lock()
					popped[int64(v)]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	for {
		v, ok := d.PopBack()
		if !ok {
			break
		}
		popped[int64(v)]++
	}

	// Every popped item was in fact pushed, no payload value was popped
	// twice, and every pushed item was popped.
	for v, n := range popped {
		if !pushed[v] {
			t.Fatalf("popped item %d was never pushed", v)
		}
		if n != 1 {
			t.Fatalf("item %d popped %d times", v, n)
		}
	}
	if len(popped) != len(pushed) {
		t.Fatalf("popped %d distinct items, want %d", len(popped), len(pushed))
	}
}

func Test_Deque_producerConsumerCausalOrderWithinProducer(t *testing.T) {
	d := New[int]()
	const n = 20000
	popped := make([]int, 0, n)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			d.PushFront(i)
		}
	}()

	for len(popped) < n {
		if v, ok := d.PopBack(); ok {
			popped = append(popped, v)
		}
	}
	wg.Wait()

	if !sort.IntsAreSorted(popped) {
		t.Fatal("items pushed in increasing order by a single producer must pop in non-decreasing order")
	}
}

func Test_Deque_reclamationConverges(t *testing.T) {
	d := New[int](WithMetrics(true))
	const n = 2000
	for i := 0; i < n; i++ {
		d.PushFront(i)
	}
	for i := 0; i < n; i++ {
		if _, ok := d.PopBack(); !ok {
			t.Fatalf("expected a pop at i=%d", i)
		}
	}

	// Inspect the buffer the implicit pushes above actually went to, not
	// a freshly bound (and trivially sentinel-only) one.
	h, err := d.implicit.forGoroutine(d)
	if err != nil {
		t.Fatalf("forGoroutine error: %v", err)
	}
	h.node.buffer.tryClean(d.env, h.hz)

	if got := h.node.buffer.liveNodeCount(); got != 1 {
		t.Fatalf("liveNodeCount after full drain = %d, want 1", got)
	}
}

func Test_Deque_withNodePoolBehavesLikeDefault(t *testing.T) {
	d := New[int](WithNodePool(true))
	const n = 500
	for i := 0; i < n; i++ {
		d.PushFront(i)
	}
	for i := 0; i < n; i++ {
		if _, ok := d.PopBack(); !ok {
			t.Fatalf("expected a pop at i=%d", i)
		}
	}
	if !d.Empty() {
		t.Fatal("deque should be empty after draining every pooled push")
	}

	h, err := d.implicit.forGoroutine(d)
	if err != nil {
		t.Fatalf("forGoroutine error: %v", err)
	}
	h.node.buffer.tryClean(d.env, h.hz)
	if got := h.node.buffer.liveNodeCount(); got != 1 {
		t.Fatalf("liveNodeCount after full drain with node pooling = %d, want 1", got)
	}
}

func Test_Deque_emptinessConvergesAfterQuiescence(t *testing.T) {
	d := New[int]()
	const n = 2000
	stop := make(chan struct{})
	var everFalseAfterStop bool
	var pollWG sync.WaitGroup
	pollWG.Add(1)
	go func() {
		defer pollWG.Done()
		for {
			select {
			case <-stop:
				// Two probes of quiescence must converge to true.
				for i := 0; i < 2; i++ {
					if !d.Empty() {
						everFalseAfterStop = true
					}
				}
				return
			default:
				d.Empty()
			}
		}
	}()

	for i := 0; i < n; i++ {
		d.PushBack(1)
		d.PopFront()
	}
	close(stop)
	pollWG.Wait()

	if everFalseAfterStop {
		t.Fatal("Empty() failed to converge to true within two probes of quiescence")
	}
}

func Test_Deque_clearDrainsEverything(t *testing.T) {
	d := New[int]()
	for i := 0; i < 50; i++ {
		d.PushBack(i)
	}
	d.Clear()
	if !d.Empty() {
		t.Fatal("Clear should leave the deque empty")
	}
	if _, ok := d.PopFront(); ok {
		t.Fatal("nothing should remain after Clear")
	}
}

func Test_Deque_metricsTrackPushAndPop(t *testing.T) {
	d := New[int](WithMetrics(true))
	d.PushBack(1)
	d.PushFront(2)
	d.PopBack()
	d.PopFront()

	m := d.Metrics()
	if m.PushBack != 1 || m.PushFront != 1 {
		t.Fatalf("push metrics = %+v", m)
	}
	if m.PopBackSucceeded+m.PopFrontSucceeded != 2 {
		t.Fatalf("pop success metrics = %+v", m)
	}
}

func Test_Deque_pushDuringConcurrentPopNeverCyclePanics(t *testing.T) {
	d := New[int]()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5000; i++ {
			d.PushBack(i)
			time.Sleep(0)
		}
	}()
	for i := 0; i < 5000; i++ {
		d.PopFront()
	}
	<-done
}
