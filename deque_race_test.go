package timedeque

import (
	"sync"
	"testing"
)

// TestDeque_Race_ConservationUnderConcurrentPushPop verifies the
// conservation property: with pushers and poppers running concurrently
// from both ends, every value pushed is popped exactly once by the time
// the deque drains, and nothing is popped that was never pushed.
func TestDeque_Race_ConservationUnderConcurrentPushPop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping race stress test in short mode")
	}

	d := New[uint64]()
	const pushers = 4
	const poppers = 4
	const perPusher = 5000

	var popMu sync.Mutex
	popped := make(map[uint64]int, pushers*perPusher)
	recordPop := func(v uint64) {
		popMu.Lock()
		popped[v]++
		popMu.Unlock()
	}

	var pushWG sync.WaitGroup
	pushWG.Add(pushers)
	for p := 0; p < pushers; p++ {
		p := p
		go func() {
			defer pushWG.Done()
			h, err := d.Bind()
			if err != nil {
				t.Error(err)
				return
			}
			defer h.Release()
			for i := 0; i < perPusher; i++ {
				v := uint64(p)<<32 | uint64(i)
				if i%2 == 0 {
					d.PushBackWith(h, v)
				} else {
					d.PushFrontWith(h, v)
				}
			}
		}()
	}

	pushersDone := make(chan struct{})
	go func() {
		pushWG.Wait()
		close(pushersDone)
	}()

	var popWG sync.WaitGroup
	popWG.Add(poppers)
	for p := 0; p < poppers; p++ {
		fromLeft := p%2 == 0
		go func() {
			defer popWG.Done()
			h, err := d.Bind()
			if err != nil {
				t.Error(err)
				return
			}
			defer h.Release()
			for {
				var v uint64
				var ok bool
				if fromLeft {
					v, ok = d.PopFrontWith(h)
				} else {
					v, ok = d.PopBackWith(h)
				}
				if ok {
					recordPop(v)
					continue
				}
				select {
				case <-pushersDone:
					// One more pass after the pushers finish so a value
					// published right before the empty observation is not
					// stranded; if this pass also finds nothing, the final
					// drain below picks up any remainder.
					if v, ok := d.PopFrontWith(h); ok {
						recordPop(v)
						continue
					}
					return
				default:
				}
			}
		}()
	}

	popWG.Wait()
	for {
		v, ok := d.PopFront()
		if !ok {
			break
		}
		recordPop(v)
	}

	if len(popped) != pushers*perPusher {
		t.Fatalf("popped %d distinct values, want %d", len(popped), pushers*perPusher)
	}
	for v, n := range popped {
		if n != 1 {
			t.Fatalf("value %#x popped %d times", v, n)
		}
		if int(v>>32) >= pushers || int(uint32(v)) >= perPusher {
			t.Fatalf("popped value %#x was never pushed", v)
		}
	}
}

// TestDeque_Race_BindReleaseChurn runs continuous bind/release against
// concurrent pushes and pops: released buffers are reacquired by later
// goroutines, and no value is lost across the ownership changes.
func TestDeque_Race_BindReleaseChurn(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping race stress test in short mode")
	}

	d := New[int](WithMaxThreads(32))
	const rounds = 200
	const perRound = 25

	var wg sync.WaitGroup
	pushedTotal := 0
	var mu sync.Mutex

	for r := 0; r < rounds; r++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			h, err := d.Bind()
			if err != nil {
				t.Error(err)
				return
			}
			for i := 0; i < perRound; i++ {
				d.PushBackWith(h, base+i)
			}
			h.Release()
			mu.Lock()
			pushedTotal += perRound
			mu.Unlock()
		}(r * perRound)
		if r%8 == 0 {
			wg.Wait()
		}
	}
	wg.Wait()

	drained := 0
	for {
		if _, ok := d.PopFront(); !ok {
			break
		}
		drained++
	}
	if drained != pushedTotal {
		t.Fatalf("drained %d values, want %d", drained, pushedTotal)
	}
	if d.RegistrySize() > 33 {
		t.Fatalf("registry grew to %d buffers despite release/reacquire, want <= maxThreads+1", d.RegistrySize())
	}
}

// TestDeque_Race_EmptyNeverLies checks the drain-then-verify handoff:
// once a concurrent pusher and drainer have moved the same number of
// items and quiesced, Empty reports true and a final pop finds nothing.
func TestDeque_Race_EmptyNeverLies(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping race stress test in short mode")
	}

	d := New[int]()
	const n = 20000

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			d.PushBack(i)
		}
	}()
	go func() {
		defer wg.Done()
		drained := 0
		for drained < n {
			if _, ok := d.PopFront(); ok {
				drained++
			}
		}
	}()
	wg.Wait()

	if !d.Empty() {
		t.Fatal("deque must observe empty once pushes and pops balance and quiesce")
	}
	if v, ok := d.PopBack(); ok {
		t.Fatalf("pop after balanced quiescence returned %d", v)
	}
}
