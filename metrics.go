package timedeque

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is a point-in-time snapshot of deque activity. It folds in a
// subset of the counters a Statistic struct previously exposed
// (pushLeft/pushRight, successPop*, emptyPop*, freedAmount,
// notAllowedUnlinking, wrongDelayed, putConflict), renamed to Go
// conventions; failedPop*, pushedAmount/poppedAmount and
// delayedFromInsert/delayedFromDelete have no counterpart here. All
// fields are safe to read concurrently with further deque activity; they describe the state as of the moment
// Deque.Metrics was called.
type Metrics struct {
	PushFront int64
	PushBack  int64

	PopFrontSucceeded int64
	PopBackSucceeded  int64
	PopFrontEmpty     int64
	PopBackEmpty      int64

	ContendedUnlink int64 // putConflict: lost a taken CAS race
	RefusedUnlink   int64 // notAllowedUnlinking: a claim left a leftover tail attached (detach guards or CAS failed)
	MisdirectedFree int64 // wrongDelayed: delayed flag already set, walk skipped a node

	Reclaimed int64 // freedAmount: buffer-nodes disposed via hazard retire

	ScanLatency LatencyMetrics
}

// LatencyMetrics summarizes the distribution of pop-scan durations
// (the walk across all buffers before a CAS attempt).
type LatencyMetrics struct {
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int64
}

// metricsCollector is the live, mutable counterpart to Metrics. Every
// Deque holds one; it only records when WithMetrics(true) is set
// (enabled). All counters are atomics so the hot push/pop paths never
// take the latency mutex; only recordScan and snapshot touch it.
type metricsCollector struct {
	enabled bool

	pushFront atomic.Int64
	pushBack  atomic.Int64

	popFrontOK    atomic.Int64
	popBackOK     atomic.Int64
	popFrontEmpty atomic.Int64
	popBackEmpty  atomic.Int64

	contendedUnlink atomic.Int64
	refusedUnlink   atomic.Int64
	misdirectedFree atomic.Int64
	reclaimed       atomic.Int64

	latMu    sync.Mutex
	latency  *pSquareMultiQuantile
	latSum   time.Duration
	latCount int64
}

func newMetricsCollector(enabled bool) *metricsCollector {
	m := &metricsCollector{enabled: enabled}
	if enabled {
		m.latency = newPSquareMultiQuantile(0.50, 0.90, 0.99)
	}
	return m
}

func (m *metricsCollector) recordScan(d time.Duration) {
	if !m.enabled {
		return
	}
	m.latMu.Lock()
	m.latency.Update(float64(d))
	m.latSum += d
	m.latCount++
	m.latMu.Unlock()
}

func (m *metricsCollector) snapshot() Metrics {
	out := Metrics{
		PushFront:         m.pushFront.Load(),
		PushBack:          m.pushBack.Load(),
		PopFrontSucceeded: m.popFrontOK.Load(),
		PopBackSucceeded:  m.popBackOK.Load(),
		PopFrontEmpty:     m.popFrontEmpty.Load(),
		PopBackEmpty:      m.popBackEmpty.Load(),
		ContendedUnlink:   m.contendedUnlink.Load(),
		RefusedUnlink:     m.refusedUnlink.Load(),
		MisdirectedFree:   m.misdirectedFree.Load(),
		Reclaimed:         m.reclaimed.Load(),
	}
	if m.enabled {
		m.latMu.Lock()
		out.ScanLatency = LatencyMetrics{
			P50:   time.Duration(m.latency.Quantile(0)),
			P90:   time.Duration(m.latency.Quantile(1)),
			P99:   time.Duration(m.latency.Quantile(2)),
			Max:   time.Duration(m.latency.Max()),
			Count: m.latCount,
		}
		if m.latCount > 0 {
			out.ScanLatency.Mean = m.latSum / time.Duration(m.latCount)
		}
		m.latMu.Unlock()
	}
	return out
}
