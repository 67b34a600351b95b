package gclog

import (
	"math"
	"time"
)

// Accumulator is the running fold shared by every concrete parser. It only
// ever grows: totals are summed and maxima are reduced with max().
type Accumulator struct {
	metrics CollectorMetrics
}

func NewAccumulator(collector CollectorType) *Accumulator {
	return &Accumulator{metrics: NewCollectorMetrics(collector)}
}

// RecordEvent records one stop-the-world pause. Heap sizes are in megabytes;
// a zero size means the line did not carry it.
func (a *Accumulator) RecordEvent(label string, pause time.Duration, heapBeforeMb, heapAfterMb, heapCapacityMb float64) {
	m := &a.metrics
	m.TotalEventCount++
	m.TotalPause += pause
	m.MaxPause = maxDuration(m.MaxPause, pause)

	stats := m.Breakdown[label]
	stats.Count++
	stats.Pause += pause
	m.Breakdown[label] = stats

	a.RecordHeapSample(math.Max(heapBeforeMb, heapAfterMb))
	a.RecordHeapCapacity(heapCapacityMb)
}

// RecordHeapSample records an observed heap occupancy.
func (a *Accumulator) RecordHeapSample(mb float64) {
	a.metrics.MaxHeapMegabytes = math.Max(a.metrics.MaxHeapMegabytes, mb)
}

// RecordHeapCapacity records a committed or maximum heap size from a banner
// or transition line.
func (a *Accumulator) RecordHeapCapacity(mb float64) {
	a.metrics.HeapCapacityMegabytes = math.Max(a.metrics.HeapCapacityMegabytes, mb)
}

// Metrics returns a detached snapshot of the fold so far.
func (a *Accumulator) Metrics() CollectorMetrics {
	return a.metrics.clone()
}
