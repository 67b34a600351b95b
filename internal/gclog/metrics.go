package gclog

import (
	"encoding/json"
	"math"
	"time"
)

// EventStats is the per-label slice of a CollectorMetrics breakdown.
type EventStats struct {
	Count int
	Pause time.Duration
}

// CollectorMetrics is the structured fold of one collector log.
//
// Pause time is kept as integer nanoseconds so that merging partial metrics is
// exactly associative; millisecond views are derived on demand.
type CollectorMetrics struct {
	Collector             CollectorType
	TotalEventCount       int
	TotalPause            time.Duration
	MaxPause              time.Duration
	MaxHeapMegabytes      float64
	HeapCapacityMegabytes float64
	Breakdown             map[string]EventStats
}

// NewCollectorMetrics returns the identity value for Merge.
func NewCollectorMetrics(collector CollectorType) CollectorMetrics {
	return CollectorMetrics{
		Collector: collector,
		Breakdown: make(map[string]EventStats),
	}
}

func (m CollectorMetrics) TotalPauseMillis() float64 {
	return durationMillis(m.TotalPause)
}

func (m CollectorMetrics) MaxPauseMillis() float64 {
	return durationMillis(m.MaxPause)
}

// Pauseless reports whether no pause event was recognized.
func (m CollectorMetrics) Pauseless() bool {
	return m.TotalEventCount == 0
}

// Merge combines two partial folds: counts and pause time are summed, maxima
// take the larger side. The receiver and argument are left untouched.
func (m CollectorMetrics) Merge(other CollectorMetrics) CollectorMetrics {
	collector := m.Collector
	if collector == "" {
		collector = other.Collector
	}
	out := NewCollectorMetrics(collector)
	out.TotalEventCount = m.TotalEventCount + other.TotalEventCount
	out.TotalPause = m.TotalPause + other.TotalPause
	out.MaxPause = maxDuration(m.MaxPause, other.MaxPause)
	out.MaxHeapMegabytes = math.Max(m.MaxHeapMegabytes, other.MaxHeapMegabytes)
	out.HeapCapacityMegabytes = math.Max(m.HeapCapacityMegabytes, other.HeapCapacityMegabytes)
	for label, stats := range m.Breakdown {
		out.Breakdown[label] = stats
	}
	for label, stats := range other.Breakdown {
		cur := out.Breakdown[label]
		cur.Count += stats.Count
		cur.Pause += stats.Pause
		out.Breakdown[label] = cur
	}
	return out
}

func (m CollectorMetrics) clone() CollectorMetrics {
	out := m
	out.Breakdown = make(map[string]EventStats, len(m.Breakdown))
	for label, stats := range m.Breakdown {
		out.Breakdown[label] = stats
	}
	return out
}

type eventStatsJSON struct {
	Count   int     `json:"count"`
	PauseMs float64 `json:"pause_ms"`
}

type collectorMetricsJSON struct {
	Collector       CollectorType             `json:"collector,omitempty"`
	TotalGCCount    int                       `json:"total_gc_count"`
	TotalPauseMs    float64                   `json:"total_pause_ms"`
	MaxPauseMs      float64                   `json:"max_pause_ms"`
	MaxHeapMB       float64                   `json:"max_heap_mb"`
	HeapCapacityMB  float64                   `json:"heap_capacity_mb"`
	GCTypeBreakdown map[string]eventStatsJSON `json:"gc_type_breakdown"`
}

func (m CollectorMetrics) MarshalJSON() ([]byte, error) {
	out := collectorMetricsJSON{
		Collector:       m.Collector,
		TotalGCCount:    m.TotalEventCount,
		TotalPauseMs:    m.TotalPauseMillis(),
		MaxPauseMs:      m.MaxPauseMillis(),
		MaxHeapMB:       m.MaxHeapMegabytes,
		HeapCapacityMB:  m.HeapCapacityMegabytes,
		GCTypeBreakdown: make(map[string]eventStatsJSON, len(m.Breakdown)),
	}
	for label, stats := range m.Breakdown {
		out.GCTypeBreakdown[label] = eventStatsJSON{Count: stats.Count, PauseMs: durationMillis(stats.Pause)}
	}
	return json.Marshal(out)
}

func (m *CollectorMetrics) UnmarshalJSON(data []byte) error {
	var in collectorMetricsJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = NewCollectorMetrics(in.Collector)
	m.TotalEventCount = in.TotalGCCount
	m.TotalPause = millisDuration(in.TotalPauseMs)
	m.MaxPause = millisDuration(in.MaxPauseMs)
	m.MaxHeapMegabytes = in.MaxHeapMB
	m.HeapCapacityMegabytes = in.HeapCapacityMB
	for label, stats := range in.GCTypeBreakdown {
		m.Breakdown[label] = EventStats{Count: stats.Count, Pause: millisDuration(stats.PauseMs)}
	}
	return nil
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func millisDuration(ms float64) time.Duration {
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
