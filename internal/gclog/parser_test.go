package gclog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const g1Log = `[2025-01-10T10:00:00.001+0000][0.004s][info][gc,init] Using G1
[2025-01-10T10:00:00.002+0000][0.005s][info][gc,init] Heap Max Capacity: 4G
[2025-01-10T10:00:00.003+0000][0.006s][info][gc,init] Heap address: 0x0000000700000000, size: 4096 MB, Compressed Oops mode: Zero based
[2025-01-10T10:00:00.100+0000][0.101s][info][gc,start] GC(0) Pause Young (Normal) (G1 Evacuation Pause)
[2025-01-10T10:00:00.103+0000][0.104s][info][gc,phases] GC(0)   Pre Evacuate Collection Set: 0.1ms
[2025-01-10T10:00:00.104+0000][0.105s][info][gc] GC(0) Pause Young (Normal) (G1 Evacuation Pause) 24M->3M(256M) 2.345ms
[2025-01-10T10:00:00.200+0000][0.201s][info][gc] GC(1) Pause Young (Concurrent Start) (G1 Humongous Allocation) 120M->80M(256M) 4.5ms
[2025-01-10T10:00:00.210+0000][0.211s][info][gc] GC(1) Pause Remark 90M->90M(256M) 1.250ms
garbled line with 12M->3M but nothing else
[2025-01-10T10:00:00.300+0000][0.301s][info][gc] GC(2) Pause Young (Mixed) (G1 Evacuation Pause) 150M->60M(512M) 0.75ms
[2025-01-10T10:00:00.900+0000][0.901s][info][gc] GC(3) Pause Full (System.gc()) 200M->20M(512M) 0.0125s
`

func TestParseReader_G1(t *testing.T) {
	m, err := DefaultRegistry().ParseReader(strings.NewReader(g1Log), G1GC)
	require.NoError(t, err)

	assert.Equal(t, G1GC, m.Collector)
	assert.Equal(t, 5, m.TotalEventCount)
	assert.Equal(t, 2345*time.Microsecond+4500*time.Microsecond+1250*time.Microsecond+750*time.Microsecond+12500*time.Microsecond, m.TotalPause)
	assert.Equal(t, 12500*time.Microsecond, m.MaxPause)
	assert.InDelta(t, 12.5, m.MaxPauseMillis(), 1e-9)
	assert.Equal(t, 200.0, m.MaxHeapMegabytes)
	assert.Equal(t, 4096.0, m.HeapCapacityMegabytes)

	assert.Equal(t, EventStats{Count: 1, Pause: 2345 * time.Microsecond}, m.Breakdown["Young GC (Normal)"])
	assert.Equal(t, EventStats{Count: 1, Pause: 4500 * time.Microsecond}, m.Breakdown["Young GC (Concurrent Start)"])
	assert.Equal(t, EventStats{Count: 1, Pause: 750 * time.Microsecond}, m.Breakdown["Young GC (Mixed)"])
	assert.Equal(t, 1, m.Breakdown["Remark"].Count)
	assert.Equal(t, 1, m.Breakdown["Full GC"].Count)
}

func TestParseReader_DurationUnits(t *testing.T) {
	log := strings.Join([]string{
		"[0.1s][info][gc] GC(0) Pause Young (Allocation Failure) 8M->2M(30M) 1.5s",
		"[0.2s][info][gc] GC(1) Pause Young (Allocation Failure) 8M->2M(30M) 250us",
		"[0.3s][info][gc] GC(2) Pause Young (Allocation Failure) 8M->2M(30M) 500ns",
		"[0.4s][info][gc] GC(3) Pause Full (Allocation Failure) 2048K->1024K(30720K) 3ms",
	}, "\n")

	m, err := DefaultRegistry().ParseReader(strings.NewReader(log), SerialGC)
	require.NoError(t, err)

	assert.Equal(t, 4, m.TotalEventCount)
	assert.Equal(t, 1500*time.Millisecond+250*time.Microsecond+500*time.Nanosecond+3*time.Millisecond, m.TotalPause)
	assert.Equal(t, 3, m.Breakdown["Young GC"].Count)
	assert.Equal(t, 1, m.Breakdown["Full GC"].Count)
	assert.Equal(t, 30.0, m.HeapCapacityMegabytes)
}

func TestParseReader_MetricsAreAdditiveAcrossSplits(t *testing.T) {
	lines := strings.Split(strings.TrimRight(g1Log, "\n"), "\n")
	reg := DefaultRegistry()

	whole, err := reg.ParseReader(strings.NewReader(g1Log), G1GC)
	require.NoError(t, err)

	for split := 1; split < len(lines); split++ {
		first := strings.Join(lines[:split], "\n") + "\n"
		second := strings.Join(lines[split:], "\n") + "\n"

		a, err := reg.ParseReader(strings.NewReader(first), G1GC)
		require.NoError(t, err)
		b, err := reg.ParseReader(strings.NewReader(second), G1GC)
		require.NoError(t, err)

		require.Equal(t, whole, a.Merge(b), "split at line %d", split)
	}
}

func TestParseReader_ConcurrentCollectorsCountEachPause(t *testing.T) {
	zgcLog := strings.Join([]string{
		"[0.010s][info][gc,init] Initializing The Z Garbage Collector",
		"[0.011s][info][gc,init] Max Capacity: 2048M",
		"[0.500s][info][gc,phases] GC(0) Pause Mark Start 0.012ms",
		"[0.510s][info][gc,phases] GC(0) Pause Mark End 0.020ms",
		"[0.520s][info][gc,phases] GC(0) Pause Relocate Start 0.008ms",
		"[0.530s][info][gc] GC(0) Garbage Collection (Warmup) 204M(10%)->30M(1%)",
	}, "\n")

	m, err := DefaultRegistry().ParseReader(strings.NewReader(zgcLog), "")
	require.NoError(t, err)

	assert.Equal(t, ZGC, m.Collector)
	assert.Equal(t, 3, m.TotalEventCount)
	assert.Equal(t, 40*time.Microsecond, m.TotalPause)
	assert.Equal(t, 20*time.Microsecond, m.MaxPause)
	assert.Equal(t, 204.0, m.MaxHeapMegabytes)
	assert.Equal(t, 2048.0, m.HeapCapacityMegabytes)
	assert.Equal(t, 1, m.Breakdown["Mark Start"].Count)
}

func TestParseReader_ShenandoahSniffedFromBanner(t *testing.T) {
	log := strings.Join([]string{
		"[0.004s][info][gc] Using Shenandoah",
		"[0.200s][info][gc] GC(0) Pause Init Mark (unload classes) 0.123ms",
		"[0.210s][info][gc] GC(0) Concurrent cleanup 21M->18M(24M) 0.041ms",
		"[0.220s][info][gc] GC(0) Pause Final Mark (unload classes) 0.5ms",
		"[0.900s][info][gc,heap,exit] 1024M max, 1024M soft max, 64M committed, 40M used",
	}, "\n")

	m, err := DefaultRegistry().ParseReader(strings.NewReader(log), Unknown)
	require.NoError(t, err)

	assert.Equal(t, ShenandoahGC, m.Collector)
	assert.Equal(t, 2, m.TotalEventCount)
	assert.Equal(t, 1, m.Breakdown["Init Mark"].Count)
	assert.Equal(t, 1, m.Breakdown["Final Mark"].Count)
	assert.Equal(t, 40.0, m.MaxHeapMegabytes)
	assert.Equal(t, 1024.0, m.HeapCapacityMegabytes)
}

func TestParseReader_SniffsFamilyWithoutBanner(t *testing.T) {
	tests := []struct {
		name      string
		log       string
		collector CollectorType
		label     string
	}{
		{
			name: "g1",
			log: "[0.1s][info][gc] GC(0) Pause Young (Normal) (G1 Evacuation Pause) 24M->3M(256M) 2.345ms\n" +
				"[0.3s][info][gc] GC(1) Pause Young (Mixed) (G1 Evacuation Pause) 150M->60M(512M) 0.75ms\n",
			collector: G1GC,
			label:     "Young GC (Mixed)",
		},
		{
			name: "parallel",
			log: "[0.1s][info][gc] GC(0) Pause Young (Allocation Failure) 8M->2M(30M) 1.000ms\n" +
				"[0.2s][info][gc,heap] GC(1) PSYoungGen: 8M(9M)->0M(9M)\n" +
				"[0.2s][info][gc] GC(1) Pause Full (Ergonomics) 20M->12M(60M) 9.000ms\n",
			collector: ParallelGC,
			label:     "Full GC",
		},
		{
			name: "serial",
			log: "[0.1s][info][gc,heap] GC(0) DefNew: 8M(9M)->1M(9M)\n" +
				"[0.1s][info][gc] GC(0) Pause Young (Allocation Failure) 8M->2M(30M) 1.000ms\n",
			collector: SerialGC,
			label:     "Young GC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := DefaultRegistry().ParseReader(strings.NewReader(tt.log), "")
			require.NoError(t, err)
			assert.Equal(t, tt.collector, m.Collector)
			assert.Equal(t, 1, m.Breakdown[tt.label].Count)
		})
	}
}

func TestParseReader_Pauseless(t *testing.T) {
	m, err := DefaultRegistry().ParseReader(strings.NewReader("hello\nnot a gc log\n\n"), "")
	require.NoError(t, err)

	assert.Equal(t, 0, m.TotalEventCount)
	assert.True(t, m.Pauseless())
	assert.Zero(t, m.TotalPause)
	assert.Zero(t, m.MaxPause)
	assert.Zero(t, m.MaxHeapMegabytes)
	assert.Zero(t, m.HeapCapacityMegabytes)
	assert.Empty(t, m.Breakdown)
}

func TestParseReader_EpsilonHasNoEvents(t *testing.T) {
	log := strings.Join([]string{
		"[0.003s][info][gc] Resizeable heap; starting at 256M, max: 4096M, step: 128M",
		"[0.004s][info][gc] Using Epsilon",
		"[1.000s][info][gc] Heap: 4096M reserved, 256M (6.25%) committed, 102M (2.50%) used",
	}, "\n")

	m, err := DefaultRegistry().ParseReader(strings.NewReader(log), EpsilonGC)
	require.NoError(t, err)

	assert.Equal(t, 0, m.TotalEventCount)
	assert.Equal(t, 102.0, m.MaxHeapMegabytes)
	assert.Equal(t, 4096.0, m.HeapCapacityMegabytes)
}

func TestParse_DispatchesOnFileName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LogFileName("17", ParallelGC))
	log := "[0.1s][info][gc] GC(0) Pause Young (Allocation Failure) 8M->2M(30M) 1.000ms\n" +
		"[0.2s][info][gc] GC(1) Pause Old (Ergonomics) 20M->12M(60M) 9.000ms\n"
	require.NoError(t, os.WriteFile(path, []byte(log), 0o644))

	assert.Equal(t, ParallelGC, CollectorFromFileName(path))

	first, err := Parse(path, "")
	require.NoError(t, err)
	second, err := Parse(path, "")
	require.NoError(t, err)

	assert.Equal(t, ParallelGC, first.Collector)
	assert.Equal(t, 1, first.Breakdown["Old GC"].Count)
	assert.Equal(t, first, second)
}

func TestCollectorFromFileName(t *testing.T) {
	tests := map[string]CollectorType{
		"/tmp/11-G1GC.log":         G1GC,
		"21-ShenandoahGC.log":      ShenandoahGC,
		"gc.log":                   "",
		"/var/log/17-.log":         "",
		"out/25-ParallelOldGC.log": ParallelOldGC,
		"17-ea-G1GC.log":           G1GC,
		"21.0.2-internal-ZGC.log":  ZGC,
	}
	for name, want := range tests {
		if got := CollectorFromFileName(name); got != want {
			t.Fatalf("CollectorFromFileName(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestCollectorMetrics_JSONUsesMilliseconds(t *testing.T) {
	acc := NewAccumulator(SerialGC)
	acc.RecordEvent("Young GC", 1500*time.Microsecond, 10, 4, 32)

	data, err := acc.Metrics().MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"total_pause_ms":1.5`)
	assert.Contains(t, string(data), `"gc_type_breakdown":{"Young GC":{"count":1,"pause_ms":1.5}}`)

	var back CollectorMetrics
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, acc.Metrics(), back)
}
