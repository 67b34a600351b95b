package collectors

import (
	"errors"
	"fmt"

	"gc-diffbench/internal/logging"

	"github.com/elastic/go-perf"
)

// HardwareCounters are the totals for one cell's process tree, scaled for
// multiplexing.
type HardwareCounters struct {
	Instructions    uint64  `json:"instructions"`
	Cycles          uint64  `json:"cycles"`
	CacheReferences uint64  `json:"cache_references"`
	CacheMisses     uint64  `json:"cache_misses"`
	BranchMisses    uint64  `json:"branch_misses"`
	IPC             float64 `json:"ipc"`
	Multiplexed     bool    `json:"multiplexed,omitempty"`
}

type counterSpec struct {
	counter perf.HardwareCounter
	assign  func(hc *HardwareCounters, v uint64)
}

var counterSpecs = []counterSpec{
	{perf.Instructions, func(hc *HardwareCounters, v uint64) { hc.Instructions = v }},
	{perf.CPUCycles, func(hc *HardwareCounters, v uint64) { hc.Cycles = v }},
	{perf.CacheReferences, func(hc *HardwareCounters, v uint64) { hc.CacheReferences = v }},
	{perf.CacheMisses, func(hc *HardwareCounters, v uint64) { hc.CacheMisses = v }},
	{perf.BranchMisses, func(hc *HardwareCounters, v uint64) { hc.BranchMisses = v }},
}

// PerfCollector counts hardware events for a process and every thread or
// child it creates after the collector is attached.
type PerfCollector struct {
	pid    int
	events []*perf.Event
	specs  []counterSpec
}

func NewPerfCollector(pid int) (*PerfCollector, error) {
	logger := logging.GetLogger()
	collector := &PerfCollector{pid: pid}

	for _, spec := range counterSpecs {
		attr := &perf.Attr{}
		spec.counter.Configure(attr)
		// Enable time tracking for multiplexing correction
		attr.CountFormat.Enabled = true
		attr.CountFormat.Running = true
		attr.Options.Inherit = true
		attr.Options.Disabled = true

		event, err := perf.Open(attr, pid, perf.AnyCPU, nil)
		if err != nil {
			logger.WithField("pid", pid).WithError(err).Debug("Failed to open perf event, continuing without it")
			continue
		}
		collector.events = append(collector.events, event)
		collector.specs = append(collector.specs, spec)
	}
	if len(collector.events) == 0 {
		return nil, fmt.Errorf("no perf events could be opened for pid %d", pid)
	}

	for _, event := range collector.events {
		if err := event.Enable(); err != nil {
			collector.Close()
			return nil, fmt.Errorf("failed to enable perf event: %w", err)
		}
	}
	return collector, nil
}

// Collect reads every counter. It stays valid after the process exited.
func (pc *PerfCollector) Collect() (*HardwareCounters, error) {
	hc := &HardwareCounters{}
	var errs []error
	for i, event := range pc.events {
		count, err := event.ReadCount()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		value := count.Value
		if count.Running > 0 && count.Running < count.Enabled {
			value = uint64(float64(value) * float64(count.Enabled) / float64(count.Running))
			hc.Multiplexed = true
		}
		pc.specs[i].assign(hc, value)
	}
	if hc.Cycles > 0 {
		hc.IPC = float64(hc.Instructions) / float64(hc.Cycles)
	}
	if len(errs) == len(pc.events) {
		return nil, fmt.Errorf("failed to read perf counters: %w", errors.Join(errs...))
	}
	return hc, nil
}

func (pc *PerfCollector) Close() {
	for _, event := range pc.events {
		_ = event.Disable()
		_ = event.Close()
	}
	pc.events = nil
}
