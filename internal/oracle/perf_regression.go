package oracle

import (
	"fmt"

	"gc-diffbench/internal/executor"
	"gc-diffbench/internal/gclog"
)

// PerfRegression flags a successful cell whose total pause time or peak
// heap exceeds Ratio times the smallest value among its peers. Peers are
// the other collectors on the same runtime, and separately the same
// collector on other runtimes. Tiny baselines are raised to a floor so that
// near-zero values do not produce huge ratios. Epsilon never collects and is
// left out.
type PerfRegression struct {
	Ratio      float64
	MinPauseMs float64
	MinHeapMB  float64
}

func (PerfRegression) Name() string { return "perf-regression" }
func (PerfRegression) Scope() Scope { return Pairwise }

type perfSample struct {
	cell    *executor.Cell
	metrics gclog.CollectorMetrics
}

type perfMetric struct {
	name  string
	value func(gclog.CollectorMetrics) float64
	floor float64
	unit  string
}

func (o PerfRegression) Evaluate(in Input) ([]Anomaly, error) {
	if o.Ratio <= 0 {
		return nil, fmt.Errorf("perf ratio must be positive, got %v", o.Ratio)
	}
	measures := []perfMetric{
		{name: "total_pause", value: gclog.CollectorMetrics.TotalPauseMillis, floor: o.MinPauseMs, unit: "ms"},
		{name: "max_heap", value: func(m gclog.CollectorMetrics) float64 { return m.MaxHeapMegabytes }, floor: o.MinHeapMB, unit: "MB"},
	}

	byRuntime := make(map[[2]string][]perfSample)
	byCollector := make(map[[2]string][]perfSample)
	var runtimeOrder, collectorOrder [][2]string
	for _, c := range in.Cells {
		m, ok := in.Metrics[c.Key()]
		if !ok || !c.Succeeded() || c.Environment.Collector == gclog.EpsilonGC {
			continue
		}
		s := perfSample{cell: c, metrics: m}
		rk := [2]string{c.Artifact, c.Environment.RuntimeVersion}
		if _, seen := byRuntime[rk]; !seen {
			runtimeOrder = append(runtimeOrder, rk)
		}
		byRuntime[rk] = append(byRuntime[rk], s)
		ck := [2]string{c.Artifact, string(c.Environment.Collector)}
		if _, seen := byCollector[ck]; !seen {
			collectorOrder = append(collectorOrder, ck)
		}
		byCollector[ck] = append(byCollector[ck], s)
	}

	var out []Anomaly
	for _, k := range runtimeOrder {
		out = append(out, o.compareGroup("runtime", byRuntime[k], measures)...)
	}
	for _, k := range collectorOrder {
		out = append(out, o.compareGroup("collector", byCollector[k], measures)...)
	}
	return out, nil
}

func (o PerfRegression) compareGroup(peerGroup string, samples []perfSample, measures []perfMetric) []Anomaly {
	if len(samples) < 2 {
		return nil
	}
	var out []Anomaly
	for _, m := range measures {
		base := samples[0]
		for _, s := range samples[1:] {
			if m.value(s.metrics) < m.value(base.metrics) {
				base = s
			}
		}
		baseline := max(m.value(base.metrics), m.floor)
		if baseline <= 0 {
			continue
		}
		for _, s := range samples {
			if s.cell == base.cell {
				continue
			}
			v := m.value(s.metrics)
			ratio := v / baseline
			if ratio <= o.Ratio {
				continue
			}
			out = append(out, Anomaly{
				Evidence: evidence(s.cell, base.cell),
				Severity: SeverityMedium,
				Message: fmt.Sprintf("%s of %s is %.1fx the %s baseline %s (%.2f%s vs %.2f%s)",
					m.name, s.cell.Key(), ratio, peerGroup, base.cell.Key(), v, m.unit, m.value(base.metrics), m.unit),
				Details: map[string]any{
					"metric":     m.name,
					"peer_group": peerGroup,
					"value":      v,
					"baseline":   baseline,
					"ratio":      ratio,
					"threshold":  o.Ratio,
				},
			})
		}
	}
	return out
}
