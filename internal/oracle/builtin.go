package oracle

import (
	"fmt"

	"gc-diffbench/internal/config"
	"gc-diffbench/internal/gclog"
)

// BuiltinNames lists the built-in oracles in evaluation order.
var BuiltinNames = []string{
	"exit-divergence",
	"output-divergence",
	"collector-crash",
	"perf-regression",
	"duration-anomaly",
	"stw-threshold",
	"gc-overhead",
	"test-failure",
}

// NewBuiltin constructs a built-in oracle by name.
func NewBuiltin(name string, cfg config.OracleConfig) (Oracle, error) {
	switch name {
	case "exit-divergence":
		return ExitDivergence{}, nil
	case "output-divergence":
		return OutputDivergence{Context: 3}, nil
	case "collector-crash":
		return CollectorCrash{}, nil
	case "perf-regression":
		return PerfRegression{Ratio: cfg.PerfRatio, MinPauseMs: cfg.MinPauseMs, MinHeapMB: cfg.MinHeapMB}, nil
	case "duration-anomaly":
		ratios := make(map[gclog.CollectorType]float64, len(cfg.DurationRatios))
		for collector, r := range cfg.DurationRatios {
			ratios[gclog.CollectorType(collector)] = r
		}
		return DurationAnomaly{
			Ratios:       ratios,
			DefaultRatio: config.DefaultDurationRatio,
			MedianRatio:  cfg.DurationMedianRatio,
			VersionRatio: cfg.VersionRatio,
		}, nil
	case "stw-threshold":
		thresholds := make(map[gclog.CollectorType]float64, len(cfg.STWThresholdsMs))
		for collector, ms := range cfg.STWThresholdsMs {
			thresholds[gclog.CollectorType(collector)] = ms
		}
		return STWThreshold{ThresholdsMs: thresholds, MinEvents: cfg.STWMinEvents}, nil
	case "gc-overhead":
		return GCOverhead{Ratio: cfg.OverheadRatio}, nil
	case "test-failure":
		return TestFailure{}, nil
	default:
		return nil, fmt.Errorf("unknown oracle: %s", name)
	}
}

// BuildRegistry constructs the registry for a run. An empty enabled list
// selects every built-in.
func BuildRegistry(cfg config.OracleConfig) (*Registry, error) {
	names := cfg.Enabled
	if len(names) == 0 {
		names = BuiltinNames
	}
	oracles := make([]Oracle, 0, len(names))
	for _, name := range names {
		o, err := NewBuiltin(name, cfg)
		if err != nil {
			return nil, err
		}
		oracles = append(oracles, o)
	}
	return NewRegistry(oracles...)
}
