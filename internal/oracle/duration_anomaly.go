package oracle

import (
	"fmt"
	"sort"

	"gc-diffbench/internal/config"
	"gc-diffbench/internal/executor"
	"gc-diffbench/internal/gclog"
)

// DurationAnomaly compares the wall clock of successful cells. Within one
// runtime a cell is slow when it exceeds its collector's ratio times the
// fastest cell and MedianRatio times the median. Across runtimes the same
// collector's mean duration must not grow by more than VersionRatio from one
// version to the next.
type DurationAnomaly struct {
	Ratios       map[gclog.CollectorType]float64
	DefaultRatio float64
	MedianRatio  float64
	VersionRatio float64
}

func (DurationAnomaly) Name() string { return "duration-anomaly" }
func (DurationAnomaly) Scope() Scope { return Pairwise }

func (o DurationAnomaly) Evaluate(in Input) ([]Anomaly, error) {
	if o.MedianRatio <= 0 || o.VersionRatio <= 0 {
		return nil, fmt.Errorf("duration ratios must be positive, got median %v version %v", o.MedianRatio, o.VersionRatio)
	}

	order, groups := byArtifact(in.Cells)
	var out []Anomaly
	for _, artifact := range order {
		var timed []*executor.Cell
		for _, c := range groups[artifact] {
			if c.Succeeded() && c.WallClock > 0 {
				timed = append(timed, c)
			}
		}
		out = append(out, o.slowCells(timed)...)
		out = append(out, o.versionRegressions(timed)...)
	}
	return out, nil
}

func (o DurationAnomaly) ratioFor(collector gclog.CollectorType) float64 {
	if r, ok := o.Ratios[collector]; ok && r > 0 {
		return r
	}
	if o.DefaultRatio > 0 {
		return o.DefaultRatio
	}
	return config.DefaultDurationRatio
}

func (o DurationAnomaly) slowCells(cells []*executor.Cell) []Anomaly {
	byRuntime := make(map[string][]*executor.Cell)
	var runtimes []string
	for _, c := range cells {
		v := c.Environment.RuntimeVersion
		if _, seen := byRuntime[v]; !seen {
			runtimes = append(runtimes, v)
		}
		byRuntime[v] = append(byRuntime[v], c)
	}

	var out []Anomaly
	for _, v := range runtimes {
		group := byRuntime[v]
		if len(group) < 2 {
			continue
		}
		fastest := group[0]
		durations := make([]float64, 0, len(group))
		for _, c := range group {
			durations = append(durations, millis(c))
			if c.WallClock < fastest.WallClock {
				fastest = c
			}
		}
		med := median(durations)
		floor := millis(fastest)

		for _, c := range group {
			d := millis(c)
			ratio := o.ratioFor(c.Environment.Collector)
			if d <= floor*ratio || d <= med*o.MedianRatio {
				continue
			}
			out = append(out, Anomaly{
				Evidence: evidence(c, fastest),
				Severity: SeverityMedium,
				Message: fmt.Sprintf("%s ran %.0fms, %.1fx the fastest cell %s on runtime %s",
					c.Key(), d, d/floor, fastest.Key(), v),
				Details: map[string]any{
					"kind":            "slow-cell",
					"duration_ms":     d,
					"min_ms":          floor,
					"median_ms":       med,
					"ratio_to_min":    d / floor,
					"ratio_to_median": d / med,
					"threshold":       ratio,
				},
			})
		}
	}
	return out
}

func (o DurationAnomaly) versionRegressions(cells []*executor.Cell) []Anomaly {
	byCollector := make(map[gclog.CollectorType]map[string][]*executor.Cell)
	var collectors []gclog.CollectorType
	for _, c := range cells {
		gc := c.Environment.Collector
		if _, seen := byCollector[gc]; !seen {
			collectors = append(collectors, gc)
			byCollector[gc] = make(map[string][]*executor.Cell)
		}
		v := c.Environment.RuntimeVersion
		byCollector[gc][v] = append(byCollector[gc][v], c)
	}

	var out []Anomaly
	for _, gc := range collectors {
		perVersion := byCollector[gc]
		versions := make([]string, 0, len(perVersion))
		for v := range perVersion {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool { return config.VersionLess(versions[i], versions[j]) })

		for i := 1; i < len(versions); i++ {
			prev, cur := versions[i-1], versions[i]
			prevMean, curMean := meanMillis(perVersion[prev]), meanMillis(perVersion[cur])
			if prevMean <= 0 {
				continue
			}
			change := curMean / prevMean
			if change <= o.VersionRatio {
				continue
			}
			out = append(out, Anomaly{
				Evidence: evidence(append(append([]*executor.Cell(nil), perVersion[cur]...), perVersion[prev]...)...),
				Severity: SeverityMedium,
				Message: fmt.Sprintf("%s on runtime %s ran %.0fms on average, %.1fx runtime %s (%.0fms)",
					gc, cur, curMean, change, prev, prevMean),
				Details: map[string]any{
					"kind":         "version-regression",
					"collector":    string(gc),
					"from_version": prev,
					"to_version":   cur,
					"from_ms":      prevMean,
					"to_ms":        curMean,
					"ratio":        change,
					"threshold":    o.VersionRatio,
				},
			})
		}
	}
	return out
}

func millis(c *executor.Cell) float64 {
	return float64(c.WallClock.Microseconds()) / 1000
}

func meanMillis(cells []*executor.Cell) float64 {
	if len(cells) == 0 {
		return 0
	}
	var sum float64
	for _, c := range cells {
		sum += millis(c)
	}
	return sum / float64(len(cells))
}
