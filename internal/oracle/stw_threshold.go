package oracle

import (
	"fmt"

	"gc-diffbench/internal/gclog"
)

// STWThreshold flags a cell whose longest pause exceeds the absolute ceiling
// of its collector. Cells with few pauses are ignored, as are collectors
// without a ceiling.
type STWThreshold struct {
	ThresholdsMs map[gclog.CollectorType]float64
	MinEvents    int
}

func (STWThreshold) Name() string { return "stw-threshold" }
func (STWThreshold) Scope() Scope { return SingleCell }

func (o STWThreshold) Evaluate(in Input) ([]Anomaly, error) {
	var out []Anomaly
	for _, c := range in.Cells {
		m, ok := in.Metrics[c.Key()]
		if !ok || m.TotalEventCount < o.MinEvents {
			continue
		}
		limit, ok := o.ThresholdsMs[c.Environment.Collector]
		if !ok {
			continue
		}
		if m.MaxPauseMillis() <= limit {
			continue
		}
		out = append(out, Anomaly{
			Evidence: evidence(c),
			Severity: SeverityMedium,
			Message: fmt.Sprintf("%s paused for %.2fms, above the %.0fms ceiling for %s",
				c.Key(), m.MaxPauseMillis(), limit, c.Environment.Collector),
			Details: map[string]any{
				"max_pause_ms": m.MaxPauseMillis(),
				"threshold_ms": limit,
				"events":       m.TotalEventCount,
			},
		})
	}
	return out, nil
}
