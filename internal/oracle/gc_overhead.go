package oracle

import (
	"fmt"

	"gc-diffbench/internal/executor"
)

const minOverheadCells = 3

// GCOverhead flags cells that spend a much larger share of their wall clock
// paused than is typical for the target.
type GCOverhead struct {
	Ratio float64
}

func (GCOverhead) Name() string { return "gc-overhead" }
func (GCOverhead) Scope() Scope { return Pairwise }

func (o GCOverhead) Evaluate(in Input) ([]Anomaly, error) {
	var cells []*executor.Cell
	var shares []float64
	for _, c := range in.Cells {
		m, ok := in.Metrics[c.Key()]
		if !ok || m.TotalPause <= 0 || c.WallClock <= 0 {
			continue
		}
		cells = append(cells, c)
		shares = append(shares, float64(m.TotalPause)/float64(c.WallClock))
	}
	if len(cells) < minOverheadCells {
		return nil, nil
	}

	med := median(shares)
	limit := med * o.Ratio
	var out []Anomaly
	for i, c := range cells {
		if shares[i] <= limit {
			continue
		}
		out = append(out, Anomaly{
			Evidence: evidence(c),
			Severity: SeverityLow,
			Message: fmt.Sprintf("%s spent %.1f%% of its run paused, median for the target is %.1f%%",
				c.Key(), shares[i]*100, med*100),
			Details: map[string]any{
				"pause_share":  shares[i],
				"median_share": med,
				"ratio":        shares[i] / med,
			},
		})
	}
	return out, nil
}
