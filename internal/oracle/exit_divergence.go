package oracle

import (
	"fmt"

	"gc-diffbench/internal/executor"
)

const (
	kindCollectorDivergence = "collector-divergence"
	kindVersionDivergence   = "version-divergence"
)

// ExitDivergence flags pairs of cells of the same artifact that disagree on
// success. Pairs differing only in collector and pairs differing only in
// runtime version are labelled separately; pairs differing in both are not
// compared. Cells that never started carry no verdict and are skipped.
type ExitDivergence struct{}

func (ExitDivergence) Name() string { return "exit-divergence" }
func (ExitDivergence) Scope() Scope { return Pairwise }

func (o ExitDivergence) Evaluate(in Input) ([]Anomaly, error) {
	var out []Anomaly
	order, groups := byArtifact(in.Cells)
	for _, artifact := range order {
		var cells []*executor.Cell
		for _, c := range groups[artifact] {
			if !c.SpawnFailed() {
				cells = append(cells, c)
			}
		}
		for i := 0; i < len(cells); i++ {
			for j := i + 1; j < len(cells); j++ {
				if a, ok := exitDivergence(cells[i], cells[j]); ok {
					out = append(out, a)
				}
			}
		}
	}
	return out, nil
}

func exitDivergence(a, b *executor.Cell) (Anomaly, bool) {
	if a.Succeeded() == b.Succeeded() {
		return Anomaly{}, false
	}
	sameRuntime := a.Environment.RuntimeVersion == b.Environment.RuntimeVersion
	sameCollector := a.Environment.Collector == b.Environment.Collector

	var kind string
	var severity Severity
	switch {
	case sameRuntime && !sameCollector:
		kind, severity = kindCollectorDivergence, SeverityHigh
	case sameCollector && !sameRuntime:
		kind, severity = kindVersionDivergence, SeverityMedium
	default:
		return Anomaly{}, false
	}

	ok, bad := a, b
	if !a.Succeeded() {
		ok, bad = b, a
	}
	return Anomaly{
		Evidence: evidence(ok, bad),
		Severity: severity,
		Message:  fmt.Sprintf("%s: %s succeeded but %s %s", kind, ok.Key(), bad.Key(), describeFailure(bad)),
		Details: map[string]any{
			"kind":      kind,
			"succeeded": ok.Key().String(),
			"diverged":  bad.Key().String(),
			"status":    bad.Status(),
		},
	}, true
}

func describeFailure(c *executor.Cell) string {
	if c.TimedOut() {
		return "timed out"
	}
	code, _ := c.ExitCode()
	return fmt.Sprintf("exited with %d", code)
}
