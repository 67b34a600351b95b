package oracle

import (
	"fmt"

	"gc-diffbench/internal/executor"
)

// TestFailure reports artifacts that fail under every environment that ran
// them. Such a failure belongs to the program, not to a collector.
type TestFailure struct{}

func (TestFailure) Name() string { return "test-failure" }
func (TestFailure) Scope() Scope { return SingleCell }

func (TestFailure) Evaluate(in Input) ([]Anomaly, error) {
	var out []Anomaly
	order, groups := byArtifact(in.Cells)
	for _, artifact := range order {
		var completed []*executor.Cell
		allFailed := true
		for _, c := range groups[artifact] {
			if _, ok := c.Outcome.(executor.Completed); !ok {
				continue
			}
			completed = append(completed, c)
			if !c.Failed() || IsEnvironmentError(c.Stderr()) {
				allFailed = false
			}
		}
		if len(completed) == 0 || !allFailed {
			continue
		}

		signature := ""
		for _, c := range completed {
			if signature = Signature(c.Stderr()); signature != "" {
				break
			}
		}
		details := map[string]any{"cells": len(completed)}
		msg := fmt.Sprintf("%s fails in all %d completed environments", artifact, len(completed))
		if signature != "" {
			details["exception"] = signature
			msg += ": " + signature
		}
		out = append(out, Anomaly{
			Evidence: evidence(completed...),
			Severity: SeverityLow,
			Message:  msg,
			Details:  details,
		})
	}
	return out, nil
}
