package oracle

import (
	"fmt"

	"gc-diffbench/internal/executor"
)

// CollectorCrash flags a cell that exited non-zero while another collector
// on the same runtime version ran the same artifact successfully. Timeouts
// are not crashes and failures caused by the environment are skipped.
type CollectorCrash struct{}

func (CollectorCrash) Name() string { return "collector-crash" }
func (CollectorCrash) Scope() Scope { return SingleCell }

func (CollectorCrash) Evaluate(in Input) ([]Anomaly, error) {
	type peerKey struct{ artifact, runtime string }
	groups := make(map[peerKey][]*executor.Cell)
	for _, c := range in.Cells {
		k := peerKey{c.Artifact, c.Environment.RuntimeVersion}
		groups[k] = append(groups[k], c)
	}

	var out []Anomaly
	for _, c := range in.Cells {
		if !c.Failed() || IsEnvironmentError(c.Stderr()) {
			continue
		}
		var peers []*executor.Cell
		for _, p := range groups[peerKey{c.Artifact, c.Environment.RuntimeVersion}] {
			if p.Environment.Collector != c.Environment.Collector && p.Succeeded() {
				peers = append(peers, p)
			}
		}
		if len(peers) == 0 {
			continue
		}

		code, _ := c.ExitCode()
		details := map[string]any{
			"collector": string(c.Environment.Collector),
			"runtime":   c.Environment.RuntimeVersion,
			"exit_code": code,
			"peers":     keys(peers),
		}
		if sig := Signature(c.Stderr()); sig != "" {
			details["exception"] = sig
		}
		out = append(out, Anomaly{
			Evidence: evidence(append([]*executor.Cell{c}, peers...)...),
			Severity: SeverityHigh,
			Message: fmt.Sprintf("%s fails under %s on runtime %s (exit %d) while %d other collector(s) succeed",
				c.Artifact, c.Environment.Collector, c.Environment.RuntimeVersion, code, len(peers)),
			Details: details,
		})
	}
	return out, nil
}
