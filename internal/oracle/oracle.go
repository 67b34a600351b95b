// Package oracle compares the cells of one target and emits anomalies.
//
// Oracles are independent rules. The Engine runs every oracle of an
// immutable Registry, and a failing or panicking oracle is reduced to a
// warning without affecting the others. When several oracles fire on the
// same evidence all anomalies are kept.
package oracle

import (
	"fmt"
	"sort"

	"gc-diffbench/internal/executor"
	"gc-diffbench/internal/gclog"
	"gc-diffbench/internal/logging"
	"gc-diffbench/internal/metrics"

	"github.com/sirupsen/logrus"
)

type Scope string

const (
	Pairwise   Scope = "PAIRWISE"
	SingleCell Scope = "SINGLE_CELL"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Anomaly is a divergence or regression with the cells that show it.
type Anomaly struct {
	Target   string             `json:"target"`
	Evidence []executor.CellKey `json:"evidence"`
	Oracle   string             `json:"oracle"`
	Severity Severity           `json:"severity"`
	Message  string             `json:"message"`
	Details  map[string]any     `json:"details,omitempty"`
}

// Input is everything an oracle may look at for one target. Oracles must
// not modify it.
type Input struct {
	Target  string
	Cells   []*executor.Cell
	Metrics map[executor.CellKey]gclog.CollectorMetrics
}

// Oracle is one detection rule.
type Oracle interface {
	Name() string
	Scope() Scope
	Evaluate(in Input) ([]Anomaly, error)
}

// Registry is the fixed set of oracles for a run.
type Registry struct {
	oracles []Oracle
}

func NewRegistry(oracles ...Oracle) (*Registry, error) {
	seen := make(map[string]bool, len(oracles))
	for _, o := range oracles {
		if seen[o.Name()] {
			return nil, fmt.Errorf("duplicate oracle %q", o.Name())
		}
		seen[o.Name()] = true
	}
	return &Registry{oracles: append([]Oracle(nil), oracles...)}, nil
}

// Oracles returns the registered oracles in registration order.
func (r *Registry) Oracles() []Oracle {
	return append([]Oracle(nil), r.oracles...)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.oracles))
	for _, o := range r.oracles {
		names = append(names, o.Name())
	}
	return names
}

type Engine struct {
	registry *Registry
	recorder *metrics.Recorder
	logger   *logrus.Logger
}

func NewEngine(registry *Registry, recorder *metrics.Recorder) *Engine {
	return &Engine{
		registry: registry,
		recorder: recorder,
		logger:   logging.GetOracleLogger(),
	}
}

// Evaluate runs every oracle over the target's cells. Cells flagged as
// ignored are withheld from the oracles. The returned warnings describe
// oracles that failed.
func (e *Engine) Evaluate(target string, cells []*executor.Cell, m map[executor.CellKey]gclog.CollectorMetrics) ([]Anomaly, []string) {
	in := Input{Target: target, Metrics: m}
	for _, c := range cells {
		if c != nil && !c.Ignored {
			in.Cells = append(in.Cells, c)
		}
	}
	if in.Metrics == nil {
		in.Metrics = map[executor.CellKey]gclog.CollectorMetrics{}
	}

	var anomalies []Anomaly
	var warnings []string
	for _, o := range e.registry.oracles {
		found, err := e.run(o, in)
		if err != nil {
			warning := fmt.Sprintf("oracle %s failed: %v", o.Name(), err)
			warnings = append(warnings, warning)
			e.recorder.ObserveOracleFailure(o.Name())
			e.logger.WithFields(logrus.Fields{"oracle": o.Name(), "target": target}).WithError(err).Warn("Oracle failed")
			continue
		}
		for i := range found {
			found[i].Target = target
			found[i].Oracle = o.Name()
			e.recorder.ObserveAnomaly(o.Name(), string(found[i].Severity))
		}
		anomalies = append(anomalies, found...)
	}
	return anomalies, warnings
}

func (e *Engine) run(o Oracle, in Input) (found []Anomaly, err error) {
	defer func() {
		if r := recover(); r != nil {
			found = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.Evaluate(in)
}

// Helpers shared by the built-in oracles.

// byArtifact groups cells by artifact, keeping input order within a group.
func byArtifact(cells []*executor.Cell) ([]string, map[string][]*executor.Cell) {
	groups := make(map[string][]*executor.Cell)
	var order []string
	for _, c := range cells {
		if _, ok := groups[c.Artifact]; !ok {
			order = append(order, c.Artifact)
		}
		groups[c.Artifact] = append(groups[c.Artifact], c)
	}
	return order, groups
}

func evidence(cells ...*executor.Cell) []executor.CellKey {
	keys := make([]executor.CellKey, 0, len(cells))
	for _, c := range cells {
		keys = append(keys, c.Key())
	}
	return keys
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
