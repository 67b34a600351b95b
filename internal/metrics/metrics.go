// Package metrics exposes run counters in the Prometheus format. A batch run
// has no long-lived endpoint, so the registry is written as a node-exporter
// textfile when the run ends.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gcdiff"

// Recorder holds the run metrics. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	CellsTotal          *prometheus.CounterVec
	CellDurationSeconds *prometheus.HistogramVec
	AnomaliesTotal      *prometheus.CounterVec
	OracleFailuresTotal *prometheus.CounterVec
	TargetsTotal        *prometheus.CounterVec
	LayoutErrorsTotal   prometheus.Counter
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		CellsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "cells_total",
				Help:      "Matrix cells executed by outcome and collector",
			},
			[]string{"outcome", "runtime", "collector"},
		),
		CellDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "cell_duration_seconds",
				Help:      "Wall clock time of one cell",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"collector"},
		),
		AnomaliesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "anomalies_total",
				Help:      "Anomalies emitted by oracle and severity",
			},
			[]string{"oracle", "severity"},
		),
		OracleFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "failures_total",
				Help:      "Oracle evaluations that failed and were skipped",
			},
			[]string{"oracle"},
		),
		TargetsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "targets_total",
				Help:      "Targets by disposition (recorded, resumed, interrupted)",
			},
			[]string{"status"},
		),
		LayoutErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolver",
				Name:      "layout_errors_total",
				Help:      "Directories skipped for violating the layout rules",
			},
		),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ObserveCell(outcome, runtime, collector string, wall time.Duration) {
	if r == nil {
		return
	}
	r.CellsTotal.WithLabelValues(outcome, runtime, collector).Inc()
	r.CellDurationSeconds.WithLabelValues(collector).Observe(wall.Seconds())
}

func (r *Recorder) ObserveAnomaly(oracle, severity string) {
	if r == nil {
		return
	}
	r.AnomaliesTotal.WithLabelValues(oracle, severity).Inc()
}

func (r *Recorder) ObserveOracleFailure(oracle string) {
	if r == nil {
		return
	}
	r.OracleFailuresTotal.WithLabelValues(oracle).Inc()
}

func (r *Recorder) ObserveTarget(status string) {
	if r == nil {
		return
	}
	r.TargetsTotal.WithLabelValues(status).Inc()
}

func (r *Recorder) ObserveLayoutError() {
	if r == nil {
		return
	}
	r.LayoutErrorsTotal.Inc()
}

// WriteTextfile writes the registry atomically for the node exporter.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
