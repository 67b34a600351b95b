package report

import (
	"path/filepath"
	"time"
	"unicode/utf8"

	"gc-diffbench/internal/collectors"
	"gc-diffbench/internal/executor"
	"gc-diffbench/internal/gclog"
	"gc-diffbench/internal/host"
	"gc-diffbench/internal/oracle"
	"gc-diffbench/internal/target"
)

const (
	KindHeader  = "header"
	KindTarget  = "target"
	KindSummary = "summary"
)

// Header is the first line of every report.
type Header struct {
	Kind           string           `json:"kind"`
	RunID          string           `json:"run_id"`
	StartedAt      time.Time        `json:"started_at"`
	MatrixChecksum string           `json:"matrix_checksum"`
	Harness        string           `json:"harness"`
	Host           *host.HostConfig `json:"host,omitempty"`
}

// CellRecord is the persisted form of one cell.
type CellRecord struct {
	Artifact        string                       `json:"artifact"`
	Runtime         string                       `json:"runtime"`
	Collector       gclog.CollectorType          `json:"collector"`
	Flags           []string                     `json:"flags,omitempty"`
	Outcome         executor.OutcomeKind         `json:"outcome"`
	ExitCode        *int                         `json:"exit_code,omitempty"`
	Stdout          string                       `json:"stdout,omitempty"`
	Stderr          string                       `json:"stderr,omitempty"`
	OutputTruncated bool                         `json:"output_truncated,omitempty"`
	Reason          string                       `json:"reason,omitempty"`
	WallClockMillis int64                        `json:"wall_clock_ms"`
	GCLog           string                       `json:"gc_log,omitempty"`
	GCLogRetained   bool                         `json:"gc_log_retained,omitempty"`
	Ignored         bool                         `json:"ignored,omitempty"`
	Counters        *collectors.HardwareCounters `json:"counters,omitempty"`
	Metrics         *gclog.CollectorMetrics      `json:"metrics,omitempty"`
}

type TestSummary struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// TargetRecord holds the whole matrix of one target and what the oracles
// made of it.
type TargetRecord struct {
	Kind        string           `json:"kind"`
	ID          string           `json:"id"`
	Target      target.Target    `json:"target"`
	FQCN        string           `json:"fqcn"`
	Cells       []CellRecord     `json:"cells"`
	Anomalies   []oracle.Anomaly `json:"anomalies"`
	Warnings    []string         `json:"warnings,omitempty"`
	TestSummary TestSummary      `json:"test_summary"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Summary is written last. Its presence marks the run as finished.
type Summary struct {
	Kind              string         `json:"kind"`
	Targets           int            `json:"targets"`
	Cells             int            `json:"cells"`
	Succeeded         int            `json:"succeeded"`
	Failed            int            `json:"failed"`
	TimedOut          int            `json:"timed_out"`
	SpawnErrors       int            `json:"spawn_errors"`
	Ignored           int            `json:"ignored"`
	Anomalies         int            `json:"anomalies"`
	AnomaliesByOracle map[string]int `json:"anomalies_by_oracle"`
	SuccessRate       float64        `json:"success_rate"`
	FinishedAt        time.Time      `json:"finished_at"`
}

// TargetID is the stable identity used for resuming: the target's leaf
// directory relative to the corpus root.
func TargetID(root string, t target.Target) string {
	if rel, err := filepath.Rel(root, t.Dir); err == nil {
		return filepath.ToSlash(rel)
	}
	return t.FQCN()
}

// NewCellRecord converts a cell. Captured output is cut to maxChars runes,
// zero keeps it whole.
func NewCellRecord(cell *executor.Cell, m *gclog.CollectorMetrics, maxChars int, logRetained bool) CellRecord {
	rec := CellRecord{
		Artifact:        cell.Artifact,
		Runtime:         cell.Environment.RuntimeVersion,
		Collector:       cell.Environment.Collector,
		Flags:           cell.Environment.CollectorFlags,
		Outcome:         cell.Outcome.Kind(),
		WallClockMillis: cell.WallClock.Milliseconds(),
		Ignored:         cell.Ignored,
		Counters:        cell.Counters,
		Metrics:         m,
	}
	if logRetained {
		rec.GCLog = cell.CollectorLogPath
		rec.GCLogRetained = true
	}

	var cutOut, cutErr bool
	rec.Stdout, cutOut = truncate(cell.Stdout(), maxChars)
	rec.Stderr, cutErr = truncate(cell.Stderr(), maxChars)
	rec.OutputTruncated = cutOut || cutErr

	switch o := cell.Outcome.(type) {
	case executor.Completed:
		code := o.ExitCode
		rec.ExitCode = &code
	case executor.SpawnFailed:
		rec.Reason = o.Reason
	}
	return rec
}

// Cell rebuilds an executor cell for re-evaluation.
func (r CellRecord) Cell(fqcn string) *executor.Cell {
	var outcome executor.Outcome
	switch r.Outcome {
	case executor.KindCompleted:
		code := 0
		if r.ExitCode != nil {
			code = *r.ExitCode
		}
		outcome = executor.Completed{ExitCode: code, Stdout: r.Stdout, Stderr: r.Stderr}
	case executor.KindTimeout:
		outcome = executor.TimedOut{PartialStdout: r.Stdout, PartialStderr: r.Stderr}
	default:
		outcome = executor.SpawnFailed{Reason: r.Reason}
	}
	return &executor.Cell{
		Target:   fqcn,
		Artifact: r.Artifact,
		Environment: executor.Environment{
			RuntimeVersion: r.Runtime,
			Collector:      r.Collector,
			CollectorFlags: r.Flags,
		},
		Outcome:          outcome,
		WallClock:        time.Duration(r.WallClockMillis) * time.Millisecond,
		CollectorLogPath: r.GCLog,
		Counters:         r.Counters,
		Ignored:          r.Ignored,
	}
}

// NewTargetRecord assembles the record of a finished target.
func NewTargetRecord(id string, t target.Target, cells []*executor.Cell, m map[executor.CellKey]gclog.CollectorMetrics,
	anomalies []oracle.Anomaly, warnings []string, maxChars int, logsRetained bool) *TargetRecord {
	rec := &TargetRecord{
		Kind:        KindTarget,
		ID:          id,
		Target:      t,
		FQCN:        t.FQCN(),
		Cells:       make([]CellRecord, 0, len(cells)),
		Anomalies:   anomalies,
		Warnings:    warnings,
		CompletedAt: time.Now(),
	}
	if rec.Anomalies == nil {
		rec.Anomalies = []oracle.Anomaly{}
	}
	for _, cell := range cells {
		var cm *gclog.CollectorMetrics
		if v, ok := m[cell.Key()]; ok {
			cm = &v
		}
		rec.Cells = append(rec.Cells, NewCellRecord(cell, cm, maxChars, logsRetained))
		rec.TestSummary.Total++
		if cell.Succeeded() {
			rec.TestSummary.Successful++
		} else {
			rec.TestSummary.Failed++
		}
	}
	rec.TestSummary.SuccessRate = rate(rec.TestSummary.Successful, rec.TestSummary.Total)
	return rec
}

// Inputs rebuilds the oracle inputs of a persisted target.
func (r *TargetRecord) Inputs() ([]*executor.Cell, map[executor.CellKey]gclog.CollectorMetrics) {
	cells := make([]*executor.Cell, 0, len(r.Cells))
	m := make(map[executor.CellKey]gclog.CollectorMetrics)
	for _, rec := range r.Cells {
		cell := rec.Cell(r.FQCN)
		cells = append(cells, cell)
		if rec.Metrics != nil {
			m[cell.Key()] = *rec.Metrics
		}
	}
	return cells, m
}

func (s *Summary) add(rec *TargetRecord) {
	s.Targets++
	for _, c := range rec.Cells {
		s.Cells++
		if c.Ignored {
			s.Ignored++
		}
		switch c.Outcome {
		case executor.KindCompleted:
			if c.ExitCode != nil && *c.ExitCode == 0 {
				s.Succeeded++
			} else {
				s.Failed++
			}
		case executor.KindTimeout:
			s.TimedOut++
		case executor.KindSpawnError:
			s.SpawnErrors++
		}
	}
	if s.AnomaliesByOracle == nil {
		s.AnomaliesByOracle = map[string]int{}
	}
	for _, a := range rec.Anomalies {
		s.Anomalies++
		s.AnomaliesByOracle[a.Oracle]++
	}
	s.SuccessRate = rate(s.Succeeded, s.Cells)
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func truncate(s string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s, false
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i], true
		}
		n++
	}
	return s, false
}
