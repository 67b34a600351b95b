package database

import (
	"context"
	"fmt"
	"time"

	"gc-diffbench/internal/config"
	"gc-diffbench/internal/logging"
	"gc-diffbench/internal/report"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

const (
	measurementCell    = "gc_cell"
	measurementAnomaly = "gc_anomaly"
	measurementRun     = "gc_run"

	writeTimeout = 10 * time.Second
)

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxDBSink mirrors report records into InfluxDB so runs can be compared
// over time. The report file stays the source of truth.
type InfluxDBSink struct {
	client influxdb2.Client
	writer pointWriter
	runID  string
}

func NewInfluxDBSink(cfg config.InfluxDBConfig, runID string) (*InfluxDBSink, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, fmt.Errorf("failed to connect to influxdb: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": msg,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, fmt.Errorf("influxdb health check failed: %s", health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Bucket,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBSink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		runID:  runID,
	}, nil
}

// WriteTarget writes one point per cell and one per anomaly.
func (s *InfluxDBSink) WriteTarget(rec *report.TargetRecord) error {
	points := targetPoints(s.runID, rec)
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write target %s: %w", rec.FQCN, err)
	}
	return nil
}

// WriteSummary records the totals of a finished run.
func (s *InfluxDBSink) WriteSummary(header report.Header, summary report.Summary) error {
	point := influxdb2.NewPoint(measurementRun,
		map[string]string{
			"run_id":          s.runID,
			"harness":         header.Harness,
			"matrix_checksum": header.MatrixChecksum,
		},
		map[string]interface{}{
			"targets":      summary.Targets,
			"cells":        summary.Cells,
			"succeeded":    summary.Succeeded,
			"failed":       summary.Failed,
			"timed_out":    summary.TimedOut,
			"spawn_errors": summary.SpawnErrors,
			"ignored":      summary.Ignored,
			"anomalies":    summary.Anomalies,
			"success_rate": summary.SuccessRate,
			"duration_s":   summary.FinishedAt.Sub(header.StartedAt).Seconds(),
		},
		summary.FinishedAt)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.writer.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}
	return nil
}

func (s *InfluxDBSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

func targetPoints(runID string, rec *report.TargetRecord) []*write.Point {
	var points []*write.Point
	ts := rec.CompletedAt
	for _, c := range rec.Cells {
		fields := map[string]interface{}{
			"wall_clock_ms": c.WallClockMillis,
			"ignored":       c.Ignored,
		}
		if c.ExitCode != nil {
			fields["exit_code"] = *c.ExitCode
		}
		if m := c.Metrics; m != nil {
			fields["gc_count"] = m.TotalEventCount
			fields["total_pause_ms"] = m.TotalPauseMillis()
			fields["max_pause_ms"] = m.MaxPauseMillis()
			fields["max_heap_mb"] = m.MaxHeapMegabytes
			fields["heap_capacity_mb"] = m.HeapCapacityMegabytes
		}
		if hc := c.Counters; hc != nil {
			fields["instructions"] = hc.Instructions
			fields["cycles"] = hc.Cycles
			fields["ipc"] = hc.IPC
			fields["cache_misses"] = hc.CacheMisses
		}
		points = append(points, influxdb2.NewPoint(measurementCell,
			map[string]string{
				"run_id":    runID,
				"target":    rec.FQCN,
				"artifact":  c.Artifact,
				"runtime":   c.Runtime,
				"collector": string(c.Collector),
				"outcome":   string(c.Outcome),
			},
			fields, ts))
	}
	for _, a := range rec.Anomalies {
		points = append(points, influxdb2.NewPoint(measurementAnomaly,
			map[string]string{
				"run_id":   runID,
				"target":   rec.FQCN,
				"oracle":   a.Oracle,
				"severity": string(a.Severity),
			},
			map[string]interface{}{
				"message":  a.Message,
				"evidence": len(a.Evidence),
			},
			ts))
	}
	return points
}
