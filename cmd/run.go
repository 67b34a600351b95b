package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gc-diffbench/internal/config"
	"gc-diffbench/internal/cpuallocator"
	"gc-diffbench/internal/database"
	"gc-diffbench/internal/executor"
	"gc-diffbench/internal/host"
	"gc-diffbench/internal/logging"
	"gc-diffbench/internal/metrics"
	"gc-diffbench/internal/oracle"
	"gc-diffbench/internal/report"
	"gc-diffbench/internal/target"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type runOptions struct {
	configFile string
	root       string
	output     string
	report     string
	timeout    int
	workers    int
	keepGCLogs bool
	skipclass  string
	testcases  string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run every target across the configured matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, content, err := config.LoadConfigWithContent(opts.configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			opts.applyOverrides(cmd, cfg)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case <-sigChan:
					logging.GetLogger().Info("Received interrupt signal, stopping after cleanup")
					cancel()
				case <-ctx.Done():
				}
			}()

			_, err = runDiffBench(ctx, cfg, content)
			return err
		},
	}

	runCmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Path to matrix configuration file")
	runCmd.Flags().StringVar(&opts.root, "root", "", "Corpus root directory")
	runCmd.Flags().StringVar(&opts.output, "output", "", "Output directory for collector logs")
	runCmd.Flags().StringVar(&opts.report, "report", "", "Report path (default <output>/report.jsonl)")
	runCmd.Flags().IntVar(&opts.timeout, "timeout", 0, "Per-cell timeout in seconds")
	runCmd.Flags().IntVar(&opts.workers, "workers", 0, "Concurrent cells")
	runCmd.Flags().BoolVar(&opts.keepGCLogs, "keep-gc-logs", false, "Keep collector logs after metrics extraction")
	runCmd.Flags().StringVar(&opts.skipclass, "skipclass", "", "File listing identities to exclude")
	runCmd.Flags().StringVar(&opts.testcases, "testcases", "", "File listing the only identities to run")
	runCmd.MarkFlagRequired("config")
	return runCmd
}

func (o runOptions) applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Harness.Root = o.root
	}
	if flags.Changed("output") {
		cfg.Harness.Output = o.output
	}
	if flags.Changed("report") {
		cfg.Harness.Report = o.report
	}
	if flags.Changed("timeout") && o.timeout > 0 {
		cfg.Harness.Timeout = o.timeout
	}
	if flags.Changed("workers") && o.workers > 0 {
		cfg.Harness.Workers = o.workers
	}
	if flags.Changed("keep-gc-logs") {
		cfg.Harness.KeepGCLogs = o.keepGCLogs
	}
	if flags.Changed("skipclass") {
		cfg.Harness.Skipclass = o.skipclass
	}
	if flags.Changed("testcases") {
		cfg.Harness.Testcases = o.testcases
	}
}

func reportPath(cfg *config.Config) string {
	if cfg.Harness.Report != "" {
		return cfg.Harness.Report
	}
	return filepath.Join(cfg.Harness.Output, "report.jsonl")
}

// DiffBench drives one run: resolve, execute, evaluate, record.
type DiffBench struct {
	config       *config.Config
	hostConfig   *host.HostConfig
	spawner      executor.Spawner
	orchestrator *executor.Orchestrator
	engine       *oracle.Engine
	aggregator   *report.Aggregator
	sink         *database.InfluxDBSink
	recorder     *metrics.Recorder
	filter       *target.Filter
	envs         []executor.Environment
	runID        string
	startTime    time.Time
}

// runDiffBench executes the whole run. On interrupt the report is left
// without a summary so the next run resumes it.
func runDiffBench(ctx context.Context, cfg *config.Config, configContent string) (report.Summary, error) {
	logger := logging.GetLogger()

	if cfg.Harness.Root == "" {
		return report.Summary{}, fmt.Errorf("%w: no corpus root given", config.ErrInvalidConfig)
	}

	bench := &DiffBench{
		config:    cfg,
		recorder:  metrics.NewRecorder(),
		envs:      executor.EnvironmentsFromConfig(cfg),
		runID:     uuid.New().String(),
		startTime: time.Now(),
	}
	if len(bench.envs) == 0 {
		return report.Summary{}, fmt.Errorf("%w: empty matrix", config.ErrInvalidConfig)
	}

	hostConfig, err := host.GetHostConfig()
	if err != nil {
		logger.WithError(err).Warn("Failed to read host configuration")
	}
	bench.hostConfig = hostConfig

	checksum, err := config.MatrixChecksum(cfg)
	if err != nil {
		return report.Summary{}, fmt.Errorf("failed to compute matrix checksum: %w", err)
	}

	bench.filter, err = target.LoadFilter(cfg.Harness.Testcases, cfg.Harness.Skipclass)
	if err != nil {
		return report.Summary{}, fmt.Errorf("failed to load target filters: %w", err)
	}

	registry, err := oracle.BuildRegistry(cfg.Oracles)
	if err != nil {
		return report.Summary{}, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	bench.engine = oracle.NewEngine(registry, bench.recorder)

	if err := bench.initSpawner(); err != nil {
		return report.Summary{}, err
	}
	defer bench.closeSpawner()
	opts := executor.OptionsFromConfig(cfg)
	if cfg.Harness.CPUsPerCell > 0 {
		allocator, err := newCPUAllocator(cfg.Harness)
		if err != nil {
			return report.Summary{}, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		if allocator.Capacity() < opts.Workers {
			logger.WithFields(logrus.Fields{
				"workers":  opts.Workers,
				"capacity": allocator.Capacity(),
			}).Warn("Reducing workers to the number of pinnable cells")
			opts.Workers = allocator.Capacity()
		}
		opts.CPUs = allocator
	}
	bench.orchestrator = executor.NewOrchestrator(bench.spawner, opts, bench.recorder)

	header := report.Header{
		RunID:          bench.runID,
		StartedAt:      bench.startTime,
		MatrixChecksum: checksum,
		Harness:        cfg.Harness.Name,
		Host:           hostConfig,
	}
	path := reportPath(cfg)
	bench.aggregator, err = report.Open(path, header)
	if errors.Is(err, report.ErrRunComplete) {
		logger.WithField("report", path).Info("Report is already complete, nothing to do")
		return report.Summary{}, nil
	}
	if err != nil {
		return report.Summary{}, fmt.Errorf("failed to open report: %w", err)
	}

	if cfg.InfluxDB.Enabled() {
		sink, err := database.NewInfluxDBSink(cfg.InfluxDB, bench.aggregator.Header().RunID)
		if err != nil {
			logger.WithError(err).Warn("InfluxDB unavailable, continuing with the report only")
		} else {
			bench.sink = sink
			defer sink.Close()
		}
	}

	logger.WithFields(logrus.Fields{
		"run_id":          bench.aggregator.Header().RunID,
		"matrix_checksum": checksum,
		"environments":    len(bench.envs),
		"workers":         cfg.Harness.Workers,
		"root":            cfg.Harness.Root,
		"report":          path,
	}).Info("Starting run")

	if err := bench.runTargets(ctx); err != nil {
		if abortErr := bench.aggregator.Abort(); abortErr != nil {
			logger.WithError(abortErr).Warn("Failed to close report")
		}
		bench.writeMetrics()
		return report.Summary{}, err
	}
	return bench.finish(path)
}

func (b *DiffBench) initSpawner() error {
	h := b.config.Harness
	switch h.Spawner {
	case "docker":
		s, err := executor.NewDockerSpawner(h.MaxOutputBytes)
		if err != nil {
			return fmt.Errorf("failed to create docker spawner: %w", err)
		}
		b.spawner = s
	default:
		b.spawner = executor.NewProcessSpawner(h.MaxOutputBytes, h.HardwareCounters)
	}
	return nil
}

// newCPUAllocator builds the pinning pool from the configured cpuset, or from
// one logical CPU per physical core when none is given.
func newCPUAllocator(h config.HarnessConfig) (*cpuallocator.Allocator, error) {
	var cpus []int
	var err error
	if h.CPUSet != "" {
		cpus, err = cpuallocator.ParseCPUSpec(h.CPUSet)
	} else {
		cpus, err = cpuallocator.PhysicalCPUs("/sys")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to determine cpu pool: %w", err)
	}

	allocator, err := cpuallocator.NewAllocator(cpus, h.CPUsPerCell)
	if err != nil {
		return nil, err
	}
	logging.GetLogger().WithFields(logrus.Fields{
		"cpuset":        cpuallocator.FormatCPUSpec(cpus),
		"cpus_per_cell": h.CPUsPerCell,
	}).Info("Pinning cells to dedicated cores")
	return allocator, nil
}

func (b *DiffBench) closeSpawner() {
	if s, ok := b.spawner.(*executor.DockerSpawner); ok {
		if err := s.Close(); err != nil {
			logging.GetLogger().WithError(err).Warn("Failed to close docker client")
		}
	}
}

func (b *DiffBench) runTargets(ctx context.Context) error {
	logger := logging.GetLogger()
	resolver := target.NewResolver(b.config.Harness.Root, target.Options{
		Delimiters:   b.config.Harness.Delimiters,
		SkipSuffixes: b.config.Harness.SkipDirSuffixes,
		ArtifactExt:  b.config.Harness.ArtifactExt,
	})

	for t, err := range b.filter.Apply(resolver.Targets()) {
		if err != nil {
			var layoutErr *target.MalformedLayoutError
			if errors.As(err, &layoutErr) {
				b.recorder.ObserveLayoutError()
				logger.WithField("path", layoutErr.Path).Warn("Skipping malformed directory")
				continue
			}
			logger.WithError(err).Warn("Skipping unreadable directory")
			continue
		}
		if ctx.Err() != nil {
			break
		}

		id := report.TargetID(b.config.Harness.Root, t)
		if b.aggregator.Completed(id) {
			b.recorder.ObserveTarget("skipped")
			logger.WithField("target", t.FQCN()).Debug("Target already recorded")
			continue
		}
		if err := b.runTarget(ctx, id, t); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", executor.ErrInterrupted, err)
	}
	return nil
}

func (b *DiffBench) runTarget(ctx context.Context, id string, t target.Target) error {
	logger := logging.GetLogger().WithField("target", t.FQCN())
	if t.Ambiguous {
		logger.Warn("Artifact names disagree with the leaf directory")
	}

	cells, err := b.orchestrator.RunTarget(ctx, t, b.envs)
	if err != nil {
		b.recorder.ObserveTarget("interrupted")
		return err
	}
	cellMetrics := b.orchestrator.CollectMetrics(cells)
	anomalies, warnings := b.engine.Evaluate(t.FQCN(), cells, cellMetrics)

	rec := report.NewTargetRecord(id, t, cells, cellMetrics, anomalies, warnings,
		b.config.Harness.ReportOutputChars, b.orchestrator.KeepsGCLogs())
	if err := b.aggregator.Append(rec); err != nil {
		return err
	}
	b.recorder.ObserveTarget("completed")

	if b.sink != nil {
		if err := b.sink.WriteTarget(rec); err != nil {
			logger.WithError(err).Warn("Failed to write target to InfluxDB")
		}
	}

	logger.WithFields(logrus.Fields{
		"cells":     len(cells),
		"succeeded": rec.TestSummary.Successful,
		"anomalies": len(anomalies),
	}).Info("Target finished")
	return nil
}

func (b *DiffBench) finish(path string) (report.Summary, error) {
	logger := logging.GetLogger()

	summary, err := b.aggregator.Close()
	if err != nil {
		return summary, err
	}

	if b.config.Harness.Archive {
		archive, err := report.WriteArchive(path)
		if err != nil {
			return summary, err
		}
		logger.WithField("archive", archive).Info("Report archived")
	}
	if b.sink != nil {
		if err := b.sink.WriteSummary(b.aggregator.Header(), summary); err != nil {
			logger.WithError(err).Warn("Failed to write run summary to InfluxDB")
		}
	}
	b.writeMetrics()

	logger.WithFields(logrus.Fields{
		"targets":      summary.Targets,
		"cells":        summary.Cells,
		"succeeded":    summary.Succeeded,
		"failed":       summary.Failed,
		"timed_out":    summary.TimedOut,
		"spawn_errors": summary.SpawnErrors,
		"anomalies":    summary.Anomalies,
		"success_rate": fmt.Sprintf("%.1f%%", summary.SuccessRate),
		"duration":     time.Since(b.startTime).Round(time.Second),
	}).Info("Run finished")
	return summary, nil
}

func (b *DiffBench) writeMetrics() {
	path := b.config.Harness.MetricsTextfile
	if path == "" {
		return
	}
	if err := b.recorder.WriteTextfile(path); err != nil {
		logging.GetLogger().WithField("path", path).WithError(err).Warn("Failed to write metrics textfile")
	}
}
