// Package executor runs resolved targets across the environment matrix.
//
// Every cell gets a private work directory that is removed on every exit
// path. Cells of one target run on a bounded errgroup and the target is only
// handed on once all of them finished.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gc-diffbench/internal/config"
	"gc-diffbench/internal/gclog"
	"gc-diffbench/internal/logging"
	"gc-diffbench/internal/metrics"
	"gc-diffbench/internal/target"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrInterrupted is returned by RunTarget when the run context was cancelled
// before every cell finished.
var ErrInterrupted = errors.New("run interrupted")

type Options struct {
	Timeout      time.Duration
	Workers      int
	AuxClasspath []string
	// OutputDir receives collector logs under gclogs/.
	OutputDir  string
	GCLogging  bool
	KeepGCLogs bool
	// Profile returns per-target extras; nil means none.
	Profile func(fqcn string) config.ProfileConfig
	// IgnoreFailures reports collectors whose failures are expected.
	IgnoreFailures func(collector gclog.CollectorType) bool
	// CPUs pins each running cell to its own cores; nil leaves cells unpinned.
	CPUs CPUAllocator
}

// CPUAllocator hands out disjoint CPU sets to concurrently running cells.
type CPUAllocator interface {
	Acquire() ([]int, func(), error)
}

// OptionsFromConfig maps the harness section onto orchestrator options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Timeout:        cfg.GetTimeout(),
		Workers:        cfg.Harness.Workers,
		AuxClasspath:   cfg.Harness.AuxClasspath,
		OutputDir:      cfg.Harness.Output,
		GCLogging:      cfg.GCLoggingEnabled(),
		KeepGCLogs:     cfg.Harness.KeepGCLogs,
		Profile:        cfg.ProfileFor,
		IgnoreFailures: cfg.IgnoresFailuresOf,
	}
}

type Orchestrator struct {
	spawner  Spawner
	opts     Options
	recorder *metrics.Recorder
	logger   *logrus.Logger
}

func NewOrchestrator(spawner Spawner, opts Options, recorder *metrics.Recorder) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultTimeoutSeconds * time.Second
	}
	return &Orchestrator{
		spawner:  spawner,
		opts:     opts,
		recorder: recorder,
		logger:   logging.GetLogger(),
	}
}

// RunTarget executes every artifact of the target under every environment.
// The returned cells are in artifact, then environment order.
func (o *Orchestrator) RunTarget(ctx context.Context, t target.Target, envs []Environment) ([]*Cell, error) {
	cells := make([]*Cell, len(t.Artifacts)*len(envs))

	g := new(errgroup.Group)
	g.SetLimit(o.opts.Workers)
	for i, artifact := range t.Artifacts {
		for j, env := range envs {
			slot := i*len(envs) + j
			g.Go(func() error {
				cells[slot] = o.Run(ctx, t, artifact, env, o.opts.Timeout)
				return nil
			})
		}
	}
	// Join barrier: nothing downstream sees a partial matrix.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("target %s: %w: %v", t.FQCN(), ErrInterrupted, err)
	}
	return cells, nil
}

// Run executes one artifact under one environment and returns its cell.
// The work directory is removed before Run returns.
func (o *Orchestrator) Run(ctx context.Context, t target.Target, artifact string, env Environment, timeout time.Duration) *Cell {
	fqcn := t.FQCN()
	logger := o.logger.WithFields(logrus.Fields{
		"target":    fqcn,
		"artifact":  filepath.Base(artifact),
		"runtime":   env.RuntimeVersion,
		"collector": env.Collector,
	})

	cell := &Cell{
		Target:      fqcn,
		Artifact:    filepath.Base(artifact),
		Environment: env,
	}

	start := time.Now()
	result, logPath := o.spawn(ctx, t, artifact, env, timeout)
	cell.WallClock = time.Since(start)
	cell.Outcome = result.Outcome
	cell.Counters = result.Counters
	cell.CollectorLogPath = logPath
	cell.Ignored = !cell.Succeeded() && o.opts.IgnoreFailures != nil && o.opts.IgnoreFailures(env.Collector)

	o.recorder.ObserveCell(string(cell.Outcome.Kind()), env.RuntimeVersion, string(env.Collector), cell.WallClock)

	switch out := cell.Outcome.(type) {
	case Completed:
		logger.WithFields(logrus.Fields{"exit_code": out.ExitCode, "wall_ms": cell.WallClock.Milliseconds()}).Debug("Cell completed")
	case TimedOut:
		logger.WithField("timeout", timeout).Info("Cell timed out")
	case SpawnFailed:
		logger.WithField("reason", out.Reason).Info("Cell could not be spawned")
	}
	return cell
}

func (o *Orchestrator) spawn(ctx context.Context, t target.Target, artifact string, env Environment, timeout time.Duration) (SpawnResult, string) {
	workDir, err := os.MkdirTemp("", workDirPattern)
	if err != nil {
		return SpawnResult{Outcome: SpawnFailed{Reason: fmt.Sprintf("failed to create work directory: %v", err)}}, ""
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			o.logger.WithField("work_dir", workDir).WithError(err).Warn("Failed to remove work directory")
		}
	}()

	if err := stageArtifact(workDir, t, artifact); err != nil {
		return SpawnResult{Outcome: SpawnFailed{Reason: err.Error()}}, ""
	}

	var profile config.ProfileConfig
	if o.opts.Profile != nil {
		profile = o.opts.Profile(t.FQCN())
	}

	var logPath string
	if o.opts.GCLogging {
		logPath, err = o.prepareLogPath(t, artifact, env)
		if err != nil {
			return SpawnResult{Outcome: SpawnFailed{Reason: err.Error()}}, ""
		}
	}

	classpath := o.classpath(workDir, env, profile)
	req := SpawnRequest{
		Command: buildCommand(t.FQCN(), classpath, env, profile, logPath),
		Dir:     workDir,
		Timeout: timeout,
		Image:   env.Image,
		Mounts:  mountsFor(workDir, logPath, classpath),
	}
	if o.opts.CPUs != nil {
		cpus, release, err := o.opts.CPUs.Acquire()
		if err != nil {
			o.logger.WithField("fqcn", t.FQCN()).WithError(err).Warn("Running cell unpinned")
		} else {
			defer release()
			req.CPUs = cpus
		}
	}
	return o.spawner.Spawn(ctx, req), logPath
}

func (o *Orchestrator) prepareLogPath(t target.Target, artifact string, env Environment) (string, error) {
	dir := filepath.Join(o.opts.OutputDir, "gclogs", t.FQCN(), artifactStem(artifact))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create collector log directory: %w", err)
	}
	path, err := filepath.Abs(filepath.Join(dir, gclog.LogFileName(env.RuntimeVersion, env.Collector)))
	if err != nil {
		return "", err
	}
	// A stale log from an interrupted run would be appended to.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove stale collector log: %w", err)
	}
	return path, nil
}

// classpath: runtime libraries, the shared auxiliary objects, the staged
// artifact, then environment and profile extras.
func (o *Orchestrator) classpath(workDir string, env Environment, profile config.ProfileConfig) []string {
	var entries []string
	entries = append(entries, env.RuntimeClasspath...)
	entries = append(entries, o.opts.AuxClasspath...)
	entries = append(entries, workDir)
	entries = append(entries, env.ExtraClasspath...)
	entries = append(entries, profile.ExtraClasspath...)
	return entries
}

func buildCommand(fqcn string, classpath []string, env Environment, profile config.ProfileConfig, logPath string) []string {
	cmd := []string{env.Java}
	cmd = append(cmd, env.JVMArgs...)
	cmd = append(cmd, profile.JVMArgs...)
	cmd = append(cmd, env.CollectorFlags...)
	if logPath != "" {
		cmd = append(cmd, GCLogFlag(logPath))
	}
	cmd = append(cmd, "-cp", strings.Join(classpath, string(os.PathListSeparator)), fqcn)
	cmd = append(cmd, profile.Args...)
	return cmd
}

// GCLogFlag directs unified collector logging to path.
func GCLogFlag(path string) string {
	return "-Xlog:gc*:file=" + path + ":time,uptime,level,tags"
}

func mountsFor(workDir, logPath string, classpath []string) []string {
	seen := map[string]bool{workDir: true}
	mounts := []string{workDir}
	if logPath != "" {
		dir := filepath.Dir(logPath)
		seen[dir] = true
		mounts = append(mounts, dir)
	}
	for _, entry := range classpath {
		abs, err := filepath.Abs(entry)
		if err != nil || seen[abs] {
			continue
		}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		seen[abs] = true
		mounts = append(mounts, abs)
	}
	return mounts
}

// CollectMetrics parses the collector log of every cell that has one and,
// unless logs are kept, deletes the log afterwards. Parse failures only
// drop that cell's metrics.
func (o *Orchestrator) CollectMetrics(cells []*Cell) map[CellKey]gclog.CollectorMetrics {
	out := make(map[CellKey]gclog.CollectorMetrics)
	for _, cell := range cells {
		if cell.CollectorLogPath == "" {
			continue
		}
		if _, err := os.Stat(cell.CollectorLogPath); err != nil {
			continue
		}
		m, err := gclog.Parse(cell.CollectorLogPath, cell.Environment.Collector)
		if err != nil {
			o.logger.WithField("log", cell.CollectorLogPath).WithError(err).Warn("Failed to parse collector log")
		} else {
			out[cell.Key()] = m
		}
		if !o.opts.KeepGCLogs {
			o.discardLog(cell.CollectorLogPath)
		}
	}
	return out
}

func (o *Orchestrator) discardLog(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		o.logger.WithField("log", path).WithError(err).Warn("Failed to remove collector log")
		return
	}
	// Drop the now empty artifact and target directories; Remove fails on
	// non-empty ones, which is what we want.
	dir := filepath.Dir(path)
	if os.Remove(dir) == nil {
		_ = os.Remove(filepath.Dir(dir))
	}
}

// KeepsGCLogs reports whether collector logs survive metrics extraction.
func (o *Orchestrator) KeepsGCLogs() bool {
	return o.opts.KeepGCLogs
}
