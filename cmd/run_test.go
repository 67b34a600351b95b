package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gc-diffbench/internal/config"
	"gc-diffbench/internal/executor"
	"gc-diffbench/internal/report"
)

const fakeJavaScript = `#!/bin/sh
for a in "$@"; do
  case "$a" in
    -XX:+UseG1GC) g1=1;;
  esac
done
if [ -n "$g1" ]; then
  echo 'Exception in thread "main" java.lang.IllegalStateException: broken' >&2
  exit 1
fi
echo result=42
`

func setupRun(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()

	java := filepath.Join(dir, "java")
	if err := os.WriteFile(java, []byte(fakeJavaScript), 0o755); err != nil {
		t.Fatalf("failed to write fake runtime: %v", err)
	}
	leaf := filepath.Join(dir, "corpus", "pkg", "Main")
	if err := os.MkdirAll(leaf, 0o755); err != nil {
		t.Fatalf("failed to create corpus: %v", err)
	}
	if err := os.WriteFile(filepath.Join(leaf, "pkg.Main_v1.class"), []byte("cafebabe"), 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}

	configPath := filepath.Join(dir, "matrix.yml")
	content := fmt.Sprintf(`harness:
  root: %s
  output: %s
  timeout: 10
  workers: 2
runtimes:
  "17":
    java: %s
    collectors: [SerialGC, G1GC]
`, filepath.Join(dir, "corpus"), filepath.Join(dir, "out"), java)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg, configPath
}

func TestRunDiffBench_EndToEnd(t *testing.T) {
	cfg, _ := setupRun(t)

	summary, err := runDiffBench(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if summary.Targets != 1 || summary.Cells != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Succeeded != 1 || summary.Failed != 1 {
		t.Fatalf("expected one success and one failure, got %+v", summary)
	}
	if summary.AnomaliesByOracle["collector-crash"] != 1 {
		t.Fatalf("expected one collector-crash anomaly, got %v", summary.AnomaliesByOracle)
	}

	rep, err := report.ReadReport(reportPath(cfg))
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	if rep.Summary == nil || len(rep.Targets) != 1 {
		t.Fatalf("expected a finished report with one target")
	}
	if rep.Targets[0].FQCN != "pkg.Main" || rep.Targets[0].ID != "pkg/Main" {
		t.Fatalf("unexpected target record %q %q", rep.Targets[0].FQCN, rep.Targets[0].ID)
	}

	// A finished report is left alone.
	if _, err := runDiffBench(context.Background(), cfg, ""); err != nil {
		t.Fatalf("rerun of finished report failed: %v", err)
	}
}

func TestRunDiffBench_InterruptLeavesResumableReport(t *testing.T) {
	cfg, _ := setupRun(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runDiffBench(ctx, cfg, "")
	if !errors.Is(err, executor.ErrInterrupted) {
		t.Fatalf("expected interrupt error, got %v", err)
	}
	rep, err := report.ReadReport(reportPath(cfg))
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	if rep.Summary != nil || len(rep.Targets) != 0 {
		t.Fatalf("interrupted run must not record targets or a summary")
	}

	summary, err := runDiffBench(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if summary.Targets != 1 {
		t.Fatalf("expected resumed run to record the target, got %+v", summary)
	}
}

func TestAnalyzeCommand(t *testing.T) {
	cfg, _ := setupRun(t)
	if _, err := runDiffBench(context.Background(), cfg, ""); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"analyze", "--report", reportPath(cfg), "--oracles", "collector_crash"})
	if err := root.Execute(); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], `"oracle":"collector-crash"`) {
		t.Fatalf("unexpected analyze output %q", out.String())
	}
}

func TestValidateCommand(t *testing.T) {
	_, configPath := setupRun(t)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"validate", "--config", configPath})
	if err := root.Execute(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out.String(), "17\tG1GC\t-XX:+UseG1GC") {
		t.Fatalf("matrix not listed: %q", out.String())
	}
}

func TestNormalizeOracleNames(t *testing.T) {
	got, err := normalizeOracleNames([]string{"exit_divergence", "GC-Overhead"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0] != "exit-divergence" || got[1] != "gc-overhead" {
		t.Fatalf("got %v", got)
	}
	if _, err := normalizeOracleNames([]string{"nope"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("boom"), exitFailure},
		{fmt.Errorf("wrapped: %w", &report.IOError{Op: "write", Path: "r", Err: errors.New("disk full")}), exitReportIO},
		{fmt.Errorf("%w: x", config.ErrInvalidConfig), exitConfig},
	}
	for _, tc := range cases {
		if got := ExitCode(tc.err); got != tc.want {
			t.Fatalf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestNewCPUAllocator_FromConfiguredCPUSet(t *testing.T) {
	allocator, err := newCPUAllocator(config.HarnessConfig{CPUSet: "0-3,8", CPUsPerCell: 2})
	if err != nil {
		t.Fatalf("newCPUAllocator: %v", err)
	}
	if allocator.Capacity() != 2 {
		t.Fatalf("expected capacity 2, got %d", allocator.Capacity())
	}

	if _, err := newCPUAllocator(config.HarnessConfig{CPUSet: "4", CPUsPerCell: 2}); err == nil {
		t.Fatalf("expected error for a pool smaller than one cell")
	}
	if _, err := newCPUAllocator(config.HarnessConfig{CPUSet: "x", CPUsPerCell: 1}); err == nil {
		t.Fatalf("expected error for a malformed cpuset")
	}
}
