package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gc-diffbench/internal/gclog"
)

const sampleConfig = `
harness:
  name: nightly
  root: ${GCDIFF_TEST_ROOT}
  aux_classpath: [/opt/gcobj]
runtimes:
  "21":
    java: /usr/lib/jvm/jdk-21/bin/java
    collectors: [SerialGC, ZGC, ShenandoahGC]
  "11":
    java: /usr/lib/jvm/jdk-11/bin/java
    collectors: [SerialGC, G1GC, ShenandoahGC, EpsilonGC]
    flags:
      G1GC: ["-XX:+UseG1GC", "-XX:G1HeapRegionSize=1m"]
profiles:
  - match: org.apache.fop
    extra_classpath: [/opt/fop/lib]
    args: ["-q"]
`

func TestLoadConfig_ExpandsDefaultsAndOrdersMatrix(t *testing.T) {
	t.Setenv("GCDIFF_TEST_ROOT", "/corpus")
	path := filepath.Join(t.TempDir(), "matrix.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, raw, err := LoadConfigWithContent(path)
	if err != nil {
		t.Fatalf("LoadConfigWithContent: %v", err)
	}
	if raw != sampleConfig {
		t.Fatalf("expected raw content to be returned unexpanded")
	}
	if cfg.Harness.Root != "/corpus" {
		t.Fatalf("expected env expansion, got root %q", cfg.Harness.Root)
	}
	if cfg.GetTimeout().Seconds() != DefaultTimeoutSeconds {
		t.Fatalf("expected default timeout, got %v", cfg.GetTimeout())
	}
	if !cfg.GCLoggingEnabled() || cfg.Harness.Spawner != "process" || cfg.Harness.Workers < 1 {
		t.Fatalf("unexpected harness defaults: %+v", cfg.Harness)
	}
	if !cfg.IgnoresFailuresOf(gclog.EpsilonGC) || cfg.IgnoresFailuresOf(gclog.G1GC) {
		t.Fatalf("expected only EpsilonGC failures to be ignored by default")
	}

	matrix := cfg.Matrix()
	if len(matrix) != 7 {
		t.Fatalf("expected 7 cells, got %d", len(matrix))
	}
	if matrix[0].Runtime != "11" || matrix[4].Runtime != "21" {
		t.Fatalf("expected runtimes in numeric order, got %s then %s", matrix[0].Runtime, matrix[4].Runtime)
	}
	if !reflect.DeepEqual(matrix[1].Flags, []string{"-XX:+UseG1GC", "-XX:G1HeapRegionSize=1m"}) {
		t.Fatalf("expected G1 flag override, got %v", matrix[1].Flags)
	}
	if !reflect.DeepEqual(matrix[2].Flags, []string{"-XX:+UnlockExperimentalVMOptions", "-XX:+UseShenandoahGC"}) {
		t.Fatalf("expected experimental unlock for Shenandoah on 11, got %v", matrix[2].Flags)
	}
	if !reflect.DeepEqual(matrix[5].Flags, []string{"-XX:+UseZGC"}) {
		t.Fatalf("unexpected ZGC flags on 21: %v", matrix[5].Flags)
	}

	profile := cfg.ProfileFor("org.apache.fop.cli.Main")
	if len(profile.ExtraClasspath) != 1 || len(profile.Args) != 1 {
		t.Fatalf("expected fop profile to match, got %+v", profile)
	}
	if p := cfg.ProfileFor("com.example.Main"); p.Match != "" {
		t.Fatalf("expected no profile for unrelated target, got %+v", p)
	}
}

func TestParseConfig_Rejections(t *testing.T) {
	tests := map[string]string{
		"no runtimes": `harness: {name: x}`,
		"unknown collector": `
runtimes:
  "17": {java: /j, collectors: [MagicGC]}`,
		"missing java": `
runtimes:
  "17": {collectors: [G1GC]}`,
		"docker without image": `
harness: {spawner: docker}
runtimes:
  "17": {java: /j, collectors: [G1GC]}`,
		"flags for undeclared collector": `
runtimes:
  "17": {java: /j, collectors: [G1GC], flags: {ZGC: [-XX:+UseZGC]}}`,
		"collector outside its runtime range": `
runtimes:
  "11": {java: /j, collectors: [ZGC]}`,
		"bad spawner": `
harness: {spawner: ssh}
runtimes:
  "17": {java: /j, collectors: [G1GC]}`,
		"incomplete influx": `
runtimes:
  "17": {java: /j, collectors: [G1GC]}
influxdb: {host: http://localhost:8086}`,
	}

	for name, doc := range tests {
		if _, err := ParseConfig([]byte(doc)); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestDefaultCollectorFlags(t *testing.T) {
	tests := []struct {
		version   string
		collector gclog.CollectorType
		want      []string
	}{
		{"25", gclog.ShenandoahGC, []string{"-XX:+UseShenandoahGC", "-XX:ShenandoahGCMode=generational"}},
		{"17", gclog.ShenandoahGC, []string{"-XX:+UseShenandoahGC"}},
		{"17", gclog.ZGC, []string{"-XX:+UseZGC"}},
		{"11", gclog.ZGC, nil},
		{"1.8", gclog.ParallelOldGC, []string{"-XX:+UseParallelGC", "-XX:+UseParallelOldGC"}},
		{"11", gclog.ParallelOldGC, []string{"-XX:+UseParallelGC", "-XX:+UseParallelOldGC"}},
		{"17", gclog.ParallelOldGC, nil},
		{"21", gclog.EpsilonGC, []string{"-XX:+UnlockExperimentalVMOptions", "-XX:+UseEpsilonGC"}},
		{"21", gclog.Unknown, nil},
	}
	for _, tt := range tests {
		if got := DefaultCollectorFlags(tt.version, tt.collector); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("DefaultCollectorFlags(%s, %s) = %v, want %v", tt.version, tt.collector, got, tt.want)
		}
	}
}

func TestParseConfig_DurationDefaultsKeepOverrides(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
runtimes:
  "17": {java: /j, collectors: [G1GC, ZGC]}
oracles:
  duration_ratios: {ZGC: 8}
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	o := cfg.Oracles
	if o.DurationRatios["ZGC"] != 8 {
		t.Fatalf("expected ZGC override 8, got %v", o.DurationRatios["ZGC"])
	}
	if o.DurationRatios["G1GC"] != 15 || o.DurationRatios["EpsilonGC"] != 5 {
		t.Fatalf("unexpected duration defaults: %v", o.DurationRatios)
	}
	if o.DurationMedianRatio != 3 || o.VersionRatio != 3 {
		t.Fatalf("unexpected ratio defaults: median %v version %v", o.DurationMedianRatio, o.VersionRatio)
	}
}
