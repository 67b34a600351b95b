package config

import (
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"gc-diffbench/internal/gclog"
)

type Config struct {
	Harness  HarnessConfig             `yaml:"harness"`
	Runtimes map[string]*RuntimeConfig `yaml:"runtimes" validate:"required,min=1,dive,required"`
	Profiles []ProfileConfig           `yaml:"profiles" validate:"dive"`
	Oracles  OracleConfig              `yaml:"oracles"`
	InfluxDB InfluxDBConfig            `yaml:"influxdb"`
}

type HarnessConfig struct {
	Name              string   `yaml:"name"`
	Root              string   `yaml:"root"`
	Output            string   `yaml:"output"`
	Report            string   `yaml:"report"`
	Timeout           int      `yaml:"timeout" validate:"gte=0"`
	Workers           int      `yaml:"workers" validate:"gte=0"`
	KeepGCLogs        bool     `yaml:"keep_gc_logs"`
	GCLogging         *bool    `yaml:"gc_logging"`
	Spawner           string   `yaml:"spawner" validate:"omitempty,oneof=process docker"`
	AuxClasspath      []string `yaml:"aux_classpath"`
	Skipclass         string   `yaml:"skipclass"`
	Testcases         string   `yaml:"testcases"`
	Delimiters        []string `yaml:"delimiters"`
	SkipDirSuffixes   []string `yaml:"skip_dir_suffixes"`
	ArtifactExt       string   `yaml:"artifact_ext"`
	MaxOutputBytes    int      `yaml:"max_output_bytes" validate:"gte=0"`
	ReportOutputChars int      `yaml:"report_output_chars" validate:"gte=0"`
	IgnoreFailures    []string `yaml:"ignore_failures"`
	HardwareCounters  bool     `yaml:"hardware_counters"`
	CPUsPerCell       int      `yaml:"cpus_per_cell" validate:"gte=0"`
	CPUSet            string   `yaml:"cpuset"`
	MetricsTextfile   string   `yaml:"metrics_textfile"`
	Archive           bool     `yaml:"archive"`
}

type RuntimeConfig struct {
	Java           string              `yaml:"java"`
	Image          string              `yaml:"image"`
	Classpath      []string            `yaml:"classpath"`
	ExtraClasspath []string            `yaml:"extra_classpath"`
	Collectors     []string            `yaml:"collectors" validate:"required,min=1,dive,required"`
	Flags          map[string][]string `yaml:"flags"`
	JVMArgs        []string            `yaml:"jvm_args"`
}

// ProfileConfig adds classpath entries and arguments to targets whose fully
// qualified name starts with Match.
type ProfileConfig struct {
	Match          string   `yaml:"match" validate:"required"`
	ExtraClasspath []string `yaml:"extra_classpath"`
	JVMArgs        []string `yaml:"jvm_args"`
	Args           []string `yaml:"args"`
}

type OracleConfig struct {
	Enabled         []string           `yaml:"enabled"`
	PerfRatio       float64            `yaml:"perf_ratio" validate:"gte=0"`
	MinPauseMs      float64            `yaml:"min_pause_ms" validate:"gte=0"`
	MinHeapMB       float64            `yaml:"min_heap_mb" validate:"gte=0"`
	STWThresholdsMs map[string]float64 `yaml:"stw_thresholds_ms"`
	STWMinEvents    int                `yaml:"stw_min_events" validate:"gte=0"`
	OverheadRatio   float64            `yaml:"overhead_ratio" validate:"gte=0"`
	// DurationRatios are per-collector multiples of the fastest cell on the
	// same runtime that a cell's wall clock may reach.
	DurationRatios      map[string]float64 `yaml:"duration_ratios"`
	DurationMedianRatio float64            `yaml:"duration_median_ratio" validate:"gte=0"`
	VersionRatio        float64            `yaml:"version_ratio" validate:"gte=0"`
}

type InfluxDBConfig struct {
	Host   string `yaml:"host"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

func (i InfluxDBConfig) Enabled() bool {
	return i.Host != ""
}

// MatrixEntry is one (runtime, collector) pair with its resolved flags.
type MatrixEntry struct {
	Runtime   string
	Collector gclog.CollectorType
	Flags     []string
}

func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Harness.Timeout) * time.Second
}

func (c *Config) GCLoggingEnabled() bool {
	return c.Harness.GCLogging == nil || *c.Harness.GCLogging
}

// GetRuntimeVersions returns the declared versions in numeric order.
func (c *Config) GetRuntimeVersions() []string {
	versions := make([]string, 0, len(c.Runtimes))
	for v := range c.Runtimes {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool {
		return VersionLess(versions[i], versions[j])
	})
	return versions
}

// Matrix expands the declared availability into ordered cells. Pairs a runtime
// does not declare are simply absent.
func (c *Config) Matrix() []MatrixEntry {
	var entries []MatrixEntry
	for _, version := range c.GetRuntimeVersions() {
		rt := c.Runtimes[version]
		for _, name := range rt.Collectors {
			collector := gclog.CollectorType(name)
			flags, ok := rt.Flags[name]
			if !ok {
				flags = DefaultCollectorFlags(version, collector)
			}
			entries = append(entries, MatrixEntry{
				Runtime:   version,
				Collector: collector,
				Flags:     append([]string(nil), flags...),
			})
		}
	}
	return entries
}

// ProfileFor merges every profile whose prefix matches the identity, in
// declaration order.
func (c *Config) ProfileFor(fqcn string) ProfileConfig {
	var merged ProfileConfig
	for _, p := range c.Profiles {
		if !strings.HasPrefix(fqcn, p.Match) {
			continue
		}
		merged.Match = p.Match
		merged.ExtraClasspath = append(merged.ExtraClasspath, p.ExtraClasspath...)
		merged.JVMArgs = append(merged.JVMArgs, p.JVMArgs...)
		merged.Args = append(merged.Args, p.Args...)
	}
	return merged
}

func (c *Config) IgnoresFailuresOf(collector gclog.CollectorType) bool {
	for _, name := range c.Harness.IgnoreFailures {
		if gclog.CollectorType(name) == collector {
			return true
		}
	}
	return false
}

func applyDefaults(c *Config) {
	h := &c.Harness
	if h.Name == "" {
		h.Name = "gc-diffbench"
	}
	if h.Timeout == 0 {
		h.Timeout = DefaultTimeoutSeconds
	}
	if h.Workers == 0 {
		h.Workers = runtime.NumCPU() / 2
		if h.Workers < 1 {
			h.Workers = 1
		}
	}
	if h.Spawner == "" {
		h.Spawner = "process"
	}
	if h.Output == "" {
		h.Output = "output"
	}
	if h.Delimiters == nil {
		h.Delimiters = []string{"_", "@"}
	}
	if h.SkipDirSuffixes == nil {
		h.SkipDirSuffixes = []string{"@"}
	}
	if h.ArtifactExt == "" {
		h.ArtifactExt = ".class"
	}
	if h.MaxOutputBytes == 0 {
		h.MaxOutputBytes = 1 << 20
	}
	if h.ReportOutputChars == 0 {
		h.ReportOutputChars = 1024
	}
	if h.IgnoreFailures == nil {
		h.IgnoreFailures = []string{string(gclog.EpsilonGC)}
	}

	c.Oracles.applyDefaults()
}

// DefaultOracleConfig returns the oracle settings used when a config leaves
// them unset.
func DefaultOracleConfig() OracleConfig {
	var o OracleConfig
	o.applyDefaults()
	return o
}

func (o *OracleConfig) applyDefaults() {
	if o.PerfRatio == 0 {
		o.PerfRatio = 2.0
	}
	if o.MinPauseMs == 0 {
		o.MinPauseMs = 1.0
	}
	if o.MinHeapMB == 0 {
		o.MinHeapMB = 1.0
	}
	if o.STWMinEvents == 0 {
		o.STWMinEvents = 10
	}
	if o.OverheadRatio == 0 {
		o.OverheadRatio = 3.0
	}
	if o.STWThresholdsMs == nil {
		o.STWThresholdsMs = map[string]float64{}
	}
	for name, ms := range DefaultSTWThresholdsMs {
		if _, ok := o.STWThresholdsMs[string(name)]; !ok {
			o.STWThresholdsMs[string(name)] = ms
		}
	}
	if o.DurationMedianRatio == 0 {
		o.DurationMedianRatio = 3.0
	}
	if o.VersionRatio == 0 {
		o.VersionRatio = 3.0
	}
	if o.DurationRatios == nil {
		o.DurationRatios = map[string]float64{}
	}
	for name, ratio := range DefaultDurationRatios {
		if _, ok := o.DurationRatios[string(name)]; !ok {
			o.DurationRatios[string(name)] = ratio
		}
	}
}

// VersionLess orders "8" < "11" < "17.0.2"; non-numeric parts fall back to
// string order.
func VersionLess(a, b string) bool {
	ap := strings.Split(a, ".")
	bp := strings.Split(b, ".")
	for i := 0; i < len(ap) && i < len(bp); i++ {
		ai, aerr := strconv.Atoi(ap[i])
		bi, berr := strconv.Atoi(bp[i])
		if aerr != nil || berr != nil {
			if ap[i] != bp[i] {
				return ap[i] < bp[i]
			}
			continue
		}
		if ai != bi {
			return ai < bi
		}
	}
	return len(ap) < len(bp)
}
