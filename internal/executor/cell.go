package executor

import (
	"time"

	"gc-diffbench/internal/collectors"
	"gc-diffbench/internal/config"
	"gc-diffbench/internal/gclog"
)

// Environment is one (runtime version, collector) cell of the matrix with
// everything needed to launch it.
type Environment struct {
	RuntimeVersion   string
	Collector        gclog.CollectorType
	CollectorFlags   []string
	Java             string
	Image            string
	RuntimeClasspath []string
	ExtraClasspath   []string
	JVMArgs          []string
}

func (e Environment) Name() string {
	return e.RuntimeVersion + "-" + string(e.Collector)
}

// EnvironmentsFromConfig expands the configured matrix in runtime order.
func EnvironmentsFromConfig(cfg *config.Config) []Environment {
	var envs []Environment
	for _, entry := range cfg.Matrix() {
		rt := cfg.Runtimes[entry.Runtime]
		java := rt.Java
		if java == "" {
			java = "java"
		}
		envs = append(envs, Environment{
			RuntimeVersion:   entry.Runtime,
			Collector:        entry.Collector,
			CollectorFlags:   entry.Flags,
			Java:             java,
			Image:            rt.Image,
			RuntimeClasspath: rt.Classpath,
			ExtraClasspath:   rt.ExtraClasspath,
			JVMArgs:          rt.JVMArgs,
		})
	}
	return envs
}

type OutcomeKind string

const (
	KindCompleted  OutcomeKind = "COMPLETED"
	KindTimeout    OutcomeKind = "TIMEOUT"
	KindSpawnError OutcomeKind = "SPAWN_ERROR"
)

// Outcome is the result of one spawn: exactly one of Completed, TimedOut or
// SpawnFailed.
type Outcome interface {
	Kind() OutcomeKind
	outcome()
}

type Completed struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

type TimedOut struct {
	PartialStdout string
	PartialStderr string
}

type SpawnFailed struct {
	Reason string
}

func (Completed) Kind() OutcomeKind   { return KindCompleted }
func (TimedOut) Kind() OutcomeKind    { return KindTimeout }
func (SpawnFailed) Kind() OutcomeKind { return KindSpawnError }

func (Completed) outcome()   {}
func (TimedOut) outcome()    {}
func (SpawnFailed) outcome() {}

// CellKey identifies a cell within one target.
type CellKey struct {
	Artifact  string              `json:"artifact"`
	Runtime   string              `json:"runtime"`
	Collector gclog.CollectorType `json:"collector"`
}

func (k CellKey) String() string {
	return k.Artifact + "@" + k.Runtime + "-" + string(k.Collector)
}

// Cell is the immutable record of running one artifact under one
// environment exactly once.
type Cell struct {
	Target           string
	Artifact         string
	Environment      Environment
	Outcome          Outcome
	WallClock        time.Duration
	CollectorLogPath string
	Counters         *collectors.HardwareCounters
	// Ignored marks failures of collectors that are expected to fail.
	Ignored bool
}

func (c *Cell) Key() CellKey {
	return CellKey{Artifact: c.Artifact, Runtime: c.Environment.RuntimeVersion, Collector: c.Environment.Collector}
}

func (c *Cell) Succeeded() bool {
	done, ok := c.Outcome.(Completed)
	return ok && done.ExitCode == 0
}

// Failed is a completed run with a non-zero exit.
func (c *Cell) Failed() bool {
	done, ok := c.Outcome.(Completed)
	return ok && done.ExitCode != 0
}

func (c *Cell) TimedOut() bool {
	_, ok := c.Outcome.(TimedOut)
	return ok
}

func (c *Cell) SpawnFailed() bool {
	_, ok := c.Outcome.(SpawnFailed)
	return ok
}

// Stdout returns the captured output, partial for timeouts.
func (c *Cell) Stdout() string {
	switch o := c.Outcome.(type) {
	case Completed:
		return o.Stdout
	case TimedOut:
		return o.PartialStdout
	}
	return ""
}

func (c *Cell) Stderr() string {
	switch o := c.Outcome.(type) {
	case Completed:
		return o.Stderr
	case TimedOut:
		return o.PartialStderr
	}
	return ""
}

func (c *Cell) ExitCode() (int, bool) {
	done, ok := c.Outcome.(Completed)
	return done.ExitCode, ok
}

// Status is the classification used for divergence: success, failure,
// timeout or spawn_error.
func (c *Cell) Status() string {
	switch {
	case c.Succeeded():
		return "success"
	case c.Failed():
		return "failure"
	case c.TimedOut():
		return "timeout"
	}
	return "spawn_error"
}
