// Package gclog folds collector telemetry logs into CollectorMetrics.
//
// Each collector family contributes one LineParser selected from a Registry by
// collector type. When the type is unknown the opening lines of the log are
// sniffed against every registered grammar in order.
package gclog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

type CollectorType string

const (
	SerialGC      CollectorType = "SerialGC"
	ParallelGC    CollectorType = "ParallelGC"
	ParallelOldGC CollectorType = "ParallelOldGC"
	G1GC          CollectorType = "G1GC"
	ZGC           CollectorType = "ZGC"
	ShenandoahGC  CollectorType = "ShenandoahGC"
	EpsilonGC     CollectorType = "EpsilonGC"

	// Unknown is used when neither the name nor the content identify the log.
	Unknown CollectorType = "Unknown"
)

// sniffWindow is how many opening lines are buffered for content sniffing.
const sniffWindow = 64

// LineParser consumes one log line and reports whether it was recognized.
type LineParser interface {
	RecognizeLine(line string) bool
}

// Factory binds a fresh parser to an accumulator.
type Factory func(acc *Accumulator) LineParser

// Grammar is one registry entry.
type Grammar struct {
	Collector CollectorType
	New       Factory
	// Banner matches the startup line the collector prints, e.g. "Using G1".
	Banner *regexp.Regexp
	// Signature matches event or heap lines only this family prints. It is
	// tried when no banner is in the sniffing window.
	Signature *regexp.Regexp
	// Sniff excludes aliases from content sniffing.
	Sniff bool
}

// Registry maps collector types to grammars. It is built once and only read.
type Registry struct {
	byType map[CollectorType]Grammar
	order  []Grammar
}

func NewRegistry(grammars ...Grammar) (*Registry, error) {
	r := &Registry{byType: make(map[CollectorType]Grammar, len(grammars))}
	for _, g := range grammars {
		if g.New == nil {
			return nil, fmt.Errorf("grammar %s has no parser factory", g.Collector)
		}
		if _, dup := r.byType[g.Collector]; dup {
			return nil, fmt.Errorf("grammar %s registered twice", g.Collector)
		}
		r.byType[g.Collector] = g
		if g.Sniff {
			r.order = append(r.order, g)
		}
	}
	return r, nil
}

var defaultRegistry = mustDefaultRegistry()

func mustDefaultRegistry() *Registry {
	r, err := NewRegistry(
		Grammar{
			Collector: SerialGC, New: newSerialParser, Sniff: true,
			Banner:    regexp.MustCompile(`Using Serial`),
			Signature: regexp.MustCompile(`\bDefNew\b|\bTenured\b`),
		},
		Grammar{
			Collector: ParallelGC, New: newParallelParser, Sniff: true,
			Banner:    regexp.MustCompile(`Using Parallel`),
			Signature: regexp.MustCompile(`PSYoungGen|ParOldGen|PSOldGen|Pause Old\b|Pause Full \(Ergonomics\)`),
		},
		Grammar{Collector: ParallelOldGC, New: newParallelParser},
		Grammar{
			Collector: G1GC, New: newG1Parser, Sniff: true,
			Banner:    regexp.MustCompile(`Using G1`),
			Signature: regexp.MustCompile(`G1 Evacuation Pause|G1 Humongous|Pause Young \((?:Normal|Mixed|Concurrent Start|Prepare Mixed)\)|Pause Remark|Pause Cleanup`),
		},
		Grammar{
			Collector: ZGC, New: newZGCParser, Sniff: true,
			Banner:    regexp.MustCompile(`(?:Using|Initializing) The Z Garbage Collector`),
			Signature: regexp.MustCompile(`Pause Mark (?:Start|End)|Pause Relocate Start|Garbage Collection \(`),
		},
		Grammar{
			Collector: ShenandoahGC, New: newShenandoahParser, Sniff: true,
			Banner:    regexp.MustCompile(`Using Shenandoah`),
			Signature: regexp.MustCompile(`Pause (?:Init|Final) (?:Mark|Update Refs)|Concurrent evacuation`),
		},
		Grammar{
			Collector: EpsilonGC, New: newEpsilonParser, Sniff: true,
			Banner: regexp.MustCompile(`Using Epsilon|Resizeable heap; starting at`),
		},
		Grammar{Collector: Unknown, New: newGenericParser},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultRegistry returns the registry of built-in collector grammars.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Known reports whether the collector has a registered grammar.
func (r *Registry) Known(collector CollectorType) bool {
	_, ok := r.byType[collector]
	return ok && collector != Unknown
}

// Collectors lists the sniffable collector types in sniffing order.
func (r *Registry) Collectors() []CollectorType {
	out := make([]CollectorType, 0, len(r.order))
	for _, g := range r.order {
		out = append(out, g.Collector)
	}
	return out
}

// LogFileName is the naming convention used for dispatch: {runtime}-{collector}.log.
func LogFileName(runtimeVersion string, collector CollectorType) string {
	return fmt.Sprintf("%s-%s.log", runtimeVersion, collector)
}

// CollectorFromFileName extracts the collector part of a
// {runtime}-{collector}.log name. It returns "" when the name does not follow
// the convention.
func CollectorFromFileName(path string) CollectorType {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	i := strings.LastIndex(base, "-")
	if i < 0 || i == len(base)-1 {
		return ""
	}
	return CollectorType(base[i+1:])
}

// Parse folds the log at path using the package's default registry.
func Parse(path string, declared CollectorType) (CollectorMetrics, error) {
	return defaultRegistry.Parse(path, declared)
}

// Parse folds the log at path. The declared type wins when it is registered,
// then the file name convention, then content sniffing.
func (r *Registry) Parse(path string, declared CollectorType) (CollectorMetrics, error) {
	f, err := os.Open(path)
	if err != nil {
		return CollectorMetrics{}, fmt.Errorf("failed to open collector log: %w", err)
	}
	defer f.Close()

	if !r.Known(declared) {
		declared = CollectorFromFileName(path)
	}
	return r.ParseReader(f, declared)
}

// ParseReader folds a log stream in a single pass. Only the sniffing window
// is ever buffered.
func (r *Registry) ParseReader(rd io.Reader, declared CollectorType) (CollectorMetrics, error) {
	reader := bufio.NewReader(rd)

	var pending []string
	grammar, ok := r.byType[declared]
	if !ok || declared == Unknown {
		var err error
		pending, err = readLines(reader, sniffWindow)
		if err != nil {
			return CollectorMetrics{}, err
		}
		grammar = r.sniff(pending)
	}

	acc := NewAccumulator(grammar.Collector)
	parser := grammar.New(acc)
	for _, line := range pending {
		parser.RecognizeLine(line)
	}

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			parser.RecognizeLine(strings.TrimRight(line, "\r\n"))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return CollectorMetrics{}, fmt.Errorf("failed to read collector log: %w", err)
		}
	}
	return acc.Metrics(), nil
}

// sniff picks a grammar for the opening lines: first by startup banner, then
// by family signature, then by the first grammar that consumes any line.
func (r *Registry) sniff(lines []string) Grammar {
	if g, ok := r.firstMatch(lines, func(g Grammar) *regexp.Regexp { return g.Banner }); ok {
		return g
	}
	if g, ok := r.firstMatch(lines, func(g Grammar) *regexp.Regexp { return g.Signature }); ok {
		return g
	}
	for _, g := range r.order {
		candidate := g.New(NewAccumulator(g.Collector))
		for _, line := range lines {
			if candidate.RecognizeLine(line) {
				return g
			}
		}
	}
	return r.byType[Unknown]
}

func (r *Registry) firstMatch(lines []string, pattern func(Grammar) *regexp.Regexp) (Grammar, bool) {
	for _, g := range r.order {
		re := pattern(g)
		if re == nil {
			continue
		}
		for _, line := range lines {
			if re.MatchString(line) {
				return g, true
			}
		}
	}
	return Grammar{}, false
}

func readLines(reader *bufio.Reader, limit int) ([]string, error) {
	lines := make([]string, 0, limit)
	for len(lines) < limit {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			lines = append(lines, strings.TrimRight(line, "\r\n"))
		}
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read collector log: %w", err)
		}
	}
	return lines, nil
}
