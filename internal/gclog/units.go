package gclog

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Regexp fragments shared by the unified-logging grammars. A size is a number
// followed by a B/K/M/G unit, a duration a number followed by ms/us/ns/s.
const (
	sizeExpr     = `(\d+(?:\.\d+)?)([BKMG])`
	durationExpr = `(\d+(?:\.\d+)?)(ms|us|ns|s)`
)

var (
	// GC(3) Pause Young (Normal) (G1 Evacuation Pause) 24M->3M(256M) 2.345ms
	transitionPauseRe = regexp.MustCompile(`GC\(\d+\)\s+(?:[YO]:\s+)?(Pause\s+.+?)\s+` +
		sizeExpr + `->` + sizeExpr + `\(` + sizeExpr + `\)\s+` + durationExpr + `\s*$`)

	// GC(7) Pause Init Mark (unload classes) 0.123ms
	barePauseRe = regexp.MustCompile(`GC\(\d+\)\s+(?:[YO]:\s+)?Pause\s+(.+?)\s+` + durationExpr + `\s*$`)

	// Heap Max Capacity: 4G / Max Capacity: 4096M
	maxCapacityRe = regexp.MustCompile(`Max Capacity:\s*` + sizeExpr)

	causeSuffixRe = regexp.MustCompile(`\s*\([^()]*\)\s*$`)
)

var sizeUnitMegabytes = map[string]float64{
	"B": 1.0 / (1024 * 1024),
	"K": 1.0 / 1024,
	"M": 1,
	"G": 1024,
}

var durationUnits = map[string]float64{
	"ns": float64(time.Nanosecond),
	"us": float64(time.Microsecond),
	"ms": float64(time.Millisecond),
	"s":  float64(time.Second),
}

// toMegabytes converts a captured size and unit into megabytes.
func toMegabytes(value, unit string) (float64, bool) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	factor, ok := sizeUnitMegabytes[strings.ToUpper(unit)]
	if !ok {
		return 0, false
	}
	return v * factor, true
}

// toDuration converts a captured value and unit to a Duration rounded to the
// nearest nanosecond.
func toDuration(value, unit string) (time.Duration, bool) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	factor, ok := durationUnits[unit]
	if !ok {
		return 0, false
	}
	return time.Duration(math.Round(v * factor)), true
}

// pauseTransition is one parsed "<label> <before>-><after>(<capacity>) <duration>" line.
type pauseTransition struct {
	label    string
	before   float64
	after    float64
	capacity float64
	pause    time.Duration
}

func matchTransition(line string) (pauseTransition, bool) {
	m := transitionPauseRe.FindStringSubmatch(line)
	if m == nil {
		return pauseTransition{}, false
	}
	before, ok1 := toMegabytes(m[2], m[3])
	after, ok2 := toMegabytes(m[4], m[5])
	capacity, ok3 := toMegabytes(m[6], m[7])
	pause, ok4 := toDuration(m[8], m[9])
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return pauseTransition{}, false
	}
	return pauseTransition{
		label:    strings.TrimSpace(m[1]),
		before:   before,
		after:    after,
		capacity: capacity,
		pause:    pause,
	}, true
}

// matchBarePause matches a pause line without a heap transition and returns
// the label after "Pause".
func matchBarePause(line string) (string, time.Duration, bool) {
	m := barePauseRe.FindStringSubmatch(line)
	if m == nil {
		return "", 0, false
	}
	pause, ok := toDuration(m[2], m[3])
	if !ok {
		return "", 0, false
	}
	return strings.TrimSpace(m[1]), pause, true
}

func matchMaxCapacity(line string) (float64, bool) {
	m := maxCapacityRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	return toMegabytes(m[1], m[2])
}

// stripCauses removes trailing parenthesised causes:
// "Init Mark (unload classes)" -> "Init Mark".
func stripCauses(label string) string {
	for {
		trimmed := causeSuffixRe.ReplaceAllString(label, "")
		if trimmed == label || trimmed == "" {
			return label
		}
		label = trimmed
	}
}
