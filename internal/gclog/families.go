package gclog

import (
	"regexp"
	"strings"
)

// lineRule consumes a line that is not a pause event (heap banners, samples).
type lineRule func(acc *Accumulator, line string) bool

// familyParser is the pause-event grammar shared by the unified-logging
// collectors, specialised per family by a label classifier and extra rules.
type familyParser struct {
	acc       *Accumulator
	classify  func(label string) string
	barePause bool
	rules     []lineRule
}

func (p *familyParser) RecognizeLine(line string) bool {
	if t, ok := matchTransition(line); ok {
		p.acc.RecordEvent(p.classify(t.label), t.pause, t.before, t.after, t.capacity)
		return true
	}
	if p.barePause {
		if label, pause, ok := matchBarePause(line); ok {
			p.acc.RecordEvent(p.classify("Pause "+label), pause, 0, 0, 0)
			return true
		}
	}
	for _, rule := range p.rules {
		if rule(p.acc, line) {
			return true
		}
	}
	return false
}

func newSerialParser(acc *Accumulator) LineParser {
	return &familyParser{
		acc:       acc,
		barePause: true,
		classify: func(label string) string {
			return generationalLabel(label, false)
		},
		rules: []lineRule{maxCapacityRule},
	}
}

func newParallelParser(acc *Accumulator) LineParser {
	return &familyParser{
		acc:       acc,
		barePause: true,
		classify: func(label string) string {
			return generationalLabel(label, true)
		},
		rules: []lineRule{maxCapacityRule},
	}
}

func newG1Parser(acc *Accumulator) LineParser {
	return &familyParser{
		acc:       acc,
		barePause: true,
		classify:  g1Label,
		rules:     []lineRule{maxCapacityRule, g1HeapAddressRule},
	}
}

func newZGCParser(acc *Accumulator) LineParser {
	return &familyParser{
		acc:       acc,
		barePause: true,
		classify:  concurrentLabel,
		rules:     []lineRule{maxCapacityRule, zHeapRule, zCollectionRule},
	}
}

func newShenandoahParser(acc *Accumulator) LineParser {
	return &familyParser{
		acc:       acc,
		barePause: true,
		classify:  concurrentLabel,
		rules:     []lineRule{maxCapacityRule, shenandoahHeapRule, shenandoahConcurrentRule},
	}
}

// Epsilon never collects, so its log only carries heap figures.
func newEpsilonParser(acc *Accumulator) LineParser {
	return &familyParser{
		acc:      acc,
		classify: concurrentLabel,
		rules:    []lineRule{maxCapacityRule, epsilonStartRule, epsilonHeapRule},
	}
}

func newGenericParser(acc *Accumulator) LineParser {
	return &familyParser{
		acc:       acc,
		barePause: true,
		classify:  concurrentLabel,
		rules:     []lineRule{maxCapacityRule},
	}
}

func generationalLabel(label string, withOld bool) string {
	switch {
	case strings.Contains(label, "Full"):
		return "Full GC"
	case strings.Contains(label, "Young"):
		return "Young GC"
	case withOld && (strings.Contains(label, "Old") || strings.Contains(label, "Major")):
		return "Old GC"
	}
	return concurrentLabel(label)
}

var g1YoungRe = regexp.MustCompile(`^Young(?:\s+\(([^)]+)\))?`)

func g1Label(label string) string {
	l := strings.TrimSpace(strings.TrimPrefix(label, "Pause"))
	if strings.HasPrefix(l, "Full") {
		return "Full GC"
	}
	if m := g1YoungRe.FindStringSubmatch(l); m != nil {
		if m[1] == "" {
			return "Young GC"
		}
		return "Young GC (" + m[1] + ")"
	}
	return stripCauses(l)
}

func concurrentLabel(label string) string {
	return stripCauses(strings.TrimSpace(strings.TrimPrefix(label, "Pause")))
}

func maxCapacityRule(acc *Accumulator, line string) bool {
	mb, ok := matchMaxCapacity(line)
	if !ok {
		return false
	}
	acc.RecordHeapCapacity(mb)
	return true
}

var g1HeapAddressRe = regexp.MustCompile(`Heap address:.*size:\s*(\d+)\s*MB`)

func g1HeapAddressRule(acc *Accumulator, line string) bool {
	m := g1HeapAddressRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	mb, ok := toMegabytes(m[1], "M")
	if !ok {
		return false
	}
	acc.RecordHeapCapacity(mb)
	return true
}

var zHeapRe = regexp.MustCompile(`ZHeap\s+used\s+` + sizeExpr + `,\s+capacity\s+` + sizeExpr + `,\s+max\s+capacity\s+` + sizeExpr)

func zHeapRule(acc *Accumulator, line string) bool {
	m := zHeapRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	used, ok1 := toMegabytes(m[1], m[2])
	maxCap, ok2 := toMegabytes(m[5], m[6])
	if !ok1 || !ok2 {
		return false
	}
	acc.RecordHeapSample(used)
	acc.RecordHeapCapacity(maxCap)
	return true
}

// GC(0) Garbage Collection (Warmup) 14M(1%)->12M(1%)
var zCollectionRe = regexp.MustCompile(`GC\(\d+\)\s+(?:[YO]:\s+)?(?:Major |Minor )?(?:Garbage )?Collection\s+\(.+?\)\s+` +
	sizeExpr + `\(\d+%\)->` + sizeExpr + `\(\d+%\)`)

func zCollectionRule(acc *Accumulator, line string) bool {
	m := zCollectionRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	before, ok1 := toMegabytes(m[1], m[2])
	after, ok2 := toMegabytes(m[3], m[4])
	if !ok1 || !ok2 {
		return false
	}
	acc.RecordHeapSample(before)
	acc.RecordHeapSample(after)
	return true
}

var shenandoahHeapRe = regexp.MustCompile(sizeExpr + `\s+max,\s+` + sizeExpr + `\s+soft\s+max,\s+` +
	sizeExpr + `\s+committed,\s+` + sizeExpr + `\s+used`)

func shenandoahHeapRule(acc *Accumulator, line string) bool {
	m := shenandoahHeapRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	maxCap, ok1 := toMegabytes(m[1], m[2])
	used, ok2 := toMegabytes(m[7], m[8])
	if !ok1 || !ok2 {
		return false
	}
	acc.RecordHeapCapacity(maxCap)
	acc.RecordHeapSample(used)
	return true
}

// GC(3) Concurrent cleanup 21M->18M(24M) 0.041ms
var shenandoahConcurrentRe = regexp.MustCompile(`GC\(\d+\)\s+Concurrent\s+.+?\s+` +
	sizeExpr + `->` + sizeExpr + `\(` + sizeExpr + `\)`)

func shenandoahConcurrentRule(acc *Accumulator, line string) bool {
	m := shenandoahConcurrentRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	before, ok1 := toMegabytes(m[1], m[2])
	after, ok2 := toMegabytes(m[3], m[4])
	capacity, ok3 := toMegabytes(m[5], m[6])
	if !ok1 || !ok2 || !ok3 {
		return false
	}
	acc.RecordHeapSample(before)
	acc.RecordHeapSample(after)
	acc.RecordHeapCapacity(capacity)
	return true
}

var epsilonStartRe = regexp.MustCompile(`Resizeable heap; starting at ` + sizeExpr + `, max: ` + sizeExpr)

func epsilonStartRule(acc *Accumulator, line string) bool {
	m := epsilonStartRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	maxCap, ok := toMegabytes(m[3], m[4])
	if !ok {
		return false
	}
	acc.RecordHeapCapacity(maxCap)
	return true
}

// Heap: 4096M reserved, 256M (6.25%) committed, 102M (2.50%) used
var epsilonHeapRe = regexp.MustCompile(`Heap:\s+` + sizeExpr + `\s+reserved,\s+` + sizeExpr +
	`\s+\([^)]*\)\s+committed,\s+` + sizeExpr + `\s+\([^)]*\)\s+used`)

func epsilonHeapRule(acc *Accumulator, line string) bool {
	m := epsilonHeapRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	reserved, ok1 := toMegabytes(m[1], m[2])
	used, ok2 := toMegabytes(m[5], m[6])
	if !ok1 || !ok2 {
		return false
	}
	acc.RecordHeapCapacity(reserved)
	acc.RecordHeapSample(used)
	return true
}
