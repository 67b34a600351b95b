// Package cpuallocator pins concurrently running cells to disjoint physical
// cores so that one cell's collector threads do not steal cycles from
// another's.
package cpuallocator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gc-diffbench/internal/logging"

	"github.com/sirupsen/logrus"
)

// Allocator hands out fixed-size CPU sets. Hyperthread siblings are never
// part of the pool.
type Allocator struct {
	order   []int
	perCell int
	logger  *logrus.Logger

	mu         sync.Mutex
	next       int
	assigned   map[int][]int // owner -> cpuIDs
	reservedBy map[int]int   // cpuID -> owner
}

// NewAllocator builds a pool over cpus. Each Acquire takes perCell of them.
func NewAllocator(cpus []int, perCell int) (*Allocator, error) {
	if perCell <= 0 {
		return nil, fmt.Errorf("cpus per cell must be >= 1")
	}
	order := uniqueSorted(cpus)
	if len(order) < perCell {
		return nil, fmt.Errorf("insufficient cores: %d available, %d per cell", len(order), perCell)
	}
	return &Allocator{
		order:      order,
		perCell:    perCell,
		logger:     logging.GetLogger(),
		assigned:   make(map[int][]int),
		reservedBy: make(map[int]int),
	}, nil
}

// Capacity is the number of cells that can be pinned at the same time.
func (a *Allocator) Capacity() int {
	return len(a.order) / a.perCell
}

// Acquire reserves a CPU set. The returned release function must be called
// once the cell has finished.
func (a *Allocator) Acquire() ([]int, func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	picked := make([]int, 0, a.perCell)
	for _, cpu := range a.order {
		if _, used := a.reservedBy[cpu]; used {
			continue
		}
		picked = append(picked, cpu)
		if len(picked) == a.perCell {
			break
		}
	}
	if len(picked) != a.perCell {
		return nil, nil, fmt.Errorf("insufficient physical cores: requested %d", a.perCell)
	}

	owner := a.next
	a.next++
	for _, cpu := range picked {
		a.reservedBy[cpu] = owner
	}
	a.assigned[owner] = picked

	a.logger.WithFields(logrus.Fields{
		"cpuset": FormatCPUSpec(picked),
		"owner":  owner,
	}).Trace("Assigned CPU cores")

	var once sync.Once
	release := func() {
		once.Do(func() { a.release(owner) })
	}
	return append([]int(nil), picked...), release, nil
}

func (a *Allocator) release(owner int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, cpu := range a.assigned[owner] {
		if a.reservedBy[cpu] == owner {
			delete(a.reservedBy, cpu)
		}
	}
	delete(a.assigned, owner)
}

// Snapshot returns a copy of all current assignments.
func (a *Allocator) Snapshot() map[int][]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int][]int, len(a.assigned))
	for k, v := range a.assigned {
		out[k] = append([]int(nil), v...)
	}
	return out
}

// PhysicalCPUs lists one logical CPU per physical core, read from the sysfs
// topology under root (normally "/sys"). The lowest sibling represents its
// core.
func PhysicalCPUs(root string) ([]int, error) {
	pattern := filepath.Join(root, "devices", "system", "cpu", "cpu[0-9]*", "topology", "thread_siblings_list")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no cpu topology under %s", root)
	}

	seen := make(map[int]bool)
	var cpus []int
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read cpu topology: %w", err)
		}
		siblings, err := ParseCPUSpec(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		first := uniqueSorted(siblings)[0]
		if !seen[first] {
			seen[first] = true
			cpus = append(cpus, first)
		}
	}
	sort.Ints(cpus)
	return cpus, nil
}

// ParseCPUSpec parses cpuset strings like "0", "0,2,4" or "0-3". Duplicates
// are dropped; first-seen order is kept.
func ParseCPUSpec(spec string) ([]int, error) {
	var cpus []int
	seen := make(map[int]bool)
	add := func(cpu int) {
		if !seen[cpu] {
			seen[cpu] = true
			cpus = append(cpus, cpu)
		}
	}

	for _, field := range strings.Split(spec, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(field, "-")
		first, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid cpu %q in %q", lo, spec)
		}
		last := first
		if isRange {
			last, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("invalid cpu range %q in %q", field, spec)
			}
			if first > last {
				return nil, fmt.Errorf("invalid cpu range %q: start > end", field)
			}
		}
		for cpu := first; cpu <= last; cpu++ {
			add(cpu)
		}
	}

	if len(cpus) == 0 {
		return nil, fmt.Errorf("no CPUs specified")
	}
	return cpus, nil
}

// FormatCPUSpec renders CPUs in canonical cpuset form, collapsing runs:
// [0 1 2 5] -> "0-2,5".
func FormatCPUSpec(cpus []int) string {
	sorted := uniqueSorted(cpus)
	var parts []string
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1] == sorted[j]+1 {
			j++
		}
		if j == i {
			parts = append(parts, strconv.Itoa(sorted[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", sorted[i], sorted[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}

func uniqueSorted(vals []int) []int {
	cp := append([]int(nil), vals...)
	sort.Ints(cp)
	out := make([]int, 0, len(cp))
	for i, v := range cp {
		if i > 0 && cp[i-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}
