package target

import (
	"bufio"
	"fmt"
	"iter"
	"os"
	"strings"
)

// Filter applies the skipclass and testcases lists. A nil include set admits
// every identity that is not excluded.
type Filter struct {
	include map[string]bool
	exclude map[string]bool
}

func NewFilter(include, exclude []string) *Filter {
	f := &Filter{exclude: make(map[string]bool, len(exclude))}
	if include != nil {
		f.include = make(map[string]bool, len(include))
		for _, id := range include {
			f.include[id] = true
		}
	}
	for _, id := range exclude {
		f.exclude[id] = true
	}
	return f
}

// LoadFilter reads the optional testcases (include) and skipclass (exclude)
// files. An empty path disables that list.
func LoadFilter(testcasesPath, skipclassPath string) (*Filter, error) {
	var include, exclude []string
	var err error
	if testcasesPath != "" {
		if include, err = ReadIdentityList(testcasesPath); err != nil {
			return nil, err
		}
		if include == nil {
			include = []string{}
		}
	}
	if skipclassPath != "" {
		if exclude, err = ReadIdentityList(skipclassPath); err != nil {
			return nil, err
		}
	}
	return NewFilter(include, exclude), nil
}

// ReadIdentityList reads one fully qualified class name per line. Blank lines
// and lines starting with '#' are ignored.
func ReadIdentityList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity list: %w", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read identity list %s: %w", path, err)
	}
	return ids, nil
}

func (f *Filter) Allow(fqcn string) bool {
	if f == nil {
		return true
	}
	if f.exclude[fqcn] {
		return false
	}
	return f.include == nil || f.include[fqcn]
}

// Apply drops targets the filter rejects. Errors pass through untouched.
func (f *Filter) Apply(seq iter.Seq2[Target, error]) iter.Seq2[Target, error] {
	return func(yield func(Target, error) bool) {
		for t, err := range seq {
			if err == nil && !f.Allow(t.FQCN()) {
				continue
			}
			if !yield(t, err) {
				return
			}
		}
	}
}
