package oracle

import (
	"fmt"

	"gc-diffbench/internal/executor"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// OutputDivergence flags cells of the same artifact that exited normally but
// printed different stdout. Cells are partitioned by output and one anomaly
// is emitted per pair of partitions, carrying a unified diff between them.
// Timed-out cells never take part: their capture is incomplete.
type OutputDivergence struct {
	// Context is the number of unchanged lines around each hunk.
	Context int
}

func (OutputDivergence) Name() string { return "output-divergence" }
func (OutputDivergence) Scope() Scope { return Pairwise }

type outputClass struct {
	stdout string
	cells  []*executor.Cell
}

func (o OutputDivergence) Evaluate(in Input) ([]Anomaly, error) {
	var out []Anomaly
	order, groups := byArtifact(in.Cells)
	for _, artifact := range order {
		classes := partitionByStdout(groups[artifact])
		for i := 0; i < len(classes); i++ {
			for j := i + 1; j < len(classes); j++ {
				a, err := o.compare(classes[i], classes[j])
				if err != nil {
					return nil, err
				}
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func partitionByStdout(cells []*executor.Cell) []*outputClass {
	var classes []*outputClass
	index := make(map[string]*outputClass)
	for _, c := range cells {
		if !c.Succeeded() {
			continue
		}
		stdout := c.Stdout()
		cls, ok := index[stdout]
		if !ok {
			cls = &outputClass{stdout: stdout}
			index[stdout] = cls
			classes = append(classes, cls)
		}
		cls.cells = append(cls.cells, c)
	}
	return classes
}

func (o OutputDivergence) compare(a, b *outputClass) (Anomaly, error) {
	from, to := a.cells[0].Key().String(), b.cells[0].Key().String()
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a.stdout),
		B:        difflib.SplitLines(b.stdout),
		FromFile: from,
		ToFile:   to,
		Context:  o.context(),
	})
	if err != nil {
		return Anomaly{}, fmt.Errorf("failed to diff output of %s and %s: %w", from, to, err)
	}

	details := map[string]any{
		"diff":  text,
		"left":  keys(a.cells),
		"right": keys(b.cells),
	}
	if text != "" {
		if fd, err := diff.ParseFileDiff([]byte(text)); err == nil {
			stat := fd.Stat()
			details["lines_added"] = stat.Added
			details["lines_changed"] = stat.Changed
			details["lines_deleted"] = stat.Deleted
		}
	}

	return Anomaly{
		Evidence: evidence(append(append([]*executor.Cell(nil), a.cells...), b.cells...)...),
		Severity: SeverityHigh,
		Message:  fmt.Sprintf("stdout of %s differs from %s", to, from),
		Details:  details,
	}, nil
}

func (o OutputDivergence) context() int {
	if o.Context <= 0 {
		return 3
	}
	return o.Context
}

func keys(cells []*executor.Cell) []string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.Key().String())
	}
	return out
}
