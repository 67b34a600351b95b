package report

import (
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gc-diffbench/internal/executor"
	"gc-diffbench/internal/gclog"
	"gc-diffbench/internal/oracle"
	"gc-diffbench/internal/target"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() Header {
	return Header{RunID: "run-1", StartedAt: time.Unix(0, 0).UTC(), MatrixChecksum: "abc123", Harness: "test"}
}

func testRecord(id string, outcomes ...executor.Outcome) *TargetRecord {
	t := target.Target{Package: []string{"pkg"}, ClassName: id, Dir: "/corpus/pkg/" + id}
	var cells []*executor.Cell
	collectors := []gclog.CollectorType{gclog.SerialGC, gclog.G1GC, gclog.ZGC, gclog.EpsilonGC}
	for i, o := range outcomes {
		cells = append(cells, &executor.Cell{
			Target:      t.FQCN(),
			Artifact:    id + ".class",
			Environment: executor.Environment{RuntimeVersion: "17", Collector: collectors[i%len(collectors)]},
			Outcome:     o,
			WallClock:   1500 * time.Millisecond,
		})
	}
	anomalies := []oracle.Anomaly{{Target: t.FQCN(), Oracle: "collector-crash", Severity: oracle.SeverityHigh, Message: "crash"}}
	return NewTargetRecord(id, t, cells, nil, anomalies, nil, 8, false)
}

func TestAggregator_AppendAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.jsonl")
	agg, err := Open(path, testHeader())
	require.NoError(t, err)

	require.NoError(t, agg.Append(testRecord("A", executor.Completed{ExitCode: 0}, executor.Completed{ExitCode: 1})))
	require.NoError(t, agg.Append(testRecord("B", executor.TimedOut{}, executor.SpawnFailed{Reason: "x"})))
	assert.True(t, agg.Completed("A"))
	assert.False(t, agg.Completed("C"))

	summary, err := agg.Close()
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Targets)
	assert.Equal(t, 4, summary.Cells)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.TimedOut)
	assert.Equal(t, 1, summary.SpawnErrors)
	assert.Equal(t, 2, summary.Anomalies)
	assert.Equal(t, map[string]int{"collector-crash": 2}, summary.AnomaliesByOracle)
	assert.InDelta(t, 25.0, summary.SuccessRate, 1e-9)

	rep, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", rep.Header.RunID)
	require.Len(t, rep.Targets, 2)
	require.NotNil(t, rep.Summary)
	assert.Equal(t, 4, rep.Summary.Cells)
	assert.Equal(t, TestSummary{Total: 2, Successful: 1, Failed: 1, SuccessRate: 50}, rep.Targets[0].TestSummary)
}

func TestAggregator_EveryCellFailedStillWritesSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.jsonl")
	agg, err := Open(path, testHeader())
	require.NoError(t, err)
	require.NoError(t, agg.Append(testRecord("A", executor.SpawnFailed{Reason: "no java"})))

	summary, err := agg.Close()
	require.NoError(t, err)
	assert.Equal(t, 0.0, summary.SuccessRate)

	rep, err := ReadReport(path)
	require.NoError(t, err)
	require.NotNil(t, rep.Summary)
}

func TestAggregator_ResumeSkipsCompletedAndDropsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.jsonl")
	agg, err := Open(path, testHeader())
	require.NoError(t, err)
	require.NoError(t, agg.Append(testRecord("A", executor.Completed{ExitCode: 0})))
	require.NoError(t, agg.Abort())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"kind":"target","id":"B","cel`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	header := testHeader()
	header.RunID = "run-2"
	agg, err = Open(path, header)
	require.NoError(t, err)
	assert.Equal(t, "run-1", agg.Header().RunID)
	assert.True(t, agg.Completed("A"))
	assert.False(t, agg.Completed("B"))
	assert.Equal(t, 1, agg.Summary().Targets)

	require.NoError(t, agg.Append(testRecord("B", executor.Completed{ExitCode: 0})))
	summary, err := agg.Close()
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Targets)

	rep, err := ReadReport(path)
	require.NoError(t, err)
	require.Len(t, rep.Targets, 2)
	assert.Equal(t, "B", rep.Targets[1].ID)
}

func TestAggregator_FinishedRunIsNotResumed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.jsonl")
	agg, err := Open(path, testHeader())
	require.NoError(t, err)
	_, err = agg.Close()
	require.NoError(t, err)

	_, err = Open(path, testHeader())
	assert.ErrorIs(t, err, ErrRunComplete)
}

func TestAggregator_ChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.jsonl")
	agg, err := Open(path, testHeader())
	require.NoError(t, err)
	require.NoError(t, agg.Abort())

	header := testHeader()
	header.MatrixChecksum = "ffffff"
	_, err = Open(path, header)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestAggregator_WriteFailureIsIOError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.jsonl")
	agg, err := Open(path, testHeader())
	require.NoError(t, err)
	require.NoError(t, agg.file.Close())

	err = agg.Append(testRecord("A", executor.Completed{}))
	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr), "got %v", err)
	assert.Equal(t, "write", ioErr.Op)
}

func TestAggregator_OpenFailureIsIOError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := Open(filepath.Join(blocker, "report.jsonl"), testHeader())
	var ioErr *IOError
	assert.True(t, errors.As(err, &ioErr), "got %v", err)
}

func TestNewCellRecord_TruncatesAndRoundTrips(t *testing.T) {
	m := gclog.NewCollectorMetrics(gclog.G1GC)
	m.TotalEventCount = 2
	cell := &executor.Cell{
		Artifact:    "Foo.class",
		Environment: executor.Environment{RuntimeVersion: "21", Collector: gclog.G1GC, CollectorFlags: []string{"-XX:+UseG1GC"}},
		Outcome:     executor.Completed{ExitCode: 3, Stdout: "héllo wörld", Stderr: "short"},
		WallClock:   2 * time.Second,
	}

	rec := NewCellRecord(cell, &m, 5, false)
	assert.Equal(t, "héllo", rec.Stdout)
	assert.Equal(t, "short", rec.Stderr)
	assert.True(t, rec.OutputTruncated)
	assert.Equal(t, int64(2000), rec.WallClockMillis)
	require.NotNil(t, rec.ExitCode)
	assert.Equal(t, 3, *rec.ExitCode)

	back := rec.Cell("Foo")
	assert.Equal(t, cell.Key(), back.Key())
	code, ok := back.ExitCode()
	assert.True(t, ok)
	assert.Equal(t, 3, code)
}

func TestTargetID(t *testing.T) {
	tg := target.Target{Package: []string{"a", "b"}, ClassName: "C", Dir: "/corpus/a.b/C"}
	assert.Equal(t, "a.b/C", TargetID("/corpus", tg))
}

func TestWriteArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.jsonl")
	agg, err := Open(path, testHeader())
	require.NoError(t, err)
	_, err = agg.Close()
	require.NoError(t, err)

	archive, err := WriteArchive(path)
	require.NoError(t, err)
	assert.Equal(t, path+".gz", archive)

	f, err := os.Open(archive)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)

	original, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, data)
	assert.True(t, strings.HasPrefix(string(data), `{"kind":"header"`))

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp.*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
