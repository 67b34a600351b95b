// Package report persists run results as JSON Lines.
//
// A report is a header line, one line per finished target and a summary
// line. Every line is written with a single write followed by fsync, so
// after a crash the file is a valid prefix plus at most one torn line,
// which Open cuts off before resuming.
package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gc-diffbench/internal/logging"
)

var (
	// ErrRunComplete is returned when resuming a report that already ends
	// with a summary.
	ErrRunComplete = errors.New("report already has a summary")
	// ErrChecksumMismatch is returned when resuming a report written for a
	// different matrix.
	ErrChecksumMismatch = errors.New("report was written for a different matrix")
)

// IOError is a failure of the persistence layer. It is fatal for a run.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("report %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Aggregator is the single writer of a report file. It is safe for
// concurrent use.
type Aggregator struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	header    Header
	completed map[string]bool
	summary   Summary
	closed    bool
}

// Open creates the report at path, or resumes it when it already holds a
// header. Resuming requires the same matrix checksum.
func Open(path string, header Header) (*Aggregator, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &IOError{Op: "create", Path: path, Err: err}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}

	a := &Aggregator{
		path:      path,
		file:      f,
		completed: make(map[string]bool),
		summary:   Summary{Kind: KindSummary, AnomaliesByOracle: map[string]int{}},
	}

	resumed, err := a.load(header)
	if err != nil {
		f.Close()
		return nil, err
	}
	if !resumed {
		header.Kind = KindHeader
		a.header = header
		if err := a.writeLine(header); err != nil {
			f.Close()
			return nil, err
		}
		return a, nil
	}

	logging.GetLogger().WithField("report", path).
		WithField("completed_targets", len(a.completed)).
		Info("Resuming report")
	return a, nil
}

// load scans an existing report. It returns false for an empty file.
func (a *Aggregator) load(header Header) (bool, error) {
	reader := bufio.NewReader(a.file)
	var offset int64
	first := true
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			if len(line) > 0 {
				logging.GetLogger().WithField("report", a.path).
					WithField("bytes", len(line)).
					Warn("Dropping torn trailing line")
				if err := a.file.Truncate(offset); err != nil {
					return false, &IOError{Op: "truncate", Path: a.path, Err: err}
				}
			}
			break
		}
		if err != nil {
			return false, &IOError{Op: "read", Path: a.path, Err: err}
		}

		kind, err := lineKind(line)
		if err != nil {
			return false, fmt.Errorf("corrupt report %s at byte %d: %w", a.path, offset, err)
		}
		if first {
			if kind != KindHeader {
				return false, fmt.Errorf("corrupt report %s: first line is %q, not a header", a.path, kind)
			}
			if err := json.Unmarshal(line, &a.header); err != nil {
				return false, fmt.Errorf("corrupt report header: %w", err)
			}
			if a.header.MatrixChecksum != header.MatrixChecksum {
				return false, fmt.Errorf("%w: report %s, config %s", ErrChecksumMismatch, a.header.MatrixChecksum, header.MatrixChecksum)
			}
			first = false
		} else {
			switch kind {
			case KindSummary:
				return false, ErrRunComplete
			case KindTarget:
				var rec TargetRecord
				if err := json.Unmarshal(line, &rec); err != nil {
					return false, fmt.Errorf("corrupt target record at byte %d: %w", offset, err)
				}
				a.completed[rec.ID] = true
				a.summary.add(&rec)
			}
		}
		offset += int64(len(line))
	}
	return !first, nil
}

func lineKind(line []byte) (string, error) {
	var peek struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(line), &peek); err != nil {
		return "", err
	}
	return peek.Kind, nil
}

// Header returns the header in effect, the original one when resuming.
func (a *Aggregator) Header() Header {
	return a.header
}

// Completed reports whether the target was recorded by this or an earlier
// session.
func (a *Aggregator) Completed(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed[id]
}

// Append durably records one target.
func (a *Aggregator) Append(rec *TargetRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return &IOError{Op: "append", Path: a.path, Err: os.ErrClosed}
	}
	rec.Kind = KindTarget
	if err := a.writeLine(rec); err != nil {
		return err
	}
	a.completed[rec.ID] = true
	a.summary.add(rec)
	return nil
}

// Summary returns the running totals.
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.summary
	s.AnomaliesByOracle = make(map[string]int, len(a.summary.AnomaliesByOracle))
	for k, v := range a.summary.AnomaliesByOracle {
		s.AnomaliesByOracle[k] = v
	}
	return s
}

// Close writes the summary and closes the file.
func (a *Aggregator) Close() (Summary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return a.summary, nil
	}
	a.closed = true
	a.summary.FinishedAt = time.Now()
	if err := a.writeLine(a.summary); err != nil {
		a.file.Close()
		return a.summary, err
	}
	if err := a.file.Close(); err != nil {
		return a.summary, &IOError{Op: "close", Path: a.path, Err: err}
	}
	return a.summary, nil
}

// Abort closes the file without a summary so the run can be resumed.
func (a *Aggregator) Abort() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if err := a.file.Close(); err != nil {
		return &IOError{Op: "close", Path: a.path, Err: err}
	}
	return nil
}

func (a *Aggregator) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &IOError{Op: "encode", Path: a.path, Err: err}
	}
	data = append(data, '\n')
	if _, err := a.file.Write(data); err != nil {
		return &IOError{Op: "write", Path: a.path, Err: err}
	}
	if err := a.file.Sync(); err != nil {
		return &IOError{Op: "sync", Path: a.path, Err: err}
	}
	return nil
}

// Report is a parsed report file.
type Report struct {
	Header  Header
	Targets []TargetRecord
	// Summary is nil for an unfinished run.
	Summary *Summary
}

// ReadReport parses a finished or partial report. A torn trailing line is
// ignored.
func ReadReport(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	r := &Report{}
	reader := bufio.NewReader(f)
	for n := 1; ; n++ {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &IOError{Op: "read", Path: path, Err: err}
		}
		kind, err := lineKind(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		switch kind {
		case KindHeader:
			err = json.Unmarshal(line, &r.Header)
		case KindTarget:
			var rec TargetRecord
			if err = json.Unmarshal(line, &rec); err == nil {
				r.Targets = append(r.Targets, rec)
			}
		case KindSummary:
			var s Summary
			if err = json.Unmarshal(line, &s); err == nil {
				r.Summary = &s
			}
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
	}
	if r.Header.Kind != KindHeader {
		return nil, fmt.Errorf("report %s has no header", path)
	}
	return r, nil
}
