package report

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteArchive writes a gzip copy of the report next to it, atomically. It
// returns the archive path.
func WriteArchive(reportPath string) (string, error) {
	src, err := os.Open(reportPath)
	if err != nil {
		return "", &IOError{Op: "archive", Path: reportPath, Err: err}
	}
	defer src.Close()

	dir := filepath.Dir(reportPath)
	finalPath := reportPath + ".gz"

	tmp, err := os.CreateTemp(dir, filepath.Base(finalPath)+".tmp.*")
	if err != nil {
		return "", &IOError{Op: "archive", Path: finalPath, Err: err}
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	gz.Name = filepath.Base(reportPath)
	if _, err := io.Copy(gz, src); err != nil {
		_ = gz.Close()
		return "", &IOError{Op: "archive", Path: finalPath, Err: fmt.Errorf("failed to compress: %w", err)}
	}
	if err := gz.Close(); err != nil {
		return "", &IOError{Op: "archive", Path: finalPath, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return "", &IOError{Op: "archive", Path: finalPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &IOError{Op: "archive", Path: finalPath, Err: err}
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", &IOError{Op: "archive", Path: finalPath, Err: err}
	}
	ok = true
	return finalPath, nil
}
