package executor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gc-diffbench/internal/target"
)

const workDirPattern = "gcdiff-run-*"

// stageArtifact copies the candidate into dir/<package path>/<Class><ext>
// together with the leaf's nested-class companions. The source tree is only
// read.
func stageArtifact(dir string, t target.Target, artifact string) error {
	pkgDir := filepath.Join(dir, t.PackagePath())
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		return fmt.Errorf("failed to create package directory: %w", err)
	}
	dest := filepath.Join(pkgDir, t.ClassName+filepath.Ext(artifact))
	if err := copyFile(artifact, dest); err != nil {
		return err
	}
	for _, companion := range t.Companions {
		if err := copyFile(companion, filepath.Join(pkgDir, companionName(t.ClassName, companion))); err != nil {
			return err
		}
	}
	return nil
}

// companionName keeps the nested part of Foo_v2$Inner.class but restores the
// outer class name: Foo$Inner.class.
func companionName(className, path string) string {
	name := filepath.Base(path)
	i := strings.Index(name, "$")
	if i < 0 {
		return name
	}
	return className + name[i:]
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create staged artifact: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy artifact: %w", err)
	}
	return out.Close()
}

func artifactStem(artifact string) string {
	base := filepath.Base(artifact)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
