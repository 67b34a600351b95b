// Package target resolves executable identities from a corpus directory tree.
//
// Every directory must hold either only sub-directories or only files. The
// path of a file-holding leaf, joined with dots, is the fully qualified class
// name: root/A.B.C/D and root/A.B.C.D both resolve to package A.B.C, class D.
package target

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gc-diffbench/internal/logging"

	"github.com/sirupsen/logrus"
)

// Target is one resolved executable identity. All artifact candidates of a
// leaf share it.
type Target struct {
	Package    []string `json:"package"`
	ClassName  string   `json:"class_name"`
	Dir        string   `json:"dir"`
	Artifacts  []string `json:"artifacts"`
	Companions []string `json:"companions,omitempty"`
	Ambiguous  bool     `json:"ambiguous,omitempty"`
}

// FQCN returns the dotted identity used for grouping, filtering and reporting.
func (t Target) FQCN() string {
	if len(t.Package) == 0 {
		return t.ClassName
	}
	return strings.Join(t.Package, ".") + "." + t.ClassName
}

// PackagePath is the package as a relative directory, "" for the default package.
func (t Target) PackagePath() string {
	return filepath.Join(t.Package...)
}

// MalformedLayoutError names a directory that mixes files and sub-directories.
type MalformedLayoutError struct {
	Path  string
	Dirs  int
	Files int
}

func (e *MalformedLayoutError) Error() string {
	return fmt.Sprintf("malformed layout at %s: %d directories and %d files mixed", e.Path, e.Dirs, e.Files)
}

type Options struct {
	// Delimiters separate the class token from disambiguation suffixes,
	// e.g. "_" in D_variant123.
	Delimiters []string
	// SkipSuffixes mark directories to ignore, e.g. "Foo@".
	SkipSuffixes []string
	// ArtifactExt restricts which files are candidates; empty accepts all.
	ArtifactExt string
}

func DefaultOptions() Options {
	return Options{
		Delimiters:   []string{"_", "@"},
		SkipSuffixes: []string{"@"},
		ArtifactExt:  ".class",
	}
}

type Resolver struct {
	root   string
	opts   Options
	logger *logrus.Logger
}

func NewResolver(root string, opts Options) *Resolver {
	return &Resolver{
		root:   root,
		opts:   opts,
		logger: logging.GetLogger(),
	}
}

// Targets walks the tree in path order. Layout errors are yielded in place and
// the walk continues with the next sibling. Each call starts a fresh walk.
func (r *Resolver) Targets() iter.Seq2[Target, error] {
	return func(yield func(Target, error) bool) {
		r.walk(r.root, nil, yield)
	}
}

// Resolve collects the whole walk.
func (r *Resolver) Resolve() ([]Target, []error) {
	var targets []Target
	var errs []error
	for t, err := range r.Targets() {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		targets = append(targets, t)
	}
	return targets, errs
}

func (r *Resolver) walk(dir string, rel []string, yield func(Target, error) bool) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return yield(Target{}, fmt.Errorf("failed to read directory %s: %w", dir, err))
	}

	var dirs, files []os.DirEntry
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if entry.IsDir() {
			dirs = append(dirs, entry)
		} else {
			files = append(files, entry)
		}
	}

	switch {
	case len(dirs) > 0 && len(files) > 0:
		return yield(Target{}, &MalformedLayoutError{Path: dir, Dirs: len(dirs), Files: len(files)})
	case len(files) > 0:
		if len(rel) == 0 {
			return yield(Target{}, &MalformedLayoutError{Path: dir, Files: len(files)})
		}
		t, ok := r.leaf(dir, rel, files)
		if !ok {
			return true
		}
		return yield(t, nil)
	}

	for _, d := range dirs {
		if r.skipped(d.Name()) {
			r.logger.WithField("dir", filepath.Join(dir, d.Name())).Debug("Skipping directory")
			continue
		}
		next := append(append([]string(nil), rel...), d.Name())
		if !r.walk(filepath.Join(dir, d.Name()), next, yield) {
			return false
		}
	}
	return true
}

func (r *Resolver) leaf(dir string, rel []string, files []os.DirEntry) (Target, bool) {
	segments := append([]string(nil), rel[:len(rel)-1]...)
	segments = append(segments, r.classToken(rel[len(rel)-1]))

	var parts []string
	for _, s := range segments {
		for _, p := range strings.Split(s, ".") {
			if p != "" {
				parts = append(parts, p)
			}
		}
	}
	if len(parts) == 0 {
		return Target{}, false
	}

	t := Target{
		Package:   parts[:len(parts)-1],
		ClassName: parts[len(parts)-1],
		Dir:       dir,
	}
	if len(t.Package) == 0 {
		t.Package = nil
	}

	for _, f := range files {
		name := f.Name()
		if r.opts.ArtifactExt != "" && filepath.Ext(name) != r.opts.ArtifactExt {
			continue
		}
		path := filepath.Join(dir, name)
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if strings.Contains(stem, "$") {
			t.Companions = append(t.Companions, path)
			continue
		}
		t.Artifacts = append(t.Artifacts, path)

		token := r.classToken(stem)
		if token != t.ClassName && token != t.FQCN() {
			t.Ambiguous = true
		}
	}
	if len(t.Artifacts) == 0 {
		r.logger.WithField("dir", dir).Debug("Leaf directory has no artifacts")
		return Target{}, false
	}
	sort.Strings(t.Artifacts)
	sort.Strings(t.Companions)

	if t.Ambiguous {
		r.logger.WithFields(logrus.Fields{
			"target":    t.FQCN(),
			"artifacts": len(t.Artifacts),
		}).Warn("Artifact names disagree with the leaf directory identity")
	}
	return t, true
}

// classToken cuts a name at the first configured delimiter.
func (r *Resolver) classToken(name string) string {
	cut := len(name)
	for _, d := range r.opts.Delimiters {
		if d == "" {
			continue
		}
		if i := strings.Index(name, d); i >= 0 && i < cut {
			cut = i
		}
	}
	return name[:cut]
}

func (r *Resolver) skipped(name string) bool {
	for _, suffix := range r.opts.SkipSuffixes {
		if suffix != "" && strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
