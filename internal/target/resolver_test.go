package target

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("cafebabe"), 0o644))
	}
}

func TestResolver_NestedLeafWithVariantSuffix(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "A.B.C/D/A.B.C.D_variant123.class")

	targets, errs := NewResolver(root, DefaultOptions()).Resolve()
	require.Empty(t, errs)
	require.Len(t, targets, 1)

	got := targets[0]
	assert.Equal(t, []string{"A", "B", "C"}, got.Package)
	assert.Equal(t, "D", got.ClassName)
	assert.Equal(t, "A.B.C.D", got.FQCN())
	assert.False(t, got.Ambiguous)
	assert.Equal(t, []string{filepath.Join(root, "A.B.C/D/A.B.C.D_variant123.class")}, got.Artifacts)
}

func TestResolver_FlatLeafAndDefaultPackage(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"com.example.Main/Main.class",
		"Solo/Solo_20240101T120000.class",
	)

	targets, errs := NewResolver(root, DefaultOptions()).Resolve()
	require.Empty(t, errs)
	require.Len(t, targets, 2)

	assert.Equal(t, "Solo", targets[0].FQCN())
	assert.Nil(t, targets[0].Package)
	assert.Equal(t, "com.example.Main", targets[1].FQCN())
	assert.Equal(t, "com/example", targets[1].PackagePath())
}

func TestResolver_VariantsCollapseAndCompanionsSeparate(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"p.Foo/Foo_m1.class",
		"p.Foo/Foo_m2.class",
		"p.Foo/Foo$Inner.class",
		"p.Foo/notes.txt",
	)

	targets, errs := NewResolver(root, DefaultOptions()).Resolve()
	require.Empty(t, errs)
	require.Len(t, targets, 1)

	assert.Len(t, targets[0].Artifacts, 2)
	assert.Equal(t, []string{filepath.Join(root, "p.Foo", "Foo$Inner.class")}, targets[0].Companions)
}

func TestResolver_MixedDirectoryIsReportedAndSiblingsContinue(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"a/bad/stray.class",
		"a/bad/X/X.class",
		"a/good/Y/Y.class",
	)

	targets, errs := NewResolver(root, DefaultOptions()).Resolve()
	require.Len(t, errs, 1)

	var layoutErr *MalformedLayoutError
	require.True(t, errors.As(errs[0], &layoutErr))
	assert.Equal(t, filepath.Join(root, "a", "bad"), layoutErr.Path)

	require.Len(t, targets, 1)
	assert.Equal(t, "a.good.Y", targets[0].FQCN())
}

func TestResolver_FlagsAmbiguousNames(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "p.Foo/Bar_1.class")

	targets, errs := NewResolver(root, DefaultOptions()).Resolve()
	require.Empty(t, errs)
	require.Len(t, targets, 1)
	assert.True(t, targets[0].Ambiguous)
	assert.Equal(t, "p.Foo", targets[0].FQCN())
}

func TestResolver_SkipSuffixAndConfigurableDelimiters(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"p.Tmp@/Tmp.class",
		"p.Foo#7/Foo#7.class",
	)

	opts := DefaultOptions()
	opts.Delimiters = []string{"#"}
	targets, errs := NewResolver(root, opts).Resolve()
	require.Empty(t, errs)
	require.Len(t, targets, 1)
	assert.Equal(t, "p.Foo", targets[0].FQCN())
}

func TestResolver_IsDeterministicAndRestartable(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"z/Z/Z.class",
		"a/A/A.class",
		"m.n/O/O_x.class",
		"m.n/O/O_y.class",
	)

	r := NewResolver(root, DefaultOptions())
	first, _ := r.Resolve()
	second, _ := r.Resolve()
	require.Equal(t, first, second)

	var ids []string
	for tgt, err := range r.Targets() {
		require.NoError(t, err)
		ids = append(ids, tgt.FQCN())
	}
	assert.Equal(t, []string{"a.A", "m.n.O", "z.Z"}, ids)
}

func TestResolver_StopsWhenConsumerBreaks(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a/A/A.class", "b/B/B.class")

	count := 0
	for range NewResolver(root, DefaultOptions()).Targets() {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestFilter_IncludeAndExclude(t *testing.T) {
	dir := t.TempDir()
	testcases := filepath.Join(dir, "testcases.txt")
	skipclass := filepath.Join(dir, "skipclass.txt")
	require.NoError(t, os.WriteFile(testcases, []byte("# corpus\na.A\nb.B\n\n"), 0o644))
	require.NoError(t, os.WriteFile(skipclass, []byte("b.B\n"), 0o644))

	f, err := LoadFilter(testcases, skipclass)
	require.NoError(t, err)
	assert.True(t, f.Allow("a.A"))
	assert.False(t, f.Allow("b.B"))
	assert.False(t, f.Allow("c.C"))

	root := t.TempDir()
	writeFiles(t, root, "a/A/A.class", "b/B/B.class", "c/C/C.class")
	var ids []string
	for tgt, err := range f.Apply(NewResolver(root, DefaultOptions()).Targets()) {
		require.NoError(t, err)
		ids = append(ids, tgt.FQCN())
	}
	assert.Equal(t, []string{"a.A"}, ids)

	var open *Filter
	assert.True(t, open.Allow("anything"))
}
