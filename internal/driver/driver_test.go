// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dotandev/tailrec/internal/classfile"
	"github.com/dotandev/tailrec/internal/classfile/classtest"
	apperr "github.com/dotandev/tailrec/internal/errors"
	"github.com/dotandev/tailrec/internal/ledger"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func factClass(major uint16) []byte {
	b := classtest.New("demo/Fact", classfile.AccPublic)
	b.Major = major
	self := b.Methodref("demo/Fact", "fact", "(II)I")
	b.Method(classfile.AccStatic, "fact", "(II)I", &classtest.Code{
		MaxStack:  3,
		MaxLocals: 2,
		Bytes: []byte{
			0x1a, 0x04, 0xa3, 0x00, 0x05,
			0x1b, 0xac,
			0x1a, 0x04, 0x64, 0x1a, 0x1b, 0x68,
			0xb8, byte(self >> 8), byte(self), 0xac,
		},
	})
	return b.Bytes()
}

func plainClass() []byte {
	b := classtest.New("demo/Plain", classfile.AccPublic)
	b.Method(classfile.AccPublic, "run", "()V", &classtest.Code{MaxStack: 0, MaxLocals: 1, Bytes: []byte{0xb1}})
	return b.Bytes()
}

// project lays out a build output directory and returns its root.
func project(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string][]byte{
		"demo/Fact.class":   factClass(52),
		"demo/Plain.class":  plainClass(),
		"demo/Broken.class": {0xca, 0xfe, 0xba, 0xbe, 0, 0},
		"demo/notes.txt":    []byte("not a class"),
	}
	for name, data := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, data, 0644))
	}
	return root
}

func byName(sum *Summary) map[string]FileResult {
	out := make(map[string]FileResult)
	for _, f := range sum.Files {
		out[filepath.Base(f.Path)] = f
	}
	return out
}

func TestDiscover(t *testing.T) {
	root := project(t)
	classes := filepath.Join(root, "target", "classes")
	require.NoError(t, os.MkdirAll(classes, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(classes, "A.class"), plainClass(), 0644))

	t.Run("walks for class files", func(t *testing.T) {
		files, err := Discover([]string{root}, "")
		require.NoError(t, err)
		assert.Len(t, files, 4)
		for _, f := range files {
			assert.True(t, strings.HasSuffix(f, ".class"))
		}
	})

	t.Run("descends into the classes subdir", func(t *testing.T) {
		files, err := Discover([]string{root}, filepath.Join("target", "classes"))
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(classes, "A.class")}, files)
	})

	t.Run("missing subdir falls back to the root", func(t *testing.T) {
		files, err := Discover([]string{filepath.Join(root, "demo")}, "build")
		require.NoError(t, err)
		assert.Len(t, files, 3)
	})

	t.Run("explicit files and duplicates", func(t *testing.T) {
		fact := filepath.Join(root, "demo", "Fact.class")
		files, err := Discover([]string{fact, fact, filepath.Join(root, "demo")}, "")
		require.NoError(t, err)
		assert.Len(t, files, 3)
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := Discover([]string{filepath.Join(root, "nope")}, "")
		assert.Error(t, err)
	})
}

func TestReleaseOf(t *testing.T) {
	tests := []struct {
		major uint16
		want  string
	}{
		{45, "1.1.0"},
		{49, "1.5.0"},
		{50, "1.6.0"},
		{52, "1.8.0"},
		{53, "9.0.0"},
		{61, "17.0.0"},
		{65, "21.0.0"},
	}
	for _, tt := range tests {
		v, err := ReleaseOf(tt.major)
		require.NoError(t, err)
		assert.Equal(t, tt.want, v.String(), "major %d", tt.major)
	}
	_, err := ReleaseOf(44)
	assert.Error(t, err)
}

func TestTargetFilter(t *testing.T) {
	f, err := newTargetFilter(">= 1.6, < 17")
	require.NoError(t, err)

	tests := []struct {
		major uint16
		want  bool
	}{
		{49, false},
		{50, true},
		{52, true},
		{60, true},
		{61, false},
	}
	for _, tt := range tests {
		ok, reason := f.allows(tt.major)
		assert.Equal(t, tt.want, ok, "major %d", tt.major)
		if !ok {
			assert.Contains(t, reason, "does not satisfy")
		}
	}

	none, err := newTargetFilter("")
	require.NoError(t, err)
	ok, _ := none.allows(45)
	assert.True(t, ok)

	_, err = newTargetFilter("java 8")
	assert.True(t, errors.Is(err, apperr.ErrConfig))
}

func TestRun(t *testing.T) {
	root := project(t)
	fact := filepath.Join(root, "demo", "Fact.class")
	original, err := os.ReadFile(fact)
	require.NoError(t, err)

	sum, err := Run(context.Background(), []string{root}, Options{Workers: 2})
	require.NoError(t, err)
	require.Len(t, sum.Files, 3)
	assert.NotEmpty(t, sum.RunID)

	files := byName(sum)
	assert.Equal(t, StatusRewritten, files["Fact.class"].Status)
	assert.Equal(t, []string{"fact(II)I"}, files["Fact.class"].Rewritten)
	assert.Equal(t, "demo/Fact", files["Fact.class"].Class)
	assert.Equal(t, StatusUnchanged, files["Plain.class"].Status)
	assert.Equal(t, StatusDecodeError, files["Broken.class"].Status)
	assert.Equal(t, 1, sum.Methods())

	rewritten, err := os.ReadFile(fact)
	require.NoError(t, err)
	assert.NotEqual(t, original, rewritten)
	_, err = classfile.Parse(rewritten)
	assert.NoError(t, err)

	broken, err := os.ReadFile(filepath.Join(root, "demo", "Broken.class"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xca, 0xfe, 0xba, 0xbe, 0, 0}, broken)

	err = sum.Err()
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 1)
	assert.True(t, errors.Is(err, apperr.ErrMalformedContainer))
	assert.Contains(t, err.Error(), "Broken.class")

	leftovers, err := filepath.Glob(filepath.Join(root, "demo", ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestRun_DryRun(t *testing.T) {
	root := project(t)
	fact := filepath.Join(root, "demo", "Fact.class")
	before, err := os.ReadFile(fact)
	require.NoError(t, err)

	sum, err := Run(context.Background(), []string{root}, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, StatusRewritten, byName(sum)["Fact.class"].Status)

	after, err := os.ReadFile(fact)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_TargetRelease(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Old.class"), factClass(49), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "New.class"), factClass(52), 0644))

	sum, err := Run(context.Background(), []string{dir}, Options{TargetRelease: ">= 1.8"})
	require.NoError(t, err)
	files := byName(sum)
	assert.Equal(t, StatusSkipped, files["Old.class"].Status)
	assert.Equal(t, uint16(49), files["Old.class"].Major)
	assert.Contains(t, files["Old.class"].Reason, "1.5")
	assert.Equal(t, StatusRewritten, files["New.class"].Status)

	_, err = Run(context.Background(), []string{dir}, Options{TargetRelease: "~~"})
	assert.True(t, errors.Is(err, apperr.ErrConfig))
}

func TestRun_Ledger(t *testing.T) {
	root := project(t)
	store, err := ledger.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	first, err := Run(ctx, []string{root}, Options{Ledger: store})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Count(StatusRewritten))

	second, err := Run(ctx, []string{root}, Options{Ledger: store})
	require.NoError(t, err)
	files := byName(second)
	assert.Equal(t, StatusSkipped, files["Fact.class"].Status)
	assert.Equal(t, "already processed", files["Fact.class"].Reason)
	assert.Equal(t, StatusSkipped, files["Plain.class"].Status)
	// Failures are retried.
	assert.Equal(t, StatusDecodeError, files["Broken.class"].Status)

	forced, err := Run(ctx, []string{root}, Options{Ledger: store, Force: true})
	require.NoError(t, err)
	assert.Equal(t, StatusUnchanged, byName(forced)["Fact.class"].Status)

	entries, err := store.Search(ctx, ledger.SearchParams{RunID: first.RunID})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	rewritten, err := store.Search(ctx, ledger.SearchParams{Status: "rewritten"})
	require.NoError(t, err)
	require.Len(t, rewritten, 1)
	assert.Equal(t, []string{"fact(II)I"}, rewritten[0].Methods)
}

func TestRun_Cancelled(t *testing.T) {
	root := project(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := Run(ctx, []string{root}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	assert.Empty(t, sum.Files)
}

func TestRun_Spans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	root := project(t)
	_, err := Run(context.Background(), []string{root}, Options{Workers: 1})
	require.NoError(t, err)

	names := map[string]int{}
	for _, s := range rec.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["tailrec.run"])
	assert.Equal(t, 3, names["tailrec.optimize_file"])
}

func TestProcessFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Fact.class")
	require.NoError(t, os.WriteFile(path, factClass(52), 0600))

	res, err := ProcessFile(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusRewritten, res.Status)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	res, err = ProcessFile(context.Background(), filepath.Join(dir, "Missing.class"), Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusDecodeError, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestStatus_String(t *testing.T) {
	tests := map[Status]string{
		StatusUnchanged:     "unchanged",
		StatusRewritten:     "rewritten",
		StatusDecodeError:   "decode-error",
		StatusInternalFault: "internal-fault",
		StatusSkipped:       "skipped",
		Status(42):          "status(42)",
	}
	for s, want := range tests {
		assert.Equal(t, want, s.String())
	}
	assert.True(t, StatusDecodeError.Failed())
	assert.False(t, StatusSkipped.Failed())
}
