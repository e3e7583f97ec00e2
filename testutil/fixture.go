// Package testutil provides shared test-fixture helpers for
// internal/syncproc and internal/runner tests: building disposable
// source/target directory trees on disk so a Processor or Runner has
// something real to walk.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Tree is a disposable source or target directory for a sync test.
type Tree struct {
	t    *testing.T
	Root string
}

// NewTree creates an empty temporary directory that is removed when
// the test completes.
func NewTree(t *testing.T) *Tree {
	t.Helper()

	return &Tree{t: t, Root: t.TempDir()}
}

// WriteFile writes content to a file at the given relative path,
// creating parent directories as needed.
func (tr *Tree) WriteFile(relPath, content string) string {
	tr.t.Helper()

	full := filepath.Join(tr.Root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		tr.t.Fatalf("testutil: mkdir %s: %v", filepath.Dir(full), err)
	}

	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		tr.t.Fatalf("testutil: write %s: %v", full, err)
	}

	return full
}

// Mkdir creates an empty directory at the given relative path.
func (tr *Tree) Mkdir(relPath string) string {
	tr.t.Helper()

	full := filepath.Join(tr.Root, relPath)
	if err := os.MkdirAll(full, 0o755); err != nil {
		tr.t.Fatalf("testutil: mkdir %s: %v", full, err)
	}

	return full
}

// Path joins relPath onto the tree's root without touching the
// filesystem — useful for asserting a file does NOT exist.
func (tr *Tree) Path(relPath string) string {
	return filepath.Join(tr.Root, relPath)
}

// Exists reports whether relPath exists under the tree.
func (tr *Tree) Exists(relPath string) bool {
	_, err := os.Stat(tr.Path(relPath))

	return err == nil
}

// ReadFile reads a file's content relative to the tree root, failing
// the test on any error.
func (tr *Tree) ReadFile(relPath string) string {
	tr.t.Helper()

	b, err := os.ReadFile(tr.Path(relPath))
	if err != nil {
		tr.t.Fatalf("testutil: read %s: %v", relPath, err)
	}

	return string(b)
}

// CopyFile copies a file from src to dst with the given permissions,
// failing the test on error.
func CopyFile(t *testing.T, src, dst string, perm os.FileMode) {
	t.Helper()

	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("testutil: read %s: %v", src, err)
	}

	if err := os.WriteFile(dst, data, perm); err != nil {
		t.Fatalf("testutil: write %s: %v", dst, err)
	}
}

// FindModuleRoot walks up from the current directory to find go.mod,
// returning the directory that holds it, or fallback if none is found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// SourceTargetPair builds a pair of disposable trees, one for the
// source and one for the target; both start empty.
func SourceTargetPair(t *testing.T) (source, target *Tree) {
	t.Helper()

	return NewTree(t), NewTree(t)
}

// AssertSameContent fails the test unless both trees have identical
// content at relPath.
func AssertSameContent(t *testing.T, source, target *Tree, relPath string) {
	t.Helper()

	got := target.ReadFile(relPath)
	want := source.ReadFile(relPath)

	if got != want {
		t.Fatalf("testutil: content mismatch at %s: got %q, want %q", relPath, got, want)
	}
}
