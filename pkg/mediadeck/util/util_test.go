package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClamp(t *testing.T) {
	cases := []struct {
		value, min, max, want int
	}{
		{5, 0, 10, 5},
		{-3, 0, 10, 0},
		{42, 0, 10, 10},
		{0, 0, 0, 0},
	}

	for _, c := range cases {
		if got := Clamp(c.value, c.min, c.max); got != c.want {
			t.Fatalf("Clamp(%d, %d, %d) = %d, want %d", c.value, c.min, c.max, got, c.want)
		}
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()

	if FileExists(filepath.Join(dir, "missing")) {
		t.Fatalf("missing path must not exist")
	}

	if FileExists(dir) {
		t.Fatalf("a directory is not a file")
	}

	path := filepath.Join(dir, "present")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	if !FileExists(path) {
		t.Fatalf("existing file must be reported")
	}
}

func TestEnsureDirExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b")

	if err := EnsureDirExists(path); err != nil {
		t.Fatalf("EnsureDirExists: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected a directory at %s, err=%v", path, err)
	}

	// creating an existing directory is a no-op
	if err := EnsureDirExists(path); err != nil {
		t.Fatalf("EnsureDirExists on existing dir: %v", err)
	}
}
