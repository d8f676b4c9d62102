package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadAndPrepareReturnsRoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "recipes", "hello.yaml"), "root: true\npackage: echo hi\n")

	pkg, err := loadAndPrepare(dir, prepareOpts{UseCache: false})
	if err != nil {
		t.Fatalf("loadAndPrepare: %v", err)
	}
	if !pkg.PackageStep.Valid {
		t.Fatalf("expected root package step to be valid")
	}
}

func TestLoadAndPrepareDescendsToNamedRecipe(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "recipes", "top.yaml"), "root: true\ndepends: [lib]\npackage: \"true\"\n")
	writeFile(t, filepath.Join(dir, "recipes", "lib.yaml"), "root: true\npackage: \"true\"\n")

	pkg, err := loadAndPrepare(dir, prepareOpts{RecipeName: "lib", UseCache: false})
	if err != nil {
		t.Fatalf("loadAndPrepare: %v", err)
	}
	if pkg.Recipe.PackageName != "lib" {
		t.Fatalf("expected descend to reach recipe %q, got %q", "lib", pkg.Recipe.PackageName)
	}
}

func TestLoadAndPrepareUnreachableRecipeErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "recipes", "top.yaml"), "root: true\npackage: \"true\"\n")

	if _, err := loadAndPrepare(dir, prepareOpts{RecipeName: "missing", UseCache: false}); err == nil {
		t.Fatalf("expected error descending to an unreachable recipe")
	}
}

func TestShortIDTruncates(t *testing.T) {
	long := "0123456789abcdef"
	if got := shortID(long); got != "0123456789ab" {
		t.Fatalf("shortID(%q) = %q, want %q", long, got, "0123456789ab")
	}
	short := "abcd"
	if got := shortID(short); got != short {
		t.Fatalf("shortID(%q) = %q, want unchanged", short, got)
	}
}
