package recipeset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/forgehq/foundry/internal/core"
	"github.com/forgehq/foundry/internal/env"
)

func coreInput() core.Input {
	return core.Input{Env: env.New(env.DefaultFuncs())}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadSimpleRootRecipe(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "recipes", "hello.yaml"), "root: true\npackage: echo hi\n")

	rs, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, ok := rs.Recipes()["hello"]; !ok {
		t.Fatalf("expected recipe %q to be loaded", "hello")
	}
	if len(rs.Root.Depends) != 1 || rs.Root.Depends[0].Recipe != "hello" {
		t.Fatalf("expected virtual root to depend on hello, got %+v", rs.Root.Depends)
	}

	e := rs.Engine()
	pkg, _, err := e.Prepare("", coreInput())
	if err != nil {
		t.Fatalf("Prepare(root): %v", err)
	}
	if !pkg.PackageStep.Valid {
		t.Fatalf("expected root package step to be valid")
	}
	if len(pkg.BuildStep.Args) != 2 {
		t.Fatalf("expected checkout ref plus hello's result ref, got %d", len(pkg.BuildStep.Args))
	}
}

func TestLoadClassInheritance(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "classes", "c.yaml"), "environment:\n  A: \"1\"\n  B: \"2\"\n")
	writeFile(t, filepath.Join(dir, "recipes", "r.yaml"), `root: true
inherit: [c]
environment:
  B: "3"
  C: "4"
packageVars: [A, B, C]
package: "true"
`)

	rs, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	e := rs.Engine()
	pkg, _, err := e.Prepare("r", coreInput())
	if err != nil {
		t.Fatalf("Prepare(r): %v", err)
	}
	want := map[string]string{"A": "1", "B": "3", "C": "4"}
	for k, v := range want {
		if got := pkg.PackageStep.DigestEnv[k]; got != v {
			t.Fatalf("DigestEnv[%s] = %q, want %q", k, got, v)
		}
	}
}

func TestLoadNestedLayerRecipesVisible(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "recipes", "top.yaml"), "root: true\ndepends: [lib]\npackage: \"true\"\n")
	writeFile(t, filepath.Join(dir, "config.yaml"), "layers: [vendor]\n")
	writeFile(t, filepath.Join(dir, "layers", "vendor", "recipes", "lib.yaml"), "package: \"true\"\n")

	rs, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := rs.Recipes()["lib"]; !ok {
		t.Fatalf("expected sub-layer recipe %q to be visible", "lib")
	}

	e := rs.Engine()
	if _, _, err := e.Prepare("top", coreInput()); err != nil {
		t.Fatalf("Prepare(top): %v", err)
	}
}

func TestLoadLayerPolicyConflictErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "recipes", "hello.yaml"), "root: true\npackage: \"true\"\n")
	writeFile(t, filepath.Join(dir, "config.yaml"), "layers: [sub]\npolicies:\n  uniqueDependency: true\n")
	writeFile(t, filepath.Join(dir, "layers", "sub", "config.yaml"), "policies:\n  uniqueDependency: false\n")

	_, err := Load(dir)
	if err == nil {
		t.Fatalf("expected policy conflict error")
	}
}

func TestLoadDuplicateRecipeNameErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "recipes", "a.yaml"), "root: true\npackage: \"true\"\n")
	writeFile(t, filepath.Join(dir, "config.yaml"), "layers: [sub]\n")
	writeFile(t, filepath.Join(dir, "layers", "sub", "recipes", "a.yaml"), "package: \"true\"\n")

	_, err := Load(dir)
	if err == nil {
		t.Fatalf("expected duplicate recipe name error")
	}
}

func TestLoadMissingRecipesDirErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	if err == nil {
		t.Fatalf("expected error for missing recipes directory")
	}
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected error to wrap ErrParse, got %v", err)
	}
}

func TestLoadCyclicInheritanceErrorWrapsErrParse(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "classes", "a.yaml"), "inherit: [b]\n")
	writeFile(t, filepath.Join(dir, "classes", "b.yaml"), "inherit: [a]\n")
	writeFile(t, filepath.Join(dir, "recipes", "r.yaml"), "root: true\ninherit: [a]\npackage: \"true\"\n")

	_, err := Load(dir)
	if err == nil {
		t.Fatalf("expected cyclic class inheritance error")
	}
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected cyclic inheritance error to wrap ErrParse, got %v", err)
	}
}

func TestCacheKeyStableAndSensitive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "recipes", "hello.yaml"), "root: true\npackage: \"true\"\n")

	rs1, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rs2, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	env := map[string]string{"X": "1"}
	k1 := rs1.CacheKey("1.0.0", env, false)
	k2 := rs2.CacheKey("1.0.0", env, false)
	if k1 != k2 {
		t.Fatalf("expected identical cache keys across reloads, got %q and %q", k1, k2)
	}

	if k3 := rs1.CacheKey("1.0.0", env, true); k3 == k1 {
		t.Fatalf("expected sandboxEnabled to change the cache key")
	}
	if k4 := rs1.CacheKey("1.0.1", env, false); k4 == k1 {
		t.Fatalf("expected tool version to change the cache key")
	}
	if k5 := rs1.CacheKey("1.0.0", map[string]string{"X": "2"}, false); k5 == k1 {
		t.Fatalf("expected effective env to change the cache key")
	}
}

func TestCompareVersion(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"0.1", "0.1", 0},
		{"0.1", "0.2", -1},
		{"1.0", "0.9", 1},
		{"1.2.3", "1.2", 1},
		{"1.2", "1.2.0", 0},
	}
	for _, c := range cases {
		if got := compareVersion(c.a, c.b); got != c.want {
			t.Fatalf("compareVersion(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
