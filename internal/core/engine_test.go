package core

import (
	"strings"
	"testing"

	"github.com/forgehq/foundry/internal/env"
	"github.com/forgehq/foundry/internal/recipe"
)

func mustResolve(t *testing.T, r *recipe.Recipe, lookup recipe.ClassLookup) *recipe.Recipe {
	t.Helper()
	if lookup == nil {
		lookup = func(string) (*recipe.Recipe, bool) { return nil, false }
	}
	if err := r.ResolveClasses(lookup, recipe.Policies{}); err != nil {
		t.Fatalf("ResolveClasses(%q): %v", r.PackageName, err)
	}
	return r
}

func newInput() Input {
	return Input{Env: env.New(env.DefaultFuncs())}
}

func TestPrepareSimpleLeaf(t *testing.T) {
	r := recipe.New("leaf")
	r.Scripts[recipe.Package] = "echo hi"
	mustResolve(t, r, nil)

	e := NewEngine(map[string]*recipe.Recipe{"leaf": r}, recipe.Policies{})
	pkg, _, err := e.Prepare("leaf", newInput())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if !pkg.PackageStep.Valid {
		t.Fatalf("expected package step to be valid")
	}
	if !pkg.PackageStep.Deterministic {
		t.Fatalf("expected package step to be deterministic")
	}
	if len(pkg.PackageStep.VariantID) != 20 {
		t.Fatalf("expected 20-byte variant id with no sandbox, got %d bytes", len(pkg.PackageStep.VariantID))
	}
	if len(pkg.PackageStep.ResultID) == 0 {
		t.Fatalf("expected non-empty result id")
	}
	if pkg.CheckoutStep.Valid {
		t.Fatalf("expected checkout step to be invalid with no checkout script or scm")
	}
	if pkg.BuildStep.Valid {
		t.Fatalf("expected build step to be invalid with no build script")
	}
}

func TestPrepareEnvironmentPropagation(t *testing.T) {
	lib := recipe.New("lib")
	lib.Scripts[recipe.Package] = "true"
	lib.ProvideEnv["LIB_PATH"] = "/opt/lib"
	mustResolve(t, lib, nil)

	app := recipe.New("app")
	app.Scripts[recipe.Package] = "echo $LIB_PATH"
	app.StrongVars[recipe.Package] = map[string]bool{"LIB_PATH": true}
	app.Depends = []recipe.Dependency{{
		Recipe: "lib",
		Use:    map[string]bool{"result": true, "environment": true},
	}}
	mustResolve(t, app, nil)

	recipes := map[string]*recipe.Recipe{"lib": lib, "app": app}
	e := NewEngine(recipes, recipe.Policies{})

	pkg, _, err := e.Prepare("app", newInput())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if got := pkg.PackageStep.DigestEnv["LIB_PATH"]; got != "/opt/lib" {
		t.Fatalf("DigestEnv[LIB_PATH] = %q, want /opt/lib", got)
	}

	if len(pkg.BuildStep.Args) == 0 {
		t.Fatalf("expected build step to carry lib's package step as an arg")
	}
	libArg := pkg.BuildStep.Args[len(pkg.BuildStep.Args)-1]
	if libArg.Step == nil || libArg.Step.Package == nil || libArg.Step.Package.Recipe.PackageName != "lib" {
		t.Fatalf("expected last build arg to be lib's package step")
	}
}

func TestPrepareToolForwarding(t *testing.T) {
	compiler := recipe.New("compiler")
	compiler.Scripts[recipe.Package] = "true"
	compiler.ProvideTools["cc"] = recipe.AbstractTool{
		Path:        "/usr/bin/cc",
		Environment: map[string]string{"CC": "/usr/bin/cc"},
	}
	mustResolve(t, compiler, nil)

	mid := recipe.New("mid")
	mid.Scripts[recipe.Package] = "true"
	mid.Depends = []recipe.Dependency{{
		Recipe:  "compiler",
		Use:     map[string]bool{"tools": true},
		Forward: true,
	}}
	mustResolve(t, mid, nil)

	leaf := recipe.New("leaf")
	leaf.Scripts[recipe.Package] = "$CC --version"
	leaf.StrongVars[recipe.Package] = map[string]bool{"CC": true}
	leaf.Depends = []recipe.Dependency{{
		Recipe: "mid",
		Use:    map[string]bool{"result": true},
	}}
	mustResolve(t, leaf, nil)

	recipes := map[string]*recipe.Recipe{"compiler": compiler, "mid": mid, "leaf": leaf}
	e := NewEngine(recipes, recipe.Policies{})

	pkg, _, err := e.Prepare("leaf", newInput())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, ok := pkg.Tools["cc"]; ok {
		t.Fatalf("leaf never declared use:[tools] on mid, should not see cc in its own tool table")
	}

	if len(pkg.BuildStep.Args) == 0 {
		t.Fatalf("expected leaf's build step to reference mid's package step")
	}
	midRef := pkg.BuildStep.Args[len(pkg.BuildStep.Args)-1]
	if midRef.Step == nil || midRef.Step.Package == nil || midRef.Step.Package.Recipe.PackageName != "mid" {
		t.Fatalf("expected last build arg to be mid's package step")
	}
	diff, ok := midRef.diffTools["cc"]
	if !ok {
		t.Fatalf("expected diffTools overlay on the leaf->mid ref to include cc, got %v", midRef.diffTools)
	}
	if diff.Removed || diff.Ref == nil || diff.Ref.Tool == nil || diff.Ref.Tool.Path != "/usr/bin/cc" {
		t.Fatalf("unexpected diffTools entry for cc: %+v", diff)
	}

	midPkg, _, err := e.Prepare("mid", newInput())
	if err != nil {
		t.Fatalf("Prepare(mid): %v", err)
	}
	if _, ok := midPkg.Tools["cc"]; !ok {
		t.Fatalf("expected mid's own resolved tool table to contain cc, got %v", midPkg.Tools)
	}
}

func TestPrepareCycleDetected(t *testing.T) {
	a := recipe.New("a")
	a.Scripts[recipe.Package] = "true"
	a.Depends = []recipe.Dependency{{Recipe: "b"}}
	mustResolve(t, a, nil)

	b := recipe.New("b")
	b.Scripts[recipe.Package] = "true"
	b.Depends = []recipe.Dependency{{Recipe: "a"}}
	mustResolve(t, b, nil)

	recipes := map[string]*recipe.Recipe{"a": a, "b": b}
	e := NewEngine(recipes, recipe.Policies{})

	_, _, err := e.Prepare("a", newInput())
	if err == nil {
		t.Fatalf("expected cyclic dependency error")
	}
	if !strings.Contains(err.Error(), "cyclic") {
		t.Fatalf("expected cyclic error, got: %v", err)
	}
}

func TestPrepareMatcherReusesIdenticalCallSite(t *testing.T) {
	leaf := recipe.New("leaf")
	leaf.Scripts[recipe.Package] = "true"
	mustResolve(t, leaf, nil)

	top := recipe.New("top")
	top.Scripts[recipe.Package] = "true"
	top.Depends = []recipe.Dependency{
		{Recipe: "leaf", Use: map[string]bool{"result": true}},
	}
	mustResolve(t, top, nil)

	recipes := map[string]*recipe.Recipe{"leaf": leaf, "top": top}
	e := NewEngine(recipes, recipe.Policies{})

	first, _, err := e.Prepare("leaf", newInput())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	second, _, err := e.Prepare("leaf", newInput())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical CorePackage pointer on matcher hit")
	}

	pkg, _, err := e.Prepare("top", newInput())
	if err != nil {
		t.Fatalf("Prepare(top): %v", err)
	}
	// Args[0] is always the checkout step's own ref; the dependency ref
	// (result-used) follows it.
	if len(pkg.BuildStep.Args) != 2 {
		t.Fatalf("expected checkout ref plus one dependency arg, got %d", len(pkg.BuildStep.Args))
	}
	if pkg.BuildStep.Args[1].Step != first.PackageStep {
		t.Fatalf("expected top's dependency arg to be the matcher-memoized leaf package step")
	}
}

func TestPrepareNestedDependsGroupHonorsCondition(t *testing.T) {
	gated := recipe.New("gated")
	gated.Scripts[recipe.Package] = "true"
	mustResolve(t, gated, nil)

	top := recipe.New("top")
	top.Scripts[recipe.Package] = "true"
	top.Depends = []recipe.Dependency{{
		Condition: "0",
		Depends: []recipe.Dependency{
			{Recipe: "gated", Use: map[string]bool{"result": true}},
		},
	}}
	mustResolve(t, top, nil)

	recipes := map[string]*recipe.Recipe{"gated": gated, "top": top}
	e := NewEngine(recipes, recipe.Policies{})

	pkg, _, err := e.Prepare("top", newInput())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	// Only the (invalid) checkout ref remains; the gated dependency never
	// contributes a result arg.
	if len(pkg.BuildStep.Args) != 1 {
		t.Fatalf("expected gated dependency to be skipped, got %d args", len(pkg.BuildStep.Args))
	}
}

func TestPrepareUnknownRecipeErrors(t *testing.T) {
	e := NewEngine(map[string]*recipe.Recipe{}, recipe.Policies{})
	_, _, err := e.Prepare("missing", newInput())
	if err == nil {
		t.Fatalf("expected error for unknown recipe")
	}
}

func TestPrepareFingerprintMaskZeroWhenConditionsAllUnset(t *testing.T) {
	compiler := recipe.New("compiler")
	compiler.Scripts[recipe.Package] = "true"
	compiler.ProvideTools["cc"] = recipe.AbstractTool{
		Path:              "/usr/bin/cc",
		FingerprintScript: "cc -dumpversion",
		// FingerprintIf left unset: the zero value is "maybe", which
		// must not count as a definite fingerprint on its own.
	}
	mustResolve(t, compiler, nil)

	mid := recipe.New("mid")
	mid.Scripts[recipe.Package] = "true"
	mid.Depends = []recipe.Dependency{{
		Recipe: "compiler",
		Use:    map[string]bool{"tools": true, "result": true},
	}}
	mustResolve(t, mid, nil)

	recipes := map[string]*recipe.Recipe{"compiler": compiler, "mid": mid}
	e := NewEngine(recipes, recipe.Policies{})

	pkg, _, err := e.Prepare("mid", newInput())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if pkg.FingerprintMask != 0 {
		t.Fatalf("expected fingerprint mask 0 when every condition is an unresolved maybe, got %#x", pkg.FingerprintMask)
	}
	if len(pkg.PackageStep.VariantID) != 20 {
		t.Fatalf("expected plain 20-byte variant id, got %d bytes", len(pkg.PackageStep.VariantID))
	}
	cc, ok := pkg.Tools["cc"]
	if !ok || cc.Fingerprint != "cc -dumpversion" {
		t.Fatalf("expected cc's raw fingerprint script to survive regardless of the mask, got %+v", cc)
	}
}

func TestPrepareFingerprintMaskSetWhenOneConditionIsTrue(t *testing.T) {
	compiler := recipe.New("compiler")
	compiler.Scripts[recipe.Package] = "true"
	compiler.ProvideTools["cc"] = recipe.AbstractTool{
		Path:              "/usr/bin/cc",
		FingerprintScript: "cc -dumpversion",
		FingerprintIf:     recipe.FingerprintAlways,
	}
	mustResolve(t, compiler, nil)

	mid := recipe.New("mid")
	mid.Scripts[recipe.Package] = "true"
	mid.Depends = []recipe.Dependency{{
		Recipe: "compiler",
		Use:    map[string]bool{"tools": true, "result": true},
	}}
	mustResolve(t, mid, nil)

	recipes := map[string]*recipe.Recipe{"compiler": compiler, "mid": mid}
	e := NewEngine(recipes, recipe.Policies{})

	pkg, _, err := e.Prepare("mid", newInput())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if pkg.FingerprintMask == 0 {
		t.Fatalf("expected a non-zero fingerprint mask when a condition is definitely true")
	}
}

func TestPrepareIncompatibleIndirectDepErrors(t *testing.T) {
	shared := recipe.New("shared")
	shared.Scripts[recipe.Package] = "echo $V"
	shared.StrongVars[recipe.Package] = map[string]bool{"V": true}
	mustResolve(t, shared, nil)

	x := recipe.New("x")
	x.Scripts[recipe.Package] = "true"
	x.ProvideDeps = []string{"shared"}
	x.Depends = []recipe.Dependency{{
		Recipe:      "shared",
		Use:         map[string]bool{"result": true},
		EnvOverride: map[string]string{"V": "1"},
	}}
	mustResolve(t, x, nil)

	y := recipe.New("y")
	y.Scripts[recipe.Package] = "true"
	y.ProvideDeps = []string{"shared"}
	y.Depends = []recipe.Dependency{{
		Recipe:      "shared",
		Use:         map[string]bool{"result": true},
		EnvOverride: map[string]string{"V": "2"},
	}}
	mustResolve(t, y, nil)

	top := recipe.New("top")
	top.Scripts[recipe.Package] = "true"
	top.Depends = []recipe.Dependency{
		{Recipe: "x", Use: map[string]bool{"deps": true}},
		{Recipe: "y", Use: map[string]bool{"deps": true}},
	}
	mustResolve(t, top, nil)

	recipes := map[string]*recipe.Recipe{"shared": shared, "x": x, "y": y, "top": top}
	e := NewEngine(recipes, recipe.Policies{})

	_, _, err := e.Prepare("top", newInput())
	if err == nil {
		t.Fatalf("expected incompatible indirect dep error")
	}
	if !strings.Contains(err.Error(), "incompatible indirect dep") {
		t.Fatalf("expected error to mention incompatible indirect dep, got %v", err)
	}
}
