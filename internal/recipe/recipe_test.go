package recipe

import "testing"

const baseYAML = `
privateEnvironment:
  CFLAGS: -O2
buildVars: [CFLAGS]
build: |
  echo base
`

const childYAML = `
inherit: [base]
privateEnvironment:
  CFLAGS: -O3
build: |
  echo child
`

func TestResolveClassesMergesScriptsParentFirst(t *testing.T) {
	base, err := Parse("base", []byte(baseYAML))
	if err != nil {
		t.Fatal(err)
	}
	child, err := Parse("pkg::child", []byte(childYAML))
	if err != nil {
		t.Fatal(err)
	}

	classes := map[string]*Recipe{"base": base}
	lookup := func(name string) (*Recipe, bool) { r, ok := classes[name]; return r, ok }

	if err := child.ResolveClasses(lookup, Policies{}); err != nil {
		t.Fatal(err)
	}

	want := "echo base\n\necho child\n"
	if child.Scripts[Build] != want {
		t.Errorf("got build script %q, want %q", child.Scripts[Build], want)
	}

	if child.PrivateEnv["CFLAGS"] != "-O3" {
		t.Errorf("expected child CFLAGS to override base, got %q", child.PrivateEnv["CFLAGS"])
	}

	if !child.StrongVars[Build]["CFLAGS"] {
		t.Errorf("expected buildVars union to include CFLAGS")
	}
}

func TestResolveClassesCycleDetection(t *testing.T) {
	a, _ := Parse("a", []byte("inherit: [b]\n"))
	b, _ := Parse("b", []byte("inherit: [a]\n"))
	classes := map[string]*Recipe{"a": a, "b": b}
	lookup := func(name string) (*Recipe, bool) { r, ok := classes[name]; return r, ok }

	if err := a.ResolveClasses(lookup, Policies{}); err == nil {
		t.Fatal("expected cyclic class inheritance error")
	}
}

func TestWeakVarsInheritAcrossSteps(t *testing.T) {
	r, err := Parse("pkg", []byte("checkoutVarsWeak: [REV]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ResolveClasses(func(string) (*Recipe, bool) { return nil, false }, Policies{}); err != nil {
		t.Fatal(err)
	}
	if !r.WeakVars[Build]["REV"] {
		t.Error("expected checkout weak vars to propagate into build weak vars")
	}
	if !r.WeakVars[Package]["REV"] {
		t.Error("expected checkout weak vars to propagate into package weak vars")
	}
}

func TestRelocatableDefaultsFalseWhenProvidingTools(t *testing.T) {
	r, err := Parse("pkg", []byte("provideTools:\n  gcc:\n    path: bin\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ResolveClasses(func(string) (*Recipe, bool) { return nil, false }, Policies{}); err != nil {
		t.Fatal(err)
	}
	if r.Relocatable() {
		t.Error("expected a tool-providing recipe to default to non-relocatable")
	}
}

func TestAllRelocatablePolicyForcesTrue(t *testing.T) {
	r, err := Parse("pkg", []byte("provideTools:\n  gcc:\n    path: bin\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ResolveClasses(func(string) (*Recipe, bool) { return nil, false }, Policies{AllRelocatable: true}); err != nil {
		t.Fatal(err)
	}
	if !r.Relocatable() {
		t.Error("expected allRelocatable policy to force relocatable=true")
	}
}

func TestMultiPackageSharesAnonymousBase(t *testing.T) {
	doc := `
privateEnvironment:
  SHARED: "1"
multiPackage:
  a:
    build: echo a
  b:
    build: echo b
`
	recipes, err := ParseMultiPackage("pkg", []byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(recipes) != 2 {
		t.Fatalf("expected 2 sibling recipes, got %d", len(recipes))
	}
	for name, r := range recipes {
		if err := r.ResolveClasses(func(string) (*Recipe, bool) { return nil, false }, Policies{}); err != nil {
			t.Fatal(err)
		}
		if r.PrivateEnv["SHARED"] != "1" {
			t.Errorf("%s: expected shared anonymous-base env to be inherited", name)
		}
	}
}

func TestValidateVariableNameRejectsReservedPrefix(t *testing.T) {
	if err := ValidateVariableName("FOUNDRY_RECIPE_NAME"); err == nil {
		t.Fatal("expected reserved-prefix name to be rejected")
	}
	if err := ValidateVariableName("CFLAGS"); err != nil {
		t.Fatalf("unexpected error for valid name: %v", err)
	}
}

func TestParseRejectsAbsoluteCheckoutDirectory(t *testing.T) {
	doc := `
checkoutSCM:
  - scm: git
    dir: /etc
    url: https://example.com/repo.git
`
	if _, err := Parse("pkg", []byte(doc)); err == nil {
		t.Fatal("expected absolute checkout directory to be rejected")
	}
}

func TestParseRejectsOverlappingCheckoutDirectories(t *testing.T) {
	doc := `
checkoutSCM:
  - scm: git
    dir: foo
    url: https://example.com/a.git
  - scm: git
    dir: foo/bar
    url: https://example.com/b.git
`
	if _, err := Parse("pkg", []byte(doc)); err == nil {
		t.Fatal("expected overlapping checkout directories to be rejected")
	}
}

func TestParseAllowsDisjointCheckoutDirectories(t *testing.T) {
	doc := `
checkoutSCM:
  - scm: git
    dir: foo
    url: https://example.com/a.git
  - scm: git
    dir: bar
    url: https://example.com/b.git
`
	r, err := Parse("pkg", []byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.CheckoutSCM) != 2 {
		t.Fatalf("expected both SCM entries to parse, got %d", len(r.CheckoutSCM))
	}
}

func TestFingerprintIfDefaultsToMaybeWhenUnset(t *testing.T) {
	doc := `
fingerprintScript: echo fp
`
	r, err := Parse("pkg", []byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(r.FingerprintIf) != 1 || !r.FingerprintIf[0].IsMaybe() {
		t.Fatalf("expected a single maybe condition, got %+v", r.FingerprintIf)
	}
}

func TestFingerprintIfLiteralFalseDropsTheEntry(t *testing.T) {
	doc := `
fingerprintScript: echo fp
fingerprintIf: false
`
	r, err := Parse("pkg", []byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(r.FingerprintIf) != 0 {
		t.Fatalf("expected fingerprintIf: false to drop the entry entirely, got %+v", r.FingerprintIf)
	}
}

func TestFingerprintIfLiteralTrueAndExpr(t *testing.T) {
	doc := `
fingerprintScript: echo fp
fingerprintIf: true
`
	r, err := Parse("pkg", []byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(r.FingerprintIf) != 1 || !r.FingerprintIf[0].IsTrue() {
		t.Fatalf("expected a single always-true condition, got %+v", r.FingerprintIf)
	}

	doc2 := `
fingerprintScript: echo fp
fingerprintIf: "${DO_FINGERPRINT}"
`
	r2, err := Parse("pkg", []byte(doc2))
	if err != nil {
		t.Fatal(err)
	}
	if len(r2.FingerprintIf) != 1 {
		t.Fatalf("expected a single condition, got %+v", r2.FingerprintIf)
	}
	expr, ok := r2.FingerprintIf[0].Expr()
	if !ok || expr != "${DO_FINGERPRINT}" {
		t.Fatalf("expected expression condition %q, got %q (ok=%v)", "${DO_FINGERPRINT}", expr, ok)
	}
}
