// Package recipe holds the parsed recipe/class value and the one-shot
// class-resolution merge that turns a recipe plus its inherited classes
// into the single, read-only value elaboration consumes.
package recipe

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Name patterns, carried verbatim from the original implementation's
// RECIPE_NAME_SCHEMA / VarDefineValidator: a recipe/package path
// component is a restricted filename-safe string, a variable name is a
// C identifier.
var (
	NamePattern     = regexp.MustCompile(`^[0-9A-Za-z_.+-]+$`)
	VariableNameRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reservedVarPfx  = "FOUNDRY_"
	BuiltinRecipe   = reservedVarPfx + "RECIPE_NAME"
	BuiltinPackage  = reservedVarPfx + "PACKAGE_NAME"
	errReservedName = fmt.Errorf("variable names starting with %q are reserved", reservedVarPfx)
)

// ValidateVariableName rejects names that are not valid identifiers or
// that collide with the builtin namespace a recipe may not define
// itself (FOUNDRY_RECIPE_NAME / FOUNDRY_PACKAGE_NAME are set by
// elaboration, not by recipe authors).
func ValidateVariableName(name string) error {
	if !VariableNameRe.MatchString(name) {
		return fmt.Errorf("invalid variable name %q", name)
	}
	if strings.HasPrefix(name, reservedVarPfx) {
		return fmt.Errorf("%q: %w", name, errReservedName)
	}
	return nil
}

// Step identifies one of the three script bodies a recipe may define.
type Step int

const (
	Checkout Step = iota
	Build
	Package
	stepCount
)

func (s Step) String() string {
	switch s {
	case Checkout:
		return "checkout"
	case Build:
		return "build"
	case Package:
		return "package"
	default:
		return "unknown"
	}
}

// Dependency is one entry of a recipe's `depends` list.
type Dependency struct {
	Recipe      string
	EnvOverride map[string]string
	Forward     bool
	Use         map[string]bool
	Condition   string
	Depends     []Dependency // nested `depends` block
}

// UsesResult reports whether this dependency contributes to the
// caller's args (use: [result]), the common case when no `use` is given.
func (d Dependency) UsesResult() bool {
	if len(d.Use) == 0 {
		return true
	}
	return d.Use["result"]
}

// AbstractTool is the recipe-level template for a provided tool; Core
// turns it into a concrete CoreTool by substituting against the
// defining package's environment.
type AbstractTool struct {
	Path              string
	Libs              []string
	NetAccess         bool
	Environment       map[string]string
	FingerprintScript string
	FingerprintIf     FingerprintIf
}

// fingerprintState is the tri-state a fingerprintIf condition can hold:
// left unset it's a maybe, pinned to a literal true or false, or a
// string expression evaluated against the package's own environment.
type fingerprintState int

const (
	fingerprintMaybe fingerprintState = iota
	fingerprintTrue
	fingerprintFalse
	fingerprintExpr
)

// FingerprintIf is a parsed fingerprintIf value. The zero value is
// "maybe": it only counts toward a package's fingerprint mask if some
// other condition in the same package definitely fires.
type FingerprintIf struct {
	state fingerprintState
	expr  string
}

// FingerprintAlways, FingerprintNever, and FingerprintMaybe construct
// the three non-expression states explicitly.
var (
	FingerprintAlways = FingerprintIf{state: fingerprintTrue}
	FingerprintNever  = FingerprintIf{state: fingerprintFalse}
	FingerprintMaybe  = FingerprintIf{}
)

// FingerprintExpr constructs a condition evaluated against the
// package's environment at fingerprint-mask time.
func FingerprintExpr(expr string) FingerprintIf {
	return FingerprintIf{state: fingerprintExpr, expr: expr}
}

func (f FingerprintIf) IsTrue() bool  { return f.state == fingerprintTrue }
func (f FingerprintIf) IsFalse() bool { return f.state == fingerprintFalse }
func (f FingerprintIf) IsMaybe() bool { return f.state == fingerprintMaybe }

// Expr returns the expression to evaluate and true, or ("", false) if
// this condition is not an expression.
func (f FingerprintIf) Expr() (string, bool) {
	if f.state != fingerprintExpr {
		return "", false
	}
	return f.expr, true
}

// RawState and FingerprintFromRaw let a caller serialize a FingerprintIf
// without reaching into its unexported representation.
func (f FingerprintIf) RawState() int { return int(f.state) }

func FingerprintFromRaw(state int, expr string) FingerprintIf {
	return FingerprintIf{state: fingerprintState(state), expr: expr}
}

// inherit implements the plugin-property-style "child wins unless
// absent" merge used for provided tools across class inheritance.
func (t AbstractTool) inherit(parent AbstractTool) AbstractTool {
	if t.Path == "" {
		t.Path = parent.Path
	}
	return t
}

// Mount is a sandbox mount tuple: (hostPath, sandboxPath, options).
// Options are drawn from a closed set.
type Mount struct {
	Host    string
	Sandbox string
	Options []string
}

var validMountOptions = map[string]bool{
	"nolocal": true, "nojenkins": true, "nofail": true, "rw": true,
}

// ValidateMount checks that every option in m is from the closed set.
func ValidateMount(m Mount) error {
	for _, o := range m.Options {
		if !validMountOptions[o] {
			return fmt.Errorf("invalid mount option %q", o)
		}
	}
	return nil
}

// Sandbox is the recipe-level provideSandbox template.
type Sandbox struct {
	Paths       []string
	Mounts      []Mount
	Environment map[string]string
}

// CheckoutAssert generates a SHA1 range-check script
// (`sed -n 'START,ENDp' FILE | sha1sum`) attached to the checkout step,
// so a source file's content within a line range is pinned independent
// of surrounding changes. Asserts are invariant across inheritance:
// parent asserts run before child asserts.
type CheckoutAssert struct {
	File       string
	Start, End int
	Digest     string
}

// Script renders the shell fragment that verifies the assertion.
func (c CheckoutAssert) Script() string {
	return fmt.Sprintf("test \"$(sed -n '%d,%dp' %s | sha1sum | cut -d' ' -f1)\" = %q",
		c.Start, c.End, c.File, c.Digest)
}

// SCM is one checkout source-control entry. Drivers themselves are out
// of scope; Core only needs the directory each SCM populates so it can
// check disjointness.
type SCM struct {
	Kind      string
	Directory string
	URL       string
	Branch    string
	Tag       string
	Commit    string
}

// tri is a tri-state boolean: unset, false, true. Scalars merged with
// "first non-null wins in child direction" use this so a class can
// leave a flag unset without forcing false.
type tri struct {
	set   bool
	value bool
}

func triSet(v bool) tri { return tri{set: true, value: v} }

func (t tri) orElse(parent tri) tri {
	if t.set {
		return t
	}
	return parent
}

// Recipe is the parsed, and after resolveClasses fully merged, recipe
// value. Created during parse; mutated only by resolveClasses; read-only
// thereafter.
type Recipe struct {
	PackageName string
	BaseName    string
	ClassNames  []string
	AnonBase    *Recipe // synthesized multiPackage base, if any

	Depends []Dependency

	FilterEnv, FilterTools, FilterSandbox []string

	PrivateEnv map[string]string // merged per mergeEnvironment policy
	PrivateEnvLayers []map[string]string // ordered parent-to-child, used when mergeEnvironment is on
	SelfEnv    map[string]string // "env" self-vars, substituted at use
	MetaEnv    map[string]string // non-substituted

	StrongVars [stepCount]map[string]bool
	WeakVars   [stepCount]map[string]bool
	ToolsDep   [stepCount]map[string]bool

	ProvideEnv    map[string]string
	ProvideTools  map[string]AbstractTool
	ProvideDeps   []string // glob patterns over own deps
	ProvideSandbox *Sandbox

	Scripts       [stepCount]string
	DigestScripts [stepCount]string

	CheckoutSCM           []SCM
	CheckoutAsserts       []CheckoutAssert
	CheckoutDeterministic bool

	root             tri
	shared           tri
	relocatable      tri
	buildNetAccess   tri
	packageNetAccess tri

	FingerprintScripts []string
	FingerprintIf      []FingerprintIf

	resolved bool
}

// New returns an empty recipe ready to receive parsed fields and
// eventually be merged with its classes.
func New(packageName string) *Recipe {
	r := &Recipe{PackageName: packageName, BaseName: packageName}
	for s := Checkout; s < stepCount; s++ {
		r.StrongVars[s] = map[string]bool{}
		r.WeakVars[s] = map[string]bool{}
		r.ToolsDep[s] = map[string]bool{}
	}
	r.PrivateEnv = map[string]string{}
	r.SelfEnv = map[string]string{}
	r.MetaEnv = map[string]string{}
	r.ProvideEnv = map[string]string{}
	r.ProvideTools = map[string]AbstractTool{}
	return r
}

func (r *Recipe) Root() bool             { return r.root.value }
func (r *Recipe) Shared() bool           { return r.shared.value }
func (r *Recipe) Relocatable() bool      { return r.relocatable.value }
func (r *Recipe) BuildNetAccess() bool   { return r.buildNetAccess.value }
func (r *Recipe) PackageNetAccess() bool { return r.packageNetAccess.value }

// SetRoot, SetShared, etc. are used by the YAML decoder to record
// whether a scalar was present at all (tri-state), as opposed to present
// and false.
func (r *Recipe) SetRoot(v bool)             { r.root = triSet(v) }
func (r *Recipe) SetShared(v bool)           { r.shared = triSet(v) }
func (r *Recipe) SetRelocatable(v bool)      { r.relocatable = triSet(v) }
func (r *Recipe) SetBuildNetAccess(v bool)   { r.buildNetAccess = triSet(v) }
func (r *Recipe) SetPackageNetAccess(v bool) { r.packageNetAccess = triSet(v) }

// Policies controls the class-resolution and elaboration behavior that
// the original keeps as opt-in, backward-compatibility policy flags.
type Policies struct {
	MergeEnvironment bool
	AllRelocatable   bool
	UniqueDependency bool
	SandboxInvariant bool
	OfflineBuild     bool
}

// ClassLookup resolves a class name to its parsed (but not yet
// resolved) Recipe value.
type ClassLookup func(name string) (*Recipe, bool)

// ResolveClasses performs the one-shot parent-first merge described by
// a depth-first post-order traversal of r's class list (with the
// synthesized anonymous base, if any, prepended), visiting each class at
// most once. It is an error to call ResolveClasses twice on the same
// Recipe.
func (r *Recipe) ResolveClasses(lookup ClassLookup, pol Policies) error {
	if r.resolved {
		return fmt.Errorf("recipe %q: ResolveClasses called twice", r.PackageName)
	}

	order, err := classOrder(r, lookup)
	if err != nil {
		return err
	}

	merged := New(r.PackageName)
	merged.BaseName = r.BaseName
	merged.mergeParent(r, pol)
	for i := len(order) - 1; i >= 0; i-- {
		merged.mergeParent(order[i], pol)
	}

	*r = *merged
	r.resolved = true

	if err := r.finalize(pol); err != nil {
		return err
	}
	return nil
}

// classOrder walks r's (and its anonymous base's) `inherit` lists
// depth-first, post-order, skipping classes already visited and
// detecting cycles.
func classOrder(r *Recipe, lookup ClassLookup) ([]*Recipe, error) {
	var order []*Recipe
	visited := map[string]bool{}
	visiting := map[string]bool{}

	var visit func(names []string) error
	visit = func(names []string) error {
		for _, name := range names {
			if visited[name] {
				continue
			}
			if visiting[name] {
				return fmt.Errorf("cyclic class inheritance at %q", name)
			}
			cls, ok := lookup(name)
			if !ok {
				return fmt.Errorf("unknown class %q", name)
			}
			visiting[name] = true
			if err := visit(cls.ClassNames); err != nil {
				return err
			}
			visiting[name] = false
			visited[name] = true
			order = append(order, cls)
		}
		return nil
	}

	names := r.ClassNames
	if r.AnonBase != nil {
		if err := visit(r.AnonBase.ClassNames); err != nil {
			return nil, err
		}
		order = append(order, r.AnonBase)
	}
	if err := visit(names); err != nil {
		return nil, err
	}
	return order, nil
}

// mergeParent folds parent's fields into r (r is the accumulator,
// already holding the recipe and the classes nearer to it; parent is
// the next class outward, so parents are applied in child-to-parent
// order: parent's lists and scripts go in front of r's, while r's
// scalars and map entries win).
func (r *Recipe) mergeParent(parent *Recipe, pol Policies) {
	r.Depends = append(append([]Dependency(nil), parent.Depends...), r.Depends...)

	r.FilterEnv = append(append([]string(nil), parent.FilterEnv...), r.FilterEnv...)
	r.FilterTools = append(append([]string(nil), parent.FilterTools...), r.FilterTools...)
	r.FilterSandbox = append(append([]string(nil), parent.FilterSandbox...), r.FilterSandbox...)

	r.root = r.root.orElse(parent.root)
	r.shared = r.shared.orElse(parent.shared)
	r.relocatable = r.relocatable.orElse(parent.relocatable)
	r.buildNetAccess = r.buildNetAccess.orElse(parent.buildNetAccess)
	r.packageNetAccess = r.packageNetAccess.orElse(parent.packageNetAccess)

	for k, v := range parent.ProvideEnv {
		if _, ok := r.ProvideEnv[k]; !ok {
			r.ProvideEnv[k] = v
		}
	}
	for k, v := range parent.ProvideTools {
		if existing, ok := r.ProvideTools[k]; ok {
			r.ProvideTools[k] = existing.inherit(v)
		} else {
			r.ProvideTools[k] = v
		}
	}
	r.ProvideDeps = unionStrings(parent.ProvideDeps, r.ProvideDeps)

	if parent.ProvideSandbox != nil && r.ProvideSandbox == nil {
		r.ProvideSandbox = parent.ProvideSandbox
	}

	if pol.MergeEnvironment {
		r.PrivateEnvLayers = append(append([]map[string]string(nil), parent.PrivateEnvLayers...), r.PrivateEnvLayers...)
		if len(parent.PrivateEnv) > 0 {
			r.PrivateEnvLayers = append([]map[string]string{parent.PrivateEnv}, r.PrivateEnvLayers...)
		}
	} else {
		merged := map[string]string{}
		for k, v := range parent.PrivateEnv {
			merged[k] = v
		}
		for k, v := range r.PrivateEnv {
			merged[k] = v
		}
		r.PrivateEnv = merged
	}

	for k, v := range parent.SelfEnv {
		if _, ok := r.SelfEnv[k]; !ok {
			r.SelfEnv[k] = v
		}
	}
	for k, v := range parent.MetaEnv {
		if _, ok := r.MetaEnv[k]; !ok {
			r.MetaEnv[k] = v
		}
	}

	for s := Checkout; s < stepCount; s++ {
		r.StrongVars[s] = unionSet(r.StrongVars[s], parent.StrongVars[s])
		r.WeakVars[s] = unionSet(r.WeakVars[s], parent.WeakVars[s])
		r.ToolsDep[s] = unionSet(r.ToolsDep[s], parent.ToolsDep[s])
	}
	// Weak-for-step inherits weak-for-earlier-step: checkoutVars ⊆
	// buildVars ⊆ packageVars.
	r.WeakVars[Build] = unionSet(r.WeakVars[Build], r.WeakVars[Checkout])
	r.WeakVars[Package] = unionSet(r.WeakVars[Package], r.WeakVars[Build])

	for s := Checkout; s < stepCount; s++ {
		if parent.Scripts[s] != "" {
			if r.Scripts[s] != "" {
				r.Scripts[s] = parent.Scripts[s] + "\n" + r.Scripts[s]
			} else {
				r.Scripts[s] = parent.Scripts[s]
			}
		}
		if parent.DigestScripts[s] != "" {
			if r.DigestScripts[s] != "" {
				r.DigestScripts[s] = parent.DigestScripts[s] + "\n" + r.DigestScripts[s]
			} else {
				r.DigestScripts[s] = parent.DigestScripts[s]
			}
		}
	}

	r.CheckoutSCM = append(append([]SCM(nil), parent.CheckoutSCM...), r.CheckoutSCM...)
	r.CheckoutAsserts = append(append([]CheckoutAssert(nil), parent.CheckoutAsserts...), r.CheckoutAsserts...)
	if !r.CheckoutDeterministic {
		r.CheckoutDeterministic = parent.CheckoutDeterministic
	}

	r.FingerprintScripts = append(append([]string(nil), parent.FingerprintScripts...), r.FingerprintScripts...)
	r.FingerprintIf = append(append([]FingerprintIf(nil), parent.FingerprintIf...), r.FingerprintIf...)
}

// finalize applies the post-merge defaulting rules and resolves
// provideDeps globs against the recipe's own dependency names.
func (r *Recipe) finalize(pol Policies) error {
	if !r.relocatable.set {
		r.relocatable = triSet(pol.AllRelocatable || len(r.ProvideTools) == 0)
	} else if pol.AllRelocatable {
		r.relocatable = triSet(true)
	}

	if !r.buildNetAccess.set {
		r.buildNetAccess = triSet(!pol.OfflineBuild)
	}
	if !r.packageNetAccess.set {
		r.packageNetAccess = triSet(!pol.OfflineBuild)
	}

	depNames := make([]string, 0, len(r.Depends))
	seen := map[string]bool{}
	var collectNames func([]Dependency)
	collectNames = func(deps []Dependency) {
		for _, d := range deps {
			if d.Recipe != "" && !seen[d.Recipe] {
				seen[d.Recipe] = true
				depNames = append(depNames, d.Recipe)
			}
			collectNames(d.Depends)
		}
	}
	collectNames(r.Depends)

	for _, pattern := range r.ProvideDeps {
		matched := false
		for _, name := range depNames {
			if ok, _ := matchGlob(pattern, name); ok {
				matched = true
			}
		}
		if !matched && !strings.ContainsAny(pattern, "*?[") {
			if !seen[pattern] {
				return fmt.Errorf("provideDeps: unknown dependency %q", pattern)
			}
		}
	}

	return nil
}

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func unionSet(a, b map[string]bool) map[string]bool {
	out := map[string]bool{}
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

func matchGlob(pattern, name string) (bool, error) {
	return filepath.Match(pattern, name)
}

// SortedNames returns names sorted, a small helper reused wherever a
// digest needs a deterministic tool/env name order.
func SortedNames(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
