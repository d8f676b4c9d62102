package core

import (
	"fmt"

	"github.com/forgehq/foundry/internal/env"
	"github.com/forgehq/foundry/internal/recipe"
)

// Engine owns the recipe set, the per-recipe PackageMatcher memoization
// state, and the monotonically increasing package id counter. It is the
// single point through which Prepare is invoked; elaboration is
// single-threaded, so no locking guards its fields.
type Engine struct {
	Recipes  map[string]*recipe.Recipe
	Policies recipe.Policies
	funcs    map[string]env.Func

	memo      map[string]*recipeMemo
	nextPkgID int
	warnSeen  map[string]bool

	// Warn receives a message the first time a given diagnostic key is
	// produced. Left nil, warnings are silently dropped.
	Warn func(key, message string)
}

// NewEngine constructs an Engine ready to elaborate recipes from the
// given table.
func NewEngine(recipes map[string]*recipe.Recipe, policies recipe.Policies) *Engine {
	return &Engine{
		Recipes:  recipes,
		Policies: policies,
		funcs:    env.DefaultFuncs(),
		memo:     map[string]*recipeMemo{},
		warnSeen: map[string]bool{},
	}
}

func (e *Engine) memoFor(name string) *recipeMemo {
	m, ok := e.memo[name]
	if !ok {
		m = newRecipeMemo()
		e.memo[name] = m
	}
	return m
}

func (e *Engine) warnOnce(key, message string) {
	if e.warnSeen[key] {
		return
	}
	e.warnSeen[key] = true
	if e.Warn != nil {
		e.Warn(key, message)
	}
}

// Input carries everything a Prepare call needs from its caller.
type Input struct {
	Env            *env.Env
	SandboxEnabled bool
	States         map[string]string
	Sandbox        *CoreRef
	Tools          map[string]*CoreRef
	Stack          []string
}

// callCtx adapts an Engine's in-flight tool/sandbox view to
// env.CallContext for substitution functions like is-tool and
// is-sandbox-enabled.
type callCtx struct {
	tools          map[string]*CoreRef
	sandboxEnabled bool
}

func (c callCtx) HasTool(name string) bool { _, ok := c.tools[name]; return ok }
func (c callCtx) SandboxEnabled() bool     { return c.sandboxEnabled }

func containsStack(stack []string, name string) bool {
	for _, s := range stack {
		if s == name {
			return true
		}
	}
	return false
}

func copyEnvInto(dst *env.Env, src *env.Env) {
	for k, v := range src.Copy() {
		dst.Set(k, v)
	}
}

func copyToolRefs(src map[string]*CoreRef) map[string]*CoreRef {
	out := make(map[string]*CoreRef, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func copyStates(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func diffToolMaps(base, updated map[string]*CoreRef) map[string]toolDiff {
	diff := map[string]toolDiff{}
	for name, ref := range updated {
		if b, ok := base[name]; !ok || b != ref {
			diff[name] = toolDiff{Ref: ref}
		}
	}
	for name := range base {
		if _, ok := updated[name]; !ok {
			diff[name] = toolDiff{Removed: true}
		}
	}
	return diff
}

func diffSandboxRefs(base, updated *CoreRef) (DiffSandboxOp, *CoreRef) {
	if updated == base {
		return SandboxInherit, nil
	}
	if updated == nil {
		return SandboxClear, nil
	}
	return SandboxReplace, updated
}

// diffToolsAgainstResolved computes the overlay needed to see a
// dependency's fully resolved tool table (updated, keyed by concrete
// *CoreTool identity) from a caller whose own table is base. Unlike
// diffToolMaps this is asymmetric: base carries caller-side CoreRefs,
// updated carries the dependency's already-resolved tools, so the
// comparison is on *CoreTool identity rather than *CoreRef identity.
func diffToolsAgainstResolved(base map[string]*CoreRef, updated map[string]*CoreTool) map[string]toolDiff {
	diff := map[string]toolDiff{}
	for name, tool := range updated {
		if b, ok := base[name]; !ok || b.Tool != tool {
			diff[name] = toolDiff{Ref: &CoreRef{Tool: tool}}
		}
	}
	for name := range base {
		if _, ok := updated[name]; !ok {
			diff[name] = toolDiff{Removed: true}
		}
	}
	return diff
}

// diffSandboxAgainst compares the sandbox inherited by a caller (through
// base, possibly nil) against the sandbox actually in effect at a
// dependency's own package step, identified by its underlying
// CoreSandbox rather than by CoreRef identity: the dependency's sandbox
// is always wrapped in a freshly built CoreRef, so only the underlying
// box can tell "unchanged" from "replaced with an equivalent one".
func diffSandboxAgainst(base *CoreRef, childSandbox *CoreSandbox) (DiffSandboxOp, *CoreRef) {
	var baseSandbox *CoreSandbox
	if base != nil {
		baseSandbox = base.Sandbox
	}
	if baseSandbox == childSandbox {
		return SandboxInherit, nil
	}
	if childSandbox == nil {
		return SandboxClear, nil
	}
	return SandboxReplace, &CoreRef{Sandbox: childSandbox}
}

func sandboxVariantIDBytes(ref *CoreRef) []byte {
	if ref == nil || ref.Sandbox == nil || ref.Sandbox.PackageStep == nil {
		return nil
	}
	return ref.Sandbox.PackageStep.VariantID
}

func toolVariantIDHex(ref *CoreRef) string {
	if ref == nil || ref.Tool == nil || ref.Tool.PackageStep == nil {
		return ""
	}
	return hexOrEmpty(ref.Tool.PackageStep.VariantID)
}

// Prepare elaborates recipeName against in, returning the resulting
// CorePackage and the set of recipe names reachable in its subtree (used
// by callers further up the stack for cycle detection against a
// memoized hit).
func (e *Engine) Prepare(recipeName string, in Input) (*CorePackage, map[string]bool, error) {
	if containsStack(in.Stack, recipeName) {
		return nil, nil, fmt.Errorf("cyclic dependency on %q", recipeName)
	}

	r, ok := e.Recipes[recipeName]
	if !ok {
		return nil, nil, fmt.Errorf("unknown recipe %q", recipeName)
	}

	memo := e.memoFor(recipeName)

	inEnvValues := in.Env.Copy()
	inEnvDefined := make(map[string]bool, len(inEnvValues))
	for k := range inEnvValues {
		inEnvDefined[k] = true
	}
	toolIDs := map[string]string{}
	for name, ref := range in.Tools {
		toolIDs[name] = toolVariantIDHex(ref)
	}
	sandboxID := hexOrEmpty(sandboxVariantIDBytes(in.Sandbox))

	for _, m := range memo.matchers {
		if !m.matches(inEnvValues, inEnvDefined, toolIDs, in.States, sandboxID) {
			continue
		}
		if len(in.Stack) > 0 {
			for name := range m.subTree {
				if containsStack(in.Stack, name) {
					return nil, nil, fmt.Errorf("cyclic dependency on %q (via memoized %q)", name, recipeName)
				}
			}
		}
		return m.result, m.subTree, nil
	}

	return e.prepareFresh(recipeName, r, in, memo)
}

func (e *Engine) prepareFresh(recipeName string, r *recipe.Recipe, in Input, memo *recipeMemo) (*CorePackage, map[string]bool, error) {
	ownEnv := env.New(e.funcs)
	copyEnvInto(ownEnv, in.Env)
	ownEnv.TouchReset()

	ownTools := copyToolRefs(in.Tools)
	var ownSandbox *CoreRef = in.Sandbox
	ownStates := copyStates(in.States)

	depEnvValues := in.Env.Copy()
	depTools := copyToolRefs(in.Tools)
	depSandbox := in.Sandbox
	depStates := copyStates(in.States)

	var resultRefs []*CoreRef
	seenDepRef := map[string]*CoreRef{}
	indirect := map[string]*CorePackage{}
	providedDeps := map[string]*CorePackage{}
	subTree := map[string]bool{recipeName: true}
	touchedTools := map[string]bool{}

	childStack := append(append([]string(nil), in.Stack...), recipeName)

	for _, dep := range flattenDependencies(r.Depends) {
		if dep.Condition != "" {
			ok, err := ownEnv.Evaluate(dep.Condition, "depends["+dep.Recipe+"].if", callCtx{tools: ownTools, sandboxEnabled: in.SandboxEnabled})
			if err != nil {
				return nil, nil, fmt.Errorf("recipe %q: %w", recipeName, err)
			}
			if !ok {
				continue
			}
		}

		de := env.New(e.funcs)
		for k, v := range depEnvValues {
			de.Set(k, v)
		}
		for k, v := range dep.EnvOverride {
			substituted, err := ownEnv.Substitute(v, "depends["+dep.Recipe+"].environment["+k+"]", callCtx{tools: ownTools, sandboxEnabled: in.SandboxEnabled})
			if err != nil {
				return nil, nil, fmt.Errorf("recipe %q: %w", recipeName, err)
			}
			de.Set(k, substituted)
		}

		childResult, childSubTree, err := e.Prepare(dep.Recipe, Input{
			Env:            de,
			SandboxEnabled: in.SandboxEnabled,
			States:         copyStates(depStates),
			Sandbox:        depSandbox,
			Tools:          copyToolRefs(depTools),
			Stack:          childStack,
		})
		if err != nil {
			return nil, nil, err
		}
		for name := range childSubTree {
			subTree[name] = true
		}

		childRef := &CoreRef{Step: childResult.PackageStep, StackSuffix: dep.Recipe}
		if diff := diffToolsAgainstResolved(ownTools, childResult.Tools); len(diff) > 0 {
			childRef.diffTools = diff
		}
		if op, repl := diffSandboxAgainst(ownSandbox, childResult.Sandbox); op != SandboxInherit {
			childRef.diffSandbox = op
			childRef.replacement = repl
		}

		if prior, seen := seenDepRef[dep.Recipe]; seen {
			if !bytesEqual(prior.Step.VariantID, childRef.Step.VariantID) {
				return nil, nil, fmt.Errorf("recipe %q: incompatible re-declaration of dependency %q", recipeName, dep.Recipe)
			}
			if !e.Policies.UniqueDependency {
				e.warnOnce("uniqueDependency:"+recipeName+":"+dep.Recipe,
					fmt.Sprintf("recipe %q names dependency %q more than once", recipeName, dep.Recipe))
			} else {
				return nil, nil, fmt.Errorf("recipe %q: dependency %q named more than once", recipeName, dep.Recipe)
			}
		} else {
			seenDepRef[dep.Recipe] = childRef
		}

		useResult := dep.UsesResult()
		useEnvironment := dep.Use["environment"]
		useTools := dep.Use["tools"]
		useSandbox := dep.Use["sandbox"]
		useDeps := dep.Use["deps"]

		if useEnvironment {
			for k, v := range childResult.PackageStep.ProvidedEnv {
				ownEnv.Set(k, v)
				if dep.Forward {
					depEnvValues[k] = v
				}
			}
		}
		if useTools {
			for name, tool := range childResult.PackageStep.ProvidedTools {
				ref := &CoreRef{Tool: tool}
				ownTools[name] = ref
				touchedTools[name] = true
				if dep.Forward {
					depTools[name] = ref
				}
			}
		}
		if useSandbox && childResult.PackageStep.ProvidedSandbox != nil {
			sref := &CoreRef{Sandbox: childResult.PackageStep.ProvidedSandbox}
			ownSandbox = sref
			if in.SandboxEnabled {
				for k, v := range sref.Sandbox.Environment {
					ownEnv.Set(k, v)
				}
			}
			if dep.Forward {
				depSandbox = sref
			}
		}
		if useDeps {
			for _, d := range childResult.PackageStep.ProvidedDeps {
				if existing, seen := indirect[d.Recipe.PackageName]; seen {
					if !bytesEqual(existing.PackageStep.VariantID, d.PackageStep.VariantID) {
						return nil, nil, fmt.Errorf("recipe %q: incompatible indirect dep %q", recipeName, d.Recipe.PackageName)
					}
				} else {
					indirect[d.Recipe.PackageName] = d
				}
			}
		}
		for name := range dep.Use {
			switch name {
			case "result", "environment", "tools", "sandbox", "deps":
			default:
				if v, ok := childResult.States[name]; ok {
					ownStates[name] = v
					if dep.Forward {
						depStates[name] = v
					}
				}
			}
		}

		if useResult {
			resultRefs = append(resultRefs, childRef)
		}

		for _, pattern := range r.ProvideDeps {
			if ok, _ := matchPattern(pattern, dep.Recipe); ok {
				if existing, seen := providedDeps[childResult.Recipe.PackageName]; seen {
					if !bytesEqual(existing.PackageStep.VariantID, childResult.PackageStep.VariantID) {
						return nil, nil, fmt.Errorf("recipe %q: provideDeps collision on %q", recipeName, childResult.Recipe.PackageName)
					}
				} else {
					providedDeps[childResult.Recipe.PackageName] = childResult
				}
				for _, d := range childResult.PackageStep.ProvidedDeps {
					providedDeps[d.Recipe.PackageName] = d
				}
			}
		}
	}

	toolEnvSeen := map[string]string{}
	for name, ref := range ownTools {
		if ref.Tool == nil {
			continue
		}
		for k, v := range ref.Tool.Environment {
			if owner, ok := toolEnvSeen[k]; ok && owner != name {
				return nil, nil, fmt.Errorf("recipe %q: tools %q and %q both define environment variable %q", recipeName, owner, name, k)
			}
			toolEnvSeen[k] = name
			ownEnv.Set(k, v)
		}
	}

	layers := r.PrivateEnvLayers
	if len(layers) == 0 && len(r.PrivateEnv) > 0 {
		layers = []map[string]string{r.PrivateEnv}
	}
	for _, layer := range layers {
		for _, k := range sortedKeys(layer) {
			substituted, err := ownEnv.Substitute(layer[k], "privateEnvironment["+k+"]", callCtx{tools: ownTools, sandboxEnabled: in.SandboxEnabled})
			if err != nil {
				return nil, nil, fmt.Errorf("recipe %q: %w", recipeName, err)
			}
			ownEnv.Set(k, substituted)
		}
	}
	for _, k := range sortedKeys(r.SelfEnv) {
		substituted, err := ownEnv.Substitute(r.SelfEnv[k], "environment["+k+"]", callCtx{tools: ownTools, sandboxEnabled: in.SandboxEnabled})
		if err != nil {
			return nil, nil, fmt.Errorf("recipe %q: %w", recipeName, err)
		}
		ownEnv.Set(k, substituted)
	}
	for k, v := range r.MetaEnv {
		ownEnv.Set(k, v)
	}
	ownEnv.Set(recipe.BuiltinRecipe, r.BaseName)
	ownEnv.Set(recipe.BuiltinPackage, recipeName)

	for name := range r.StrongVars[recipe.Package] {
		ownEnv.Lookup(name)
	}
	for name := range r.WeakVars[recipe.Package] {
		ownEnv.Lookup(name)
	}
	for name := range r.ToolsDep[recipe.Package] {
		touchedTools[name] = true
	}

	mask := computeFingerprintMask(r, ownEnv, ownTools, in.SandboxEnabled)

	resolvedTools := make(map[string]*CoreTool, len(ownTools))
	for name, ref := range ownTools {
		if ref.Tool != nil {
			resolvedTools[name] = ref.Tool
		}
	}
	var resolvedSandbox *CoreSandbox
	if ownSandbox != nil {
		resolvedSandbox = ownSandbox.Sandbox
	}

	indirectList := make([]*CorePackage, 0, len(indirect))
	for _, k := range sortedPackageKeys(indirect) {
		indirectList = append(indirectList, indirect[k])
	}

	pkg := &CorePackage{
		Recipe:              r,
		Tools:               resolvedTools,
		Sandbox:             resolvedSandbox,
		DirectDepSteps:      resultRefs,
		IndirectDepSteps:    indirectList,
		States:              ownStates,
		FingerprintMask:     mask,
		internalDiffTools:   diffToolMaps(in.Tools, ownTools),
		internalDiffSandbox: mustSandboxOp(in.Sandbox, ownSandbox),
	}

	sandboxBytes := sandboxVariantIDBytes(ownSandbox)
	if e.Policies.SandboxInvariant {
		sandboxBytes = nil
	}

	checkoutStep := newStep(recipe.Checkout, pkg, r, ownEnv)
	checkoutStep.Valid = len(r.CheckoutSCM) > 0 || r.Scripts[recipe.Checkout] != ""
	checkoutStep.Deterministic = r.CheckoutDeterministic
	checkoutStep.Script, checkoutStep.DigestScript = assembleCheckoutScript(r)
	checkoutStep.VariantID = checkoutStep.computeVariantID(sandboxBytes)
	pkg.CheckoutStep = checkoutStep
	checkoutRef := &CoreRef{Step: checkoutStep}

	buildStep := newStep(recipe.Build, pkg, r, ownEnv)
	buildStep.Valid = r.Scripts[recipe.Build] != ""
	buildStep.Deterministic = true
	buildStep.Script = r.Scripts[recipe.Build]
	buildStep.DigestScript = r.DigestScripts[recipe.Build]
	buildStep.Args = append([]*CoreRef{checkoutRef}, resultRefs...)
	buildStep.VariantID = buildStep.computeVariantID(sandboxBytes)
	pkg.BuildStep = buildStep
	buildRef := &CoreRef{Step: buildStep}

	packageStep := newStep(recipe.Package, pkg, r, ownEnv)
	packageStep.Valid = true
	packageStep.Deterministic = true
	packageStep.Script = r.Scripts[recipe.Package]
	packageStep.DigestScript = r.DigestScripts[recipe.Package]
	packageStep.Args = []*CoreRef{buildRef}
	packageStep.VariantID = packageStep.computeVariantID(sandboxBytes)
	pkg.PackageStep = packageStep

	packageStep.ProvidedEnv = map[string]string{}
	for k, v := range r.ProvideEnv {
		substituted, err := ownEnv.Substitute(v, "provideEnvironment["+k+"]", callCtx{tools: ownTools, sandboxEnabled: in.SandboxEnabled})
		if err != nil {
			return nil, nil, fmt.Errorf("recipe %q: %w", recipeName, err)
		}
		packageStep.ProvidedEnv[k] = substituted
	}

	packageStep.ProvidedTools = map[string]*CoreTool{}
	for name, at := range r.ProvideTools {
		tool, err := buildConcreteTool(at, ownEnv, ownTools, in.SandboxEnabled)
		if err != nil {
			return nil, nil, fmt.Errorf("recipe %q: tool %q: %w", recipeName, name, err)
		}
		tool.PackageStep = packageStep
		packageStep.ProvidedTools[name] = tool
	}

	packageStep.ProvidedDeps = make([]*CorePackage, 0, len(providedDeps))
	for _, k := range sortedPackageKeys(providedDeps) {
		packageStep.ProvidedDeps = append(packageStep.ProvidedDeps, providedDeps[k])
	}

	if r.ProvideSandbox != nil {
		sb := &CoreSandbox{
			PackageStep: packageStep,
			Enabled:     in.SandboxEnabled,
			Paths:       r.ProvideSandbox.Paths,
			Mounts:      r.ProvideSandbox.Mounts,
			Environment: map[string]string{},
		}
		for k, v := range r.ProvideSandbox.Environment {
			substituted, err := ownEnv.Substitute(v, "provideSandbox.environment["+k+"]", callCtx{tools: ownTools, sandboxEnabled: in.SandboxEnabled})
			if err != nil {
				return nil, nil, fmt.Errorf("recipe %q: %w", recipeName, err)
			}
			sb.Environment[k] = substituted
		}
		packageStep.ProvidedSandbox = sb
	}

	packageStep.ResultID = packageStep.computeResultID(sandboxBytes)
	resultIDHex := hexOrEmpty(packageStep.ResultID)

	if existing, ok := memo.byResultID[resultIDHex]; ok {
		return existing, subTree, nil
	}
	memo.byResultID[resultIDHex] = pkg
	pkg.ID = e.nextPkgID
	e.nextPkgID++

	m := &matcher{
		touchedEnv:   map[string]string{},
		touchedEnvOK: map[string]bool{},
		touchedTools: map[string]string{},
		states:       copyStates(ownStates),
		sandboxID:    hexOrEmpty(sandboxBytes),
		result:       pkg,
		subTree:      subTree,
	}
	for _, name := range ownEnv.Touched() {
		v, ok := in.Env.Lookup(name)
		m.touchedEnvOK[name] = ok
		if ok {
			m.touchedEnv[name] = v
		}
	}
	for name := range touchedTools {
		m.touchedTools[name] = toolVariantIDHex(in.Tools[name])
	}
	memo.matchers = append(memo.matchers, m)

	return pkg, subTree, nil
}

// flattenDependencies expands nested `depends` groups into a flat,
// source-ordered list. A group entry (one with no recipe name of its
// own, only a nested list) exists to share a single `if` condition
// across several dependencies; that condition is conjoined onto each
// nested entry's own condition rather than evaluated separately.
func flattenDependencies(deps []recipe.Dependency) []recipe.Dependency {
	var out []recipe.Dependency
	for _, d := range deps {
		if len(d.Depends) == 0 {
			out = append(out, d)
			continue
		}
		for _, nested := range flattenDependencies(d.Depends) {
			merged := nested
			switch {
			case d.Condition == "":
			case merged.Condition == "":
				merged.Condition = d.Condition
			default:
				merged.Condition = "$(and," + d.Condition + "," + merged.Condition + ")"
			}
			out = append(out, merged)
		}
	}
	return out
}

func stepKindFor(step recipe.Step) StepKind {
	switch step {
	case recipe.Checkout:
		return CheckoutStep
	case recipe.Build:
		return BuildStep
	default:
		return PackageStep
	}
}

func newStep(step recipe.Step, pkg *CorePackage, r *recipe.Recipe, ownEnv *env.Env) *CoreStep {
	s := &CoreStep{Kind: stepKindFor(step), Package: pkg, DigestEnv: map[string]string{}, Env: map[string]string{}}
	for name := range r.StrongVars[step] {
		if v, ok := ownEnv.Lookup(name); ok {
			s.DigestEnv[name] = v
			s.Env[name] = v
		}
	}
	for name := range r.WeakVars[step] {
		if v, ok := ownEnv.Lookup(name); ok {
			s.Env[name] = v
		}
	}
	return s
}

func assembleCheckoutScript(r *recipe.Recipe) (script, digestScript string) {
	script = r.Scripts[recipe.Checkout]
	digestScript = r.DigestScripts[recipe.Checkout]
	for _, a := range r.CheckoutAsserts {
		if script != "" {
			script += "\n"
		}
		script += a.Script()
		if digestScript != "" {
			digestScript += "\n"
		}
		digestScript += a.Digest
	}
	return script, digestScript
}

func buildConcreteTool(at recipe.AbstractTool, ownEnv *env.Env, tools map[string]*CoreRef, sandboxEnabled bool) (*CoreTool, error) {
	ctx := callCtx{tools: tools, sandboxEnabled: sandboxEnabled}

	path, err := ownEnv.Substitute(at.Path, "provideTools.path", ctx)
	if err != nil {
		return nil, err
	}

	tool := &CoreTool{Path: path, NetAccess: at.NetAccess, Environment: map[string]string{}}
	for _, lib := range at.Libs {
		l, err := ownEnv.Substitute(lib, "provideTools.libs", ctx)
		if err != nil {
			return nil, err
		}
		tool.Libs = append(tool.Libs, l)
	}
	for k, v := range at.Environment {
		sv, err := ownEnv.Substitute(v, "provideTools.environment["+k+"]", ctx)
		if err != nil {
			return nil, err
		}
		tool.Environment[k] = sv
	}

	// Fingerprint carries the raw script unconditionally: it is part of
	// a provided tool's content hash in computeResultID regardless of
	// whether this package's fingerprint mask ends up selecting it.
	// Whether the condition actually fires is decided later, in
	// computeFingerprintMask, once every tool and recipe condition for
	// the package is known.
	tool.Fingerprint = at.FingerprintScript
	tool.FingerprintIf = at.FingerprintIf
	return tool, nil
}

func truthyDefault(e *env.Env, expr string, ctx env.CallContext) bool {
	ok, err := e.Evaluate(expr, "fingerprintIf", ctx)
	return err == nil && ok
}

// computeFingerprintMask decides, per bit position, whether a tool's or
// the recipe's own fingerprintIf condition contributes to the package's
// fingerprint. A condition left unset only counts if some other
// condition in the same package definitely fires (doFingerprintMaybe is
// OR'd into the result only once doFingerprint is non-zero), matching
// the original's two-pass "maybe" accumulation.
func computeFingerprintMask(r *recipe.Recipe, ownEnv *env.Env, tools map[string]*CoreRef, sandboxEnabled bool) uint64 {
	var doFingerprint, doFingerprintMaybe uint64
	ctx := callCtx{tools: tools, sandboxEnabled: sandboxEnabled}

	names := make([]string, 0, len(tools))
	for n := range tools {
		names = append(names, n)
	}
	sortStrings(names)

	bit := uint(0)
	apply := func(cond recipe.FingerprintIf) {
		if bit >= 64 {
			return
		}
		switch {
		case cond.IsTrue():
			doFingerprint |= 1 << bit
		case cond.IsMaybe():
			doFingerprintMaybe |= 1 << bit
		default:
			if expr, ok := cond.Expr(); ok && truthyDefault(ownEnv, expr, ctx) {
				doFingerprint |= 1 << bit
			}
		}
		bit++
	}

	for _, name := range names {
		t := tools[name].Tool
		if t == nil {
			continue
		}
		apply(t.FingerprintIf)
	}
	for _, cond := range r.FingerprintIf {
		apply(cond)
	}

	if doFingerprint != 0 {
		doFingerprint |= doFingerprintMaybe
	}
	return doFingerprint
}

func mustSandboxOp(base, updated *CoreRef) DiffSandboxOp {
	op, _ := diffSandboxRefs(base, updated)
	return op
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func matchPattern(pattern, name string) (bool, error) {
	return recipeMatchGlob(pattern, name)
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sortStrings(out)
	return out
}

func sortedPackageKeys(m map[string]*CorePackage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sortStrings(out)
	return out
}
