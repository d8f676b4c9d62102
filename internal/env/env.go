// Package env implements the scoped, string-keyed environment used to
// propagate variables through a recipe dependency graph, along with the
// substitution language ("$VAR", "${VAR:-default}", "$(fn,args)") that
// recipe scripts and conditions are written in.
//
// Every read of a variable — direct lookup, substitution, or filter
// match — is recorded in a touched set shared across a derivation
// chain. The touched set is the key input PackageMatcher uses to decide
// whether two call-sites may share an already-elaborated package: if
// neither call-site ever looked at a variable, its value cannot have
// influenced the result.
package env

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// CallContext supplies the tool/sandbox view that substitution functions
// such as is-tool and is-sandbox-enabled query against. Core supplies
// the concrete implementation during elaboration.
type CallContext interface {
	HasTool(name string) bool
	SandboxEnabled() bool
}

// Func is a string function callable from a "$(fn,arg1,arg2,...)"
// substitution. Arguments have already been substituted by the time Func
// is invoked.
type Func func(ctx CallContext, args []string) (string, error)

// touched is the shared, mutable record of variable names read anywhere
// in a derivation chain. Elaboration is single-threaded (see package
// core), so no locking is required.
type touched struct {
	names map[string]bool
}

func newTouched() *touched { return &touched{names: map[string]bool{}} }

func (t *touched) mark(name string) { t.names[name] = true }

// Env is an insertion-preserving mapping from variable name to value.
//
// The zero value is not usable; construct one with New.
type Env struct {
	vars    map[string]string
	order   []string
	touched *touched
	funcs   map[string]Func
	frozen  bool
}

// New creates an empty, root environment with the given substitution
// functions registered.
func New(funcs map[string]Func) *Env {
	return &Env{
		vars:    map[string]string{},
		touched: newTouched(),
		funcs:   funcs,
	}
}

// Derive returns a child scope that starts as a copy of e's current
// variables but accumulates touches into the same touched set as e and
// every other scope derived from it.
func (e *Env) Derive() *Env {
	child := &Env{
		vars:    make(map[string]string, len(e.vars)),
		order:   append([]string(nil), e.order...),
		touched: e.touched,
		funcs:   e.funcs,
	}
	for k, v := range e.vars {
		child.vars[k] = v
	}
	return child
}

// Set defines or overwrites a variable. Panics if called on a detached
// (frozen) environment — a programming error, since detach exists
// precisely to guarantee no further mutation.
func (e *Env) Set(name, value string) {
	if e.frozen {
		panic("env: Set on detached environment")
	}
	if _, exists := e.vars[name]; !exists {
		e.order = append(e.order, name)
	}
	e.vars[name] = value
}

// Unset removes a variable, if present.
func (e *Env) Unset(name string) {
	if e.frozen {
		panic("env: Unset on detached environment")
	}
	if _, exists := e.vars[name]; !exists {
		return
	}
	delete(e.vars, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Lookup returns the value of name and whether it is defined, marking it
// touched either way (an undefined lookup is itself diagnostic
// information: the caller's result depends on the variable's absence).
func (e *Env) Lookup(name string) (string, bool) {
	e.touched.mark(name)
	v, ok := e.vars[name]
	return v, ok
}

// Has reports whether name is defined, without the side effect of
// consulting the caller's substitution diagnostics. It still marks the
// name touched.
func (e *Env) Has(name string) bool {
	_, ok := e.Lookup(name)
	return ok
}

// Names returns the defined variable names in insertion order.
func (e *Env) Names() []string {
	return append([]string(nil), e.order...)
}

// Prune returns a derived environment retaining only the names in keep.
// Every name in keep, present or not, is marked touched.
func (e *Env) Prune(keep map[string]bool) *Env {
	child := &Env{
		vars:    map[string]string{},
		touched: e.touched,
		funcs:   e.funcs,
	}
	for _, name := range e.order {
		if keep[name] {
			e.touched.mark(name)
			child.Set(name, e.vars[name])
		}
	}
	for name := range keep {
		if _, ok := e.vars[name]; !ok {
			e.touched.mark(name)
		}
	}
	return child
}

// Filter returns a derived environment retaining only names that match
// the glob list. A pattern prefixed with "!" is a negative match: any
// name matching a negative pattern is dropped even if it also matches a
// positive one. With no positive patterns, every name not explicitly
// negated is kept. Every name considered, kept or not, is marked
// touched.
func (e *Env) Filter(globs []string) *Env {
	var positive, negative []string
	for _, g := range globs {
		if strings.HasPrefix(g, "!") {
			negative = append(negative, g[1:])
		} else {
			positive = append(positive, g)
		}
	}

	child := &Env{
		vars:    map[string]string{},
		touched: e.touched,
		funcs:   e.funcs,
	}

	for _, name := range e.order {
		e.touched.mark(name)

		if matchesAny(negative, name) {
			continue
		}
		if len(positive) == 0 || matchesAny(positive, name) {
			child.Set(name, e.vars[name])
		}
	}

	return child
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := filepath.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Detach freezes e into an immutable snapshot: the returned Env shares
// no touched set with e (it starts fresh) and panics on any further
// Set/Unset.
func (e *Env) Detach() *Env {
	clone := e.Derive()
	clone.touched = newTouched()
	clone.frozen = true
	return clone
}

// TouchReset clears the touched set shared by e's whole derivation
// chain. Callers call this immediately before the portion of
// elaboration whose touched-variable set must be captured in isolation
// (see core.PackageMatcher).
func (e *Env) TouchReset() {
	e.touched.names = map[string]bool{}
}

// Touched returns the names marked touched since the last TouchReset (or
// since construction), sorted for deterministic digest input.
func (e *Env) Touched() []string {
	names := make([]string, 0, len(e.touched.names))
	for n := range e.touched.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Substitute expands the substitution language in text against e.
// diagKey identifies the attribute being substituted, for error
// messages only (e.g. "environment[CFLAGS]").
func (e *Env) Substitute(text, diagKey string, ctx CallContext) (string, error) {
	p := &parser{env: e, ctx: ctx, diagKey: diagKey, input: text}
	out, err := p.parseAll()
	if err != nil {
		return "", fmt.Errorf("%s: %w", diagKey, err)
	}
	return out, nil
}

// Evaluate substitutes expr then interprets the result as a boolean: ""
// "0" and "false" (case-insensitive) are false, everything else is
// true.
func (e *Env) Evaluate(expr, diagKey string, ctx CallContext) (bool, error) {
	s, err := e.Substitute(expr, diagKey, ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false":
		return false, nil
	default:
		return true, nil
	}
}

// Copy returns a shallow value copy of e's current variables as a plain
// map, for call sites (e.g. providedEnv) that need a point-in-time
// snapshot independent of further mutation.
func (e *Env) Copy() map[string]string {
	out := make(map[string]string, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}
