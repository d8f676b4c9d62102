// Package graph is the lazy, user-facing view over the core step/package
// graph: it dereferences core.CoreRef chains with their per-call-site
// tool/sandbox overlays, producing Package/Step/Tool/Sandbox values a
// consumer (CLI, cache writer) can walk without ever seeing a raw
// core.CoreRef.
package graph

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/forgehq/foundry/internal/core"
)

// Package is one node of the user-facing graph: a CorePackage together
// with the tool table and sandbox that were in effect when this
// particular call-site reached it.
type Package struct {
	Core    *core.CorePackage
	Tools   map[string]*core.CoreRef
	Sandbox *core.CoreRef
	Path    string

	cache *core.DerefCache
}

// Root builds the facade's entry point from a fully elaborated
// CorePackage — ordinarily the virtual root package returned by
// recipeset.RecipeSet.Engine().Prepare("", in). Root establishes one
// fresh deref cache shared by every Package reached from it, so sharing
// is preserved across the whole traversal the way a single top-level
// dereference pass is meant to.
func Root(pkg *core.CorePackage) *Package {
	cache := core.NewDerefCache()
	return &Package{
		Core:    pkg,
		Tools:   toolRefs(pkg.Tools),
		Sandbox: sandboxRef(pkg.Sandbox),
		Path:    pkg.Recipe.PackageName,
		cache:   cache,
	}
}

func toolRefs(tools map[string]*core.CoreTool) map[string]*core.CoreRef {
	out := make(map[string]*core.CoreRef, len(tools))
	for name, t := range tools {
		out[name] = &core.CoreRef{Tool: t}
	}
	return out
}

func sandboxRef(sb *core.CoreSandbox) *core.CoreRef {
	if sb == nil {
		return nil
	}
	return &core.CoreRef{Sandbox: sb}
}

func joinPath(parent, suffix string) string {
	if suffix == "" {
		return parent
	}
	if parent == "" {
		return suffix
	}
	return parent + "::" + suffix
}

// CheckoutStep, BuildStep, and PackageStep lazily wrap this package's
// three core steps. A recipe with no checkout or build script still has
// a CoreStep for it, just an invalid one (Step.Valid reports that).
func (p *Package) CheckoutStep() *Step { return p.wrapStep(p.Core.CheckoutStep) }
func (p *Package) BuildStep() *Step    { return p.wrapStep(p.Core.BuildStep) }
func (p *Package) PackageStep() *Step  { return p.wrapStep(p.Core.PackageStep) }

func (p *Package) wrapStep(s *core.CoreStep) *Step {
	if s == nil {
		return nil
	}
	return &Step{Core: s, owner: p}
}

// Tool looks up one tool by name in the table effective at this
// package's call-site.
func (p *Package) Tool(name string) (*Tool, bool) {
	ref, ok := p.Tools[name]
	if !ok || ref.Tool == nil {
		return nil, false
	}
	return &Tool{Core: ref.Tool}, true
}

// SandboxView returns the sandbox effective at this package's
// call-site, or nil if none is in effect.
func (p *Package) SandboxView() *Sandbox {
	if p.Sandbox == nil || p.Sandbox.Sandbox == nil {
		return nil
	}
	return &Sandbox{Core: p.Sandbox.Sandbox}
}

// Dependencies returns every package this one depends on directly
// (DirectDepSteps) or indirectly through forwarding (IndirectDepSteps),
// ordered lexicographically by package-step Variant-Id.
func (p *Package) Dependencies() []*Package {
	out := make([]*Package, 0, len(p.Core.DirectDepSteps)+len(p.Core.IndirectDepSteps))
	for _, ref := range p.Core.DirectDepSteps {
		out = append(out, p.derefRef(ref))
	}
	for _, ip := range p.Core.IndirectDepSteps {
		out = append(out, &Package{
			Core:    ip,
			Tools:   toolRefs(ip.Tools),
			Sandbox: sandboxRef(ip.Sandbox),
			Path:    joinPath(p.Path, ip.Recipe.PackageName),
			cache:   p.cache,
		})
	}
	sortPackages(out)
	return out
}

// derefRef reconstitutes the Package a CoreRef points to, composing its
// overlay onto this package's own tool table and sandbox per spec's
// refDeref: diffTools/diffSandbox compose lazily at walk time so the
// same underlying CoreStep can be shared by many call-sites.
func (p *Package) derefRef(ref *core.CoreRef) *Package {
	return &Package{
		Core:    ref.Step.Package,
		Tools:   ref.EffectiveTools(p.Tools, p.cache),
		Sandbox: ref.EffectiveSandbox(p.Sandbox, p.cache),
		Path:    joinPath(p.Path, ref.StackSuffix),
		cache:   p.cache,
	}
}

// Equal reports whether two packages' package steps carry the same
// Variant-Id — the facade's notion of package identity.
func (p *Package) Equal(other *Package) bool {
	if other == nil {
		return false
	}
	return bytes.Equal(variantIDOf(p), variantIDOf(other))
}

func variantIDOf(p *Package) []byte {
	if p == nil || p.Core.PackageStep == nil {
		return nil
	}
	return p.Core.PackageStep.VariantID
}

func sortPackages(pkgs []*Package) {
	sort.Slice(pkgs, func(i, j int) bool {
		return bytes.Compare(variantIDOf(pkgs[i]), variantIDOf(pkgs[j])) < 0
	})
}

// Step is the facade's view of one checkout/build/package step.
type Step struct {
	Core  *core.CoreStep
	owner *Package
}

func (s *Step) Kind() core.StepKind       { return s.Core.Kind }
func (s *Step) Valid() bool               { return s.Core.Valid }
func (s *Step) Deterministic() bool       { return s.Core.Deterministic }
func (s *Step) Script() string            { return s.Core.Script }
func (s *Step) Env() map[string]string    { return s.Core.Env }
func (s *Step) VariantID() []byte         { return s.Core.VariantID }
func (s *Step) ResultID() []byte          { return s.Core.ResultID }
func (s *Step) VariantIDHex() string      { return hexOrEmpty(s.Core.VariantID) }
func (s *Step) ResultIDHex() string       { return hexOrEmpty(s.Core.ResultID) }
func (s *Step) ProvidedTools() map[string]*core.CoreTool { return s.Core.ProvidedTools }
func (s *Step) ProvidedSandbox() *core.CoreSandbox        { return s.Core.ProvidedSandbox }

// Args returns the packages this step's arguments dereference to, in
// the order they were recorded (checkout ref first on a build step,
// result refs following).
func (s *Step) Args() []*Package {
	out := make([]*Package, 0, len(s.Core.Args))
	for _, ref := range s.Core.Args {
		out = append(out, s.owner.derefRef(ref))
	}
	return out
}

// Equal reports whether two steps carry the same Variant-Id.
func (s *Step) Equal(other *Step) bool {
	if other == nil {
		return false
	}
	return bytes.Equal(s.Core.VariantID, other.Core.VariantID)
}

// Tool is the facade's view of one resolved tool.
type Tool struct {
	Core *core.CoreTool
}

// Sandbox is the facade's view of one resolved sandbox image.
type Sandbox struct {
	Core *core.CoreSandbox
}

func hexOrEmpty(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hex.EncodeToString(b)
}
