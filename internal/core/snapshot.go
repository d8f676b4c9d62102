package core

import (
	"fmt"

	"github.com/forgehq/foundry/internal/recipe"
)

// Snapshot is a flattened, serialization-friendly view of an elaborated
// package graph: every CorePackage reachable from a root is assigned a
// stable node (by its own ID), and every cross-package reference
// becomes the referenced package's ID rather than a live pointer. Recipes
// are referenced by name only, per the Design Notes' "a graph of nodes
// addressed by pkgId with external references to Recipe by name" — a
// Snapshot must be paired with the recipe.Recipe map it was elaborated
// against to be restored.
type Snapshot struct {
	Root     int
	Packages []PackageNode
}

// PackageNode is one CorePackage flattened for serialization.
type PackageNode struct {
	ID         int
	RecipeName string

	Tools   map[string]ToolNode
	Sandbox *SandboxNode

	DirectDeps   []RefNode
	IndirectDeps []int

	States          map[string]string
	FingerprintMask uint64

	Checkout StepNode
	Build    StepNode
	Package  StepNode
}

// ToolNode is one CoreTool flattened for serialization. PackageID
// identifies the node whose package step produced it.
type ToolNode struct {
	PackageID         int
	Path              string
	Libs              []string
	NetAccess         bool
	Environment       map[string]string
	Fingerprint       string
	FingerprintIfState int
	FingerprintIfExpr  string
}

// SandboxNode is one CoreSandbox flattened for serialization.
type SandboxNode struct {
	PackageID   int
	Enabled     bool
	Paths       []string
	Mounts      []recipe.Mount
	Environment map[string]string
}

// StepNode is one CoreStep flattened for serialization.
type StepNode struct {
	DigestEnv map[string]string
	Env       map[string]string
	Args      []RefNode

	ProvidedEnv     map[string]string
	ProvidedTools   map[string]ToolNode
	ProvidedDeps    []int
	ProvidedSandbox *SandboxNode

	Script        string
	DigestScript  string
	VariantID     []byte
	ResultID      []byte
	Deterministic bool
	Valid         bool
}

// RefNode is one CoreRef flattened for serialization: which package's
// step it points to, plus the overlay that must be recomposed at
// deref time once the graph is rebuilt.
type RefNode struct {
	PackageID   int
	Kind        StepKind
	StackSuffix string

	DiffTools   map[string]ToolDiffNode
	DiffSandbox DiffSandboxOp
	Replacement *SandboxNode // only set when DiffSandbox == SandboxReplace
}

// ToolDiffNode is one entry of a RefNode's tool overlay.
type ToolDiffNode struct {
	Removed bool
	Tool    *ToolNode
}

// Snap flattens the package graph reachable from root into a Snapshot.
func Snap(root *CorePackage) Snapshot {
	s := &snapper{visited: map[int]bool{}}
	s.walk(root)
	return Snapshot{Root: root.ID, Packages: s.nodes}
}

type snapper struct {
	visited map[int]bool
	nodes   []PackageNode
}

func (s *snapper) walk(pkg *CorePackage) {
	if pkg == nil || s.visited[pkg.ID] {
		return
	}
	s.visited[pkg.ID] = true
	for _, t := range pkg.Tools {
		if t.PackageStep != nil {
			s.walk(t.PackageStep.Package)
		}
	}
	if pkg.Sandbox != nil && pkg.Sandbox.PackageStep != nil {
		s.walk(pkg.Sandbox.PackageStep.Package)
	}

	node := PackageNode{
		ID:              pkg.ID,
		RecipeName:      pkg.Recipe.PackageName,
		Tools:           map[string]ToolNode{},
		Sandbox:         sandboxNode(pkg.Sandbox),
		States:          pkg.States,
		FingerprintMask: pkg.FingerprintMask,
		Checkout:        s.stepNode(pkg.CheckoutStep),
		Build:           s.stepNode(pkg.BuildStep),
		Package:         s.stepNode(pkg.PackageStep),
	}
	for name, t := range pkg.Tools {
		node.Tools[name] = *toolNode(t)
	}
	for _, ref := range pkg.DirectDepSteps {
		node.DirectDeps = append(node.DirectDeps, s.refNode(ref))
	}
	for _, ip := range pkg.IndirectDepSteps {
		node.IndirectDeps = append(node.IndirectDeps, ip.ID)
		s.walk(ip)
	}

	s.nodes = append(s.nodes, node)
}

func (s *snapper) stepNode(step *CoreStep) StepNode {
	if step == nil {
		return StepNode{}
	}
	sn := StepNode{
		DigestEnv:     step.DigestEnv,
		Env:           step.Env,
		ProvidedEnv:   step.ProvidedEnv,
		ProvidedTools: map[string]ToolNode{},
		Script:        step.Script,
		DigestScript:  step.DigestScript,
		VariantID:     step.VariantID,
		ResultID:      step.ResultID,
		Deterministic: step.Deterministic,
		Valid:         step.Valid,
	}
	for name, t := range step.ProvidedTools {
		sn.ProvidedTools[name] = *toolNode(t)
	}
	for _, dep := range step.ProvidedDeps {
		sn.ProvidedDeps = append(sn.ProvidedDeps, dep.ID)
		s.walk(dep)
	}
	sn.ProvidedSandbox = sandboxNode(step.ProvidedSandbox)
	for _, arg := range step.Args {
		sn.Args = append(sn.Args, s.refNode(arg))
	}
	return sn
}

func (s *snapper) refNode(ref *CoreRef) RefNode {
	if ref.Step != nil {
		s.walk(ref.Step.Package)
	}
	rn := RefNode{
		StackSuffix: ref.StackSuffix,
		DiffSandbox: ref.diffSandbox,
	}
	if ref.Step != nil {
		rn.PackageID = ref.Step.Package.ID
		rn.Kind = ref.Step.Kind
	}
	if len(ref.diffTools) > 0 {
		rn.DiffTools = map[string]ToolDiffNode{}
		for name, d := range ref.diffTools {
			if d.Removed {
				rn.DiffTools[name] = ToolDiffNode{Removed: true}
				continue
			}
			rn.DiffTools[name] = ToolDiffNode{Tool: toolNode(d.Ref.Tool)}
		}
	}
	if ref.diffSandbox == SandboxReplace && ref.replacement != nil {
		rn.Replacement = sandboxNode(ref.replacement.Sandbox)
	}
	return rn
}

func toolNode(t *CoreTool) *ToolNode {
	if t == nil {
		return nil
	}
	id := 0
	if t.PackageStep != nil && t.PackageStep.Package != nil {
		id = t.PackageStep.Package.ID
	}
	expr, _ := t.FingerprintIf.Expr()
	return &ToolNode{
		PackageID:          id,
		Path:               t.Path,
		Libs:               t.Libs,
		NetAccess:          t.NetAccess,
		Environment:        t.Environment,
		Fingerprint:        t.Fingerprint,
		FingerprintIfState: t.FingerprintIf.RawState(),
		FingerprintIfExpr:  expr,
	}
}

func sandboxNode(sb *CoreSandbox) *SandboxNode {
	if sb == nil {
		return nil
	}
	id := 0
	if sb.PackageStep != nil && sb.PackageStep.Package != nil {
		id = sb.PackageStep.Package.ID
	}
	return &SandboxNode{
		PackageID:   id,
		Enabled:     sb.Enabled,
		Paths:       sb.Paths,
		Mounts:      sb.Mounts,
		Environment: sb.Environment,
	}
}

// Restore rebuilds the package graph a Snapshot describes, resolving
// each node's RecipeName against recipes. The returned CorePackage is
// the one whose ID matches snap.Root.
func Restore(snap Snapshot, recipes map[string]*recipe.Recipe) (*CorePackage, error) {
	b := &builder{
		recipes: recipes,
		pkgs:    map[int]*CorePackage{},
		steps:   map[int]*CoreStep{},
		byID:    map[int]PackageNode{},
	}
	for _, n := range snap.Packages {
		b.byID[n.ID] = n
	}
	for _, n := range snap.Packages {
		if err := b.buildPackage(n.ID); err != nil {
			return nil, err
		}
	}
	root, ok := b.pkgs[snap.Root]
	if !ok {
		return nil, fmt.Errorf("cache snapshot: missing root package node %d", snap.Root)
	}
	return root, nil
}

type builder struct {
	recipes map[string]*recipe.Recipe
	pkgs    map[int]*CorePackage
	steps   map[int]*CoreStep // keyed by package id * 3 + kind
	byID    map[int]PackageNode
}

func stepKey(pkgID int, kind StepKind) int { return pkgID*3 + int(kind) }

func (b *builder) buildPackage(id int) error {
	if _, ok := b.pkgs[id]; ok {
		return nil
	}
	n, ok := b.byID[id]
	if !ok {
		return fmt.Errorf("cache snapshot: dangling package reference %d", id)
	}
	r, ok := b.recipes[n.RecipeName]
	if !ok {
		return fmt.Errorf("cache snapshot: unknown recipe %q for package %d", n.RecipeName, id)
	}

	pkg := &CorePackage{
		ID:              n.ID,
		Recipe:          r,
		States:          n.States,
		FingerprintMask: n.FingerprintMask,
	}
	b.pkgs[id] = pkg

	sandbox, err := b.buildSandbox(n.Sandbox)
	if err != nil {
		return err
	}
	pkg.Sandbox = sandbox
	pkg.Tools = map[string]*CoreTool{}
	for name, t := range n.Tools {
		tool, err := b.buildTool(t)
		if err != nil {
			return err
		}
		pkg.Tools[name] = tool
	}

	for _, depID := range n.IndirectDeps {
		if err := b.buildPackage(depID); err != nil {
			return err
		}
		pkg.IndirectDepSteps = append(pkg.IndirectDepSteps, b.pkgs[depID])
	}

	checkout, err := b.buildStep(pkg, CheckoutStep, n.Checkout)
	if err != nil {
		return err
	}
	build, err := b.buildStep(pkg, BuildStep, n.Build)
	if err != nil {
		return err
	}
	pkgStep, err := b.buildStep(pkg, PackageStep, n.Package)
	if err != nil {
		return err
	}
	pkg.CheckoutStep = checkout
	pkg.BuildStep = build
	pkg.PackageStep = pkgStep

	for _, rn := range n.DirectDeps {
		ref, err := b.buildRef(rn)
		if err != nil {
			return err
		}
		pkg.DirectDepSteps = append(pkg.DirectDepSteps, ref)
	}

	return nil
}

func (b *builder) buildStep(pkg *CorePackage, kind StepKind, n StepNode) (*CoreStep, error) {
	step := &CoreStep{
		Kind:          kind,
		Package:       pkg,
		DigestEnv:     n.DigestEnv,
		Env:           n.Env,
		ProvidedEnv:   n.ProvidedEnv,
		Script:        n.Script,
		DigestScript:  n.DigestScript,
		VariantID:     n.VariantID,
		ResultID:      n.ResultID,
		Deterministic: n.Deterministic,
		Valid:         n.Valid,
	}
	b.steps[stepKey(pkg.ID, kind)] = step

	step.ProvidedTools = map[string]*CoreTool{}
	for name, t := range n.ProvidedTools {
		tool, err := b.buildTool(t)
		if err != nil {
			return nil, err
		}
		step.ProvidedTools[name] = tool
	}
	providedSandbox, err := b.buildSandbox(n.ProvidedSandbox)
	if err != nil {
		return nil, err
	}
	step.ProvidedSandbox = providedSandbox
	for _, depID := range n.ProvidedDeps {
		if err := b.buildPackage(depID); err != nil {
			return nil, err
		}
		step.ProvidedDeps = append(step.ProvidedDeps, b.pkgs[depID])
	}
	for _, rn := range n.Args {
		ref, err := b.buildRef(rn)
		if err != nil {
			return nil, err
		}
		step.Args = append(step.Args, ref)
	}
	return step, nil
}

func (b *builder) buildTool(t ToolNode) (*CoreTool, error) {
	if err := b.buildPackage(t.PackageID); err != nil {
		return nil, err
	}
	return &CoreTool{
		PackageStep:   b.steps[stepKey(t.PackageID, PackageStep)],
		Path:          t.Path,
		Libs:          t.Libs,
		NetAccess:     t.NetAccess,
		Environment:   t.Environment,
		Fingerprint:   t.Fingerprint,
		FingerprintIf: recipe.FingerprintFromRaw(t.FingerprintIfState, t.FingerprintIfExpr),
	}, nil
}

func (b *builder) buildSandbox(n *SandboxNode) (*CoreSandbox, error) {
	if n == nil {
		return nil, nil
	}
	if err := b.buildPackage(n.PackageID); err != nil {
		return nil, err
	}
	return &CoreSandbox{
		PackageStep: b.steps[stepKey(n.PackageID, PackageStep)],
		Enabled:     n.Enabled,
		Paths:       n.Paths,
		Mounts:      n.Mounts,
		Environment: n.Environment,
	}, nil
}

func (b *builder) buildRef(rn RefNode) (*CoreRef, error) {
	if err := b.buildPackage(rn.PackageID); err != nil {
		return nil, err
	}
	ref := &CoreRef{
		Step:        b.steps[stepKey(rn.PackageID, rn.Kind)],
		StackSuffix: rn.StackSuffix,
		diffSandbox: rn.DiffSandbox,
	}
	if len(rn.DiffTools) > 0 {
		ref.diffTools = map[string]toolDiff{}
		for name, d := range rn.DiffTools {
			if d.Removed {
				ref.diffTools[name] = toolDiff{Removed: true}
				continue
			}
			tool, err := b.buildTool(*d.Tool)
			if err != nil {
				return nil, err
			}
			ref.diffTools[name] = toolDiff{Ref: &CoreRef{Tool: tool}}
		}
	}
	if rn.DiffSandbox == SandboxReplace && rn.Replacement != nil {
		sandbox, err := b.buildSandbox(rn.Replacement)
		if err != nil {
			return nil, err
		}
		ref.replacement = &CoreRef{Sandbox: sandbox}
	}
	return ref, nil
}
