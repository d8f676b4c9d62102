// Package core implements the immutable step/package graph: CoreStep,
// CoreRef indirection, CorePackage/CoreTool/CoreSandbox, the recursive
// prepare elaboration that builds them from a recipe dependency tree,
// and the PackageMatcher memoization cache that lets two call-sites
// share a CorePackage when neither could tell the difference.
package core

import "github.com/forgehq/foundry/internal/recipe"

// StepKind distinguishes the three script bodies a recipe may define.
// CoreStep is a single tagged-variant type rather than three Go types:
// the kind only changes which fields are populated and how the digest
// is assembled, not the shape consumers walk.
type StepKind int

const (
	CheckoutStep StepKind = iota
	BuildStep
	PackageStep
)

func (k StepKind) String() string {
	switch k {
	case CheckoutStep:
		return "checkout"
	case BuildStep:
		return "build"
	case PackageStep:
		return "package"
	default:
		return "unknown"
	}
}

// CoreTool is derived from a recipe.AbstractTool by substituting its
// fields against the defining package's environment.
type CoreTool struct {
	PackageStep *CoreStep // back-reference to the defining package step
	Path        string
	Libs        []string
	NetAccess   bool
	Environment   map[string]string
	Fingerprint   string               // raw fingerprintScript, always set regardless of the condition
	FingerprintIf recipe.FingerprintIf // decides whether Fingerprint counts toward the package's fingerprint mask
}

// CoreSandbox is derived from a recipe.Sandbox the same way CoreTool is.
type CoreSandbox struct {
	PackageStep *CoreStep
	Enabled     bool
	Paths       []string
	Mounts      []recipe.Mount
	Environment map[string]string
}

// DiffSandboxOp describes how a CoreRef's sandbox overlay modifies the
// sandbox view inherited from its caller.
type DiffSandboxOp int

const (
	SandboxInherit DiffSandboxOp = iota
	SandboxClear
	SandboxReplace
)

// toolDiff is one entry of a CoreRef's diffTools overlay: Removed marks
// a tool explicitly dropped from the inherited tool table, as opposed
// to simply absent.
type toolDiff struct {
	Ref     *CoreRef
	Removed bool
}

// CoreRef is a handle from a call-site to a CoreStep, CoreTool, or
// CoreSandbox, carrying the overlay that must be composed onto the
// caller's inherited tools/sandbox before the referenced item's own
// view is reconstituted. Overlays are composed lazily, at deref time,
// so the same underlying CoreStep can be shared by many call-sites that
// each see a different effective tool table.
type CoreRef struct {
	Step        *CoreStep
	Tool        *CoreTool
	Sandbox     *CoreSandbox
	StackSuffix string

	diffTools   map[string]toolDiff
	diffSandbox DiffSandboxOp
	replacement *CoreRef
}

// CorePackage is the accumulated result of elaborating one recipe at one
// call-site equivalence class.
type CorePackage struct {
	ID     int
	Recipe *recipe.Recipe

	Tools   map[string]*CoreTool
	Sandbox *CoreSandbox

	DirectDepSteps   []*CoreRef
	IndirectDepSteps []*CorePackage
	States           map[string]string

	FingerprintMask uint64

	CheckoutStep *CoreStep
	BuildStep    *CoreStep
	PackageStep  *CoreStep

	internalDiffTools   map[string]toolDiff
	internalDiffSandbox DiffSandboxOp
}

// CoreStep is one checkout/build/package step.
type CoreStep struct {
	Kind StepKind

	Package *CorePackage

	DigestEnv map[string]string // strong vars only; participates in the digest
	Env       map[string]string // strong+weak; passed to the script
	Args      []*CoreRef

	ProvidedEnv     map[string]string
	ProvidedTools   map[string]*CoreTool
	ProvidedDeps    []*CorePackage
	ProvidedSandbox *CoreSandbox

	Script       string
	DigestScript string

	VariantID     []byte
	ResultID      []byte
	Deterministic bool
	Valid         bool
}
