package recipe

import (
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// rawDependency mirrors the on-disk shape of a `depends` list entry. A
// plain string is shorthand for `{recipe: NAME}`.
type rawDependency struct {
	Recipe      string            `yaml:"recipe"`
	EnvOverride map[string]string `yaml:"environment"`
	Forward     bool              `yaml:"forward"`
	Use         []string          `yaml:"use"`
	If          string            `yaml:"if"`
	Depends     []rawDependency   `yaml:"depends"`
}

func (d *rawDependency) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&d.Recipe)
	}
	type plain rawDependency
	return value.Decode((*plain)(d))
}

func convertDependency(raw rawDependency) Dependency {
	use := map[string]bool{}
	for _, u := range raw.Use {
		use[u] = true
	}
	nested := make([]Dependency, 0, len(raw.Depends))
	for _, d := range raw.Depends {
		nested = append(nested, convertDependency(d))
	}
	return Dependency{
		Recipe:      raw.Recipe,
		EnvOverride: raw.EnvOverride,
		Forward:     raw.Forward,
		Use:         use,
		Condition:   raw.If,
		Depends:     nested,
	}
}

// rawTool is the on-disk shape of a provideTools entry.
type rawTool struct {
	Path              string            `yaml:"path"`
	Libs              []string          `yaml:"libs"`
	NetAccess         bool              `yaml:"netAccess"`
	Environment       map[string]string `yaml:"environment"`
	FingerprintScript string            `yaml:"fingerprintScript"`
	FingerprintIf     FingerprintIf     `yaml:"fingerprintIf"`
}

// UnmarshalYAML decodes the fingerprintIf tri-state: an absent or null
// value is "maybe", a bool pins it to always/never, and a string is an
// expression evaluated at fingerprint-mask time.
func (f *FingerprintIf) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!null":
		*f = FingerprintMaybe
	case "!!bool":
		var b bool
		if err := value.Decode(&b); err != nil {
			return err
		}
		if b {
			*f = FingerprintAlways
		} else {
			*f = FingerprintNever
		}
	case "!!str":
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*f = FingerprintExpr(s)
	default:
		return fmt.Errorf("fingerprintIf: expected null, bool, or string, got %q", value.Tag)
	}
	return nil
}

// rawSandbox is the on-disk shape of provideSandbox.
type rawSandbox struct {
	Paths       []string          `yaml:"paths"`
	Mounts      [][]string        `yaml:"mounts"`
	Environment map[string]string `yaml:"environment"`
}

// rawCheckoutAssert is the on-disk shape of one checkoutAssert entry.
type rawCheckoutAssert struct {
	File   string `yaml:"file"`
	Start  int    `yaml:"start"`
	End    int    `yaml:"end"`
	Digest string `yaml:"digest"`
}

// rawSCM is the on-disk shape of one checkoutSCM entry.
type rawSCM struct {
	SCM       string `yaml:"scm"`
	Directory string `yaml:"dir"`
	URL       string `yaml:"url"`
	Branch    string `yaml:"branch"`
	Tag       string `yaml:"tag"`
	Commit    string `yaml:"commit"`
}

// document is the on-disk shape of one recipe or class YAML file.
type document struct {
	Inherit []string `yaml:"inherit"`

	Depends []rawDependency `yaml:"depends"`

	FilterEnv     []string `yaml:"filterEnvironment"`
	FilterTools   []string `yaml:"filterTools"`
	FilterSandbox []string `yaml:"filterSandbox"`

	Environment        map[string]string `yaml:"environment"`
	PrivateEnvironment map[string]string `yaml:"privateEnvironment"`
	Metaenvironment    map[string]string `yaml:"metaEnvironment"`

	CheckoutVars     []string `yaml:"checkoutVars"`
	CheckoutVarsWeak []string `yaml:"checkoutVarsWeak"`
	BuildVars        []string `yaml:"buildVars"`
	BuildVarsWeak    []string `yaml:"buildVarsWeak"`
	PackageVars      []string `yaml:"packageVars"`
	PackageVarsWeak  []string `yaml:"packageVarsWeak"`

	CheckoutTools []string `yaml:"checkoutTools"`
	BuildTools    []string `yaml:"buildTools"`
	PackageTools  []string `yaml:"packageTools"`

	ProvideEnvironment map[string]string  `yaml:"provideEnvironment"`
	ProvideTools       map[string]rawTool `yaml:"provideTools"`
	ProvideDeps        []string           `yaml:"provideDeps"`
	ProvideSandbox     *rawSandbox        `yaml:"provideSandbox"`

	Checkout       string `yaml:"checkout"`
	CheckoutDigest string `yaml:"checkoutSetup"`
	Build          string `yaml:"build"`
	BuildDigest    string `yaml:"buildSetup"`
	Package        string `yaml:"package"`
	PackageDigest  string `yaml:"packageSetup"`

	CheckoutSCM           []rawSCM            `yaml:"checkoutSCM"`
	CheckoutAsserts       []rawCheckoutAssert `yaml:"checkoutAssert"`
	CheckoutDeterministic bool                `yaml:"checkoutDeterministic"`

	Root             *bool `yaml:"root"`
	Shared           *bool `yaml:"shared"`
	Relocatable      *bool `yaml:"relocatable"`
	BuildNetAccess   *bool `yaml:"buildNetAccess"`
	PackageNetAccess *bool `yaml:"packageNetAccess"`

	FingerprintScript string        `yaml:"fingerprintScript"`
	FingerprintIf     FingerprintIf `yaml:"fingerprintIf"`

	MultiPackage map[string]document `yaml:"multiPackage"`
}

// Parse decodes one recipe/class YAML document. packageName is the
// `::`-joined path derived by the caller from the file's location in
// the recipe tree.
func Parse(packageName string, data []byte) (*Recipe, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("recipe %q: %w", packageName, err)
	}
	return fromDocument(packageName, packageName, doc)
}

func fromDocument(packageName, baseName string, doc document) (*Recipe, error) {
	if !NamePattern.MatchString(lastComponent(packageName)) {
		return nil, fmt.Errorf("invalid recipe name %q", packageName)
	}

	r := New(packageName)
	r.BaseName = baseName
	r.ClassNames = doc.Inherit

	for _, d := range doc.Depends {
		r.Depends = append(r.Depends, convertDependency(d))
	}

	r.FilterEnv = doc.FilterEnv
	r.FilterTools = doc.FilterTools
	r.FilterSandbox = doc.FilterSandbox

	if doc.PrivateEnvironment != nil {
		r.PrivateEnv = doc.PrivateEnvironment
	}
	if doc.Environment != nil {
		r.SelfEnv = doc.Environment
	}
	if doc.Metaenvironment != nil {
		r.MetaEnv = doc.Metaenvironment
	}
	for name := range r.PrivateEnv {
		if err := ValidateVariableName(name); err != nil {
			return nil, fmt.Errorf("recipe %q: %w", packageName, err)
		}
	}

	addAll(r.StrongVars[Checkout], doc.CheckoutVars)
	addAll(r.WeakVars[Checkout], doc.CheckoutVarsWeak)
	addAll(r.StrongVars[Build], doc.BuildVars)
	addAll(r.WeakVars[Build], doc.BuildVarsWeak)
	addAll(r.StrongVars[Package], doc.PackageVars)
	addAll(r.WeakVars[Package], doc.PackageVarsWeak)

	addAll(r.ToolsDep[Checkout], doc.CheckoutTools)
	addAll(r.ToolsDep[Build], doc.BuildTools)
	addAll(r.ToolsDep[Package], doc.PackageTools)

	if doc.ProvideEnvironment != nil {
		r.ProvideEnv = doc.ProvideEnvironment
	}
	for name, t := range doc.ProvideTools {
		r.ProvideTools[name] = AbstractTool{
			Path:              t.Path,
			Libs:              t.Libs,
			NetAccess:         t.NetAccess,
			Environment:       t.Environment,
			FingerprintScript: t.FingerprintScript,
			FingerprintIf:     t.FingerprintIf,
		}
	}
	r.ProvideDeps = doc.ProvideDeps

	if doc.ProvideSandbox != nil {
		sb := &Sandbox{Paths: doc.ProvideSandbox.Paths, Environment: doc.ProvideSandbox.Environment}
		for _, m := range doc.ProvideSandbox.Mounts {
			if len(m) < 2 {
				return nil, fmt.Errorf("recipe %q: mount entry needs at least host and sandbox path", packageName)
			}
			mount := Mount{Host: m[0], Sandbox: m[1]}
			if len(m) > 2 {
				mount.Options = strings.Split(m[2], ",")
			}
			if err := ValidateMount(mount); err != nil {
				return nil, fmt.Errorf("recipe %q: %w", packageName, err)
			}
			sb.Mounts = append(sb.Mounts, mount)
		}
		r.ProvideSandbox = sb
	}

	r.Scripts[Checkout] = doc.Checkout
	r.DigestScripts[Checkout] = doc.CheckoutDigest
	r.Scripts[Build] = doc.Build
	r.DigestScripts[Build] = doc.BuildDigest
	r.Scripts[Package] = doc.Package
	r.DigestScripts[Package] = doc.PackageDigest

	for _, s := range doc.CheckoutSCM {
		r.CheckoutSCM = append(r.CheckoutSCM, SCM{
			Kind: s.SCM, Directory: s.Directory, URL: s.URL,
			Branch: s.Branch, Tag: s.Tag, Commit: s.Commit,
		})
	}
	for _, a := range doc.CheckoutAsserts {
		r.CheckoutAsserts = append(r.CheckoutAsserts, CheckoutAssert{
			File: a.File, Start: a.Start, End: a.End, Digest: a.Digest,
		})
	}
	r.CheckoutDeterministic = doc.CheckoutDeterministic

	if err := checkDirectoryDisjoint(r.CheckoutSCM); err != nil {
		return nil, fmt.Errorf("recipe %q: %w", packageName, err)
	}

	if doc.Root != nil {
		r.SetRoot(*doc.Root)
	}
	if doc.Shared != nil {
		r.SetShared(*doc.Shared)
	}
	if doc.Relocatable != nil {
		r.SetRelocatable(*doc.Relocatable)
	}
	if doc.BuildNetAccess != nil {
		r.SetBuildNetAccess(*doc.BuildNetAccess)
	}
	if doc.PackageNetAccess != nil {
		r.SetPackageNetAccess(*doc.PackageNetAccess)
	}

	// A recipe contributes a fingerprintScript/fingerprintIf pair only
	// when it actually sets a script and the condition isn't pinned to
	// literal false; an unset condition defaults to "maybe".
	if doc.FingerprintScript != "" && !doc.FingerprintIf.IsFalse() {
		r.FingerprintScripts = []string{doc.FingerprintScript}
		r.FingerprintIf = []FingerprintIf{doc.FingerprintIf}
	}

	return r, nil
}

// ParseMultiPackage handles a `multiPackage` block: the outer document's
// fields (minus multiPackage itself) become an anonymous base class
// shared by every sibling, so common fields are inherited exactly once.
func ParseMultiPackage(basePackageName string, data []byte) (map[string]*Recipe, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("recipe %q: %w", basePackageName, err)
	}
	if len(doc.MultiPackage) == 0 {
		r, err := fromDocument(basePackageName, basePackageName, doc)
		if err != nil {
			return nil, err
		}
		return map[string]*Recipe{basePackageName: r}, nil
	}

	outer := doc
	outer.MultiPackage = nil
	anonBase, err := fromDocument(basePackageName, basePackageName, outer)
	if err != nil {
		return nil, err
	}

	result := map[string]*Recipe{}
	for suffix, sub := range doc.MultiPackage {
		name := basePackageName
		if suffix != "" {
			name = basePackageName + "::" + suffix
		}
		r, err := fromDocument(name, basePackageName, sub)
		if err != nil {
			return nil, err
		}
		r.AnonBase = anonBase
		result[name] = r
	}
	return result, nil
}

func addAll(set map[string]bool, names []string) {
	for _, n := range names {
		set[n] = true
	}
}

func lastComponent(packageName string) string {
	idx := strings.LastIndex(packageName, "::")
	if idx < 0 {
		return packageName
	}
	return packageName[idx+2:]
}

// checkDirectoryDisjoint rejects absolute checkout directories and any
// pair of directories that overlap: one is a prefix of the other,
// component by component, the way a directory and its own subdirectory
// always do.
func checkDirectoryDisjoint(scms []SCM) error {
	var known []string
	for _, s := range scms {
		if path.IsAbs(s.Directory) {
			return fmt.Errorf("checkoutSCM: directory %q must be relative", s.Directory)
		}
		for _, k := range known {
			if overlappingPaths(k, s.Directory) {
				return fmt.Errorf("checkoutSCM: directories %q and %q overlap", k, s.Directory)
			}
		}
		known = append(known, s.Directory)
	}
	return nil
}

func overlappingPaths(p1, p2 string) bool {
	c1 := pathComponents(p1)
	c2 := pathComponents(p2)
	n := len(c1)
	if len(c2) < n {
		n = len(c2)
	}
	for i := 0; i < n; i++ {
		if c1[i] != c2[i] {
			return false
		}
	}
	return true
}

func pathComponents(p string) []string {
	clean := path.Clean(p)
	if clean == "." {
		return nil
	}
	return strings.Split(clean, "/")
}
