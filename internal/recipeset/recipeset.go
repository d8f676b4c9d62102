// Package recipeset loads a layered recipe tree from disk (recipes/,
// classes/, layers/<name>/…, config.yaml) into the map of resolved
// recipes that internal/core elaborates, and synthesizes the virtual
// root recipe every graph traversal starts from.
package recipeset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/forgehq/foundry/internal/core"
	"github.com/forgehq/foundry/internal/digest"
	"github.com/forgehq/foundry/internal/errs"
	"github.com/forgehq/foundry/internal/recipe"
)

// ErrParse is the sentinel every error Load returns wraps: schema
// violations, unknown classes, cyclic inheritance, and layer policy
// conflicts are all ParseError in spec.md §7's terms, never a distinct
// error kind per call site. Unknown dependency recipes and dependency
// cycles are reported later by core.Engine.Prepare and do not wrap it.
var ErrParse = errors.New("recipe parse error")

// layerConfig is the on-disk shape of config.yaml. The version gate is
// named foundryMinimumVersion, the Foundry-namespaced equivalent of the
// original's bobMinimumVersion key, consistent with the FOUNDRY_ builtin
// variable rename in internal/recipe.
type layerConfig struct {
	FoundryMinimumVersion string          `yaml:"foundryMinimumVersion"`
	Plugins               []string        `yaml:"plugins"`
	Policies              map[string]bool `yaml:"policies"`
	Layers                []string        `yaml:"layers"`
}

// RecipeSet is the fully loaded, class-resolved recipe tree: every
// recipe and class found across the root project and its layers, the
// merged policy set, and the synthesized virtual root recipe.
type RecipeSet struct {
	Policies recipe.Policies
	Root     *recipe.Recipe

	recipes map[string]*recipe.Recipe
	classes map[string]*recipe.Recipe

	rootDir         string
	consumedDigests map[string][]byte

	warnSeen map[string]bool

	// Warn receives a message the first time a given diagnostic key is
	// produced during loading. Left nil, warnings are silently dropped.
	Warn func(key, message string)
}

// Recipes returns the full resolved recipe table, including the
// synthesized virtual root under the empty-string key.
func (rs *RecipeSet) Recipes() map[string]*recipe.Recipe {
	return rs.recipes
}

// Engine builds a core.Engine over this set's recipes and policies,
// wiring its Warn callback to the same diagnostic sink.
func (rs *RecipeSet) Engine() *core.Engine {
	e := core.NewEngine(rs.recipes, rs.Policies)
	e.Warn = rs.warn
	return e
}

func (rs *RecipeSet) warn(key, message string) {
	if rs.warnSeen[key] {
		return
	}
	rs.warnSeen[key] = true
	if rs.Warn != nil {
		rs.Warn(key, message)
	}
}

// Load reads rootDir's recipes/classes/layers tree, resolves every
// recipe's class chain, and synthesizes the virtual root. rootDir must
// contain a recipes/ directory.
func Load(rootDir string) (*RecipeSet, error) {
	if info, err := os.Stat(filepath.Join(rootDir, "recipes")); err != nil || !info.IsDir() {
		return nil, errs.Wrapf(ErrParse, "no recipes directory found in %q", rootDir)
	}

	rs := &RecipeSet{
		recipes:         map[string]*recipe.Recipe{},
		classes:         map[string]*recipe.Recipe{},
		rootDir:         rootDir,
		consumedDigests: map[string][]byte{},
		warnSeen:        map[string]bool{},
	}

	if err := rs.loadLayer(nil, "9999"); err != nil {
		return nil, errs.Wrap(ErrParse, err)
	}

	rootNames := make([]string, 0, len(rs.recipes))
	for name, r := range rs.recipes {
		if err := r.ResolveClasses(rs.lookupClass, rs.Policies); err != nil {
			return nil, errs.Wrap(ErrParse, fmt.Errorf("recipe %q: %w", name, err))
		}
		if r.Root() {
			rootNames = append(rootNames, name)
		}
	}
	sort.Strings(rootNames)

	root := recipe.New("")
	root.BaseName = ""
	for _, name := range rootNames {
		root.Depends = append(root.Depends, recipe.Dependency{
			Recipe: name,
			Use:    map[string]bool{"result": true},
		})
	}
	root.Scripts[recipe.Build] = "true"
	root.Scripts[recipe.Package] = "true"
	if err := root.ResolveClasses(rs.lookupClass, rs.Policies); err != nil {
		return nil, errs.Wrap(ErrParse, fmt.Errorf("virtual root: %w", err))
	}

	rs.recipes[""] = root
	rs.Root = root

	return rs, nil
}

func (rs *RecipeSet) lookupClass(name string) (*recipe.Recipe, bool) {
	r, ok := rs.classes[name]
	return r, ok
}

// loadLayer loads one layer's config.yaml, recurses into its declared
// sub-layers (lower precedence, loaded first), then loads its classes/
// and recipes/ directories. layerPath is nil for the root layer.
func (rs *RecipeSet) loadLayer(layerPath []string, maxVer string) error {
	layerDir := filepath.Join(rootPathSegments(rs.rootDir, layerPath)...)

	if len(layerPath) > 0 {
		info, err := os.Stat(layerDir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("layer %q does not exist", strings.Join(layerPath, "/"))
		}
	}

	cfg, err := rs.loadLayerConfig(layerDir)
	if err != nil {
		return err
	}

	minVer := cfg.FoundryMinimumVersion
	if minVer == "" {
		minVer = "0.1"
	}
	if compareVersion(maxVer, minVer) < 0 {
		return fmt.Errorf("layer %q requires a higher minimum version than the root project", strings.Join(layerPath, "/"))
	}
	maxVer = minVer

	if len(layerPath) == 0 {
		rs.Policies = recipe.Policies{}
		for _, name := range sortedStringKeys(cfg.Policies) {
			if err := applyPolicy(&rs.Policies, name, cfg.Policies[name]); err != nil {
				return err
			}
		}
	} else {
		for _, name := range sortedStringKeys(cfg.Policies) {
			cur, err := policyValue(rs.Policies, name)
			if err != nil {
				return err
			}
			if cur != cfg.Policies[name] {
				return fmt.Errorf("layer %q requires different behaviour for policy %q than root project",
					strings.Join(layerPath, "/"), name)
			}
		}
	}

	for _, sub := range cfg.Layers {
		if err := rs.loadLayer(append(append([]string(nil), layerPath...), sub), maxVer); err != nil {
			return err
		}
	}

	if err := rs.loadClasses(layerDir); err != nil {
		return err
	}
	if err := rs.loadRecipes(layerDir); err != nil {
		return err
	}

	return nil
}

func rootPathSegments(rootDir string, layerPath []string) []string {
	segs := []string{rootDir}
	for _, l := range layerPath {
		segs = append(segs, "layers", l)
	}
	return segs
}

func (rs *RecipeSet) loadLayerConfig(layerDir string) (layerConfig, error) {
	var cfg layerConfig
	path := filepath.Join(layerDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	rs.recordDigest(path, data)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

func (rs *RecipeSet) loadClasses(layerDir string) error {
	dir := filepath.Join(layerDir, "classes")
	files, err := walkYAML(dir)
	if err != nil {
		return err
	}
	raws, err := readAllParallel(files, dir)
	if err != nil {
		return err
	}
	for _, f := range raws {
		rs.recordDigest(f.path, f.data)
		name := pathToName(f.rel)
		r, err := recipe.Parse(name, f.data)
		if err != nil {
			return fmt.Errorf("class %q: %w", name, err)
		}
		if _, exists := rs.classes[name]; exists {
			return fmt.Errorf("class %q already defined", name)
		}
		rs.classes[name] = r
	}
	return nil
}

func (rs *RecipeSet) loadRecipes(layerDir string) error {
	dir := filepath.Join(layerDir, "recipes")
	files, err := walkYAML(dir)
	if err != nil {
		return err
	}
	raws, err := readAllParallel(files, dir)
	if err != nil {
		return err
	}
	for _, f := range raws {
		rs.recordDigest(f.path, f.data)
		name := pathToName(f.rel)
		parsed, err := recipe.ParseMultiPackage(name, f.data)
		if err != nil {
			return fmt.Errorf("recipe %q: %w", name, err)
		}
		for _, pname := range sortedStringKeys(parsed) {
			if _, exists := rs.recipes[pname]; exists {
				return fmt.Errorf("package %q already defined", pname)
			}
			rs.recipes[pname] = parsed[pname]
		}
	}
	return nil
}

type rawFile struct {
	path string
	rel  string
	data []byte
}

// readAllParallel fans out the file reads for one directory's worth of
// recipe/class YAML across goroutines; parsing itself stays sequential
// so that duplicate-name detection and registration order are
// deterministic regardless of filesystem read order.
func readAllParallel(paths []string, base string) ([]rawFile, error) {
	out := make([]rawFile, len(paths))
	g, _ := errgroup.WithContext(context.Background())
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(base, p)
			if err != nil {
				return err
			}
			out[i] = rawFile{path: p, rel: rel, data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rel < out[j].rel })
	return out, nil
}

func walkYAML(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}
	var out []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".yaml" {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// pathToName turns a recipes/-relative or classes/-relative file path
// into a `::`-joined package name: directories become category
// separators, the .yaml extension is dropped.
func pathToName(rel string) string {
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	parts := strings.Split(filepath.ToSlash(rel), "/")
	return strings.Join(parts, "::")
}

func (rs *RecipeSet) recordDigest(path string, data []byte) {
	rel, err := filepath.Rel(rs.rootDir, path)
	if err != nil {
		rel = path
	}
	var h digest.Hasher
	h.Add(data)
	rs.consumedDigests[rel] = h.Sum()
}

// CacheKey computes the persisted-graph cache key described by spec.md
// §6: SHA1 over the tool version tag, the YAML-cache digest (SHA1 over
// the sorted consumed file digests), the effective env (sorted
// name+value, length-prefixed), and a single sandboxEnabled byte.
func (rs *RecipeSet) CacheKey(toolVersion string, effectiveEnv map[string]string, sandboxEnabled bool) string {
	var yamlHasher digest.Hasher
	for _, p := range sortedStringKeys(rs.consumedDigests) {
		yamlHasher.AddLengthPrefixed(rs.consumedDigests[p])
	}
	yamlDigest := yamlHasher.Sum()

	var h digest.Hasher
	h.AddLengthPrefixed([]byte(toolVersion))
	h.AddLengthPrefixed(yamlDigest)

	names := sortedStringKeys(effectiveEnv)
	h.AddUint32(uint32(len(names)))
	for _, name := range names {
		h.AddLengthPrefixed([]byte(name))
		h.AddLengthPrefixed([]byte(effectiveEnv[name]))
	}

	if sandboxEnabled {
		h.Add([]byte{1})
	} else {
		h.Add([]byte{0})
	}

	return digest.String(h.Sum())
}

func sortedStringKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// applyPolicy sets one named policy on pol, matching the five named
// policies spec.md's Layer config and DESIGN NOTES describe.
func applyPolicy(pol *recipe.Policies, name string, value bool) error {
	switch name {
	case "mergeEnvironment":
		pol.MergeEnvironment = value
	case "allRelocatable":
		pol.AllRelocatable = value
	case "uniqueDependency":
		pol.UniqueDependency = value
	case "sandboxInvariant":
		pol.SandboxInvariant = value
	case "offlineBuild":
		pol.OfflineBuild = value
	default:
		return fmt.Errorf("unknown policy %q", name)
	}
	return nil
}

func policyValue(pol recipe.Policies, name string) (bool, error) {
	switch name {
	case "mergeEnvironment":
		return pol.MergeEnvironment, nil
	case "allRelocatable":
		return pol.AllRelocatable, nil
	case "uniqueDependency":
		return pol.UniqueDependency, nil
	case "sandboxInvariant":
		return pol.SandboxInvariant, nil
	case "offlineBuild":
		return pol.OfflineBuild, nil
	default:
		return false, fmt.Errorf("unknown policy %q", name)
	}
}

// compareVersion compares two dotted numeric version strings
// (e.g. "0.1", "2.3.1") component by component, treating a missing
// trailing component as 0. Returns -1, 0, or 1.
func compareVersion(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av := versionPart(as, i)
		bv := versionPart(bs, i)
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func versionPart(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n, err := strconv.Atoi(parts[i])
	if err != nil {
		return 0
	}
	return n
}
