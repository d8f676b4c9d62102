package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/forgehq/foundry/internal"
	"github.com/forgehq/foundry/internal/cache"
	"github.com/forgehq/foundry/internal/core"
	"github.com/forgehq/foundry/internal/env"
	"github.com/forgehq/foundry/internal/paths"
	"github.com/forgehq/foundry/internal/recipeset"
)

// projectRoot resolves the directory a subcommand should treat as the
// project root: RootCmd.Root if set, otherwise the nearest ancestor of
// the working directory that contains a recipes/ tree.
func projectRoot() (string, error) {
	if RootCmd.Root != "" {
		return RootCmd.Root, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getwd: %w", err)
	}
	return paths.FindRoot(cwd)
}

// prepareOpts are the inputs shared by every subcommand that needs an
// elaborated package: which recipe to build, whether sandboxing is
// enabled, and whether the persisted graph cache may be consulted.
type prepareOpts struct {
	RecipeName     string
	SandboxEnabled bool
	UseCache       bool
}

// loadAndPrepare loads the project's recipe set and elaborates one
// recipe into a CorePackage, consulting and refreshing the persisted
// graph cache along the way.
func loadAndPrepare(root string, opts prepareOpts) (*core.CorePackage, error) {
	rs, err := recipeset.Load(root)
	if err != nil {
		return nil, err
	}

	e := env.New(env.DefaultFuncs())
	in := core.Input{Env: e, SandboxEnabled: opts.SandboxEnabled}

	key := rs.CacheKey(internal.Version(), e.Copy(), opts.SandboxEnabled)

	if opts.UseCache {
		if snap, hit, err := cache.Lookup(opts.SandboxEnabled, key); err == nil && hit {
			if pkg, err := core.Restore(snap, rs.Recipes()); err == nil {
				return descend(pkg, rs, opts.RecipeName)
			}
		}
	}

	pkg, _, err := rs.Engine().Prepare("", in)
	if err != nil {
		return nil, err
	}

	if opts.UseCache {
		if err := cache.Save(opts.SandboxEnabled, cache.Entry{Key: key, Snapshot: core.Snap(pkg)}); err != nil {
			slog.Warn("failed to persist graph cache", "error", err)
		}
	}

	return descend(pkg, rs, opts.RecipeName)
}

// descend finds the named recipe's own CorePackage among the virtual
// root's direct dependencies. An empty name returns the root itself.
func descend(root *core.CorePackage, rs *recipeset.RecipeSet, name string) (*core.CorePackage, error) {
	if name == "" {
		return root, nil
	}
	for _, ref := range root.DirectDepSteps {
		if ref.Step != nil && ref.Step.Package != nil && ref.Step.Package.Recipe.PackageName == name {
			return ref.Step.Package, nil
		}
	}
	return nil, fmt.Errorf("recipe %q is not reachable from the project root (is it marked root: true?)", name)
}
