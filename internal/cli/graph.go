package cli

import (
	"context"
	"fmt"

	"github.com/forgehq/foundry/internal/graph"
)

// GraphCmd is the 'foundry graph' command: prints a recipe's
// dependency tree as seen through the lazy graph facade, one line per
// package with its path and the first 12 hex digits of its package
// step's Variant-Id.
type GraphCmd struct {
	Recipe  string `arg:"" help:"Recipe name to elaborate and print."`
	Sandbox bool   `help:"Elaborate with sandboxing enabled."`
	NoCache bool   `help:"Bypass the persisted graph cache."`
}

// Run elaborates Recipe and prints its dependency tree depth-first,
// skipping the recursive walk into a package once it has already been
// printed once (a diamond dependency's line is printed again, with its
// Variant-Id so repeats are identifiable, but its subtree only once).
func (c *GraphCmd) Run(ctx context.Context) error {
	root, err := projectRoot()
	if err != nil {
		return fmt.Errorf("foundry graph: %w", err)
	}

	pkg, err := loadAndPrepare(root, prepareOpts{
		RecipeName:     c.Recipe,
		SandboxEnabled: c.Sandbox,
		UseCache:       !c.NoCache,
	})
	if err != nil {
		return err
	}

	printTree(graph.Root(pkg), 0, map[string]bool{})
	return nil
}

func printTree(pkg *graph.Package, depth int, seen map[string]bool) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}

	id := pkg.PackageStep().VariantIDHex()
	fmt.Printf("%s%s (%s)\n", indent, pkg.Path, shortID(id))

	if seen[id] {
		return
	}
	seen[id] = true

	for _, dep := range pkg.Dependencies() {
		printTree(dep, depth+1, seen)
	}
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
