package cli

import (
	"context"
	"fmt"

	"github.com/forgehq/foundry/internal/graph"
)

// DigestCmd is the 'foundry digest' command: prints one recipe's
// package-step Variant-Id and Result-Id as hex, the identifiers the
// persisted graph cache and any external build cache key off of.
type DigestCmd struct {
	Recipe  string `arg:"" help:"Recipe name to elaborate."`
	Sandbox bool   `help:"Elaborate with sandboxing enabled."`
	NoCache bool   `help:"Bypass the persisted graph cache."`
}

func (c *DigestCmd) Run(ctx context.Context) error {
	root, err := projectRoot()
	if err != nil {
		return fmt.Errorf("foundry digest: %w", err)
	}

	pkg, err := loadAndPrepare(root, prepareOpts{
		RecipeName:     c.Recipe,
		SandboxEnabled: c.Sandbox,
		UseCache:       !c.NoCache,
	})
	if err != nil {
		return err
	}

	step := graph.Root(pkg).PackageStep()
	fmt.Printf("variant-id %s\n", step.VariantIDHex())
	fmt.Printf("result-id  %s\n", step.ResultIDHex())
	return nil
}
