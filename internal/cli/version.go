package cli

import (
	"context"
	"fmt"

	"github.com/forgehq/foundry/internal"
)

// VersionCmd is the 'foundry version' command.
type VersionCmd struct{}

// Run prints the build version string.
func (c *VersionCmd) Run(ctx context.Context) error {
	fmt.Println(internal.VersionString())
	return nil
}
