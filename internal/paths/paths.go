package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory naming under XDG base directories.
	appName = "foundry"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory holding the persisted graph cache (spec.md §6
// Persistence: two files, one per sandbox-enabled state).
//
//	Linux:   $XDG_CACHE_HOME/foundry
//	macOS:   ~/Library/Caches/foundry
func CacheDir() string {
	return filepath.Join(xdg.CacheHome, appName)
}

// Path to the cache file for a given sandbox-enabled state.
func CacheFile(sandboxEnabled bool) string {
	name := "graph.cache"
	if sandboxEnabled {
		name = "graph.sandbox.cache"
	}
	return filepath.Join(CacheDir(), name)
}

// Searches dir and its ancestors for a recipes/ directory, the way a
// project root is located when no explicit path is given on the command
// line. Returns the directory containing recipes/, or an error if none
// of dir's ancestors has one.
func FindRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, "recipes")); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
