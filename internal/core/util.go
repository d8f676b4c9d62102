package core

import (
	"path/filepath"
	"sort"
)

func sortStrings(s []string) { sort.Strings(s) }

func recipeMatchGlob(pattern, name string) (bool, error) {
	return filepath.Match(pattern, name)
}
