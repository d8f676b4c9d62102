package core

import (
	"sort"

	"github.com/forgehq/foundry/internal/digest"
)

// variantID computes the step's Variant-Id per the byte layout
// invariants: sandbox-variant-id (20 zero bytes if none), sandbox
// paths, digest script, tool table (sorted by name; each entry hashes
// upstream variant-id slice, path, libs — not env/fingerprint), the
// step's own digestEnv (sorted), then the variant-ids of valid args.
func (s *CoreStep) computeVariantID(sandboxVariantID []byte) []byte {
	var h digest.Hasher

	if len(sandboxVariantID) == 0 {
		h.Add(make([]byte, 20))
	} else {
		h.Add(digest.SliceRecipes(sandboxVariantID))
	}

	if s.Package.Sandbox != nil {
		for _, p := range s.Package.Sandbox.Paths {
			h.AddLengthPrefixed([]byte(p))
		}
	}

	h.AddLengthPrefixed([]byte(s.DigestScript))

	names := sortedToolNames(s.Package.Tools)
	h.AddUint32(uint32(len(names)))
	for _, name := range names {
		t := s.Package.Tools[name]
		h.AddLengthPrefixed([]byte(name))
		if t.PackageStep != nil {
			h.AddLengthPrefixed(digest.SliceRecipes(t.PackageStep.VariantID))
		} else {
			h.AddLengthPrefixed(nil)
		}
		h.AddLengthPrefixed([]byte(t.Path))
		h.AddUint32(uint32(len(t.Libs)))
		for _, lib := range t.Libs {
			h.AddLengthPrefixed([]byte(lib))
		}
	}

	envNames := sortedStringMapKeys(s.DigestEnv)
	h.AddUint32(uint32(len(envNames)))
	for _, name := range envNames {
		h.AddLengthPrefixed([]byte(name))
		h.AddLengthPrefixed([]byte(s.DigestEnv[name]))
	}

	h.AddUint32(uint32(countValidArgs(s.Args)))
	for _, a := range s.Args {
		if a == nil || a.Step == nil || !a.Step.Valid {
			continue
		}
		h.Add(digest.SliceRecipes(a.Step.VariantID))
	}

	if s.fingerprinted() && s.Package.Sandbox != nil {
		h.Fingerprint(digest.SliceRecipes(sandboxVariantID))
	}

	return h.Sum()
}

// SandboxVariantID recomputes the step's Variant-Id as if sandboxVariantID
// were the sandbox in effect, independent of the policy the step was
// actually elaborated under. Used by callers that need to know what a
// step's Variant-Id would be under a forced sandbox state (e.g. to
// compare a sandboxInvariant build's digest against a real sandboxed run)
// without re-elaborating the recipe.
func (s *CoreStep) SandboxVariantID(sandboxVariantID []byte) []byte {
	return s.computeVariantID(sandboxVariantID)
}

// resultID extends the Variant-Id with the package step's full provides:
// providedEnv, providedTools (including env/fingerprint), providedDeps'
// variant-ids, and providedSandbox paths/mounts/env. Used only for the
// package step, as the memoization equivalence key.
func (s *CoreStep) computeResultID(sandboxVariantID []byte) []byte {
	var h digest.Hasher
	h.Add(s.VariantID)

	envNames := sortedStringMapKeys(s.ProvidedEnv)
	h.AddUint32(uint32(len(envNames)))
	for _, name := range envNames {
		h.AddLengthPrefixed([]byte(name))
		h.AddLengthPrefixed([]byte(s.ProvidedEnv[name]))
	}

	toolNames := sortedToolNames(s.ProvidedTools)
	h.AddUint32(uint32(len(toolNames)))
	for _, name := range toolNames {
		t := s.ProvidedTools[name]
		h.AddLengthPrefixed([]byte(name))
		h.AddLengthPrefixed([]byte(t.Path))
		envKeys := sortedStringMapKeys(t.Environment)
		h.AddUint32(uint32(len(envKeys)))
		for _, k := range envKeys {
			h.AddLengthPrefixed([]byte(k))
			h.AddLengthPrefixed([]byte(t.Environment[k]))
		}
		h.AddLengthPrefixed([]byte(t.Fingerprint))
	}

	h.AddUint32(uint32(len(s.ProvidedDeps)))
	for _, dep := range s.ProvidedDeps {
		if dep != nil && dep.PackageStep != nil {
			h.Add(digest.SliceRecipes(dep.PackageStep.VariantID))
		}
	}

	if s.ProvidedSandbox != nil {
		for _, p := range s.ProvidedSandbox.Paths {
			h.AddLengthPrefixed([]byte(p))
		}
		for _, m := range s.ProvidedSandbox.Mounts {
			h.AddLengthPrefixed([]byte(m.Host + ":" + m.Sandbox))
		}
		envKeys := sortedStringMapKeys(s.ProvidedSandbox.Environment)
		for _, k := range envKeys {
			h.AddLengthPrefixed([]byte(k))
			h.AddLengthPrefixed([]byte(s.ProvidedSandbox.Environment[k]))
		}
	}

	return h.Sum()
}

// fingerprinted reports whether this step's package selected any
// fingerprint bits (see computeFingerprintMask in engine.go).
func (s *CoreStep) fingerprinted() bool {
	return s.Package.FingerprintMask != 0
}

func sortedToolNames(m map[string]*CoreTool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedStringMapKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func countValidArgs(args []*CoreRef) int {
	n := 0
	for _, a := range args {
		if a != nil && a.Step != nil && a.Step.Valid {
			n++
		}
	}
	return n
}
