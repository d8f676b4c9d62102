package core

// DerefCache preserves object sharing within one deref call: two
// branches of the graph that reach the same underlying CoreStep through
// different overlay paths should, if the overlays end up equal, resolve
// to the same effective view. Exported so a facade package walking the
// graph from outside core (internal/graph) can keep one cache alive
// across a whole traversal, the same way prepare-time code does.
type DerefCache struct {
	tools   map[*CoreRef]map[string]*CoreRef
	sandbox map[*CoreRef]*CoreRef
}

// NewDerefCache creates a fresh, empty deref cache for one top-level
// dereference pass.
func NewDerefCache() *DerefCache {
	return &DerefCache{tools: map[*CoreRef]map[string]*CoreRef{}, sandbox: map[*CoreRef]*CoreRef{}}
}

// EffectiveTools composes r's diffTools overlay onto inherited, the
// tool table visible to r's caller, returning the tool table visible at
// r itself.
func (r *CoreRef) EffectiveTools(inherited map[string]*CoreRef, cache *DerefCache) map[string]*CoreRef {
	if len(r.diffTools) == 0 {
		return inherited
	}
	if cached, ok := cache.tools[r]; ok {
		return cached
	}

	out := make(map[string]*CoreRef, len(inherited)+len(r.diffTools))
	for k, v := range inherited {
		out[k] = v
	}
	for name, d := range r.diffTools {
		if d.Removed {
			delete(out, name)
			continue
		}
		out[name] = d.Ref
	}

	cache.tools[r] = out
	return out
}

// EffectiveSandbox composes r's sandbox overlay onto inherited, the
// sandbox ref visible to r's caller.
func (r *CoreRef) EffectiveSandbox(inherited *CoreRef, cache *DerefCache) *CoreRef {
	switch r.diffSandbox {
	case SandboxClear:
		return nil
	case SandboxReplace:
		return r.replacement
	default:
		if cached, ok := cache.sandbox[r]; ok {
			return cached
		}
		cache.sandbox[r] = inherited
		return inherited
	}
}
