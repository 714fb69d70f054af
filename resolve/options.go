package resolve

// ResolveOptions tunes how the Resolver expands the dependency graph, per
// spec.md §6's includeDependencies/includeScripts-adjacent knobs and
// SPEC_FULL.md §6.3's conflict-policy hooks.
type ResolveOptions struct {
	// IncludeOptional pulls in edges marked dep.Opt (pip "extras", npm
	// optionalDependencies, conda's optional run_constrained entries).
	IncludeOptional bool
	// IncludeRecommends pulls in apt/yum "Recommends" edges, which those
	// ecosystems install by default but are not hard Depends.
	IncludeRecommends bool
	// IncludeDev pulls in edges marked dep.Dev. Bundles are for offline
	// deployment, not development, so this defaults to false.
	IncludeDev bool
	// IncludeTest pulls in edges marked dep.Test.
	IncludeTest bool
	// MaxDepth caps the number of dependency-edge hops from a root before
	// the resolver stops expanding further (0 means unlimited). Guards
	// against pathologically deep or malformed dependency chains.
	MaxDepth int
}

// DefaultResolveOptions matches spec.md's implicit default of "regular
// runtime dependencies only".
func DefaultResolveOptions() ResolveOptions {
	return ResolveOptions{}
}
