package resolve

import (
	"context"

	"bundle.dev/core/platform"
)

// SearchResult is one candidate returned by Adapter.Search.
type SearchResult struct {
	Name           string
	LatestVersion  string
	Summary        string
	PopularityRank int // lower is more popular; 0 if the ecosystem exposes no signal
}

// VersionInfo is one entry from Adapter.ListVersions: a version string plus
// whether it is an alias (such as npm's "latest" dist-tag or a Docker
// floating tag) rather than an immutable release.
type VersionInfo struct {
	Version string
	IsAlias bool
}

// Adapter is the capability set every ecosystem implements, per spec.md
// §4.1. The Resolver depends only on this contract; it never has
// ecosystem-specific logic of its own; bridges deps.dev's polymorphic
// Client interface (a REDESIGN FLAG target, spec.md §9) down to exactly the
// four operations the spec names.
type Adapter interface {
	// System returns the ecosystem this Adapter implements.
	System() System

	// Search returns a bounded list of candidates ranked by spec.md
	// §4.1's relevance rule: exact name match first, then prefix, then
	// substring, ties broken by ecosystem popularity signal then name.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// ListVersions returns every known version of name, newest first in
	// ecosystem-native order (spec.md §4.1).
	ListVersions(ctx context.Context, name string) ([]VersionInfo, error)

	// SelectArtifact pins a single fetchable ResolvedArtifact for name at
	// version, applying the ecosystem's platform-compatibility rules.
	// Returns ErrNoCompatibleArtifact if nothing matches profile.
	SelectArtifact(ctx context.Context, name, version string, profile platform.Profile) (ResolvedArtifact, error)

	// Dependencies parses artifact's manifest and returns its direct
	// dependency edges. For Docker, this always returns an empty slice:
	// layers are auxiliary files on the artifact, not graph edges
	// (spec.md §4.1.8).
	Dependencies(ctx context.Context, artifact ResolvedArtifact) ([]RequirementVersion, error)
}
