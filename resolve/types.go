/*
Package resolve performs multi-ecosystem dependency resolution.

An Adapter describes how to talk to one ecosystem's package index (search,
list versions, pin a concrete artifact, parse its dependencies). A Resolver
drives a set of Adapters from a set of PackageRequests and a
platform.Profile, producing a DependencyTree per request plus a
deduplicated flat list and any conflicts encountered along the way.

This mirrors the shape of deps.dev/util/resolve's Client/Resolver split, but
generalizes the Client interface to the four-operation Adapter contract
spec.md §4.1 requires (search/list_versions/select_artifact/dependencies)
and makes System cover eight OS/language package ecosystems instead of
deps.dev's three.
*/
package resolve

import (
	"fmt"
	"sort"
	"strings"

	"bundle.dev/core/dep"
)

// System nominates a packaging ecosystem.
type System byte

const (
	UnknownSystem System = iota
	Pip
	Conda
	Maven
	NPM
	Yum
	Apt
	Apk
	Docker
)

var systemNames = map[System]string{
	UnknownSystem: "unknown",
	Pip:           "pip",
	Conda:         "conda",
	Maven:         "maven",
	NPM:           "npm",
	Yum:           "yum",
	Apt:           "apt",
	Apk:           "apk",
	Docker:        "docker",
}

func (s System) String() string {
	if n, ok := systemNames[s]; ok {
		return n
	}
	return fmt.Sprintf("system(%d)", byte(s))
}

// ParseSystem parses the lowercase ecosystem name used in requests and RPC
// payloads. It returns UnknownSystem and false if name is not recognized.
func ParseSystem(name string) (System, bool) {
	for s, n := range systemNames {
		if n == name && s != UnknownSystem {
			return s, true
		}
	}
	return UnknownSystem, false
}

// PackageKey uniquely identifies a package within one ecosystem.
type PackageKey struct {
	System System
	Name   string
}

func (k PackageKey) String() string { return k.System.String() + ":" + k.Name }

// Compare orders PackageKeys by System then Name.
func (k PackageKey) Compare(o PackageKey) int {
	if k.System != o.System {
		if k.System < o.System {
			return -1
		}
		return 1
	}
	return strings.Compare(k.Name, o.Name)
}

// VersionKey identifies one version of a package, plus the architecture it
// was resolved for (ResolvedArtifact identity per spec.md §3: "(ecosystem,
// name, version, architecture)").
type VersionKey struct {
	PackageKey
	Version      string
	Architecture string
}

func (k VersionKey) String() string {
	if k.Architecture == "" {
		return fmt.Sprintf("%s@%s", k.PackageKey, k.Version)
	}
	return fmt.Sprintf("%s@%s/%s", k.PackageKey, k.Version, k.Architecture)
}

// Compare orders VersionKeys by PackageKey, then Version, then Architecture.
func (k VersionKey) Compare(o VersionKey) int {
	if c := k.PackageKey.Compare(o.PackageKey); c != 0 {
		return c
	}
	if c := strings.Compare(k.Version, o.Version); c != 0 {
		return c
	}
	return strings.Compare(k.Architecture, o.Architecture)
}

// PackageRequest is the neutral input unit a caller supplies: "give me this
// package, in this ecosystem, at this version (or range, or 'latest')".
type PackageRequest struct {
	Ecosystem System
	Name      string
	// Version is an exact version, a range/constraint expression, or the
	// literal "latest".
	Version string
	// Architecture optionally pins an architecture different from the
	// session's platform.Profile (rare; mostly used for Docker multi-arch
	// requests like spec.md §8 scenario 3).
	Architecture string
	// RuntimeVersion optionally overrides the profile's language-runtime
	// version for this one request (e.g. a pip package pinned to a
	// different Python minor version than the rest of the bundle).
	RuntimeVersion string
	// Metadata carries ecosystem-specific overrides: a registry override for
	// docker, a repository base-URL for yum/apt/apk, a channel override for
	// conda.
	Metadata map[string]string
}

func (r PackageRequest) String() string {
	return fmt.Sprintf("%s:%s@%s", r.Ecosystem, r.Name, r.Version)
}

// RequirementVersion is a dependency edge's target: a package plus a version
// constraint (not yet pinned), and the dep.Type describing how the edge was
// declared (optional, dev-only, scoped, etc).
type RequirementVersion struct {
	PackageKey
	// Constraint is whatever the ecosystem's manifest used to express an
	// acceptable version: an exact version, a range, a match-spec, etc.
	Constraint string
	Type       dep.Type
}

func (r RequirementVersion) String() string {
	s := fmt.Sprintf("%s@%s", r.PackageKey, r.Constraint)
	if !r.Type.IsRegular() {
		s = r.Type.String() + "|" + s
	}
	return s
}

// RepositoryDescriptor describes the index/repository an artifact came from.
type RepositoryDescriptor struct {
	// Name is a human label, e.g. "pypi.org", "conda-forge/linux-64",
	// "docker.io".
	Name string
	// BaseURL is the root the artifact's relative paths (if any) are
	// resolved against.
	BaseURL string
}

// AuxiliaryFile is a file that accompanies a ResolvedArtifact but is not the
// primary installable payload: a Maven .pom/.sha1, an OCI layer blob, etc.
type AuxiliaryFile struct {
	// Role names the file's purpose, e.g. "pom", "jar.sha1", "pom.sha1",
	// "oci-layer", "oci-config".
	Role string
	URL  string
	// FileName is the name the file should be written under, relative to
	// the artifact's directory.
	FileName string
	ByteSize int64
	Digest   string
}

// ResolvedArtifact is a fully-pinned, fetchable item: spec.md §3.
type ResolvedArtifact struct {
	VersionKey
	FetchURL string
	FileName string
	ByteSize int64 // 0 if unknown
	Digest   string
	Auxiliary []AuxiliaryFile
	Origin    RepositoryDescriptor

	// PackageURL is a pkg: purl string identifying the artifact across
	// ecosystems, stamped by the adapter that produced it (SPEC_FULL §6.1).
	PackageURL string

	// IsRoot is true if this artifact directly answers a user
	// PackageRequest, false if it was pulled in transitively.
	IsRoot bool
	// Parent is the VersionKey that declared the dependency which caused
	// this artifact to be resolved. Zero value for roots.
	Parent VersionKey
}

func (a ResolvedArtifact) String() string { return a.VersionKey.String() }

// ConflictKind tags the two kinds of non-fatal resolution conflicts.
type ConflictKind byte

const (
	VersionMismatch ConflictKind = iota
	Circular
)

func (k ConflictKind) String() string {
	switch k {
	case VersionMismatch:
		return "version-mismatch"
	case Circular:
		return "circular"
	default:
		return "unknown"
	}
}

// Conflict records a version-mismatch or cycle encountered during
// expansion, per spec.md §3.
type Conflict struct {
	Kind ConflictKind

	// Package identifies the package in conflict.
	Package PackageKey
	// Winner is the version kept in the flatList (first-seen, per
	// spec.md §9 open question (a)). Zero for Circular conflicts.
	Winner string
	// Discarded is the version that lost out to Winner. Zero for Circular
	// conflicts.
	Discarded string
	// CycleEdge names the "A -> B" edge that closed a cycle, formatted as
	// "pkgA -> pkgB", for Circular conflicts.
	CycleEdge string
}

func (c Conflict) String() string {
	switch c.Kind {
	case Circular:
		return fmt.Sprintf("circular: %s", c.CycleEdge)
	default:
		return fmt.Sprintf("version-mismatch: %s kept %s, discarded %s", c.Package, c.Winner, c.Discarded)
	}
}

// FailedPackage records a dependency that could not be resolved without
// aborting the whole session (spec.md §4.2 "Failure handling").
type FailedPackage struct {
	Request PackageKey
	Version string
	Reason  string
}

// SortArtifacts sorts artifacts by VersionKey for deterministic output.
func SortArtifacts(as []ResolvedArtifact) {
	sort.Slice(as, func(i, j int) bool { return as[i].VersionKey.Compare(as[j].VersionKey) < 0 })
}
