package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"bundle.dev/core/dep"
	"bundle.dev/core/platform"
)

// fakePackage is one entry in a fakeAdapter's in-memory index.
type fakePackage struct {
	versions []string // newest first
	depends  map[string][]RequirementVersion
}

// fakeAdapter implements Adapter over a fixed in-memory package graph, so
// resolver tests can drive Resolve deterministically without a network.
type fakeAdapter struct {
	system   System
	packages map[string]fakePackage

	mu sync.Mutex
	// calls counts Dependencies invocations per package@version, to assert
	// the cache/memoization behavior of expandBFS.
	calls map[VersionKey]int
}

func newFakeAdapter(sys System) *fakeAdapter {
	return &fakeAdapter{system: sys, packages: map[string]fakePackage{}, calls: map[VersionKey]int{}}
}

func (f *fakeAdapter) System() System { return f.system }

func (f *fakeAdapter) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	return nil, nil
}

func (f *fakeAdapter) ListVersions(ctx context.Context, name string) ([]VersionInfo, error) {
	pkg, ok := f.packages[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	out := make([]VersionInfo, len(pkg.versions))
	for i, v := range pkg.versions {
		out[i] = VersionInfo{Version: v}
	}
	return out, nil
}

func (f *fakeAdapter) SelectArtifact(ctx context.Context, name, version string, profile platform.Profile) (ResolvedArtifact, error) {
	pkg, ok := f.packages[name]
	if !ok {
		return ResolvedArtifact{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	found := false
	for _, v := range pkg.versions {
		if v == version {
			found = true
			break
		}
	}
	if !found {
		return ResolvedArtifact{}, fmt.Errorf("%s@%s: %w", name, version, ErrNoCompatibleArtifact)
	}
	return ResolvedArtifact{
		VersionKey: VersionKey{PackageKey: PackageKey{System: f.system, Name: name}, Version: version},
		FetchURL:   "fake://" + name + "@" + version,
		FileName:   name + "-" + version,
	}, nil
}

func (f *fakeAdapter) Dependencies(ctx context.Context, artifact ResolvedArtifact) ([]RequirementVersion, error) {
	f.mu.Lock()
	f.calls[artifact.VersionKey]++
	f.mu.Unlock()
	pkg, ok := f.packages[artifact.Name]
	if !ok {
		return nil, nil
	}
	return pkg.depends[artifact.Version], nil
}

func req(sys System, name string) RequirementVersion {
	return RequirementVersion{PackageKey: PackageKey{System: sys, Name: name}, Type: dep.NewType()}
}

func reqConstraint(sys System, name, constraint string) RequirementVersion {
	return RequirementVersion{PackageKey: PackageKey{System: sys, Name: name}, Constraint: constraint, Type: dep.NewType()}
}

// TestResolveDiamondPinsFirstSeenVersion builds a diamond: root depends on A
// and B, both of which depend on shared@1.0 and shared@2.0 respectively. A is
// listed (and thus expanded) before B, so per spec.md §9(a) "first-seen wins"
// shared must pin to 1.0, with a VersionMismatch conflict recorded for B's
// edge, deterministically regardless of goroutine scheduling.
func TestResolveDiamondPinsFirstSeenVersion(t *testing.T) {
	const sys = Pip
	a := newFakeAdapter(sys)
	a.packages["root"] = fakePackage{
		versions: []string{"1.0"},
		depends: map[string][]RequirementVersion{
			"1.0": {req(sys, "a"), req(sys, "b")},
		},
	}
	a.packages["a"] = fakePackage{
		versions: []string{"1.0"},
		depends:  map[string][]RequirementVersion{"1.0": {reqConstraint(sys, "shared", "1.0")}},
	}
	a.packages["b"] = fakePackage{
		versions: []string{"1.0"},
		depends:  map[string][]RequirementVersion{"1.0": {reqConstraint(sys, "shared", "2.0")}},
	}
	a.packages["shared"] = fakePackage{versions: []string{"2.0", "1.0"}}

	r := NewResolver(platform.Profile{}, []Adapter{a}, 4)
	trees, err := r.Resolve(context.Background(), []PackageRequest{{Ecosystem: sys, Name: "root", Version: "1.0"}}, DefaultResolveOptions())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(trees) != 1 {
		t.Fatalf("len(trees) = %d, want 1", len(trees))
	}

	var sharedVersions []string
	trees[0].Root.Walk(func(n *DependencyNode) {
		if n.Artifact.Name == "shared" {
			sharedVersions = append(sharedVersions, n.Artifact.Version)
		}
	})
	for _, v := range sharedVersions {
		if v != "1.0" {
			t.Errorf("shared resolved to %q somewhere in the tree, want every occurrence pinned to the first-seen 1.0", v)
		}
	}

	foundConflict := false
	for _, c := range trees[0].Conflicts {
		if c.Kind == VersionMismatch && c.Package.Name == "shared" {
			foundConflict = true
			if c.Winner != "1.0" || c.Discarded != "2.0" {
				t.Errorf("conflict = %+v, want Winner=1.0 Discarded=2.0", c)
			}
		}
	}
	if !foundConflict {
		t.Error("expected a VersionMismatch conflict recorded for shared, got none")
	}
}

// TestResolveIsDeterministicAcrossRuns re-runs the same diamond resolution
// many times: since expandBFS only ever runs concurrent goroutines for
// independent Dependencies() lookups and makes every pin decision in a
// single-threaded sweep, the winning version must never vary.
func TestResolveIsDeterministicAcrossRuns(t *testing.T) {
	const sys = NPM
	build := func() *fakeAdapter {
		a := newFakeAdapter(sys)
		a.packages["root"] = fakePackage{
			versions: []string{"1.0"},
			depends: map[string][]RequirementVersion{
				"1.0": {req(sys, "a"), req(sys, "b"), req(sys, "c"), req(sys, "d")},
			},
		}
		for _, mid := range []string{"a", "b", "c", "d"} {
			a.packages[mid] = fakePackage{
				versions: []string{"1.0"},
				depends:  map[string][]RequirementVersion{"1.0": {req(sys, "shared")}},
			}
		}
		a.packages["shared"] = fakePackage{versions: []string{"3.0", "2.0", "1.0"}}
		return a
	}

	for i := 0; i < 20; i++ {
		a := build()
		r := NewResolver(platform.Profile{}, []Adapter{a}, 8)
		trees, err := r.Resolve(context.Background(), []PackageRequest{{Ecosystem: sys, Name: "root", Version: "1.0"}}, DefaultResolveOptions())
		if err != nil {
			t.Fatalf("run %d: Resolve: %v", i, err)
		}
		var got string
		trees[0].Root.Walk(func(n *DependencyNode) {
			if n.Artifact.Name == "shared" {
				got = n.Artifact.Version
			}
		})
		if got != "3.0" {
			t.Fatalf("run %d: shared resolved to %q, want the deterministic first-seen 3.0 every time", i, got)
		}
	}
}

// TestResolveDetectsCycle builds a -> b -> a and expects a Circular conflict
// instead of infinite recursion.
func TestResolveDetectsCycle(t *testing.T) {
	const sys = Maven
	a := newFakeAdapter(sys)
	a.packages["a"] = fakePackage{
		versions: []string{"1.0"},
		depends:  map[string][]RequirementVersion{"1.0": {req(sys, "b")}},
	}
	a.packages["b"] = fakePackage{
		versions: []string{"1.0"},
		depends:  map[string][]RequirementVersion{"1.0": {req(sys, "a")}},
	}

	r := NewResolver(platform.Profile{}, []Adapter{a}, 4)
	trees, err := r.Resolve(context.Background(), []PackageRequest{{Ecosystem: sys, Name: "a", Version: "1.0"}}, DefaultResolveOptions())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	foundCycle := false
	for _, c := range trees[0].Conflicts {
		if c.Kind == Circular {
			foundCycle = true
		}
	}
	if !foundCycle {
		t.Error("expected a Circular conflict for the a->b->a cycle, got none")
	}
}

// TestResolveFlatListIsUnique exercises spec.md §3's uniqueness invariant:
// FlatList is de-duplicated by VersionKey even though "shared" is reached via
// two different parents.
func TestResolveFlatListIsUnique(t *testing.T) {
	const sys = Apt
	a := newFakeAdapter(sys)
	a.packages["root"] = fakePackage{
		versions: []string{"1.0"},
		depends: map[string][]RequirementVersion{
			"1.0": {req(sys, "a"), req(sys, "b")},
		},
	}
	a.packages["a"] = fakePackage{
		versions: []string{"1.0"},
		depends:  map[string][]RequirementVersion{"1.0": {req(sys, "shared")}},
	}
	a.packages["b"] = fakePackage{
		versions: []string{"1.0"},
		depends:  map[string][]RequirementVersion{"1.0": {req(sys, "shared")}},
	}
	a.packages["shared"] = fakePackage{versions: []string{"1.0"}}

	r := NewResolver(platform.Profile{}, []Adapter{a}, 4)
	trees, err := r.Resolve(context.Background(), []PackageRequest{{Ecosystem: sys, Name: "root", Version: "1.0"}}, DefaultResolveOptions())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	seen := map[VersionKey]int{}
	for _, art := range trees[0].FlatList {
		seen[art.VersionKey]++
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("FlatList contains %s %d times, want exactly once", k, n)
		}
	}
	sharedKey := VersionKey{PackageKey: PackageKey{System: sys, Name: "shared"}, Version: "1.0"}
	if seen[sharedKey] != 1 {
		t.Errorf("FlatList seen[shared@1.0] = %d, want 1", seen[sharedKey])
	}
}

// TestResolveTerminatesWithMaxDepth confirms MaxDepth stops expansion rather
// than walking an arbitrarily long (here, unbounded in principle) chain.
func TestResolveTerminatesWithMaxDepth(t *testing.T) {
	const sys = Yum
	a := newFakeAdapter(sys)
	const chainLen = 50
	for i := 0; i < chainLen; i++ {
		name := fmt.Sprintf("pkg%d", i)
		next := fmt.Sprintf("pkg%d", i+1)
		a.packages[name] = fakePackage{
			versions: []string{"1.0"},
			depends:  map[string][]RequirementVersion{"1.0": {req(sys, next)}},
		}
	}
	a.packages[fmt.Sprintf("pkg%d", chainLen)] = fakePackage{versions: []string{"1.0"}}

	r := NewResolver(platform.Profile{}, []Adapter{a}, 4)
	trees, err := r.Resolve(context.Background(), []PackageRequest{{Ecosystem: sys, Name: "pkg0", Version: "1.0"}}, ResolveOptions{MaxDepth: 3})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	depth := 0
	var walk func(n *DependencyNode, d int)
	walk = func(n *DependencyNode, d int) {
		if d > depth {
			depth = d
		}
		for _, c := range n.Children {
			walk(c, d+1)
		}
	}
	walk(trees[0].Root, 0)
	if depth > 3 {
		t.Errorf("tree depth = %d, want capped at MaxDepth=3", depth)
	}
}

// TestResolveSharedDependencyExpandedOnce confirms the memoization in
// expandBFS: root depends on both "a" and "shared" directly, and "a" also
// depends on "shared" transitively. "a" sorts before "shared" among root's
// own edges, so shared's own node finishes expanding (in the same level
// as root's direct edge) before a's edge to shared is looked up a level
// later, meaning the session's node memoization resolves a's edge without a
// second Dependencies call.
func TestResolveSharedDependencyExpandedOnce(t *testing.T) {
	const sys = Apk
	a := newFakeAdapter(sys)
	a.packages["root"] = fakePackage{
		versions: []string{"1.0"},
		depends: map[string][]RequirementVersion{
			"1.0": {req(sys, "a"), req(sys, "shared")},
		},
	}
	a.packages["a"] = fakePackage{
		versions: []string{"1.0"},
		depends:  map[string][]RequirementVersion{"1.0": {req(sys, "shared")}},
	}
	a.packages["shared"] = fakePackage{versions: []string{"1.0"}}

	r := NewResolver(platform.Profile{}, []Adapter{a}, 4)
	if _, err := r.Resolve(context.Background(), []PackageRequest{{Ecosystem: sys, Name: "root", Version: "1.0"}}, DefaultResolveOptions()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	sharedKey := VersionKey{PackageKey: PackageKey{System: sys, Name: "shared"}, Version: "1.0"}
	if got := a.calls[sharedKey]; got != 1 {
		t.Errorf("Dependencies(shared@1.0) called %d times, want exactly 1 (memoized subtree)", got)
	}
}

// TestResolveUnsatisfiableDependencyRecordsFailedPackage confirms a
// transitive dependency with no satisfying version doesn't abort the whole
// resolution, per spec.md §4.2's non-fatal failure handling.
func TestResolveUnsatisfiableDependencyRecordsFailedPackage(t *testing.T) {
	const sys = Conda
	a := newFakeAdapter(sys)
	a.packages["root"] = fakePackage{
		versions: []string{"1.0"},
		depends:  map[string][]RequirementVersion{"1.0": {reqConstraint(sys, "missing", "==9.9")}},
	}
	a.packages["missing"] = fakePackage{versions: []string{"1.0"}}

	r := NewResolver(platform.Profile{}, []Adapter{a}, 4)
	trees, err := r.Resolve(context.Background(), []PackageRequest{{Ecosystem: sys, Name: "root", Version: "1.0"}}, DefaultResolveOptions())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(trees[0].FailedPackages) != 1 || trees[0].FailedPackages[0].Request.Name != "missing" {
		t.Errorf("FailedPackages = %+v, want one entry for missing", trees[0].FailedPackages)
	}
	if len(trees[0].Root.Children) != 0 {
		t.Errorf("Root.Children = %+v, want no child for the unsatisfiable dependency", trees[0].Root.Children)
	}
}

// TestResolveRootNotFoundWrapsErrNotFound confirms root-selection
// failures propagate wrapped in the §7 error taxonomy.
func TestResolveRootNotFoundWrapsErrNotFound(t *testing.T) {
	const sys = Docker
	a := newFakeAdapter(sys)
	r := NewResolver(platform.Profile{}, []Adapter{a}, 4)
	_, err := r.Resolve(context.Background(), []PackageRequest{{Ecosystem: sys, Name: "nope", Version: "1.0"}}, DefaultResolveOptions())
	if err == nil {
		t.Fatal("expected an error resolving a nonexistent root package")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want errors.Is(err, ErrNotFound)", err)
	}
}

// TestResolveUnknownEcosystemReturnsRequestInvalid confirms a request naming
// an ecosystem with no registered adapter is rejected immediately.
func TestResolveUnknownEcosystemReturnsRequestInvalid(t *testing.T) {
	r := NewResolver(platform.Profile{}, nil, 4)
	_, err := r.Resolve(context.Background(), []PackageRequest{{Ecosystem: Pip, Name: "x", Version: "1.0"}}, DefaultResolveOptions())
	if !errors.Is(err, ErrRequestInvalid) {
		t.Errorf("error = %v, want errors.Is(err, ErrRequestInvalid)", err)
	}
}

// TestResolveExcludesOptionalByDefault confirms dep.Opt edges are skipped
// unless ResolveOptions.IncludeOptional is set.
func TestResolveExcludesOptionalByDefault(t *testing.T) {
	const sys = Pip
	a := newFakeAdapter(sys)
	optType := dep.NewType(dep.Opt)
	a.packages["root"] = fakePackage{
		versions: []string{"1.0"},
		depends: map[string][]RequirementVersion{
			"1.0": {{PackageKey: PackageKey{System: sys, Name: "extra"}, Type: optType}},
		},
	}
	a.packages["extra"] = fakePackage{versions: []string{"1.0"}}

	r := NewResolver(platform.Profile{}, []Adapter{a}, 4)
	trees, err := r.Resolve(context.Background(), []PackageRequest{{Ecosystem: sys, Name: "root", Version: "1.0"}}, DefaultResolveOptions())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(trees[0].Root.Children) != 0 {
		t.Errorf("Root.Children = %+v, want the optional edge excluded by default", trees[0].Root.Children)
	}

	trees, err = r.Resolve(context.Background(), []PackageRequest{{Ecosystem: sys, Name: "root", Version: "1.0"}}, ResolveOptions{IncludeOptional: true})
	if err != nil {
		t.Fatalf("Resolve with IncludeOptional: %v", err)
	}
	if len(trees[0].Root.Children) != 1 || !trees[0].Root.Children[0].Optional {
		t.Errorf("Root.Children = %+v, want one Optional child once IncludeOptional is set", trees[0].Root.Children)
	}
}

func TestComparatorForAndSatisfies(t *testing.T) {
	for _, sys := range []System{Pip, Conda, Maven, NPM, Yum, Apt, Apk, Docker} {
		if ComparatorFor(sys) == nil {
			t.Errorf("ComparatorFor(%s) = nil", sys)
		}
	}
	if !Satisfies(Pip, "1.0", "") {
		t.Error("Satisfies with empty constraint should be true")
	}
	if Newest(Pip, nil) != -1 {
		t.Error("Newest of an empty slice should be -1")
	}
	if Newest(NPM, []string{"1.0.0", "2.0.0", "1.5.0"}) != 1 {
		t.Error("Newest should pick the index of the greatest version")
	}
}

func TestPackageKeyAndVersionKeyCompare(t *testing.T) {
	keys := []PackageKey{
		{System: NPM, Name: "b"},
		{System: Pip, Name: "a"},
		{System: NPM, Name: "a"},
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	if keys[0] != (PackageKey{System: Pip, Name: "a"}) {
		t.Errorf("sorted keys = %+v, want Pip:a first (lower System)", keys)
	}
}
