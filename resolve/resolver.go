package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"bundle.dev/core/dep"
	"bundle.dev/core/logging"
	"bundle.dev/core/platform"
)

var log = logging.For("resolve")

// Resolver drives a set of per-ecosystem Adapters to expand PackageRequests
// into DependencyTrees, per spec.md §4.2. It generalizes npm resolver's
// queue-driven single-ecosystem walk (deps.dev/util/resolve/npm) into a
// concurrent BFS that fans out across however many ecosystems a session's
// requests touch, with a per-ecosystem semaphore standing in for the
// teacher's single Client's implicit seriality.
type Resolver struct {
	adapters map[System]Adapter
	profile  platform.Profile

	// sem bounds concurrent in-flight index queries per ecosystem, so one
	// slow registry can't starve the others (SPEC_FULL.md §5).
	sem map[System]*semaphore.Weighted
}

// NewResolver builds a Resolver over the given adapters. perEcosystemLimit
// bounds concurrent adapter calls per ecosystem (spec.md §6's "concurrency"
// option governs fetch, this governs resolution).
func NewResolver(profile platform.Profile, adapters []Adapter, perEcosystemLimit int64) *Resolver {
	if perEcosystemLimit <= 0 {
		perEcosystemLimit = 4
	}
	r := &Resolver{
		adapters: make(map[System]Adapter, len(adapters)),
		profile:  profile,
		sem:      make(map[System]*semaphore.Weighted, len(adapters)),
	}
	for _, a := range adapters {
		r.adapters[a.System()] = a
		r.sem[a.System()] = semaphore.NewWeighted(perEcosystemLimit)
	}
	return r
}

// classifyErr normalizes an error an Adapter call returned into the §7 error
// taxonomy: a context cancellation becomes ErrCancelled, an error already
// wrapping one of the sentinels passes through unchanged, and everything
// else (network failures, malformed index responses) becomes
// ErrIndexUnavailable so errors.Is works the same regardless of which
// adapter produced the failure.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	for _, sentinel := range []error{ErrNotFound, ErrRequestInvalid, ErrNoCompatibleArtifact, ErrIndexUnavailable, ErrFetchFailed, ErrCancelled} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
}

// session holds the state shared across every root request resolved
// together, so a package pulled in by two different roots is pinned once
// (spec.md §9 open question (a): "first resolved version wins").
type session struct {
	opts ResolveOptions

	mu        sync.Mutex
	pins      map[PackageKey]string         // first-seen version per package
	nodes     map[VersionKey]*DependencyNode // memoized expanded subtrees
	nodeErrs  map[VersionKey]error
	flat      map[VersionKey]ResolvedArtifact
	conflicts []Conflict
	failed    []FailedPackage
}

func newSession(opts ResolveOptions) *session {
	return &session{
		opts:     opts,
		pins:     make(map[PackageKey]string),
		nodes:    make(map[VersionKey]*DependencyNode),
		nodeErrs: make(map[VersionKey]error),
		flat:     make(map[VersionKey]ResolvedArtifact),
	}
}

// frontierEdge is one not-yet-expanded position in the tree being built: the
// artifact to expand, its ancestor chain (for cycle detection), and an
// attach callback that copies the finished node's contents into the slot its
// parent already reserved for it.
type frontierEdge struct {
	artifact  ResolvedArtifact
	ancestors *ancestorSet
	attach    func(node *DependencyNode, failErr error)
}

// Resolve expands every request into a DependencyTree. Trees share the same
// session, so FlatList/Conflicts/FailedPackages are identical (and complete)
// across all returned trees, per DependencyTree's doc comment.
func (r *Resolver) Resolve(ctx context.Context, requests []PackageRequest, opts ResolveOptions) ([]*DependencyTree, error) {
	s := newSession(opts)
	trees := make([]*DependencyNode, len(requests))

	// Selecting each root's own artifact only ever touches that root's own
	// PackageKey, never a shared pin, so it is safe to run concurrently.
	// Determinism only matters once edges start competing for the same pin,
	// which is expandBFS's job below.
	type rootResult struct {
		artifact ResolvedArtifact
		err      error
	}
	results := make([]rootResult, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			artifact, err := r.selectRoot(gctx, req)
			results[i] = rootResult{artifact: artifact, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Seed the BFS frontier in request-declaration order: when a later
	// transitive edge targets a package a root already named, "first-seen
	// wins" pinning must mean the first request listed, not whichever
	// goroutine happened to finish first.
	frontier := make([]frontierEdge, 0, len(requests))
	for i, res := range results {
		if res.err != nil {
			return nil, fmt.Errorf("resolve %s: %w", requests[i], res.err)
		}
		shell := &DependencyNode{}
		trees[i] = shell
		frontier = append(frontier, frontierEdge{
			artifact:  res.artifact,
			ancestors: newAncestorSet(),
			attach: func(n *DependencyNode, failErr error) {
				if failErr != nil || n == nil {
					return
				}
				*shell = *n
			},
		})
	}

	if err := r.expandBFS(ctx, s, frontier); err != nil {
		return nil, err
	}

	flat := make([]ResolvedArtifact, 0, len(s.flat))
	for _, a := range s.flat {
		flat = append(flat, a)
	}
	SortArtifacts(flat)
	sort.Slice(s.conflicts, func(i, j int) bool { return s.conflicts[i].String() < s.conflicts[j].String() })

	out := make([]*DependencyTree, len(trees))
	for i, root := range trees {
		out[i] = &DependencyTree{
			Root:           root,
			FlatList:       flat,
			Conflicts:      s.conflicts,
			FailedPackages: s.failed,
		}
	}
	return out, nil
}

func (r *Resolver) selectRoot(ctx context.Context, req PackageRequest) (ResolvedArtifact, error) {
	a, ok := r.adapters[req.Ecosystem]
	if !ok {
		return ResolvedArtifact{}, fmt.Errorf("%w: no adapter registered for %s", ErrRequestInvalid, req.Ecosystem)
	}
	version, err := r.resolveRequestedVersion(ctx, a, req)
	if err != nil {
		return ResolvedArtifact{}, err
	}
	if err := r.sem[req.Ecosystem].Acquire(ctx, 1); err != nil {
		return ResolvedArtifact{}, classifyErr(err)
	}
	artifact, err := a.SelectArtifact(ctx, req.Name, version, r.profileFor(req))
	r.sem[req.Ecosystem].Release(1)
	if err != nil {
		return ResolvedArtifact{}, fmt.Errorf("select %s %s@%s: %w", req.Ecosystem, req.Name, version, classifyErr(err))
	}
	artifact.IsRoot = true
	return artifact, nil
}

// resolveRequestedVersion turns a request's Version (exact, range, or
// "latest") into a concrete version string.
func (r *Resolver) resolveRequestedVersion(ctx context.Context, a Adapter, req PackageRequest) (string, error) {
	if req.Version != "" && req.Version != "latest" && req.Version != "*" {
		return req.Version, nil
	}
	if err := r.sem[req.Ecosystem].Acquire(ctx, 1); err != nil {
		return "", classifyErr(err)
	}
	versions, err := a.ListVersions(ctx, req.Name)
	r.sem[req.Ecosystem].Release(1)
	if err != nil {
		return "", fmt.Errorf("list versions of %s: %w", req.Name, classifyErr(err))
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("%s %s: %w", req.Ecosystem, req.Name, ErrNoCompatibleArtifact)
	}
	return versions[0].Version, nil
}

func (r *Resolver) profileFor(req PackageRequest) platform.Profile {
	p := r.profile
	if req.Architecture != "" {
		if arch, ok := parseArchOverride(req.Architecture); ok {
			p.Arch = arch
		}
	}
	if req.RuntimeVersion != "" {
		p.PythonVersion = req.RuntimeVersion
	}
	return p
}

func parseArchOverride(s string) (platform.Arch, bool) {
	a := platform.Arch(s).Normalize()
	return a, a != platform.AnyArch
}

// ancestorSet is an immutable singly-linked path of PackageKeys currently
// being expanded on one DFS branch, used for cycle detection.
type ancestorSet struct {
	pk     PackageKey
	parent *ancestorSet
}

func newAncestorSet() *ancestorSet { return nil }

func (a *ancestorSet) push(pk PackageKey) *ancestorSet {
	return &ancestorSet{pk: pk, parent: a}
}

func (a *ancestorSet) contains(pk PackageKey) bool {
	for n := a; n != nil; n = n.parent {
		if n.pk == pk {
			return true
		}
	}
	return false
}

// expandBFS walks the dependency graph level by level. Looking up a level's
// dependency lists runs concurrently (independent network calls per
// artifact), but the pin decisions the level's edges trigger are made in a
// single sequential sweep, in the order the edges were declared (a parent's
// dependencies sorted by PackageKey, parents visited in frontier order) --
// never in whatever order goroutines happen to finish. That is what makes
// "first-seen wins" pinning (spec.md §9(a), SPEC_FULL §7(a)) reproducible
// across runs against the same live registry, instead of
// scheduler-dependent.
func (r *Resolver) expandBFS(ctx context.Context, s *session, frontier []frontierEdge) error {
	for len(frontier) > 0 {
		pending := make([]int, 0, len(frontier))
		for i, edge := range frontier {
			key := edge.artifact.VersionKey
			s.mu.Lock()
			if n, ok := s.nodes[key]; ok {
				s.mu.Unlock()
				edge.attach(n, nil)
				continue
			}
			if ferr, ok := s.nodeErrs[key]; ok {
				s.mu.Unlock()
				edge.attach(nil, ferr)
				continue
			}
			s.flat[key] = edge.artifact
			s.mu.Unlock()
			pending = append(pending, i)
		}

		deps := make([][]RequirementVersion, len(frontier))
		depErrs := make([]error, len(frontier))

		g, gctx := errgroup.WithContext(ctx)
		for _, i := range pending {
			i := i
			edge := frontier[i]
			a := r.adapters[edge.artifact.System]
			g.Go(func() error {
				if err := r.sem[edge.artifact.System].Acquire(gctx, 1); err != nil {
					depErrs[i] = classifyErr(err)
					return nil
				}
				d, err := a.Dependencies(gctx, edge.artifact)
				r.sem[edge.artifact.System].Release(1)
				deps[i] = d
				depErrs[i] = classifyErr(err)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		var next []frontierEdge
		for _, i := range pending {
			edge := frontier[i]
			key := edge.artifact.VersionKey

			if depErrs[i] != nil {
				err := fmt.Errorf("dependencies of %s: %w", key, depErrs[i])
				s.mu.Lock()
				s.nodeErrs[key] = err
				s.mu.Unlock()
				edge.attach(nil, err)
				continue
			}

			node := &DependencyNode{Artifact: edge.artifact}
			childAncestors := edge.ancestors.push(edge.artifact.PackageKey)
			withinDepth := s.opts.MaxDepth <= 0 || ancestorDepth(childAncestors) <= s.opts.MaxDepth

			reqDeps := deps[i]
			sort.Slice(reqDeps, func(a, b int) bool { return reqDeps[a].PackageKey.Compare(reqDeps[b].PackageKey) < 0 })

			if withinDepth {
				for _, reqDep := range reqDeps {
					if !r.includeEdge(reqDep.Type, s.opts) {
						continue
					}
					if edge.ancestors.contains(reqDep.PackageKey) {
						s.mu.Lock()
						s.conflicts = append(s.conflicts, Conflict{
							Kind:      Circular,
							Package:   reqDep.PackageKey,
							CycleEdge: fmt.Sprintf("%s -> %s", key, reqDep.PackageKey),
						})
						s.mu.Unlock()
						continue
					}

					childArtifact, err := r.pinAndSelect(ctx, s, reqDep)
					if err != nil {
						s.mu.Lock()
						s.failed = append(s.failed, FailedPackage{
							Request: reqDep.PackageKey,
							Version: reqDep.Constraint,
							Reason:  err.Error(),
						})
						s.mu.Unlock()
						continue
					}
					childArtifact.Parent = key

					shell := &DependencyNode{}
					node.Children = append(node.Children, shell)
					optional := reqDep.Type.HasAttr(dep.Opt)
					next = append(next, frontierEdge{
						artifact:  childArtifact,
						ancestors: childAncestors,
						attach: func(n *DependencyNode, failErr error) {
							if failErr != nil || n == nil {
								return
							}
							if optional {
								clone := *n
								clone.Optional = true
								n = &clone
							}
							*shell = *n
						},
					})
				}
			}

			s.mu.Lock()
			s.nodes[key] = node
			s.mu.Unlock()
			edge.attach(node, nil)
		}

		frontier = next
	}
	return nil
}

// pinAndSelect resolves reqDep's PackageKey to a concrete version, reusing
// the session's existing pin if one was already recorded, then selects its
// artifact. Called only from expandBFS's single-threaded sweep over a
// level's edges, so the pin map never races: whichever edge calls this first
// for a given PackageKey is, by construction, the first-seen one.
func (r *Resolver) pinAndSelect(ctx context.Context, s *session, reqDep RequirementVersion) (ResolvedArtifact, error) {
	a, ok := r.adapters[reqDep.System]
	if !ok {
		return ResolvedArtifact{}, fmt.Errorf("%w: no adapter registered for %s", ErrRequestInvalid, reqDep.System)
	}

	s.mu.Lock()
	v, pinned := s.pins[reqDep.PackageKey]
	s.mu.Unlock()

	if pinned {
		if !Satisfies(reqDep.System, v, reqDep.Constraint) {
			log.Warnf("%s: keeping first-seen %s, discarding %s", reqDep.PackageKey, v, reqDep.Constraint)
			s.mu.Lock()
			s.conflicts = append(s.conflicts, Conflict{
				Kind:      VersionMismatch,
				Package:   reqDep.PackageKey,
				Winner:    v,
				Discarded: reqDep.Constraint,
			})
			s.mu.Unlock()
		}
	} else {
		if err := r.sem[reqDep.System].Acquire(ctx, 1); err != nil {
			return ResolvedArtifact{}, classifyErr(err)
		}
		versions, err := a.ListVersions(ctx, reqDep.Name)
		r.sem[reqDep.System].Release(1)
		if err != nil {
			return ResolvedArtifact{}, fmt.Errorf("list versions of %s: %w", reqDep.Name, classifyErr(err))
		}
		for _, cand := range versions {
			if Satisfies(reqDep.System, cand.Version, reqDep.Constraint) {
				v = cand.Version
				break
			}
		}
		if v == "" {
			return ResolvedArtifact{}, fmt.Errorf("%s %s: no version satisfies %q: %w", reqDep.System, reqDep.Name, reqDep.Constraint, ErrNoCompatibleArtifact)
		}
		s.mu.Lock()
		s.pins[reqDep.PackageKey] = v
		s.mu.Unlock()
	}

	if err := r.sem[reqDep.System].Acquire(ctx, 1); err != nil {
		return ResolvedArtifact{}, classifyErr(err)
	}
	artifact, err := a.SelectArtifact(ctx, reqDep.Name, v, r.profile)
	r.sem[reqDep.System].Release(1)
	if err != nil {
		return ResolvedArtifact{}, fmt.Errorf("select %s %s@%s: %w", reqDep.System, reqDep.Name, v, classifyErr(err))
	}
	return artifact, nil
}

// includeEdge applies ResolveOptions' filters to a dependency edge.
func (r *Resolver) includeEdge(t dep.Type, opts ResolveOptions) bool {
	if t.HasAttr(dep.Dev) && !opts.IncludeDev {
		return false
	}
	if t.HasAttr(dep.Test) && !opts.IncludeTest {
		return false
	}
	if t.HasAttr(dep.Opt) {
		if scope, ok := t.GetAttr(dep.Scope); ok && scope == "recommends" {
			return opts.IncludeRecommends
		}
		return opts.IncludeOptional
	}
	return true
}

func ancestorDepth(a *ancestorSet) int {
	n := 0
	for cur := a; cur != nil; cur = cur.parent {
		n++
	}
	return n
}
