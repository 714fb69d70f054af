package resolve

// DependencyNode is one node in a rooted DependencyTree: a pinned artifact
// and its ordered children, per spec.md §3.
type DependencyNode struct {
	Artifact ResolvedArtifact
	Children []*DependencyNode

	// Optional is set when the edge that created this node was declared
	// optional/recommended by its parent, so the Bundle Assembler can
	// skip it per policy (spec.md §3).
	Optional bool
}

// Walk visits n and every descendant, depth first.
func (n *DependencyNode) Walk(visit func(*DependencyNode)) {
	if n == nil {
		return
	}
	visit(n)
	for _, c := range n.Children {
		c.Walk(visit)
	}
}

// DependencyTree is the resolution of one user PackageRequest: a root node,
// a deduplicated flat list of every artifact reachable from it across the
// whole session, and any conflicts recorded along the way.
type DependencyTree struct {
	Root *DependencyNode

	// FlatList is de-duplicated by (ecosystem, name, version, architecture)
	// per spec.md §3's uniqueness invariant. It is shared across every tree
	// produced in the same resolve() call, so a package pulled in by two
	// roots appears once.
	FlatList []ResolvedArtifact

	// Conflicts records every version-mismatch/circular conflict found
	// while resolving this (and sibling) trees in the same session.
	Conflicts []Conflict

	// FailedPackages records non-fatal dependency resolution failures.
	FailedPackages []FailedPackage
}

// NodeCount returns the number of nodes in the tree rooted at t.Root.
func (t *DependencyTree) NodeCount() int {
	n := 0
	t.Root.Walk(func(*DependencyNode) { n++ })
	return n
}

// String renders the tree using the creator-edge spanning-tree convention
// deps.dev/util/resolve's Graph.String uses: one line per node, indented by
// depth, with the resolved version after an '@'.
func (t *DependencyTree) String() string {
	var b []byte
	var walk func(n *DependencyNode, linePrefix, childPrefix string)
	walk = func(n *DependencyNode, linePrefix, childPrefix string) {
		if n == nil {
			return
		}
		b = append(b, linePrefix...)
		b = append(b, n.Artifact.Name...)
		b = append(b, '@')
		b = append(b, n.Artifact.Version...)
		b = append(b, '\n')
		for i, c := range n.Children {
			if i == len(n.Children)-1 {
				walk(c, childPrefix+"└── ", childPrefix+"    ")
			} else {
				walk(c, childPrefix+"├── ", childPrefix+"│   ")
			}
		}
	}
	walk(t.Root, "", "")
	return string(b)
}
