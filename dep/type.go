// Package dep describes the attributes a dependency edge can carry, such as
// whether it is optional, a development/test-only requirement, or scoped to
// a particular ecosystem concept (Maven's provided/runtime, npm's peer).
//
// The type here is deliberately a small value type rather than the teacher's
// bit-packed attr.Set: this engine's graphs top out at a few
// thousand nodes per session, not the scale deps.dev operates at, so a plain
// map buys clarity without a measurable cost.
package dep

import (
	"fmt"
	"sort"
	"strings"
)

// AttrKey names an attribute that can be attached to a Type.
type AttrKey string

const (
	// Dev marks a dependency only required to develop a package (npm
	// devDependencies, conda's build/host sections used at dev time).
	Dev AttrKey = "dev"
	// Opt marks a dependency as optional/recommended; the resolver may
	// suppress it depending on ResolveOptions.
	Opt AttrKey = "opt"
	// Test marks a dependency required only to run a package's test suite.
	Test AttrKey = "test"
	// Scope carries an ecosystem-specific scope string, e.g. Maven's
	// provided/runtime/system/import, or npm's peer/bundle.
	Scope AttrKey = "scope"
	// KnownAs carries the name under which a dependency is referenced by
	// its declaring package, when that differs from the resolved package
	// name (npm aliases: "foo": "npm:bar@1.0.0").
	KnownAs AttrKey = "knownAs"
	// Environment carries a raw environment marker/condition string used to
	// filter the dependency against a PlatformProfile (PEP 508 for pip).
	Environment AttrKey = "environment"
	// MavenClassifier and MavenArtifactType are part of a Maven dependency's
	// identity and are free text set by package maintainers.
	MavenClassifier   AttrKey = "mavenClassifier"
	MavenArtifactType AttrKey = "mavenArtifactType"
	// Selector flags that this edge is the one that pinned the version in
	// a resolved DependencyTree, as opposed to a deduplicated edge pointing
	// at a version selected elsewhere.
	Selector AttrKey = "selector"
)

// Type is a small, ordered set of attributes on a dependency edge.
type Type struct {
	attrs map[AttrKey]string
}

// NewType creates a Type with the given flag attributes set (value "").
func NewType(flags ...AttrKey) Type {
	var t Type
	for _, f := range flags {
		t.SetAttr(f, "")
	}
	return t
}

// SetAttr sets an attribute, replacing any previous value.
func (t *Type) SetAttr(key AttrKey, value string) {
	if t.attrs == nil {
		t.attrs = make(map[AttrKey]string, 2)
	}
	t.attrs[key] = value
}

// GetAttr returns an attribute's value and whether it was set.
func (t Type) GetAttr(key AttrKey) (string, bool) {
	v, ok := t.attrs[key]
	return v, ok
}

// HasAttr is a convenience for flag-style attributes.
func (t Type) HasAttr(key AttrKey) bool {
	_, ok := t.attrs[key]
	return ok
}

// IsRegular reports whether the type carries no attributes at all, i.e. it
// is a plain mandatory runtime dependency.
func (t Type) IsRegular() bool { return len(t.attrs) == 0 }

// Clone returns an independent copy of t.
func (t Type) Clone() Type {
	if len(t.attrs) == 0 {
		return Type{}
	}
	n := make(map[AttrKey]string, len(t.attrs))
	for k, v := range t.attrs {
		n[k] = v
	}
	return Type{attrs: n}
}

// Equal reports whether t and o carry the same attributes.
func (t Type) Equal(o Type) bool {
	if len(t.attrs) != len(o.attrs) {
		return false
	}
	for k, v := range t.attrs {
		if ov, ok := o.attrs[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Compare orders two Types deterministically, for use in sorting edges.
func (t Type) Compare(o Type) int {
	ks := t.sortedKeys()
	ko := o.sortedKeys()
	for i := 0; i < len(ks) && i < len(ko); i++ {
		if ks[i] != ko[i] {
			if ks[i] < ko[i] {
				return -1
			}
			return 1
		}
		if c := strings.Compare(t.attrs[ks[i]], o.attrs[ko[i]]); c != 0 {
			return c
		}
	}
	if len(ks) != len(ko) {
		if len(ks) < len(ko) {
			return -1
		}
		return 1
	}
	return 0
}

func (t Type) sortedKeys() []AttrKey {
	ks := make([]AttrKey, 0, len(t.attrs))
	for k := range t.attrs {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
	return ks
}

func (t Type) String() string {
	if t.IsRegular() {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range t.sortedKeys() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(k))
		if v := t.attrs[k]; v != "" {
			fmt.Fprintf(&b, "=%q", v)
		}
	}
	b.WriteByte('}')
	return b.String()
}
