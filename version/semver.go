package version

import (
	"strings"

	mmsemver "github.com/Masterminds/semver"
)

// NPM compares npm package versions, which are semver per
// https://docs.npmjs.com/cli/v6/using-npm/semver. Constraint syntax
// (caret/tilde ranges, "x" ranges, "||") is exactly what
// github.com/Masterminds/semver implements, which is why it is used here
// rather than a hand-rolled range parser.
var NPM Comparator = semverComparator{system: "npm"}

// DockerTag provides a best-effort ordering for Docker image tags. Tags are
// not required to be semver (spec.md's glossary only calls them "arbitrary
// string set for docker tags"), so this falls back to lexicographic order
// for anything that doesn't parse, which is exactly unparsiableOrdering's
// job.
var DockerTag Comparator = semverComparator{system: "docker", lenient: true}

type semverComparator struct {
	system  string
	lenient bool
}

func (c semverComparator) parse(s string) (*mmsemver.Version, bool) {
	s = strings.TrimPrefix(s, "v")
	v, err := mmsemver.NewVersion(s)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (c semverComparator) Compare(a, b string) int {
	va, aOK := c.parse(a)
	vb, bOK := c.parse(b)
	if order, done := unparsiableOrdering(a, b, aOK, bOK); done {
		return order
	}
	return va.Compare(vb)
}

func (c semverComparator) Satisfies(version, constraint string) bool {
	v, ok := c.parse(version)
	if !ok {
		return version == constraint
	}
	constr, err := mmsemver.NewConstraint(constraint)
	if err != nil {
		return version == constraint
	}
	return constr.Check(v)
}
