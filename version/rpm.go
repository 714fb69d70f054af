package version

import (
	rpmversion "github.com/knqyf263/go-rpm-version"
)

// RPM orders yum/RPM package versions (epoch:version-release, EVR compare),
// used as grounded in quay-claircore's rhel matcher.
var RPM Comparator = rpmComparator{}

type rpmComparator struct{}

func (rpmComparator) Compare(a, b string) int {
	va, vb := rpmversion.NewVersion(a), rpmversion.NewVersion(b)
	switch {
	case va.LessThan(vb):
		return -1
	case vb.LessThan(va):
		return 1
	default:
		return 0
	}
}

// Satisfies supports a leading comparison operator ("<=1.2-3", ">=1.0"); a
// bare version is an exact match. This mirrors the constraint shapes used in
// yum/RPM "Requires: pkg >= 1.2-3" lines.
func (c rpmComparator) Satisfies(v, constraint string) bool {
	return satisfyWithOperator(c, v, constraint)
}
