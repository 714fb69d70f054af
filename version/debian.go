package version

import (
	debversion "github.com/knqyf263/go-deb-version"
)

// Debian orders apt/dpkg package versions (epoch:upstream-debian), used as
// grounded in quay-claircore's debian matcher.
var Debian Comparator = debianComparator{}

type debianComparator struct{}

func (debianComparator) Compare(a, b string) int {
	va, aErr := debversion.NewVersion(a)
	vb, bErr := debversion.NewVersion(b)
	if order, done := unparsiableOrdering(a, b, aErr == nil, bErr == nil); done {
		return order
	}
	switch {
	case va.LessThan(vb):
		return -1
	case vb.LessThan(va):
		return 1
	default:
		return 0
	}
}

// Satisfies supports apt's "pkg (>= 1.2-3)" style operators once the caller
// has stripped the package name and parens, leaving "op version".
func (c debianComparator) Satisfies(v, constraint string) bool {
	return satisfyWithOperator(c, v, constraint)
}
