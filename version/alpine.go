package version

import (
	apkversion "github.com/knqyf263/go-apk-version"
)

// Alpine orders apk package versions, used as grounded in quay-claircore's
// alpine matcher.
var Alpine Comparator = alpineComparator{}

type alpineComparator struct{}

func (alpineComparator) Compare(a, b string) int {
	va, aErr := apkversion.NewVersion(a)
	vb, bErr := apkversion.NewVersion(b)
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

// Satisfies supports apk's "pkg>=1.2-r3" style operators once the caller has
// stripped the package name, leaving "op version".
func (c alpineComparator) Satisfies(v, constraint string) bool {
	return satisfyWithOperator(c, v, constraint)
}
