package resolve

import "bundle.dev/core/version"

// ComparatorFor returns the native version.Comparator for an ecosystem.
func ComparatorFor(sys System) version.Comparator {
	switch sys {
	case Pip, Conda:
		return version.PEP440
	case Maven:
		return version.Maven
	case NPM:
		return version.NPM
	case Yum:
		return version.RPM
	case Apt:
		return version.Debian
	case Apk:
		return version.Alpine
	case Docker:
		return version.DockerTag
	default:
		return version.PEP440
	}
}

// Satisfies reports whether candidate satisfies constraint under sys's
// native ordering, per version.Match's "always true for empty/latest" rule.
func Satisfies(sys System, candidate, constraint string) bool {
	return version.Match(ComparatorFor(sys), candidate, constraint)
}

// Newest returns the index of the greatest version in versions under sys's
// native ordering, or -1 if versions is empty.
func Newest(sys System, versions []string) int {
	if len(versions) == 0 {
		return -1
	}
	cmp := ComparatorFor(sys)
	best := 0
	for i := 1; i < len(versions); i++ {
		if cmp.Compare(versions[i], versions[best]) > 0 {
			best = i
		}
	}
	return best
}
