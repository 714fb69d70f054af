/*
Package version provides ecosystem-native version ordering and constraint
matching, dispatched by resolve.System.

deps.dev/util/semver implements this for npm/Maven/PyPI (and Cargo/Composer/
NuGet/RubyGems, which this project has no use for) as one large shared
engine built around a common token/interval/set model. This package instead
gives each of the eight ecosystems the library already built for exactly
that ecosystem's version scheme where one exists in the example corpus
(quay-claircore's go-rpm-version/go-deb-version/go-apk-version,
Masterminds/semver for npm-shaped versions), and a small bespoke comparator
only for pip/conda's PEP 440 and Maven's comparator, which nothing in the
corpus already implements standalone.
*/
package version

import (
	"fmt"
	"strings"
)

// Comparator orders version strings natively for one ecosystem and matches
// them against that ecosystem's constraint syntax.
type Comparator interface {
	// Compare returns -1, 0 or 1 as a is less than, equal to, or greater
	// than b. Unparsiable versions fall back to lexicographic ordering.
	Compare(a, b string) int
	// Satisfies reports whether version satisfies constraint. A constraint
	// with no recognized operator or range syntax is matched as an exact
	// version.
	Satisfies(version, constraint string) bool
}

// Match reports whether version satisfies constraint using cmp. An empty
// constraint, "*" and "latest" match every version; any other constraint is
// passed to cmp.Satisfies.
func Match(cmp Comparator, version, constraint string) bool {
	if constraint == "" || constraint == "*" || constraint == "latest" {
		return true
	}
	return cmp.Satisfies(version, constraint)
}

// unparsiableOrdering is a deterministic fallback so Compare never panics on
// malformed input: valid-looking versions win over garbage, then
// lexicographic.
func unparsiableOrdering(a, b string, aOK, bOK bool) (int, bool) {
	if aOK != bOK {
		if aOK {
			return 1, true
		}
		return -1, true
	}
	if !aOK && !bOK {
		if a == b {
			return 0, true
		}
		if a < b {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// errParse is a light wrapper so comparator implementations can produce
// consistent "couldn't parse %q as a %s version" messages.
func errParse(system, s string) error {
	return fmt.Errorf("%s: could not parse version %q", system, s)
}

// satisfyWithOperator parses constraints of the shape "<op><version>" (e.g.
// ">=1.2-3", "<=2.0") shared by the RPM/Debian/Alpine OS ecosystems' Requires
// lines, falling back to an exact match when there's no recognized operator.
func satisfyWithOperator(cmp Comparator, v, constraint string) bool {
	constraint = strings.TrimSpace(constraint)
	for _, op := range []string{"<=", ">=", "==", "!=", "<", ">", "="} {
		if rest, ok := strings.CutPrefix(constraint, op); ok {
			rhs := strings.TrimSpace(rest)
			c := cmp.Compare(v, rhs)
			switch op {
			case "<=":
				return c <= 0
			case ">=":
				return c >= 0
			case "==", "=":
				return c == 0
			case "!=":
				return c != 0
			case "<":
				return c < 0
			case ">":
				return c > 0
			}
		}
	}
	return cmp.Compare(v, constraint) == 0
}
