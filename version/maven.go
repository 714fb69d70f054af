package version

import (
	"strconv"
	"strings"
)

// Maven compares Maven artifact versions per Maven's ComparableVersion
// ordering (https://maven.apache.org/pom.html#Version_Order_Specification):
// dot/dash/underscore-separated tokens, numeric tokens compared as
// integers, string tokens ranked by a well-known qualifier table with
// everything else falling back to lexicographic order, and "" (the implicit
// qualifier of a release) sorting between "rc" and "sp".
//
// Grounded on deps.dev/util/semver's maven.go, which implements the same
// ordering with a more elaborate token/extension framework geared for
// sharing code with NuGet/RubyGems; this is a direct, single-purpose
// reimplementation since this project has no other ecosystem that needs
// that shared machinery (see DESIGN.md).
var Maven Comparator = mavenComparator{}

type mavenComparator struct{}

var mavenQualifierRank = map[string]int{
	"alpha":  0,
	"beta":   1,
	"milestone": 2,
	"m":      2,
	"rc":     3,
	"cr":     3,
	"":       4,
	"snapshot": -1,
	"ga":     4,
	"final":  4,
	"release": 4,
	"sp":     5,
}

type mavenToken struct {
	sep      byte // separator preceding this token: '.', '-', '_', or 0
	isNum    bool
	num      int64
	qualifier string
}

func tokenizeMaven(s string) []mavenToken {
	var toks []mavenToken
	var sep byte
	start := 0
	flushKind := func(end int) {
		if start == end {
			return
		}
		tok := s[start:end]
		if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
			toks = append(toks, mavenToken{sep: sep, isNum: true, num: n})
		} else {
			toks = append(toks, mavenToken{sep: sep, qualifier: strings.ToLower(tok)})
		}
	}
	isDigit := func(b byte) bool { return b >= '0' && b <= '9' }
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '.', '-', '_':
			flushKind(i)
			sep = c
			start = i + 1
			continue
		}
		// Transition between digit and non-digit runs acts as an implicit
		// separator, matching Maven's tokenizer.
		if i > start && isDigit(c) != isDigit(s[i-1]) {
			flushKind(i)
			sep = '.'
			start = i
		}
	}
	flushKind(len(s))
	return toks
}

func (mavenToken) rank(q string) int {
	if r, ok := mavenQualifierRank[q]; ok {
		return r
	}
	return 6 // unknown qualifiers sort after all known ones, before nothing
}

// compareMavenTokens compares two tokens of possibly-differing kinds, following
// Maven's rule that a numeric token is always greater than a qualifier
// token, except the implicit "" qualifier (release) which equals 0 numerically.
func compareMavenTokens(a, b mavenToken) int {
	if a.isNum && b.isNum {
		return cmpInt64(a.num, b.num)
	}
	if a.isNum != b.isNum {
		// A numeric token beats any qualifier except the "" padding that
		// Compare adds to the shorter version, which counts as 0.
		if a.isNum {
			if b.qualifier == "" {
				return cmpInt64(a.num, 0)
			}
			return 1
		}
		if a.qualifier == "" {
			return cmpInt64(0, b.num)
		}
		return -1
	}
	ra, rb := a.rank(a.qualifier), b.rank(b.qualifier)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	if ra == 6 {
		return strings.Compare(a.qualifier, b.qualifier)
	}
	return 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Compare implements Comparator.
func (mavenComparator) Compare(a, b string) int {
	ta, tb := tokenizeMaven(a), tokenizeMaven(b)
	n := len(ta)
	if len(tb) > n {
		n = len(tb)
	}
	for i := 0; i < n; i++ {
		var x, y mavenToken
		x = mavenToken{qualifier: ""}
		y = mavenToken{qualifier: ""}
		if i < len(ta) {
			x = ta[i]
		}
		if i < len(tb) {
			y = tb[i]
		}
		if c := compareMavenTokens(x, y); c != 0 {
			return c
		}
	}
	return 0
}

// Satisfies implements Comparator for Maven version ranges:
// "1.0", "[1.0,2.0)", "[1.0,)", "(,1.0]", "[1.0,1.5],[2.0,)".
func (c mavenComparator) Satisfies(v, constraint string) bool {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return true
	}
	if constraint[0] != '[' && constraint[0] != '(' {
		// A bare version in a Maven dependency is a recommendation, not a
		// hard constraint; for resolution purposes treat it as "this
		// version or compatible", which in practice means exact-match
		// unless it's a range.
		return c.Compare(v, constraint) == 0
	}
	for _, clause := range splitMavenRanges(constraint) {
		if mavenRangeMatch(c, v, clause) {
			return true
		}
	}
	return false
}

// splitMavenRanges splits a union of Maven ranges on the top-level commas
// that separate bracketed groups, e.g. "[1.0,1.5],[2.0,)".
func splitMavenRanges(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, c := range s {
		switch c {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
			if depth == 0 {
				out = append(out, s[start:i+1])
				start = i + 1
				if start < len(s) && s[start] == ',' {
					start++
				}
			}
		}
	}
	return out
}

func mavenRangeMatch(c mavenComparator, v, rng string) bool {
	if len(rng) < 2 {
		return false
	}
	lowInclusive := rng[0] == '['
	highInclusive := rng[len(rng)-1] == ']'
	inner := rng[1 : len(rng)-1]
	lo, hi, ok := strings.Cut(inner, ",")
	if !ok {
		return c.Compare(v, inner) == 0
	}
	lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
	if lo != "" {
		cmp := c.Compare(v, lo)
		if cmp < 0 || (cmp == 0 && !lowInclusive) {
			return false
		}
	}
	if hi != "" {
		cmp := c.Compare(v, hi)
		if cmp > 0 || (cmp == 0 && !highInclusive) {
			return false
		}
	}
	return true
}
