package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PEP440 compares Python package versions per PEP 440
// (https://peps.python.org/pep-0440/). Conda build strings follow the same
// shape for the version component (the build number/string is compared
// separately by the conda adapter), so conda reuses this comparator too.
var PEP440 Comparator = pep440Comparator{}

type pep440Comparator struct{}

// pep440Version is a parsed PEP 440 version:
// [epoch!]release[{a|b|rc}N][.postN][.devN][+local]
type pep440Version struct {
	raw     string
	epoch   int
	release []int
	pre     string // "a", "b", "rc", or ""
	preNum  int
	post    int
	hasPost bool
	dev     int
	hasDev  bool
	local   string
}

var pep440Re = regexp.MustCompile(`(?i)^\s*v?` +
	`(?:(\d+)!)?` + // epoch
	`(\d+(?:\.\d+)*)` + // release segments
	`((?:a|b|c|rc|alpha|beta|pre|preview)\d*)?` + // pre-release
	`(?:[-._]?(post|rev|r)(\d*))?` + // post-release
	`(?:[-._]?(dev)(\d*))?` + // dev-release
	`(?:\+([a-z0-9]+(?:[-._][a-z0-9]+)*))?` + // local version
	`\s*$`)

func parsePEP440(s string) (pep440Version, bool) {
	m := pep440Re.FindStringSubmatch(s)
	if m == nil {
		return pep440Version{}, false
	}
	v := pep440Version{raw: s}
	if m[1] != "" {
		v.epoch, _ = strconv.Atoi(m[1])
	}
	for _, seg := range strings.Split(m[2], ".") {
		n, _ := strconv.Atoi(seg)
		v.release = append(v.release, n)
	}
	if m[3] != "" {
		pre := strings.ToLower(m[3])
		var numStart int
		for numStart = 0; numStart < len(pre); numStart++ {
			if pre[numStart] >= '0' && pre[numStart] <= '9' {
				break
			}
		}
		letters, digits := pre[:numStart], pre[numStart:]
		switch letters {
		case "alpha":
			letters = "a"
		case "beta":
			letters = "b"
		case "c", "pre", "preview":
			letters = "rc"
		}
		v.pre = letters
		if digits != "" {
			v.preNum, _ = strconv.Atoi(digits)
		}
	}
	if m[4] != "" {
		v.hasPost = true
		if m[5] != "" {
			v.post, _ = strconv.Atoi(m[5])
		}
	}
	if m[6] != "" {
		v.hasDev = true
		if m[7] != "" {
			v.dev, _ = strconv.Atoi(m[7])
		}
	}
	v.local = strings.ToLower(m[8])
	return v, true
}

// Compare implements Comparator.
func (pep440Comparator) Compare(a, b string) int {
	va, aOK := parsePEP440(a)
	vb, bOK := parsePEP440(b)
	if order, done := unparsiableOrdering(a, b, aOK, bOK); done {
		return order
	}
	return va.compare(vb)
}

func (v pep440Version) compare(o pep440Version) int {
	if v.epoch != o.epoch {
		return cmpInt(v.epoch, o.epoch)
	}
	if c := cmpIntSlices(v.release, o.release); c != 0 {
		return c
	}
	// A version with no pre-release segment sorts after one with any
	// pre-release (1.0 > 1.0rc1), but before a .post (1.0 < 1.0.post1 in
	// terms of "being final"), and after .dev-only.
	if c := comparePre(v, o); c != 0 {
		return c
	}
	if v.hasPost != o.hasPost {
		if v.hasPost {
			return 1
		}
		return -1
	}
	if v.hasPost && v.post != o.post {
		return cmpInt(v.post, o.post)
	}
	if v.hasDev != o.hasDev {
		if v.hasDev {
			return -1 // dev releases sort before the release they precede
		}
		return 1
	}
	if v.hasDev && v.dev != o.dev {
		return cmpInt(v.dev, o.dev)
	}
	return strings.Compare(v.local, o.local)
}

// preRank orders pre-release letters: a < b < rc < (final).
func preRank(p string) int {
	switch p {
	case "a":
		return 0
	case "b":
		return 1
	case "rc":
		return 2
	default:
		return 3 // no pre-release: final
	}
}

func comparePre(v, o pep440Version) int {
	rv, ro := preRank(v.pre), preRank(o.pre)
	// A dev release of a final version (1.0.dev1) sorts before every
	// pre-release of that version.
	if v.pre == "" && !v.hasPost && v.hasDev {
		rv = -1
	}
	if o.pre == "" && !o.hasPost && o.hasDev {
		ro = -1
	}
	if rv != ro {
		return cmpInt(rv, ro)
	}
	if rv == 3 {
		return 0 // both final
	}
	return cmpInt(v.preNum, o.preNum)
}

// Satisfies implements Comparator, supporting PEP 440 specifiers joined by
// commas: "==", "!=", "<=", ">=", "<", ">", "~=", "===", and wildcard
// releases like "==1.2.*".
func (c pep440Comparator) Satisfies(version, constraint string) bool {
	for _, clause := range strings.Split(constraint, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		if !c.satisfiesOne(version, clause) {
			return false
		}
	}
	return true
}

var pep440ClauseRe = regexp.MustCompile(`^(==|!=|<=|>=|<|>|~=|===)\s*(.+)$`)

func (c pep440Comparator) satisfiesOne(version, clause string) bool {
	m := pep440ClauseRe.FindStringSubmatch(clause)
	if m == nil {
		// Bare version, treat as exact match.
		return version == clause
	}
	op, rhs := m[1], strings.TrimSpace(m[2])
	if op == "===" {
		return version == rhs
	}
	if strings.HasSuffix(rhs, ".*") && (op == "==" || op == "!=") {
		prefix := strings.TrimSuffix(rhs, ".*")
		matches := strings.HasPrefix(version, prefix)
		if op == "==" {
			return matches
		}
		return !matches
	}
	cmp := c.Compare(version, rhs)
	switch op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case "<=":
		return cmp <= 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case ">":
		return cmp > 0
	case "~=":
		// Compatible release: ~=2.2 means >=2.2,==2.*;
		// ~=2.2.post3 means >=2.2.post3,==2.*
		vv, ok := parsePEP440(rhs)
		if !ok || len(vv.release) < 2 {
			return false
		}
		prefixLen := len(vv.release) - 1
		prefix := make([]int, prefixLen)
		copy(prefix, vv.release[:prefixLen])
		va, ok := parsePEP440(version)
		if !ok {
			return false
		}
		if cmpInt(va.epoch, vv.epoch) != 0 {
			return false
		}
		if len(va.release) < prefixLen || cmpIntSlices(va.release[:prefixLen], prefix) != 0 {
			return false
		}
		return c.Compare(version, rhs) >= 0
	default:
		return false
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpIntSlices(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av != bv {
			return cmpInt(av, bv)
		}
	}
	return 0
}

// Canon returns the normalized canonical string form of a PEP 440 version,
// or s unchanged if it doesn't parse.
func Canon(s string) string {
	v, ok := parsePEP440(s)
	if !ok {
		return s
	}
	var b strings.Builder
	if v.epoch != 0 {
		fmt.Fprintf(&b, "%d!", v.epoch)
	}
	for i, seg := range v.release {
		if i > 0 {
			b.WriteByte('.')
		}
		fmt.Fprintf(&b, "%d", seg)
	}
	if v.pre != "" {
		fmt.Fprintf(&b, "%s%d", v.pre, v.preNum)
	}
	if v.hasPost {
		fmt.Fprintf(&b, ".post%d", v.post)
	}
	if v.hasDev {
		fmt.Fprintf(&b, ".dev%d", v.dev)
	}
	if v.local != "" {
		fmt.Fprintf(&b, "+%s", v.local)
	}
	return b.String()
}
