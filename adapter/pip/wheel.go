package pip

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// wheelInfo holds the components encoded in a wheel filename, per PEP 427:
// {name}-{version}(-{build})?-{python}-{abi}-{platform}.whl. Adapted from
// google-deps.dev/util/pypi's ParseWheelName for this engine's narrower need
// (compatibility-tag matching, not full wheel metadata extraction).
type wheelInfo struct {
	Name     string
	Version  string
	BuildNum int
	Tags     []pep425Tag
}

// pep425Tag is one (python, abi, platform) compatibility tag, per PEP 425.
type pep425Tag struct {
	Python   string
	ABI      string
	Platform string
}

func parseWheelName(filename string) (*wheelInfo, error) {
	if !strings.HasSuffix(filename, ".whl") {
		return nil, fmt.Errorf("pip: %q is not a wheel filename", filename)
	}
	name := filename[:len(filename)-len(".whl")]
	parts := strings.Split(name, "-")
	if len(parts) != 5 && len(parts) != 6 {
		return nil, fmt.Errorf("pip: wheel filename %q has %d dash-separated parts, want 5 or 6", filename, len(parts))
	}
	wi := &wheelInfo{Name: parts[0], Version: parts[1]}
	if len(parts) == 6 {
		build := parts[2]
		split := strings.IndexFunc(build, func(r rune) bool { return !unicode.IsDigit(r) })
		if split == 0 {
			return nil, fmt.Errorf("pip: build tag %q must start with a digit", build)
		}
		if split == -1 {
			split = len(build)
		}
		n, err := strconv.Atoi(build[:split])
		if err != nil {
			return nil, fmt.Errorf("pip: build tag %q: %w", build, err)
		}
		wi.BuildNum = n
	}
	raw := pep425Tag{Python: parts[len(parts)-3], ABI: parts[len(parts)-2], Platform: parts[len(parts)-1]}
	wi.Tags = expandCompressedTag(raw)
	return wi, nil
}

// expandCompressedTag expands PEP 425's dotted compressed tag sets
// ("py2.py3-none-any") into every individual (python, abi, platform) triple.
func expandCompressedTag(t pep425Tag) []pep425Tag {
	var out []pep425Tag
	for _, py := range strings.Split(t.Python, ".") {
		for _, abi := range strings.Split(t.ABI, ".") {
			for _, plat := range strings.Split(t.Platform, ".") {
				out = append(out, pep425Tag{Python: py, ABI: abi, Platform: plat})
			}
		}
	}
	return out
}

// matchesAny reports whether wi has a tag compatible with the given
// acceptable platform tags (from platform.Profile.LinuxPlatformTags, or
// "any"/"none" for pure-Python/universal wheels) and python tag.
func (wi *wheelInfo) matchesAny(pythonTag string, platformTags []string) bool {
	accept := map[string]bool{"any": true}
	for _, t := range platformTags {
		accept[normalizePlatformTag(t)] = true
	}
	for _, tag := range wi.Tags {
		if tag.Python != "py2" && tag.Python != "py3" && tag.Python != pythonTag && !strings.HasPrefix(tag.Python, "py3") {
			continue
		}
		if accept[normalizePlatformTag(tag.Platform)] {
			return true
		}
	}
	return false
}

func normalizePlatformTag(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "-", "_"))
}

// rank scores a wheel's specificity so the most specific compatible wheel
// (e.g. a manylinux2014 build over a plain "any" sdist-equivalent wheel)
// wins, matching pip's own preference order (most specific platform tag
// first, per platform.Profile.LinuxPlatformTags' ordering).
func (wi *wheelInfo) rank(platformTags []string) int {
	best := len(platformTags) + 1
	for i, pt := range platformTags {
		pt = normalizePlatformTag(pt)
		for _, tag := range wi.Tags {
			if normalizePlatformTag(tag.Platform) == pt && i < best {
				best = i
			}
		}
	}
	return best
}
