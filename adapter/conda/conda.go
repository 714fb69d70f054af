/*
Package conda implements resolve.Adapter for Conda packages, per spec.md
§4.1.2: fetch the channel/subdir's repodata.json, select the artifact
matching the profile's py{XY} build-string tag with the highest build_number
among those, and parse "depends" match-specs for dependency edges.
*/
package conda

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/package-url/packageurl-go"

	"bundle.dev/core/cache"
	"bundle.dev/core/dep"
	"bundle.dev/core/platform"
	"bundle.dev/core/resolve"
	"bundle.dev/core/transport"
	"bundle.dev/core/version"
)

const defaultHost = "https://conda.anaconda.org"

// Adapter implements resolve.Adapter for Conda.
type Adapter struct {
	t              *transport.Transport
	c              *cache.Store
	host           string
	defaultChannel string
}

// New creates a Conda Adapter. defaultChannel is used when a PackageRequest
// or Profile doesn't specify one (spec.md §6's condaChannel option).
func New(t *transport.Transport, c *cache.Store, defaultChannel string) *Adapter {
	if defaultChannel == "" {
		defaultChannel = "conda-forge"
	}
	return &Adapter{t: t, c: c, host: defaultHost, defaultChannel: defaultChannel}
}

func (a *Adapter) System() resolve.System { return resolve.Conda }

type repodata struct {
	Packages      map[string]pkgEntry `json:"packages"`
	PackagesConda map[string]pkgEntry `json:"packages.conda"`
}

type pkgEntry struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Build       string   `json:"build"`
	BuildNumber int      `json:"build_number"`
	Depends     []string `json:"depends"`
	Size        int64    `json:"size"`
	SHA256      string   `json:"sha256"`
	Subdir      string   `json:"subdir"`
}

// condaPyBuildTag matches a build string's leading Python-ABI tag, e.g. the
// "311" in "py311h64a7726_0". noarch's generic "pyhd8ed1ab_0" prefix (no
// digits right after "py") and non-Python packages (no "py" prefix at all)
// don't match, since neither pins a specific Python version.
var condaPyBuildTag = regexp.MustCompile(`^py(\d+)`)

// pythonBuildTag derives conda's "py{XY}" build-string convention from a
// PEP 440 Python version like "3.11", per spec.md §4.1.2.
func pythonBuildTag(pythonVersion string) string {
	parts := strings.SplitN(strings.TrimSpace(pythonVersion), ".", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return "py" + parts[0] + parts[1]
}

// buildMatchesPython reports whether build is usable under pyTag: an empty
// pyTag (the profile names no Python runtime) or a build string with no
// Python-version-specific tag always matches; a build pinned to a different
// Python ABI does not.
func buildMatchesPython(build, pyTag string) bool {
	if pyTag == "" {
		return true
	}
	m := condaPyBuildTag.FindStringSubmatch(build)
	if m == nil {
		return true
	}
	return "py"+m[1] == pyTag
}

func (a *Adapter) channel(profile platform.Profile) string {
	if profile.CondaChannel != "" {
		return profile.CondaChannel
	}
	return a.defaultChannel
}

func (a *Adapter) repodataURL(channel, subdir string) string {
	return fmt.Sprintf("%s/%s/%s/repodata.json", a.host, channel, subdir)
}

func (a *Adapter) fetchRepodata(ctx context.Context, channel, subdir string) (*repodata, error) {
	url := a.repodataURL(channel, subdir)
	key := cache.Key("conda", url)
	body, err := a.c.GetOrFetch(ctx, key, cache.MutableTTL, func(ctx context.Context) ([]byte, error) {
		return a.t.GetJSON(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	var rd repodata
	if err := json.Unmarshal(body, &rd); err != nil {
		return nil, fmt.Errorf("conda: decode %s: %w", url, err)
	}
	return &rd, nil
}

// allEntries merges the .tar.bz2 and .conda package maps with their
// filenames attached, since conda's repodata.json splits them by format.
func (rd *repodata) allEntries() map[string]pkgEntry {
	out := make(map[string]pkgEntry, len(rd.Packages)+len(rd.PackagesConda))
	for fn, e := range rd.Packages {
		out[fn] = e
	}
	for fn, e := range rd.PackagesConda {
		out[fn] = e
	}
	return out
}

func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]resolve.SearchResult, error) {
	rd, err := a.fetchRepodata(ctx, a.defaultChannel, "noarch")
	if err != nil {
		return nil, nil
	}
	seen := map[string]bool{}
	var out []resolve.SearchResult
	for _, e := range rd.allEntries() {
		if !strings.Contains(e.Name, query) || seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		out = append(out, resolve.SearchResult{Name: e.Name, LatestVersion: e.Version})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (a *Adapter) ListVersions(ctx context.Context, name string) ([]resolve.VersionInfo, error) {
	rd, err := a.fetchRepodata(ctx, a.defaultChannel, "linux-64")
	if err != nil {
		return nil, fmt.Errorf("conda: list versions of %s: %w", name, err)
	}
	seen := map[string]bool{}
	var out []resolve.VersionInfo
	for _, e := range rd.allEntries() {
		if e.Name != name || seen[e.Version] {
			continue
		}
		seen[e.Version] = true
		out = append(out, resolve.VersionInfo{Version: e.Version})
	}
	sort.Slice(out, func(i, j int) bool { return version.PEP440.Compare(out[i].Version, out[j].Version) > 0 })
	return out, nil
}

func (a *Adapter) SelectArtifact(ctx context.Context, name, ver string, profile platform.Profile) (resolve.ResolvedArtifact, error) {
	channel := a.channel(profile)
	subdir := profile.CondaSubdir()
	rd, err := a.fetchRepodata(ctx, channel, subdir)
	if err != nil {
		return resolve.ResolvedArtifact{}, fmt.Errorf("conda: select %s@%s: %w", name, ver, err)
	}
	pyTag := pythonBuildTag(profile.PythonVersion)

	var bestFn string
	var best pkgEntry
	found := false
	for fn, e := range rd.allEntries() {
		if e.Name != name || e.Version != ver || !buildMatchesPython(e.Build, pyTag) {
			continue
		}
		if !found || e.BuildNumber > best.BuildNumber {
			bestFn, best, found = fn, e, true
		}
	}
	if !found && subdir != "noarch" {
		// Fall back to the noarch subdir for pure-Python conda packages.
		rd, err = a.fetchRepodata(ctx, channel, "noarch")
		if err == nil {
			for fn, e := range rd.allEntries() {
				if e.Name != name || e.Version != ver || !buildMatchesPython(e.Build, pyTag) {
					continue
				}
				if !found || e.BuildNumber > best.BuildNumber {
					bestFn, best, found = fn, e, true
				}
			}
		}
	}
	if !found {
		return resolve.ResolvedArtifact{}, fmt.Errorf("conda: %s@%s: %w", name, ver, resolve.ErrNoCompatibleArtifact)
	}

	purl := packageurl.NewPackageURL("conda", "", name, ver,
		packageurl.QualifiersFromMap(map[string]string{"channel": channel, "subdir": best.Subdir, "build": best.Build}), "").ToString()

	baseSubdir := best.Subdir
	if baseSubdir == "" {
		baseSubdir = subdir
	}
	return resolve.ResolvedArtifact{
		VersionKey: resolve.VersionKey{
			PackageKey:   resolve.PackageKey{System: resolve.Conda, Name: name},
			Version:      ver,
			Architecture: baseSubdir,
		},
		FetchURL:   fmt.Sprintf("%s/%s/%s/%s", a.host, channel, baseSubdir, bestFn),
		FileName:   bestFn,
		ByteSize:   best.Size,
		Digest:     best.SHA256,
		Origin:     resolve.RepositoryDescriptor{Name: "conda:" + channel, BaseURL: a.host + "/" + channel},
		PackageURL: purl,
	}, nil
}

func (a *Adapter) Dependencies(ctx context.Context, artifact resolve.ResolvedArtifact) ([]resolve.RequirementVersion, error) {
	subdir := artifact.Architecture
	if subdir == "" {
		subdir = "linux-64"
	}
	channel := strings.TrimPrefix(artifact.Origin.Name, "conda:")
	rd, err := a.fetchRepodata(ctx, channel, subdir)
	if err != nil {
		return nil, fmt.Errorf("conda: dependencies of %s: %w", artifact.VersionKey, err)
	}
	e, ok := rd.allEntries()[artifact.FileName]
	if !ok {
		return nil, nil
	}
	var out []resolve.RequirementVersion
	for _, spec := range e.Depends {
		name, constraint := parseMatchSpec(spec)
		if name == "" {
			continue
		}
		out = append(out, resolve.RequirementVersion{
			PackageKey: resolve.PackageKey{System: resolve.Conda, Name: name},
			Constraint: constraint,
			Type:       dep.NewType(),
		})
	}
	return out, nil
}

// parseMatchSpec parses a simplified conda match-spec: "name", "name
// >=1.0,<2.0", or "name 3.11.*". Build-string pins (a third
// whitespace-separated token) are not matched against, since this engine
// picks highest build_number rather than honoring an exact build pin.
func parseMatchSpec(spec string) (name, constraint string) {
	fields := strings.Fields(spec)
	if len(fields) == 0 {
		return "", ""
	}
	name = fields[0]
	if len(fields) > 1 {
		constraint = fields[1]
	}
	return name, constraint
}
