/*
Package pip implements resolve.Adapter for PyPI, per spec.md §4.1.1: the
PyPI JSON API for metadata, wheel filename/PEP 425 tag matching for
artifact selection, and requires_dist + PEP 508 markers for dependency
edges.
*/
package pip

import (
	"context"
	"encoding/json"
	"fmt"
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

const defaultBaseURL = "https://pypi.org/pypi"

// Adapter implements resolve.Adapter for PyPI.
type Adapter struct {
	t       *transport.Transport
	c       *cache.Store
	baseURL string

	// profile is the session's target platform.Profile, consulted when
	// evaluating requires_dist's PEP 508 environment markers (sys_platform,
	// python_version, platform_system) in Dependencies.
	profile platform.Profile
}

// New creates a PyPI Adapter scoped to profile, the platform environment
// markers are evaluated against (spec.md §4.1.1).
func New(t *transport.Transport, c *cache.Store, profile platform.Profile) *Adapter {
	return &Adapter{t: t, c: c, baseURL: defaultBaseURL, profile: profile}
}

func (a *Adapter) System() resolve.System { return resolve.Pip }

type projectResponse struct {
	Info struct {
		Name          string   `json:"name"`
		Version       string   `json:"version"`
		Summary       string   `json:"summary"`
		RequiresDist  []string `json:"requires_dist"`
		RequiresPython string  `json:"requires_python"`
	} `json:"info"`
	Releases map[string][]fileEntry `json:"releases"`
	URLs     []fileEntry            `json:"urls"`
}

type fileEntry struct {
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	Size           int64             `json:"size"`
	Digests        map[string]string `json:"digests"`
	PackageType    string            `json:"packagetype"`
	RequiresPython string            `json:"requires_python"`
	Yanked         bool              `json:"yanked"`
}

func (a *Adapter) fetchProject(ctx context.Context, name, ver string) (*projectResponse, error) {
	url := fmt.Sprintf("%s/%s/json", a.baseURL, name)
	ttl := cache.MutableTTL
	if ver != "" {
		url = fmt.Sprintf("%s/%s/%s/json", a.baseURL, name, ver)
		ttl = cache.ImmutableTTL
	}
	key := cache.Key("pip", url)
	body, err := a.c.GetOrFetch(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		return a.t.GetJSON(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	var pr projectResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("pip: decode %s: %w", url, err)
	}
	return &pr, nil
}

// Search implements resolve.Adapter. PyPI retired its legacy XML-RPC search
// API; this falls back to an exact-name lookup, which still satisfies
// spec.md §4.1's "exact name match first" relevance rule for the common
// case of a user searching for a package they already know the name of.
func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]resolve.SearchResult, error) {
	pr, err := a.fetchProject(ctx, normalizeName(query), "")
	if err != nil {
		return nil, nil
	}
	return []resolve.SearchResult{{
		Name:          pr.Info.Name,
		LatestVersion: pr.Info.Version,
		Summary:       pr.Info.Summary,
	}}, nil
}

func (a *Adapter) ListVersions(ctx context.Context, name string) ([]resolve.VersionInfo, error) {
	pr, err := a.fetchProject(ctx, name, "")
	if err != nil {
		return nil, fmt.Errorf("pip: list versions of %s: %w", name, err)
	}
	var out []resolve.VersionInfo
	for v, files := range pr.Releases {
		if len(files) == 0 || allYanked(files) {
			continue
		}
		out = append(out, resolve.VersionInfo{Version: v})
	}
	sort.Slice(out, func(i, j int) bool {
		return version.PEP440.Compare(out[i].Version, out[j].Version) > 0
	})
	return out, nil
}

func allYanked(files []fileEntry) bool {
	for _, f := range files {
		if !f.Yanked {
			return false
		}
	}
	return true
}

func (a *Adapter) SelectArtifact(ctx context.Context, name, ver string, profile platform.Profile) (resolve.ResolvedArtifact, error) {
	pr, err := a.fetchProject(ctx, name, ver)
	if err != nil {
		return resolve.ResolvedArtifact{}, fmt.Errorf("pip: select %s@%s: %w", name, ver, err)
	}

	pythonTag := profile.PythonTag()
	platformTags := profile.LinuxPlatformTags()

	best, bestRank, bestIsWheel := fileEntry{}, 1<<30, false
	for _, f := range pr.URLs {
		if f.Yanked {
			continue
		}
		if f.PackageType == "bdist_wheel" {
			wi, err := parseWheelName(f.Filename)
			if err != nil || !wi.matchesAny(pythonTag, platformTags) {
				continue
			}
			if r := wi.rank(platformTags); r < bestRank {
				best, bestRank, bestIsWheel = f, r, true
			}
		}
	}
	if !bestIsWheel {
		for _, f := range pr.URLs {
			if f.PackageType == "sdist" && !f.Yanked {
				best = f
				break
			}
		}
	}
	if best.Filename == "" {
		return resolve.ResolvedArtifact{}, fmt.Errorf("pip: %s@%s: %w", name, ver, resolve.ErrNoCompatibleArtifact)
	}

	purl := packageurl.NewPackageURL("pypi", "", normalizeName(name), ver, nil, "").ToString()

	return resolve.ResolvedArtifact{
		VersionKey: resolve.VersionKey{
			PackageKey: resolve.PackageKey{System: resolve.Pip, Name: name},
			Version:    ver,
		},
		FetchURL:   best.URL,
		FileName:   best.Filename,
		ByteSize:   best.Size,
		Digest:     best.Digests["sha256"],
		Origin:     resolve.RepositoryDescriptor{Name: "pypi.org", BaseURL: a.baseURL},
		PackageURL: purl,
	}, nil
}

func (a *Adapter) Dependencies(ctx context.Context, artifact resolve.ResolvedArtifact) ([]resolve.RequirementVersion, error) {
	pr, err := a.fetchProject(ctx, artifact.Name, artifact.Version)
	if err != nil {
		return nil, fmt.Errorf("pip: dependencies of %s: %w", artifact.VersionKey, err)
	}
	env := EnvironmentFor(a.profile) // markers naming an extra keep their edge as optional below
	var out []resolve.RequirementVersion
	for _, raw := range pr.Info.RequiresDist {
		req, ok := parseRequirement(raw)
		if !ok {
			continue
		}
		t := dep.NewType()
		if req.Marker != "" {
			if strings.Contains(req.Marker, "extra") {
				t.SetAttr(dep.Opt, "extra")
			}
			ok, err := EvalMarker(req.Marker, env)
			if err == nil && !ok && !t.HasAttr(dep.Opt) {
				continue
			}
		}
		out = append(out, resolve.RequirementVersion{
			PackageKey: resolve.PackageKey{System: resolve.Pip, Name: req.Name},
			Constraint: req.Constraint,
			Type:       t,
		})
	}
	return out, nil
}
