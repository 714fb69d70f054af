/*
Package npm implements resolve.Adapter for npm, per spec.md §4.1.4: the
registry packument's dist-tags/versions map for metadata, dist.tarball for
the artifact, and the four dependency maps (dependencies, peerDependencies,
optionalDependencies; devDependencies are excluded by default since bundles
target deployment, not development) for edges.
*/
package npm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/package-url/packageurl-go"

	"bundle.dev/core/cache"
	"bundle.dev/core/dep"
	"bundle.dev/core/platform"
	"bundle.dev/core/resolve"
	"bundle.dev/core/transport"
	"bundle.dev/core/version"
)

const defaultRegistry = "https://registry.npmjs.org"

// Adapter implements resolve.Adapter for npm.
type Adapter struct {
	t        *transport.Transport
	c        *cache.Store
	registry string
}

// New creates an npm Adapter against registry (defaults to registry.npmjs.org).
func New(t *transport.Transport, c *cache.Store, registry string) *Adapter {
	if registry == "" {
		registry = defaultRegistry
	}
	return &Adapter{t: t, c: c, registry: registry}
}

func (a *Adapter) System() resolve.System { return resolve.NPM }

type packument struct {
	Name     string                   `json:"name"`
	DistTags map[string]string        `json:"dist-tags"`
	Versions map[string]versionEntry  `json:"versions"`
}

type versionEntry struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Dependencies         map[string]string `json:"dependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	Dist                 struct {
		Tarball string `json:"tarball"`
		Shasum  string `json:"shasum"`
		Integrity string `json:"integrity"`
		UnpackedSize int64 `json:"unpackedSize"`
	} `json:"dist"`
}

func (a *Adapter) fetchPackument(ctx context.Context, name string) (*packument, error) {
	url := fmt.Sprintf("%s/%s", a.registry, name)
	key := cache.Key("npm", url)
	body, err := a.c.GetOrFetch(ctx, key, cache.MutableTTL, func(ctx context.Context) ([]byte, error) {
		return a.t.GetJSON(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	var p packument
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("npm: decode %s: %w", url, err)
	}
	return &p, nil
}

func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]resolve.SearchResult, error) {
	p, err := a.fetchPackument(ctx, query)
	if err != nil {
		return nil, nil
	}
	return []resolve.SearchResult{{Name: p.Name, LatestVersion: p.DistTags["latest"]}}, nil
}

func (a *Adapter) ListVersions(ctx context.Context, name string) ([]resolve.VersionInfo, error) {
	p, err := a.fetchPackument(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("npm: list versions of %s: %w", name, err)
	}
	var out []resolve.VersionInfo
	for v := range p.Versions {
		out = append(out, resolve.VersionInfo{Version: v})
	}
	for tag, v := range p.DistTags {
		if tag != "latest" {
			out = append(out, resolve.VersionInfo{Version: v, IsAlias: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return version.NPM.Compare(out[i].Version, out[j].Version) > 0 })
	return out, nil
}

func (a *Adapter) SelectArtifact(ctx context.Context, name, ver string, profile platform.Profile) (resolve.ResolvedArtifact, error) {
	p, err := a.fetchPackument(ctx, name)
	if err != nil {
		return resolve.ResolvedArtifact{}, fmt.Errorf("npm: select %s@%s: %w", name, ver, err)
	}
	if ver == "latest" {
		ver = p.DistTags["latest"]
	}
	v, ok := p.Versions[ver]
	if !ok {
		return resolve.ResolvedArtifact{}, fmt.Errorf("npm: %s@%s: %w", name, ver, resolve.ErrNoCompatibleArtifact)
	}
	purl := packageurl.NewPackageURL("npm", "", name, ver, nil, "").ToString()
	return resolve.ResolvedArtifact{
		VersionKey: resolve.VersionKey{
			PackageKey: resolve.PackageKey{System: resolve.NPM, Name: name},
			Version:    ver,
		},
		FetchURL:   v.Dist.Tarball,
		FileName:   fmt.Sprintf("%s-%s.tgz", sanitizeScopedName(name), ver),
		ByteSize:   v.Dist.UnpackedSize,
		Digest:     v.Dist.Shasum,
		Origin:     resolve.RepositoryDescriptor{Name: "registry.npmjs.org", BaseURL: a.registry},
		PackageURL: purl,
	}, nil
}

func sanitizeScopedName(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			out = append(out, '-')
			continue
		}
		out = append(out, name[i])
	}
	return string(out)
}

func (a *Adapter) Dependencies(ctx context.Context, artifact resolve.ResolvedArtifact) ([]resolve.RequirementVersion, error) {
	p, err := a.fetchPackument(ctx, artifact.Name)
	if err != nil {
		return nil, fmt.Errorf("npm: dependencies of %s: %w", artifact.VersionKey, err)
	}
	v, ok := p.Versions[artifact.Version]
	if !ok {
		return nil, nil
	}
	var out []resolve.RequirementVersion
	add := func(deps map[string]string, t dep.Type) {
		names := make([]string, 0, len(deps))
		for n := range deps {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, resolve.RequirementVersion{
				PackageKey: resolve.PackageKey{System: resolve.NPM, Name: n},
				Constraint: deps[n],
				Type:       t,
			})
		}
	}
	add(v.Dependencies, dep.NewType())
	add(v.PeerDependencies, dep.NewType(dep.Opt))
	add(v.OptionalDependencies, dep.NewType(dep.Opt))
	return out, nil
}
