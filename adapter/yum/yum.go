/*
Package yum implements resolve.Adapter for RPM/yum repositories, per spec.md
§4.1.5: fetch repodata/repomd.xml, follow its primary.xml.gz reference,
locate the package by name (and optionally EVR), and synthesize the download
URL from the located <location href="...">, substituting $basearch.

Dependency edges come from primary.xml's <rpm:requires> list; version
ordering/matching uses quay-claircore's go-rpm-version, the same library
claircore's own rhel/RPM matching uses.
*/
package yum

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/package-url/packageurl-go"

	"bundle.dev/core/cache"
	"bundle.dev/core/dep"
	"bundle.dev/core/logging"
	"bundle.dev/core/platform"
	"bundle.dev/core/resolve"
	"bundle.dev/core/transport"
	"bundle.dev/core/version"
)

var log = logging.For("yum")

// Adapter implements resolve.Adapter for one yum/RPM repository base-URL.
type Adapter struct {
	t       *transport.Transport
	c       *cache.Store
	baseURL string
	arch    string
}

// New creates a yum Adapter against baseURL (a repository root containing
// repodata/), substituting $basearch with arch.
func New(t *transport.Transport, c *cache.Store, baseURL, arch string) *Adapter {
	if arch == "" {
		arch = "x86_64"
	}
	return &Adapter{t: t, c: c, baseURL: strings.TrimSuffix(baseURL, "/"), arch: arch}
}

func (a *Adapter) System() resolve.System { return resolve.Yum }

func (a *Adapter) resolveBaseURL() string {
	return strings.ReplaceAll(a.baseURL, "$basearch", a.arch)
}

// repomd is repodata/repomd.xml: a list of <data type="..."> entries, each
// pointing at one index file (primary, filelists, other, updateinfo, ...).
type repomd struct {
	XMLName xml.Name `xml:"repomd"`
	Data    []struct {
		Type     string `xml:"type,attr"`
		Location struct {
			Href string `xml:"href,attr"`
		} `xml:"location"`
	} `xml:"data"`
}

func (r *repomd) primaryHref() (string, bool) {
	for _, d := range r.Data {
		if d.Type == "primary" {
			return d.Location.Href, true
		}
	}
	return "", false
}

// primaryXML is the subset of primary.xml spec.md §4.1.5 needs: one
// <package> per name/version/arch combination, with its download location
// and its <rpm:requires> dependency list.
type primaryXML struct {
	XMLName  xml.Name        `xml:"metadata"`
	Packages []primaryEntry `xml:"package"`
}

type primaryEntry struct {
	Name     string `xml:"name"`
	Arch     string `xml:"arch"`
	Version  struct {
		Epoch string `xml:"epoch,attr"`
		Ver   string `xml:"ver,attr"`
		Rel   string `xml:"rel,attr"`
	} `xml:"version"`
	Checksum string `xml:"checksum"`
	Size     struct {
		Package int64 `xml:"package,attr"`
	} `xml:"size"`
	Location struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
	Format struct {
		Requires struct {
			Entry []requireEntry `xml:"entry"`
		} `xml:"requires"`
	} `xml:"format"`
}

type requireEntry struct {
	Name  string `xml:"name,attr"`
	Flags string `xml:"flags,attr"`
	Ver   string `xml:"ver,attr"`
}

// evr renders the entry's Epoch:Version-Release, yum/RPM's native version
// ordering unit, per spec.md's glossary.
func (e primaryEntry) evr() string {
	v := e.Version.Ver
	if e.Version.Rel != "" {
		v += "-" + e.Version.Rel
	}
	if e.Version.Epoch != "" && e.Version.Epoch != "0" {
		v = e.Version.Epoch + ":" + v
	}
	return v
}

func (a *Adapter) fetchRepomd(ctx context.Context) (*repomd, error) {
	url := a.resolveBaseURL() + "/repodata/repomd.xml"
	key := cache.Key("yum", "repomd", url)
	body, err := a.c.GetOrFetch(ctx, key, cache.MutableTTL, func(ctx context.Context) ([]byte, error) {
		return a.t.GetJSON(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	var rm repomd
	if err := xml.Unmarshal(body, &rm); err != nil {
		return nil, fmt.Errorf("yum: decode %s: %w", url, err)
	}
	return &rm, nil
}

func (a *Adapter) fetchPrimary(ctx context.Context) (*primaryXML, error) {
	rm, err := a.fetchRepomd(ctx)
	if err != nil {
		return nil, err
	}
	href, ok := rm.primaryHref()
	if !ok {
		return nil, fmt.Errorf("yum: repomd.xml has no primary data entry")
	}
	url := a.resolveBaseURL() + "/" + href
	key := cache.Key("yum", "primary", url)
	body, err := a.c.GetOrFetch(ctx, key, cache.ImmutableTTL, func(ctx context.Context) ([]byte, error) {
		raw, err := a.t.GetJSON(ctx, url)
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(href, ".gz") {
			zr, err := gzip.NewReader(strings.NewReader(string(raw)))
			if err != nil {
				return nil, fmt.Errorf("yum: gunzip %s: %w", url, err)
			}
			defer zr.Close()
			return io.ReadAll(zr)
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	var px primaryXML
	if err := xml.Unmarshal(body, &px); err != nil {
		return nil, fmt.Errorf("yum: decode %s: %w", url, err)
	}
	return &px, nil
}

func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]resolve.SearchResult, error) {
	px, err := a.fetchPrimary(ctx)
	if err != nil {
		return nil, nil
	}
	seen := map[string]bool{}
	var out []resolve.SearchResult
	for _, e := range px.Packages {
		if !strings.Contains(e.Name, query) || seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		out = append(out, resolve.SearchResult{Name: e.Name, LatestVersion: e.evr()})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (a *Adapter) ListVersions(ctx context.Context, name string) ([]resolve.VersionInfo, error) {
	px, err := a.fetchPrimary(ctx)
	if err != nil {
		return nil, fmt.Errorf("yum: list versions of %s: %w", name, err)
	}
	seen := map[string]bool{}
	var out []resolve.VersionInfo
	for _, e := range px.Packages {
		if e.Name != name || e.Arch != a.arch && e.Arch != "noarch" {
			continue
		}
		evr := e.evr()
		if seen[evr] {
			continue
		}
		seen[evr] = true
		out = append(out, resolve.VersionInfo{Version: evr})
	}
	sort.Slice(out, func(i, j int) bool { return version.RPM.Compare(out[i].Version, out[j].Version) > 0 })
	return out, nil
}

func (a *Adapter) findEntry(px *primaryXML, name, ver string) (primaryEntry, bool) {
	for _, e := range px.Packages {
		if e.Name == name && e.evr() == ver && (e.Arch == a.arch || e.Arch == "noarch") {
			return e, true
		}
	}
	return primaryEntry{}, false
}

func (a *Adapter) SelectArtifact(ctx context.Context, name, ver string, profile platform.Profile) (resolve.ResolvedArtifact, error) {
	px, err := a.fetchPrimary(ctx)
	if err != nil {
		return resolve.ResolvedArtifact{}, fmt.Errorf("yum: select %s@%s: %w", name, ver, err)
	}
	e, ok := a.findEntry(px, name, ver)
	if !ok {
		return resolve.ResolvedArtifact{}, fmt.Errorf("yum: %s@%s: %w", name, ver, resolve.ErrNoCompatibleArtifact)
	}

	purl := packageurl.NewPackageURL("rpm", "", name, ver,
		packageurl.QualifiersFromMap(map[string]string{"arch": e.Arch}), "").ToString()

	return resolve.ResolvedArtifact{
		VersionKey: resolve.VersionKey{
			PackageKey:   resolve.PackageKey{System: resolve.Yum, Name: name},
			Version:      ver,
			Architecture: e.Arch,
		},
		FetchURL:   a.resolveBaseURL() + "/" + e.Location.Href,
		FileName:   e.Location.Href[strings.LastIndex(e.Location.Href, "/")+1:],
		ByteSize:   e.Size.Package,
		Digest:     e.Checksum,
		Origin:     resolve.RepositoryDescriptor{Name: "yum:" + a.baseURL, BaseURL: a.baseURL},
		PackageURL: purl,
	}, nil
}

func (a *Adapter) Dependencies(ctx context.Context, artifact resolve.ResolvedArtifact) ([]resolve.RequirementVersion, error) {
	px, err := a.fetchPrimary(ctx)
	if err != nil {
		return nil, fmt.Errorf("yum: dependencies of %s: %w", artifact.VersionKey, err)
	}
	e, ok := a.findEntry(px, artifact.Name, artifact.Version)
	if !ok {
		return nil, nil
	}
	var out []resolve.RequirementVersion
	for _, r := range e.Format.Requires.Entry {
		if r.Name == "" || strings.HasPrefix(r.Name, "rpmlib(") {
			continue // rpmlib() pseudo-deps aren't fetchable packages
		}
		constraint := r.Ver
		if constraint != "" && r.Flags != "" {
			constraint = rpmOperator(r.Flags) + r.Ver
		}
		out = append(out, resolve.RequirementVersion{
			PackageKey: resolve.PackageKey{System: resolve.Yum, Name: r.Name},
			Constraint: constraint,
			Type:       dep.NewType(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PackageKey.Compare(out[j].PackageKey) < 0 })
	return out, nil
}

// rpmOperator maps primary.xml's rpm:requires flags attribute to the
// comparison operator version.RPM.Satisfies expects.
func rpmOperator(flags string) string {
	switch flags {
	case "LE":
		return "<="
	case "GE":
		return ">="
	case "EQ":
		return "=="
	case "LT":
		return "<"
	case "GT":
		return ">"
	default:
		return ""
	}
}
