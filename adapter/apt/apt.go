/*
Package apt implements resolve.Adapter for Debian/apt repositories, per
spec.md §4.1.6: fetch Packages.gz for the configured suite/component/
architecture, parse the flat "Key: value" + blank-line record format, and
read Depends/Pre-Depends (Recommends only when policy opts in, Suggests
never) for dependency edges.

Version ordering uses quay-claircore's go-deb-version, the same library
claircore's debian package matching uses.
*/
package apt

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/package-url/packageurl-go"

	"bundle.dev/core/cache"
	"bundle.dev/core/dep"
	"bundle.dev/core/platform"
	"bundle.dev/core/resolve"
	"bundle.dev/core/transport"
	"bundle.dev/core/version"
)

// Adapter implements resolve.Adapter for one apt repository/suite.
type Adapter struct {
	t          *transport.Transport
	c          *cache.Store
	baseURL    string // e.g. "https://deb.debian.org/debian"
	suite      string // e.g. "bookworm"
	components []string
	arch       string
}

// New creates an apt Adapter. components defaults to {"main"} when empty.
func New(t *transport.Transport, c *cache.Store, baseURL, suite string, components []string, arch string) *Adapter {
	if len(components) == 0 {
		components = []string{"main"}
	}
	if arch == "" {
		arch = "amd64"
	}
	return &Adapter{t: t, c: c, baseURL: strings.TrimSuffix(baseURL, "/"), suite: suite, components: components, arch: arch}
}

func (a *Adapter) System() resolve.System { return resolve.Apt }

// record is one Debian control-file stanza: an ordered set of Key: value
// fields, folded continuation lines joined with a space.
type record map[string]string

func parsePackages(body []byte) []record {
	var out []record
	cur := record{}
	var lastKey string
	sc := bufio.NewScanner(strings.NewReader(string(body)))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if len(cur) > 0 {
				out = append(out, cur)
				cur = record{}
			}
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && lastKey != "" {
			cur[lastKey] += " " + strings.TrimSpace(line)
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		cur[key] = strings.TrimSpace(val)
		lastKey = key
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func (a *Adapter) packagesURL(component string) string {
	return fmt.Sprintf("%s/dists/%s/%s/binary-%s/Packages.gz", a.baseURL, a.suite, component, a.arch)
}

func (a *Adapter) fetchComponent(ctx context.Context, component string) ([]record, error) {
	url := a.packagesURL(component)
	key := cache.Key("apt", url)
	body, err := a.c.GetOrFetch(ctx, key, cache.MutableTTL, func(ctx context.Context) ([]byte, error) {
		raw, err := a.t.GetJSON(ctx, url)
		if err != nil {
			return nil, err
		}
		zr, err := gzip.NewReader(strings.NewReader(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("apt: gunzip %s: %w", url, err)
		}
		defer zr.Close()
		var buf strings.Builder
		if _, err := buf.ReadFrom(zr); err != nil {
			return nil, fmt.Errorf("apt: read %s: %w", url, err)
		}
		return []byte(buf.String()), nil
	})
	if err != nil {
		return nil, err
	}
	return parsePackages(body), nil
}

func (a *Adapter) fetchAll(ctx context.Context) ([]record, error) {
	var all []record
	var firstErr error
	for _, c := range a.components {
		recs, err := a.fetchComponent(ctx, c)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		all = append(all, recs...)
	}
	if all == nil && firstErr != nil {
		return nil, firstErr
	}
	return all, nil
}

func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]resolve.SearchResult, error) {
	recs, err := a.fetchAll(ctx)
	if err != nil {
		return nil, nil
	}
	seen := map[string]bool{}
	var out []resolve.SearchResult
	for _, r := range recs {
		name := r["Package"]
		if !strings.Contains(name, query) || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, resolve.SearchResult{Name: name, LatestVersion: r["Version"], Summary: r["Description"]})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (a *Adapter) ListVersions(ctx context.Context, name string) ([]resolve.VersionInfo, error) {
	recs, err := a.fetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("apt: list versions of %s: %w", name, err)
	}
	seen := map[string]bool{}
	var out []resolve.VersionInfo
	for _, r := range recs {
		if r["Package"] != name || seen[r["Version"]] {
			continue
		}
		seen[r["Version"]] = true
		out = append(out, resolve.VersionInfo{Version: r["Version"]})
	}
	sort.Slice(out, func(i, j int) bool { return version.Debian.Compare(out[i].Version, out[j].Version) > 0 })
	return out, nil
}

func (a *Adapter) findRecord(recs []record, name, ver string) (record, bool) {
	for _, r := range recs {
		if r["Package"] == name && r["Version"] == ver {
			return r, true
		}
	}
	return nil, false
}

func (a *Adapter) SelectArtifact(ctx context.Context, name, ver string, profile platform.Profile) (resolve.ResolvedArtifact, error) {
	recs, err := a.fetchAll(ctx)
	if err != nil {
		return resolve.ResolvedArtifact{}, fmt.Errorf("apt: select %s@%s: %w", name, ver, err)
	}
	r, ok := a.findRecord(recs, name, ver)
	if !ok {
		return resolve.ResolvedArtifact{}, fmt.Errorf("apt: %s@%s: %w", name, ver, resolve.ErrNoCompatibleArtifact)
	}
	filename := r["Filename"]
	size, _ := parseInt(r["Size"])

	purl := packageurl.NewPackageURL("deb", "debian", name, ver,
		packageurl.QualifiersFromMap(map[string]string{"arch": a.arch}), "").ToString()

	return resolve.ResolvedArtifact{
		VersionKey: resolve.VersionKey{
			PackageKey:   resolve.PackageKey{System: resolve.Apt, Name: name},
			Version:      ver,
			Architecture: a.arch,
		},
		FetchURL:   a.baseURL + "/" + filename,
		FileName:   filename[strings.LastIndex(filename, "/")+1:],
		ByteSize:   size,
		Digest:     r["SHA256"],
		Origin:     resolve.RepositoryDescriptor{Name: "apt:" + a.baseURL + "/" + a.suite, BaseURL: a.baseURL},
		PackageURL: purl,
	}, nil
}

func parseInt(s string) (int64, bool) {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, s != ""
}

func (a *Adapter) Dependencies(ctx context.Context, artifact resolve.ResolvedArtifact) ([]resolve.RequirementVersion, error) {
	recs, err := a.fetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("apt: dependencies of %s: %w", artifact.VersionKey, err)
	}
	r, ok := a.findRecord(recs, artifact.Name, artifact.Version)
	if !ok {
		return nil, nil
	}
	var out []resolve.RequirementVersion
	add := func(field string, t dep.Type) {
		for _, alt := range strings.Split(r[field], ",") {
			alt = strings.TrimSpace(alt)
			if alt == "" {
				continue
			}
			// Take only the first alternative in an "a | b" OR-group: this
			// engine resolves one concrete closure, not every alternative.
			first := strings.TrimSpace(strings.Split(alt, "|")[0])
			name, constraint := parseDepField(first)
			if name == "" {
				continue
			}
			out = append(out, resolve.RequirementVersion{
				PackageKey: resolve.PackageKey{System: resolve.Apt, Name: name},
				Constraint: constraint,
				Type:       t,
			})
		}
	}
	add("Depends", dep.NewType())
	add("Pre-Depends", dep.NewType())
	add("Recommends", dep.NewType(dep.Opt))
	sort.Slice(out, func(i, j int) bool { return out[i].PackageKey.Compare(out[j].PackageKey) < 0 })
	return out, nil
}

// parseDepField parses one Depends-field alternative, "pkgname (>= 1.2-3)"
// or bare "pkgname", into a name and a "op version" constraint understood
// by version.Debian.Satisfies.
func parseDepField(s string) (name, constraint string) {
	open := strings.Index(s, "(")
	if open < 0 {
		return strings.TrimSpace(s), ""
	}
	name = strings.TrimSpace(s[:open])
	close := strings.Index(s, ")")
	if close < 0 || close < open {
		return name, ""
	}
	return name, strings.TrimSpace(s[open+1 : close])
}
