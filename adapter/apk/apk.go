/*
Package apk implements resolve.Adapter for Alpine/apk repositories, per
spec.md §4.1.7: fetch APKINDEX.tar.gz for the configured branch/repository/
architecture, parse its "P:"/"V:"/"D:" fields, and synthesize
"{base}/{arch}/{name}-{version}.apk".

Grounded on quay-claircore's apk.Scanner (apk/scanner.go), which parses the
same installed-database field format ("P:"/"V:"/"D:"/... key-per-line,
blank-line-delimited stanzas); this adapter parses the repository-side
APKINDEX, which uses the identical framing. Version ordering uses
quay-claircore's go-apk-version.
*/
package apk

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
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

// Adapter implements resolve.Adapter for one Alpine apk repository/branch.
type Adapter struct {
	t      *transport.Transport
	c      *cache.Store
	base   string // e.g. "https://dl-cdn.alpinelinux.org/alpine/v3.19/main"
	arch   string
}

// New creates an apk Adapter.
func New(t *transport.Transport, c *cache.Store, base, arch string) *Adapter {
	if arch == "" {
		arch = "x86_64"
	}
	return &Adapter{t: t, c: c, base: strings.TrimSuffix(base, "/"), arch: arch}
}

func (a *Adapter) System() resolve.System { return resolve.Apk }

// entry is one APKINDEX stanza.
type entry struct {
	Name     string
	Version  string
	Depends  []string
	Size     int64
	Checksum string
}

func (a *Adapter) indexURL() string {
	return fmt.Sprintf("%s/%s/APKINDEX.tar.gz", a.base, a.arch)
}

func (a *Adapter) fetchIndex(ctx context.Context) ([]entry, error) {
	url := a.indexURL()
	key := cache.Key("apk", url)
	body, err := a.c.GetOrFetch(ctx, key, cache.MutableTTL, func(ctx context.Context) ([]byte, error) {
		raw, err := a.t.GetJSON(ctx, url)
		if err != nil {
			return nil, err
		}
		return extractAPKINDEX(raw)
	})
	if err != nil {
		return nil, err
	}
	return parseAPKINDEX(body), nil
}

// extractAPKINDEX pulls the "APKINDEX" member out of the tar.gz archive
// Alpine publishes (the archive also carries a DESCRIPTION and signature).
func extractAPKINDEX(raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("apk: gunzip: %w", err)
	}
	defer zr.Close()
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("apk: untar: %w", err)
		}
		if hdr.Name == "APKINDEX" {
			return io.ReadAll(tr)
		}
	}
	return nil, fmt.Errorf("apk: no APKINDEX member in archive")
}

// parseAPKINDEX parses the "P:"/"V:"/"D:"/"S:"/"C:" key-value stanza format,
// blank-line delimited, the same framing quay-claircore's apk.Scanner reads
// from the installed-package database.
func parseAPKINDEX(body []byte) []entry {
	var out []entry
	cur := entry{}
	flush := func() {
		if cur.Name != "" {
			out = append(out, cur)
		}
		cur = entry{}
	}
	sc := bufio.NewScanner(strings.NewReader(string(body)))
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			flush()
			continue
		}
		if len(line) < 2 || line[1] != ':' {
			continue
		}
		val := line[2:]
		switch line[0] {
		case 'P':
			cur.Name = val
		case 'V':
			cur.Version = val
		case 'D':
			cur.Depends = strings.Fields(val)
		case 'S':
			cur.Size, _ = parseInt(val)
		case 'C':
			cur.Checksum = val
		}
	}
	flush()
	return out
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

func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]resolve.SearchResult, error) {
	entries, err := a.fetchIndex(ctx)
	if err != nil {
		return nil, nil
	}
	seen := map[string]bool{}
	var out []resolve.SearchResult
	for _, e := range entries {
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
	entries, err := a.fetchIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("apk: list versions of %s: %w", name, err)
	}
	var out []resolve.VersionInfo
	for _, e := range entries {
		if e.Name == name {
			out = append(out, resolve.VersionInfo{Version: e.Version})
		}
	}
	sort.Slice(out, func(i, j int) bool { return version.Alpine.Compare(out[i].Version, out[j].Version) > 0 })
	return out, nil
}

func (a *Adapter) findEntry(entries []entry, name, ver string) (entry, bool) {
	for _, e := range entries {
		if e.Name == name && e.Version == ver {
			return e, true
		}
	}
	return entry{}, false
}

func (a *Adapter) SelectArtifact(ctx context.Context, name, ver string, profile platform.Profile) (resolve.ResolvedArtifact, error) {
	entries, err := a.fetchIndex(ctx)
	if err != nil {
		return resolve.ResolvedArtifact{}, fmt.Errorf("apk: select %s@%s: %w", name, ver, err)
	}
	e, ok := a.findEntry(entries, name, ver)
	if !ok {
		return resolve.ResolvedArtifact{}, fmt.Errorf("apk: %s@%s: %w", name, ver, resolve.ErrNoCompatibleArtifact)
	}
	filename := fmt.Sprintf("%s-%s.apk", name, ver)

	purl := packageurl.NewPackageURL("apk", "alpine", name, ver,
		packageurl.QualifiersFromMap(map[string]string{"arch": a.arch}), "").ToString()

	return resolve.ResolvedArtifact{
		VersionKey: resolve.VersionKey{
			PackageKey:   resolve.PackageKey{System: resolve.Apk, Name: name},
			Version:      ver,
			Architecture: a.arch,
		},
		FetchURL:   fmt.Sprintf("%s/%s/%s", a.base, a.arch, filename),
		FileName:   filename,
		ByteSize:   e.Size,
		Digest:     e.Checksum,
		Origin:     resolve.RepositoryDescriptor{Name: "apk:" + a.base, BaseURL: a.base},
		PackageURL: purl,
	}, nil
}

func (a *Adapter) Dependencies(ctx context.Context, artifact resolve.ResolvedArtifact) ([]resolve.RequirementVersion, error) {
	entries, err := a.fetchIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("apk: dependencies of %s: %w", artifact.VersionKey, err)
	}
	e, ok := a.findEntry(entries, artifact.Name, artifact.Version)
	if !ok {
		return nil, nil
	}
	var out []resolve.RequirementVersion
	for _, d := range e.Depends {
		if strings.HasPrefix(d, "!") || strings.HasPrefix(d, "so:") || strings.HasPrefix(d, "pc:") {
			continue // negative constraints and soname/pkgconfig virtual deps aren't fetchable packages
		}
		name, constraint := parseAPKDep(d)
		out = append(out, resolve.RequirementVersion{
			PackageKey: resolve.PackageKey{System: resolve.Apk, Name: name},
			Constraint: constraint,
			Type:       dep.NewType(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PackageKey.Compare(out[j].PackageKey) < 0 })
	return out, nil
}

// parseAPKDep parses an apk match-spec such as "musl>=1.2.4-r0" or bare
// "busybox" into a name and an "op version" constraint for version.Alpine.
func parseAPKDep(s string) (name, constraint string) {
	for _, op := range []string{">=", "<=", "=", ">", "<"} {
		if idx := strings.Index(s, op); idx > 0 {
			return s[:idx], op + s[idx+len(op):]
		}
	}
	return s, ""
}
