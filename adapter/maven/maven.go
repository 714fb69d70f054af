/*
Package maven implements resolve.Adapter for Maven Central (and compatible
repository-manager mirrors), per spec.md §4.1.3: maven-metadata.xml for
version listing, synthesized jar/pom/sha1 URLs, and .pom parsing with
<parent> and <dependencyManagement> chains resolved and the usual scope
filter (compile+runtime by default) applied.

Grounded on google-deps.dev/util/maven's Project/Properties model (the
${}-substitution and parent-merge rules below follow the same shape as
Properties.UnmarshalXML and Project.propertyMap) but reimplemented directly
against encoding/xml rather than imported, since this engine only needs
enough of the POM model to walk dependencies, not the full build/profile
machinery deps.dev's Maven resolver carries.
*/
package maven

import (
	"context"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/package-url/packageurl-go"

	"bundle.dev/core/cache"
	"bundle.dev/core/dep"
	"bundle.dev/core/logging"
	"bundle.dev/core/platform"
	"bundle.dev/core/resolve"
	"bundle.dev/core/transport"
	"bundle.dev/core/version"
)

var log = logging.For("maven")

const defaultRepo = "https://repo1.maven.org/maven2"

// maxParentDepth bounds <parent> chain traversal so a misconfigured or
// circular parent reference can't recurse forever.
const maxParentDepth = 12

// Adapter implements resolve.Adapter for Maven coordinates ("groupId:artifactId").
type Adapter struct {
	t    *transport.Transport
	c    *cache.Store
	repo string
}

// New creates a Maven Adapter against repo (defaults to Maven Central).
func New(t *transport.Transport, c *cache.Store, repo string) *Adapter {
	if repo == "" {
		repo = defaultRepo
	}
	return &Adapter{t: t, c: c, repo: strings.TrimSuffix(repo, "/")}
}

func (a *Adapter) System() resolve.System { return resolve.Maven }

// coordinate splits a "groupId:artifactId" package name.
func coordinate(name string) (groupID, artifactID string, ok bool) {
	g, art, found := strings.Cut(name, ":")
	if !found || g == "" || art == "" {
		return "", "", false
	}
	return g, art, true
}

func groupPath(groupID string) string {
	return strings.ReplaceAll(groupID, ".", "/")
}

func (a *Adapter) artifactDir(groupID, artifactID, ver string) string {
	return fmt.Sprintf("%s/%s/%s/%s", a.repo, groupPath(groupID), artifactID, ver)
}

// metadata mirrors the subset of maven-metadata.xml spec.md §4.1.3 needs.
type metadata struct {
	XMLName    xml.Name `xml:"metadata"`
	Versioning struct {
		Latest   string `xml:"latest"`
		Release  string `xml:"release"`
		Versions struct {
			Version []string `xml:"version"`
		} `xml:"versions"`
	} `xml:"versioning"`
}

func (a *Adapter) fetchMetadata(ctx context.Context, groupID, artifactID string) (*metadata, error) {
	url := fmt.Sprintf("%s/%s/%s/maven-metadata.xml", a.repo, groupPath(groupID), artifactID)
	key := cache.Key("maven", "metadata", url)
	body, err := a.c.GetOrFetch(ctx, key, cache.MutableTTL, func(ctx context.Context) ([]byte, error) {
		return a.t.GetJSON(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	var md metadata
	if err := xml.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("maven: decode %s: %w", url, err)
	}
	return &md, nil
}

func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]resolve.SearchResult, error) {
	groupID, artifactID, ok := coordinate(query)
	if !ok {
		return nil, nil
	}
	md, err := a.fetchMetadata(ctx, groupID, artifactID)
	if err != nil {
		return nil, nil
	}
	latest := md.Versioning.Release
	if latest == "" {
		latest = md.Versioning.Latest
	}
	return []resolve.SearchResult{{Name: query, LatestVersion: latest}}, nil
}

func (a *Adapter) ListVersions(ctx context.Context, name string) ([]resolve.VersionInfo, error) {
	groupID, artifactID, ok := coordinate(name)
	if !ok {
		return nil, fmt.Errorf("maven: %w: %q is not \"groupId:artifactId\"", resolve.ErrRequestInvalid, name)
	}
	md, err := a.fetchMetadata(ctx, groupID, artifactID)
	if err != nil {
		return nil, fmt.Errorf("maven: list versions of %s: %w", name, err)
	}
	out := make([]resolve.VersionInfo, 0, len(md.Versioning.Versions.Version))
	for _, v := range md.Versioning.Versions.Version {
		out = append(out, resolve.VersionInfo{Version: v})
	}
	sort.Slice(out, func(i, j int) bool { return version.Maven.Compare(out[i].Version, out[j].Version) > 0 })
	return out, nil
}

func (a *Adapter) SelectArtifact(ctx context.Context, name, ver string, profile platform.Profile) (resolve.ResolvedArtifact, error) {
	groupID, artifactID, ok := coordinate(name)
	if !ok {
		return resolve.ResolvedArtifact{}, fmt.Errorf("maven: %w: %q is not \"groupId:artifactId\"", resolve.ErrRequestInvalid, name)
	}
	dir := a.artifactDir(groupID, artifactID, ver)
	jarName := fmt.Sprintf("%s-%s.jar", artifactID, ver)
	pomName := fmt.Sprintf("%s-%s.pom", artifactID, ver)

	purl := packageurl.NewPackageURL("maven", groupID, artifactID, ver, nil, "").ToString()

	return resolve.ResolvedArtifact{
		VersionKey: resolve.VersionKey{
			PackageKey: resolve.PackageKey{System: resolve.Maven, Name: name},
			Version:    ver,
		},
		FetchURL:   dir + "/" + jarName,
		FileName:   jarName,
		Auxiliary:  AuxiliaryFiles(dir, artifactID, pomName, ver),
		Origin:     resolve.RepositoryDescriptor{Name: "repo1.maven.org", BaseURL: a.repo},
		PackageURL: purl,
	}, nil
}

// AuxiliaryFiles registers the .pom, .jar.sha1 and .pom.sha1 companions
// spec.md §4.1.3 requires alongside every resolved jar.
func AuxiliaryFiles(dir, artifactID, pomName, ver string) []resolve.AuxiliaryFile {
	jarName := fmt.Sprintf("%s-%s.jar", artifactID, ver)
	return []resolve.AuxiliaryFile{
		{Role: "pom", URL: dir + "/" + pomName, FileName: pomName},
		{Role: "jar.sha1", URL: dir + "/" + jarName + ".sha1", FileName: jarName + ".sha1"},
		{Role: "pom.sha1", URL: dir + "/" + pomName + ".sha1", FileName: pomName + ".sha1"},
	}
}

// --- POM model ---

type pomXML struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
	Parent     struct {
		GroupID    string `xml:"groupId"`
		ArtifactID string `xml:"artifactId"`
		Version    string `xml:"version"`
	} `xml:"parent"`
	Properties           properties    `xml:"properties"`
	DependencyManagement depManagement `xml:"dependencyManagement"`
	Dependencies         struct {
		Dependency []rawDependency `xml:"dependency"`
	} `xml:"dependencies"`
}

type depManagement struct {
	Dependencies struct {
		Dependency []rawDependency `xml:"dependency"`
	} `xml:"dependencies"`
}

type rawDependency struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
	Scope      string `xml:"scope"`
	Optional   string `xml:"optional"`
	Classifier string `xml:"classifier"`
	Type       string `xml:"type"`
}

func (d rawDependency) key() string { return d.GroupID + ":" + d.ArtifactID }

// properties holds a pom.xml's arbitrary <properties> element, whose child
// tag names are themselves the property keys, so a fixed struct can't model
// it: this is a direct reimplementation of
// google-deps.dev/util/maven.Properties.UnmarshalXML.
type properties map[string]string

func (p *properties) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	m := make(properties)
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var s string
			if err := d.DecodeElement(&s, &t); err != nil {
				return err
			}
			m[t.Name.Local] = strings.TrimSpace(s)
		case xml.EndElement:
			*p = m
			return nil
		}
	}
}

// effectivePOM is the result of merging one coordinate's own pom.xml with
// its <parent> chain: combined properties, combined dependencyManagement,
// and the coordinate's own (uninherited, per Maven semantics) <dependencies>.
type effectivePOM struct {
	properties map[string]string
	managed    map[string]rawDependency
	deps       []rawDependency
}

func (a *Adapter) fetchPOM(ctx context.Context, groupID, artifactID, ver string) (*pomXML, error) {
	dir := a.artifactDir(groupID, artifactID, ver)
	url := fmt.Sprintf("%s/%s-%s.pom", dir, artifactID, ver)
	key := cache.Key("maven", "pom", url)
	body, err := a.c.GetOrFetch(ctx, key, cache.ImmutableTTL, func(ctx context.Context) ([]byte, error) {
		return a.t.GetJSON(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	var p pomXML
	if err := xml.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("maven: decode %s: %w", url, err)
	}
	return &p, nil
}

// resolveEffectivePOM walks groupID:artifactID@ver's <parent> chain,
// merging properties and dependencyManagement child-wins, per Maven's
// inheritance rules (plain <dependencies> are NOT inherited from parents).
func (a *Adapter) resolveEffectivePOM(ctx context.Context, groupID, artifactID, ver string, depth int) (*effectivePOM, error) {
	if depth > maxParentDepth {
		return nil, fmt.Errorf("maven: %s:%s: parent chain exceeds %d levels", groupID, artifactID, maxParentDepth)
	}
	p, err := a.fetchPOM(ctx, groupID, artifactID, ver)
	if err != nil {
		return nil, err
	}

	props := map[string]string(p.Properties)
	if props == nil {
		props = map[string]string{}
	}
	managed := map[string]rawDependency{}

	if p.Parent.GroupID != "" && p.Parent.ArtifactID != "" && p.Parent.Version != "" {
		parent, err := a.resolveEffectivePOM(ctx, p.Parent.GroupID, p.Parent.ArtifactID, p.Parent.Version, depth+1)
		if err == nil {
			for k, v := range parent.properties {
				if _, set := props[k]; !set {
					props[k] = v
				}
			}
			for k, v := range parent.managed {
				managed[k] = v
			}
		} else {
			log.Warnf("%s:%s@%s: parent %s:%s@%s unavailable: %v", groupID, artifactID, ver, p.Parent.GroupID, p.Parent.ArtifactID, p.Parent.Version, err)
		}
	}

	addBuiltin := func(k, v string) {
		if v == "" {
			return
		}
		if _, set := props[k]; !set {
			props[k] = v
		}
		props["project."+k] = v
	}
	addBuiltin("groupId", groupID)
	addBuiltin("artifactId", artifactID)
	addBuiltin("version", ver)

	for _, d := range p.DependencyManagement.Dependencies.Dependency {
		managed[d.key()] = substituteDep(d, props)
	}

	deps := make([]rawDependency, len(p.Dependencies.Dependency))
	for i, d := range p.Dependencies.Dependency {
		deps[i] = substituteDep(d, props)
	}

	return &effectivePOM{properties: props, managed: managed, deps: deps}, nil
}

func substituteDep(d rawDependency, props map[string]string) rawDependency {
	d.GroupID = substitute(d.GroupID, props)
	d.ArtifactID = substitute(d.ArtifactID, props)
	d.Version = substitute(d.Version, props)
	d.Scope = substitute(d.Scope, props)
	d.Classifier = substitute(d.Classifier, props)
	d.Type = substitute(d.Type, props)
	return d
}

// substitute expands every "${key}" occurrence in s using props, leaving
// unresolvable references untouched (better an unexpanded literal reaches
// the resolver as a FailedPackage than a silently wrong version).
func substitute(s string, props map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			b.WriteString(s)
			break
		}
		end += start
		b.WriteString(s[:start])
		key := s[start+2 : end]
		if v, ok := props[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
	return b.String()
}

func (a *Adapter) Dependencies(ctx context.Context, artifact resolve.ResolvedArtifact) ([]resolve.RequirementVersion, error) {
	groupID, artifactID, ok := coordinate(artifact.Name)
	if !ok {
		return nil, fmt.Errorf("maven: %w: %q is not \"groupId:artifactId\"", resolve.ErrRequestInvalid, artifact.Name)
	}
	eff, err := a.resolveEffectivePOM(ctx, groupID, artifactID, artifact.Version, 0)
	if err != nil {
		return nil, fmt.Errorf("maven: dependencies of %s: %w", artifact.VersionKey, err)
	}

	var out []resolve.RequirementVersion
	for _, d := range eff.deps {
		if d.GroupID == "" || d.ArtifactID == "" {
			continue
		}
		scope := d.Scope
		ver := d.Version
		if managed, ok := eff.managed[d.key()]; ok {
			if scope == "" {
				scope = managed.Scope
			}
			if ver == "" {
				ver = managed.Version
			}
		}
		if scope == "" {
			scope = "compile"
		}
		if scope == "import" {
			continue // dependencyManagement-only scope, never a real edge
		}

		t := dep.NewType()
		t.SetAttr(dep.Scope, scope)
		switch scope {
		case "test":
			t.SetAttr(dep.Test, "")
		case "provided", "system":
			t.SetAttr(dep.Opt, "")
		}
		if d.Optional == "true" {
			t.SetAttr(dep.Opt, "")
		}
		if d.Classifier != "" {
			t.SetAttr(dep.MavenClassifier, d.Classifier)
		}
		if d.Type != "" {
			t.SetAttr(dep.MavenArtifactType, d.Type)
		}

		out = append(out, resolve.RequirementVersion{
			PackageKey: resolve.PackageKey{System: resolve.Maven, Name: d.GroupID + ":" + d.ArtifactID},
			Constraint: ver,
			Type:       t,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PackageKey.Compare(out[j].PackageKey) < 0 })
	return out, nil
}
