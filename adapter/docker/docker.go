/*
Package docker implements resolve.Adapter for OCI container images, per
spec.md §4.1.8: resolve the configured registry, obtain a bearer token if
challenged, fetch a (possibly multi-arch) manifest, select the entry
matching the PlatformProfile, and record its config and layer blobs as
auxiliary files rather than graph edges — an image's "dependencies" are its
layers, fetched by the same transport but never expanded by the Resolver.

Manifest/index/config JSON shapes are opencontainers/image-spec's
specs-go/v1 types; blob identity is opencontainers/go-digest, both already
present in the example pack's dependency graph (grounded on
google-deps.dev's examples/go/container_base_image, which reads the same
oci-layout/index.json/manifest/config shapes out of a saved image tarball).
*/
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	digest "github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/package-url/packageurl-go"

	"bundle.dev/core/cache"
	"bundle.dev/core/logging"
	"bundle.dev/core/platform"
	"bundle.dev/core/resolve"
	"bundle.dev/core/transport"
	"bundle.dev/core/version"
)

var log = logging.For("docker")

// registryHosts maps spec.md §6's dockerRegistry enum to the host that
// actually serves the Distribution API (docker.io's API host differs from
// its human-facing domain).
var registryHosts = map[string]string{
	"docker.io": "registry-1.docker.io",
	"ghcr.io":   "ghcr.io",
	"quay.io":   "quay.io",
	"ecr":       "public.ecr.aws",
}

// Adapter implements resolve.Adapter for OCI/Docker images.
type Adapter struct {
	t              *transport.Transport
	c              *cache.Store
	registry       string // "docker.io", "ghcr.io", "quay.io", "ecr", or "custom"
	customRegistry string

	tokenMu sync.Mutex // guards tokens
	tokens  map[string]string
}

// New creates a docker/OCI Adapter against the named registry. When
// registry is "custom", customRegistry supplies the host.
func New(t *transport.Transport, c *cache.Store, registry, customRegistry string) *Adapter {
	if registry == "" {
		registry = "docker.io"
	}
	return &Adapter{t: t, c: c, registry: registry, customRegistry: customRegistry, tokens: map[string]string{}}
}

func (a *Adapter) System() resolve.System { return resolve.Docker }

func (a *Adapter) host() string {
	if a.registry == "custom" {
		return a.customRegistry
	}
	if h, ok := registryHosts[a.registry]; ok {
		return h
	}
	return a.registry
}

// repoName normalizes an image name the way docker.io requires unqualified
// names: a bare "nginx" means "library/nginx".
func (a *Adapter) repoName(name string) string {
	if a.registry == "docker.io" && !strings.Contains(name, "/") {
		return "library/" + name
	}
	return name
}

func (a *Adapter) apiBase() string {
	return "https://" + a.host() + "/v2"
}

// authenticate performs the Distribution API's token-challenge dance: an
// unauthenticated request that gets a 401 with a Www-Authenticate: Bearer
// header is retried once against that header's realm/service/scope to
// obtain a bearer token, which is then cached per-repository.
func (a *Adapter) authenticate(ctx context.Context, repo string) (string, error) {
	a.tokenMu.Lock()
	if tok, ok := a.tokens[repo]; ok {
		a.tokenMu.Unlock()
		return tok, nil
	}
	a.tokenMu.Unlock()

	probeURL := fmt.Sprintf("%s/%s/tags/list", a.apiBase(), repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.t.Client().Do(req)
	if err != nil {
		return "", fmt.Errorf("docker: probe %s: %w", probeURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		return "", nil // registry requires no auth (or rejects entirely; caller will surface that)
	}
	realm, service, scope, ok := parseWWWAuthenticate(resp.Header.Get("Www-Authenticate"))
	if !ok {
		return "", fmt.Errorf("docker: %s: unrecognized auth challenge", probeURL)
	}
	if scope == "" {
		scope = "repository:" + repo + ":pull"
	}

	tokenURL := realm + "?service=" + url.QueryEscape(service) + "&scope=" + url.QueryEscape(scope)
	body, err := a.t.GetJSON(ctx, tokenURL)
	if err != nil {
		return "", fmt.Errorf("docker: token exchange: %w", err)
	}
	var tr struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("docker: decode token response: %w", err)
	}
	tok := tr.Token
	if tok == "" {
		tok = tr.AccessToken
	}
	a.tokenMu.Lock()
	a.tokens[repo] = tok
	a.tokenMu.Unlock()
	return tok, nil
}

// parseWWWAuthenticate parses "Bearer realm=\"...\",service=\"...\",scope=\"...\"".
func parseWWWAuthenticate(h string) (realm, service, scope string, ok bool) {
	if !strings.HasPrefix(h, "Bearer ") {
		return "", "", "", false
	}
	for _, part := range strings.Split(strings.TrimPrefix(h, "Bearer "), ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		v := strings.Trim(kv[1], `"`)
		switch kv[0] {
		case "realm":
			realm = v
		case "service":
			service = v
		case "scope":
			scope = v
		}
	}
	return realm, service, scope, realm != ""
}

const (
	acceptIndex    = "application/vnd.oci.image.index.v1+json"
	acceptManifest = "application/vnd.oci.image.manifest.v1+json"
	acceptDockerML = "application/vnd.docker.distribution.manifest.list.v2+json"
	acceptDockerM  = "application/vnd.docker.distribution.manifest.v2+json"
)

func (a *Adapter) apiGet(ctx context.Context, repo, path, accept string) ([]byte, string, error) {
	tok, err := a.authenticate(ctx, repo)
	if err != nil {
		return nil, "", err
	}
	fullURL := fmt.Sprintf("%s/%s/%s", a.apiBase(), repo, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, "", err
	}
	if accept != "" {
		req.Header.Set("Accept", strings.Join([]string{accept, acceptIndex, acceptManifest, acceptDockerML, acceptDockerM}, ", "))
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := a.t.Client().Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("docker: GET %s: %w", fullURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("docker: GET %s: status %d", fullURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (a *Adapter) Search(ctx context.Context, query string, limit int) ([]resolve.SearchResult, error) {
	repo := a.repoName(query)
	body, _, err := a.apiGet(ctx, repo, "tags/list", "")
	if err != nil {
		return nil, nil
	}
	var tl struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(body, &tl); err != nil || len(tl.Tags) == 0 {
		return nil, nil
	}
	latest := tl.Tags[0]
	for _, t := range tl.Tags {
		if t == "latest" {
			latest = t
			break
		}
	}
	return []resolve.SearchResult{{Name: query, LatestVersion: latest}}, nil
}

func (a *Adapter) ListVersions(ctx context.Context, name string) ([]resolve.VersionInfo, error) {
	repo := a.repoName(name)
	key := cache.Key("docker", "tags", repo)
	body, err := a.c.GetOrFetch(ctx, key, cache.MutableTTL, func(ctx context.Context) ([]byte, error) {
		b, _, err := a.apiGet(ctx, repo, "tags/list", "")
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("docker: list versions of %s: %w", name, err)
	}
	var tl struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(body, &tl); err != nil {
		return nil, fmt.Errorf("docker: decode tags of %s: %w", name, err)
	}
	out := make([]resolve.VersionInfo, 0, len(tl.Tags))
	for _, t := range tl.Tags {
		out = append(out, resolve.VersionInfo{Version: t, IsAlias: t == "latest" || !looksSemverish(t)})
	}
	sort.Slice(out, func(i, j int) bool { return version.DockerTag.Compare(out[i].Version, out[j].Version) > 0 })
	return out, nil
}

// ociArch maps platform.Arch's canonical spelling onto the architecture
// vocabulary OCI manifest lists use (GOARCH-shaped: amd64, arm64, 386),
// which differs from platform.Arch.Normalize()'s x86_64/arm64 convention.
func ociArch(a platform.Arch) string {
	switch a {
	case platform.X86_64:
		return "amd64"
	case platform.Arm64:
		return "arm64"
	case platform.I386:
		return "386"
	case platform.ArmV7:
		return "arm"
	default:
		return string(a)
	}
}

func looksSemverish(tag string) bool {
	if tag == "" {
		return false
	}
	for _, c := range strings.TrimPrefix(tag, "v") {
		if (c < '0' || c > '9') && c != '.' {
			return false
		}
	}
	return true
}

// resolveManifest returns the platform-specific manifest for repo:tag under
// profile, together with its digest.
func (a *Adapter) resolveManifest(ctx context.Context, repo, tag string, profile platform.Profile) (specs.Manifest, digest.Digest, error) {
	body, contentType, err := a.apiGet(ctx, repo, "manifests/"+tag, acceptIndex)
	if err != nil {
		return specs.Manifest{}, "", err
	}
	if strings.Contains(contentType, "index") || strings.Contains(contentType, "manifest.list") {
		var idx specs.Index
		if err := json.Unmarshal(body, &idx); err != nil {
			return specs.Manifest{}, "", fmt.Errorf("docker: decode index: %w", err)
		}
		wantArch := ociArch(profile.DockerArch())
		wantOS := string(profile.OS)
		if wantOS == "" || wantOS == "any" {
			wantOS = "linux"
		}
		for _, m := range idx.Manifests {
			if m.Platform == nil {
				continue
			}
			if (wantArch == "" || m.Platform.Architecture == wantArch) && m.Platform.OS == wantOS {
				return a.fetchManifestByDigest(ctx, repo, m.Digest)
			}
		}
		return specs.Manifest{}, "", fmt.Errorf("%s:%s: %w", repo, tag, resolve.ErrNoCompatibleArtifact)
	}
	var m specs.Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return specs.Manifest{}, "", fmt.Errorf("docker: decode manifest: %w", err)
	}
	return m, digest.FromBytes(body), nil
}

func (a *Adapter) fetchManifestByDigest(ctx context.Context, repo string, dg digest.Digest) (specs.Manifest, digest.Digest, error) {
	body, _, err := a.apiGet(ctx, repo, "manifests/"+dg.String(), acceptManifest)
	if err != nil {
		return specs.Manifest{}, "", err
	}
	var m specs.Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return specs.Manifest{}, "", fmt.Errorf("docker: decode manifest %s: %w", dg, err)
	}
	return m, dg, nil
}

func sanitizeTag(name, tag string) string {
	name = strings.ReplaceAll(name, "/", "_")
	return fmt.Sprintf("%s_%s", name, tag)
}

func blobURL(apiBase, repo string, d digest.Digest) string {
	return fmt.Sprintf("%s/%s/blobs/%s", apiBase, repo, d.String())
}

// blobFileName is relative to the artifact's own directory (the fetch
// pipeline joins auxiliary FileNames against filepath.Dir(mainFileName),
// which already is dirName), so it must not repeat dirName itself.
func blobFileName(d digest.Digest) string {
	return fmt.Sprintf("blobs/%s/%s", d.Algorithm(), d.Encoded())
}

func (a *Adapter) SelectArtifact(ctx context.Context, name, ver string, profile platform.Profile) (resolve.ResolvedArtifact, error) {
	repo := a.repoName(name)
	m, _, err := a.resolveManifest(ctx, repo, ver, profile)
	if err != nil {
		return resolve.ResolvedArtifact{}, fmt.Errorf("docker: select %s:%s: %w", name, ver, err)
	}
	dirName := sanitizeTag(name, ver)

	aux := make([]resolve.AuxiliaryFile, 0, len(m.Layers)+1)
	aux = append(aux, resolve.AuxiliaryFile{
		Role:     "oci-config",
		URL:      blobURL(a.apiBase(), repo, m.Config.Digest),
		FileName: blobFileName(m.Config.Digest),
		ByteSize: m.Config.Size,
		Digest:   m.Config.Digest.String(),
	})
	var totalSize int64 = m.Config.Size
	for _, l := range m.Layers {
		aux = append(aux, resolve.AuxiliaryFile{
			Role:     "oci-layer",
			URL:      blobURL(a.apiBase(), repo, l.Digest),
			FileName: blobFileName(l.Digest),
			ByteSize: l.Size,
			Digest:   l.Digest.String(),
		})
		totalSize += l.Size
	}

	purl := packageurl.NewPackageURL("docker", "", name, ver,
		packageurl.QualifiersFromMap(map[string]string{"repository_url": a.host()}), "").ToString()

	return resolve.ResolvedArtifact{
		VersionKey: resolve.VersionKey{
			PackageKey:   resolve.PackageKey{System: resolve.Docker, Name: name},
			Version:      ver,
			Architecture: string(profile.DockerArch()),
		},
		FetchURL:   fmt.Sprintf("%s/%s/manifests/%s", a.apiBase(), repo, ver),
		FileName:   dirName + "/manifest.json",
		ByteSize:   totalSize,
		Auxiliary:  aux,
		Origin:     resolve.RepositoryDescriptor{Name: "docker:" + a.host(), BaseURL: a.apiBase()},
		PackageURL: purl,
	}, nil
}

// Dependencies always returns nil for Docker: layers are auxiliary files on
// the artifact, fetched as part of it, not graph edges (spec.md §4.1.8).
func (a *Adapter) Dependencies(ctx context.Context, artifact resolve.ResolvedArtifact) ([]resolve.RequirementVersion, error) {
	return nil, nil
}

