/*
Package rpc implements the Bundle Engine's external RPC surface, per spec.md
§6: resolve, download.start/cancel/checkPath/clearPath, search,
listVersions, cache.stats/clear. The surface is "logical" per the spec — a
caller can drive a Service directly as an in-process library (cmd/bundle
does, printing download.start's SSE frames to stdout), or a thin transport
layer can expose it over localhost HTTP/SSE — so
Service itself knows nothing about wire framing beyond the SSE event
encoding download.start produces.

Every endpoint takes a config.Config that carries the options a caller
supplied for that one call (registries, distributions, concurrency, output
location); Service holds only what's genuinely session-independent: the
shared Transport and Cache Store, the Prometheus registry, and the table of
in-flight download sessions.
*/
package rpc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"bundle.dev/core/cache"
	"bundle.dev/core/config"
	"bundle.dev/core/logging"
	"bundle.dev/core/platform"
	"bundle.dev/core/resolve"
	"bundle.dev/core/transport"

	"bundle.dev/core/adapter/apk"
	"bundle.dev/core/adapter/apt"
	"bundle.dev/core/adapter/conda"
	"bundle.dev/core/adapter/docker"
	"bundle.dev/core/adapter/maven"
	"bundle.dev/core/adapter/npm"
	"bundle.dev/core/adapter/pip"
	"bundle.dev/core/adapter/yum"
)

var log = logging.For("rpc")

// Service is the engine's RPC façade. The zero value is not usable; build
// one with NewService.
type Service struct {
	transport *transport.Transport
	cache     *cache.Store
	metrics   *metrics

	mu       sync.Mutex
	sessions map[string]*downloadSession // keyed by clientId
}

// NewService builds a Service sharing t and c across every call, per
// spec.md §5's "the Cache Store is shared" rule.
func NewService(t *transport.Transport, c *cache.Store) *Service {
	return &Service{
		transport: t,
		cache:     c,
		metrics:   newMetrics(),
		sessions:  make(map[string]*downloadSession),
	}
}

// adapters builds the set of resolve.Adapters a config.Config's registry
// and distribution options select, one fresh Adapter per ecosystem per
// call (adapters are cheap value holders over the shared Transport/Cache,
// per each ecosystem's own New constructor).
func (s *Service) adapters(cfg config.Config) []resolve.Adapter {
	yumBase, yumArch := distributionBaseURL(resolve.Yum, cfg.YumDistribution)
	aptBase, aptSuite, aptArch := aptRepository(cfg.AptDistribution)
	apkBase, apkArch := distributionBaseURL(resolve.Apk, cfg.ApkDistribution)

	return []resolve.Adapter{
		pip.New(s.transport, s.cache, cfg.Profile()),
		npm.New(s.transport, s.cache, "https://registry.npmjs.org"),
		conda.New(s.transport, s.cache, orDefault(cfg.CondaChannel, "conda-forge")),
		maven.New(s.transport, s.cache, "https://repo1.maven.org/maven2"),
		yum.New(s.transport, s.cache, yumBase, yumArch),
		apt.New(s.transport, s.cache, aptBase, aptSuite, []string{"main"}, aptArch),
		apk.New(s.transport, s.cache, apkBase, apkArch),
		docker.New(s.transport, s.cache, orDefault(cfg.DockerRegistry, "docker.io"), cfg.DockerCustomRegistry),
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// distributionBaseURL resolves a platform.Distribution into the public
// mirror base-URL for the yum/apk repository layouts those adapters expect,
// defaulting to a well-known distribution when ID is unset so a Config that
// never mentions yum/apk still resolves against something.
func distributionBaseURL(sys resolve.System, d platform.Distribution) (base, arch string) {
	arch = orDefault(d.Architecture, "x86_64")
	switch sys {
	case resolve.Yum:
		id := orDefault(d.ID, "rocky9")
		return fmt.Sprintf("https://dl.rockylinux.org/pub/rocky/%s/BaseOS/$basearch/os", rockyVersion(id)), arch
	case resolve.Apk:
		id := orDefault(d.ID, "v3.19")
		return fmt.Sprintf("https://dl-cdn.alpinelinux.org/alpine/%s/main", id), arch
	default:
		return "", arch
	}
}

func rockyVersion(id string) string {
	if id == "" {
		return "9"
	}
	return id
}

// aptRepository resolves an apt Distribution into deb.debian.org's
// base/suite/arch triple.
func aptRepository(d platform.Distribution) (base, suite, arch string) {
	return "https://deb.debian.org/debian", orDefault(d.ID, "bookworm"), orDefault(d.Architecture, "amd64")
}

// newResolver builds a resolve.Resolver scoped to one call's profile and
// adapter set.
func (s *Service) newResolver(cfg config.Config) *resolve.Resolver {
	return resolve.NewResolver(cfg.Profile(), s.adapters(cfg), 4)
}

// ResolveResult is the `resolve` endpoint's result shape, per spec.md §6.
type ResolveResult struct {
	OriginalPackages []resolve.PackageRequest    `json:"originalPackages"`
	AllPackages      []resolve.ResolvedArtifact  `json:"allPackages"`
	DependencyTrees  []*resolve.DependencyTree   `json:"dependencyTrees"`
	FailedPackages   []resolve.FailedPackage     `json:"failedPackages"`
}

// Resolve implements the `resolve` endpoint: expand packages into full
// dependency trees under cfg's platform profile and resolve options.
func (s *Service) Resolve(ctx context.Context, packages []resolve.PackageRequest, opts resolve.ResolveOptions, cfg config.Config) (*ResolveResult, error) {
	trees, err := s.newResolver(cfg).Resolve(ctx, packages, opts)
	if err != nil {
		return nil, err
	}
	var flat []resolve.ResolvedArtifact
	var failed []resolve.FailedPackage
	if len(trees) > 0 {
		flat = trees[0].FlatList
		failed = trees[0].FailedPackages
		s.metrics.conflicts.Add(float64(len(trees[0].Conflicts)))
	}
	return &ResolveResult{
		OriginalPackages: packages,
		AllPackages:      flat,
		DependencyTrees:  trees,
		FailedPackages:   failed,
	}, nil
}

// SearchResultSet is the `search` endpoint's result shape.
type SearchResultSet struct {
	Results []resolve.SearchResult `json:"results"`
}

// Search implements the `search` endpoint for one ecosystem.
func (s *Service) Search(ctx context.Context, sys resolve.System, query string, limit int, cfg config.Config) (*SearchResultSet, error) {
	a, err := s.adapterFor(sys, cfg)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 25
	}
	results, err := a.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search %s %q: %w", sys, query, classifyEndpointErr(err))
	}
	return &SearchResultSet{Results: results}, nil
}

// ListVersions implements the `listVersions` endpoint.
func (s *Service) ListVersions(ctx context.Context, sys resolve.System, name string, cfg config.Config) ([]string, error) {
	a, err := s.adapterFor(sys, cfg)
	if err != nil {
		return nil, err
	}
	infos, err := a.ListVersions(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s %s: %w", sys, name, classifyEndpointErr(err))
	}
	versions := make([]string, len(infos))
	for i, v := range infos {
		versions[i] = v.Version
	}
	return versions, nil
}

// classifyEndpointErr normalizes a raw adapter error from a direct
// Search/ListVersions call (outside the resolver's own classification) into
// the spec.md §7 taxonomy, so a caller across the RPC boundary can
// errors.Is(err, resolve.ErrIndexUnavailable)/ErrCancelled regardless of
// which ecosystem's adapter produced the failure.
func classifyEndpointErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", resolve.ErrCancelled, err)
	}
	for _, sentinel := range []error{resolve.ErrNotFound, resolve.ErrRequestInvalid, resolve.ErrNoCompatibleArtifact, resolve.ErrIndexUnavailable, resolve.ErrFetchFailed, resolve.ErrCancelled} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", resolve.ErrIndexUnavailable, err)
}

func (s *Service) adapterFor(sys resolve.System, cfg config.Config) (resolve.Adapter, error) {
	for _, a := range s.adapters(cfg) {
		if a.System() == sys {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: no adapter for %s", resolve.ErrRequestInvalid, sys)
}

// CheckPathResult is the `download.checkPath` result shape.
type CheckPathResult struct {
	Exists    bool  `json:"exists"`
	FileCount int   `json:"fileCount"`
	TotalSize int64 `json:"totalSize"`
}

// CheckPath implements `download.checkPath`.
func (s *Service) CheckPath(outputDir string) (*CheckPathResult, error) {
	res := &CheckPathResult{}
	err := filepath.WalkDir(outputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		res.FileCount++
		res.TotalSize += info.Size()
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return nil, err
	}
	res.Exists = true
	return res, nil
}

// ClearPath implements `download.clearPath`.
func (s *Service) ClearPath(outputDir string) (deleted bool, err error) {
	if _, err := os.Stat(outputDir); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if err := os.RemoveAll(outputDir); err != nil {
		return false, err
	}
	return true, nil
}

// CacheStatsResult is the `cache.stats` result shape.
type CacheStatsResult struct {
	TotalSize  int64       `json:"totalSize"`
	EntryCount int         `json:"entryCount"`
	Details    cache.Stats `json:"details"`
}

// CacheStats implements `cache.stats`.
func (s *Service) CacheStats() (*CacheStatsResult, error) {
	stats, err := s.cache.Stats()
	if err != nil {
		return nil, err
	}
	s.metrics.cacheHitRatio.Set(hitRatio(stats))
	return &CacheStatsResult{TotalSize: stats.DiskBytes, EntryCount: stats.EntryCount, Details: stats}, nil
}

// CacheClear implements `cache.clear`.
func (s *Service) CacheClear() (success bool, err error) {
	if err := s.cache.Clear(); err != nil {
		return false, err
	}
	return true, nil
}

func hitRatio(stats cache.Stats) float64 {
	total := stats.Hits + stats.Misses
	if total == 0 {
		return 0
	}
	return float64(stats.Hits) / float64(total)
}

// newClientID mints a clientId when a caller starts a download without
// supplying one, per spec.md §6's "all requests carry a clientId" — callers
// that already hold one pass it to DownloadStart instead.
func newClientID() string {
	return uuid.NewString()
}
