package rpc

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"bundle.dev/core/cache"
	"bundle.dev/core/config"
	"bundle.dev/core/platform"
	"bundle.dev/core/resolve"
	"bundle.dev/core/transport"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	c, err := cache.New(t.TempDir(), 16)
	if err != nil {
		t.Fatal(err)
	}
	return NewService(transport.New(), c)
}

func TestCheckPathMissing(t *testing.T) {
	svc := newTestService(t)
	res, err := svc.CheckPath(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("CheckPath: %v", err)
	}
	if res.Exists {
		t.Error("expected Exists=false for a missing directory")
	}
}

func TestCheckPathAndClearPath(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()
	bundle := filepath.Join(dir, "bundle")
	if err := os.MkdirAll(bundle, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bundle, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bundle, "b.txt"), []byte("worldly"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := svc.CheckPath(bundle)
	if err != nil {
		t.Fatalf("CheckPath: %v", err)
	}
	if !res.Exists || res.FileCount != 2 || res.TotalSize != int64(len("hello")+len("worldly")) {
		t.Errorf("CheckPath = %+v, want exists with 2 files totaling 12 bytes", res)
	}

	deleted, err := svc.ClearPath(bundle)
	if err != nil {
		t.Fatalf("ClearPath: %v", err)
	}
	if !deleted {
		t.Error("expected ClearPath to report deleted=true")
	}
	if _, err := os.Stat(bundle); !os.IsNotExist(err) {
		t.Errorf("bundle directory should be gone, stat err=%v", err)
	}

	deleted, err = svc.ClearPath(bundle)
	if err != nil {
		t.Fatalf("ClearPath on already-missing dir: %v", err)
	}
	if deleted {
		t.Error("ClearPath on a missing directory should report deleted=false")
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	svc := newTestService(t)
	if err := svc.cache.Put(cache.Key("x"), []byte("payload"), cache.MutableTTL); err != nil {
		t.Fatal(err)
	}
	stats, err := svc.CacheStats()
	if err != nil {
		t.Fatalf("CacheStats: %v", err)
	}
	if stats.EntryCount != 1 {
		t.Errorf("EntryCount = %d, want 1", stats.EntryCount)
	}

	ok, err := svc.CacheClear()
	if err != nil {
		t.Fatalf("CacheClear: %v", err)
	}
	if !ok {
		t.Error("expected CacheClear success=true")
	}
	stats, err = svc.CacheStats()
	if err != nil {
		t.Fatalf("CacheStats after clear: %v", err)
	}
	if stats.EntryCount != 0 {
		t.Errorf("EntryCount after clear = %d, want 0", stats.EntryCount)
	}
}

func TestAdaptersCoverEveryEcosystem(t *testing.T) {
	svc := newTestService(t)
	cfg := config.Defaults()
	adapters := svc.adapters(cfg)
	var got []string
	for _, a := range adapters {
		got = append(got, a.System().String())
	}
	sort.Strings(got)

	want := []string{
		resolve.Apk.String(), resolve.Apt.String(), resolve.Conda.String(),
		resolve.Docker.String(), resolve.Maven.String(), resolve.NPM.String(),
		resolve.Pip.String(), resolve.Yum.String(),
	}
	sort.Strings(want)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("adapters().System() set mismatch (-want +got):\n%s", diff)
	}
}

func TestDistributionBaseURLDefaults(t *testing.T) {
	base, arch := distributionBaseURL(resolve.Yum, platform.Distribution{})
	if arch != "x86_64" {
		t.Errorf("default yum arch = %q, want x86_64", arch)
	}
	if base == "" {
		t.Error("expected a non-empty default yum base URL")
	}

	base, arch = distributionBaseURL(resolve.Apk, platform.Distribution{ID: "v3.20", Architecture: "aarch64"})
	if arch != "aarch64" {
		t.Errorf("apk arch override not respected: got %q", arch)
	}
	if base == "" || !contains(base, "v3.20") {
		t.Errorf("apk base URL %q should include the requested branch v3.20", base)
	}
}

func TestAptRepositoryDefaults(t *testing.T) {
	base, suite, arch := aptRepository(platform.Distribution{})
	if base == "" || suite != "bookworm" || arch != "amd64" {
		t.Errorf("aptRepository defaults = (%q,%q,%q)", base, suite, arch)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
