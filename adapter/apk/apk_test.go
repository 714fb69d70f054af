package apk

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"

	"bundle.dev/core/cache"
	"bundle.dev/core/platform"
	"bundle.dev/core/transport"
)

const apkindexBody = `P:busybox
V:1.36.1-r15
D:so:libc.musl-x86_64.so.1
S:853632
C:Q1abc123

P:curl
V:8.5.0-r0
D:busybox so:libcurl.so.4
S:120000
C:Q1def456

`

func buildIndexArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	body := []byte(apkindexBody)
	if err := tw.WriteHeader(&tar.Header{Name: "APKINDEX", Size: int64(len(body)), Mode: 0o644}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	archive := buildIndexArchive(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/x86_64/APKINDEX.tar.gz" {
			http.NotFound(w, r)
			return
		}
		w.Write(archive)
	}))
	t.Cleanup(srv.Close)
	c, err := cache.New(t.TempDir(), 16)
	if err != nil {
		t.Fatal(err)
	}
	return New(transport.New(), c, srv.URL, "x86_64")
}

func TestApkListVersions(t *testing.T) {
	a := newTestAdapter(t)
	versions, err := a.ListVersions(context.Background(), "curl")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 || versions[0].Version != "8.5.0-r0" {
		t.Fatalf("ListVersions = %+v", versions)
	}
}

func TestApkSelectArtifactAndDependencies(t *testing.T) {
	a := newTestAdapter(t)
	art, err := a.SelectArtifact(context.Background(), "curl", "8.5.0-r0", platform.Profile{})
	if err != nil {
		t.Fatalf("SelectArtifact: %v", err)
	}
	if art.FileName != "curl-8.5.0-r0.apk" {
		t.Errorf("FileName = %q", art.FileName)
	}
	if art.ByteSize != 120000 {
		t.Errorf("ByteSize = %d, want 120000", art.ByteSize)
	}

	deps, err := a.Dependencies(context.Background(), art)
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if len(deps) != 1 || deps[0].Name != "busybox" {
		t.Fatalf("Dependencies = %+v, want a single edge to busybox (so: dep filtered out)", deps)
	}
}

func TestApkSearch(t *testing.T) {
	a := newTestAdapter(t)
	results, err := a.Search(context.Background(), "cur", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Name != "curl" {
		t.Fatalf("Search = %+v", results)
	}
}
