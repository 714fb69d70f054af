package apt

import (
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

const packagesBody = `Package: curl
Version: 7.88.1-10+deb12u5
Filename: pool/main/c/curl/curl_7.88.1-10+deb12u5_amd64.deb
Size: 307788
SHA256: abc123
Depends: libc6 (>= 2.36), libcurl4 (= 7.88.1-10+deb12u5)
Description: command line tool for transferring data with URL syntax

`

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dists/bookworm/main/binary-amd64/Packages.gz" {
			http.NotFound(w, r)
			return
		}
		w.Write(gzipBytes(t, packagesBody))
	}))
	t.Cleanup(srv.Close)
	c, err := cache.New(t.TempDir(), 16)
	if err != nil {
		t.Fatal(err)
	}
	return New(transport.New(), c, srv.URL, "bookworm", []string{"main"}, "amd64")
}

func TestAptListVersions(t *testing.T) {
	a := newTestAdapter(t)
	versions, err := a.ListVersions(context.Background(), "curl")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 || versions[0].Version != "7.88.1-10+deb12u5" {
		t.Fatalf("ListVersions = %+v", versions)
	}
}

func TestAptSelectArtifactAndDependencies(t *testing.T) {
	a := newTestAdapter(t)
	art, err := a.SelectArtifact(context.Background(), "curl", "7.88.1-10+deb12u5", platform.Profile{})
	if err != nil {
		t.Fatalf("SelectArtifact: %v", err)
	}
	if art.FileName != "curl_7.88.1-10+deb12u5_amd64.deb" {
		t.Errorf("FileName = %q", art.FileName)
	}
	if art.ByteSize != 307788 {
		t.Errorf("ByteSize = %d, want 307788", art.ByteSize)
	}

	deps, err := a.Dependencies(context.Background(), art)
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	names := map[string]bool{}
	for _, d := range deps {
		names[d.Name] = true
	}
	if !names["libc6"] || !names["libcurl4"] {
		t.Errorf("Dependencies = %+v, want libc6 and libcurl4", deps)
	}
}

func TestAptSearch(t *testing.T) {
	a := newTestAdapter(t)
	results, err := a.Search(context.Background(), "curl", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Name != "curl" {
		t.Fatalf("Search = %+v", results)
	}
}
