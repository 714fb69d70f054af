package yum

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

const repomdXML = `<?xml version="1.0"?>
<repomd>
  <data type="primary">
    <location href="repodata/primary.xml.gz"/>
  </data>
</repomd>`

const primaryXMLBody = `<?xml version="1.0"?>
<metadata>
  <package type="rpm">
    <name>curl</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="7.88.1" rel="1"/>
    <checksum type="sha256">abc</checksum>
    <size package="12345"/>
    <location href="Packages/c/curl-7.88.1-1.x86_64.rpm"/>
    <format>
      <rpm:requires xmlns:rpm="http://linux.duke.edu/metadata/rpm">
        <rpm:entry name="libcurl" flags="EQ" ver="7.88.1"/>
      </rpm:requires>
    </format>
  </package>
</metadata>`

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
		switch r.URL.Path {
		case "/repodata/repomd.xml":
			w.Write([]byte(repomdXML))
		case "/repodata/primary.xml.gz":
			w.Write(gzipBytes(t, primaryXMLBody))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	c, err := cache.New(t.TempDir(), 16)
	if err != nil {
		t.Fatal(err)
	}
	return New(transport.New(), c, srv.URL, "x86_64")
}

func TestYumListVersions(t *testing.T) {
	a := newTestAdapter(t)
	versions, err := a.ListVersions(context.Background(), "curl")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 || versions[0].Version != "7.88.1-1" {
		t.Fatalf("ListVersions = %+v, want [{7.88.1-1}]", versions)
	}
}

func TestYumSelectArtifactAndDependencies(t *testing.T) {
	a := newTestAdapter(t)
	art, err := a.SelectArtifact(context.Background(), "curl", "7.88.1-1", platform.Profile{})
	if err != nil {
		t.Fatalf("SelectArtifact: %v", err)
	}
	if art.ByteSize != 12345 {
		t.Errorf("ByteSize = %d, want 12345", art.ByteSize)
	}
	deps, err := a.Dependencies(context.Background(), art)
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if len(deps) != 1 || deps[0].Name != "libcurl" {
		t.Fatalf("Dependencies = %+v, want one edge to libcurl", deps)
	}
}
