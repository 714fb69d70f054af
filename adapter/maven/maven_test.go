package maven

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"bundle.dev/core/cache"
	"bundle.dev/core/platform"
	"bundle.dev/core/resolve"
	"bundle.dev/core/transport"
)

const metadataXML = `<?xml version="1.0"?>
<metadata>
  <groupId>org.springframework</groupId>
  <artifactId>spring-core</artifactId>
  <versioning>
    <latest>5.3.0</latest>
    <release>5.3.0</release>
    <versions>
      <version>5.2.0</version>
      <version>5.3.0</version>
    </versions>
  </versioning>
</metadata>`

func newTestAdapter(t *testing.T, handler http.Handler) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := cache.New(t.TempDir(), 16)
	if err != nil {
		t.Fatal(err)
	}
	return New(transport.New(), c, srv.URL), srv
}

func TestListVersions(t *testing.T) {
	a, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/org/springframework/spring-core/maven-metadata.xml" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(metadataXML))
	}))

	versions, err := a.ListVersions(context.Background(), "org.springframework:spring-core")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].Version != "5.3.0" {
		t.Errorf("expected newest-first ordering, got %v", versions)
	}
}

func TestListVersionsRejectsBadCoordinate(t *testing.T) {
	a, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	if _, err := a.ListVersions(context.Background(), "not-a-coordinate"); err == nil {
		t.Fatal("expected an error for a name without a groupId:artifactId separator")
	}
}

func TestSelectArtifact(t *testing.T) {
	a, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	art, err := a.SelectArtifact(context.Background(), "org.springframework:spring-core", "5.3.0", platform.Profile{})
	if err != nil {
		t.Fatalf("SelectArtifact: %v", err)
	}
	if art.FileName != "spring-core-5.3.0.jar" {
		t.Errorf("FileName = %q, want spring-core-5.3.0.jar", art.FileName)
	}
	if art.System != resolve.Maven || art.Name != "org.springframework:spring-core" || art.Version != "5.3.0" {
		t.Errorf("unexpected VersionKey: %+v", art.VersionKey)
	}
	if len(art.Auxiliary) != 3 {
		t.Fatalf("expected pom/jar.sha1/pom.sha1 auxiliary files, got %d", len(art.Auxiliary))
	}
	roles := map[string]bool{}
	for _, aux := range art.Auxiliary {
		roles[aux.Role] = true
	}
	for _, want := range []string{"pom", "jar.sha1", "pom.sha1"} {
		if !roles[want] {
			t.Errorf("missing auxiliary role %q", want)
		}
	}
	if art.PackageURL == "" {
		t.Error("expected a non-empty PackageURL")
	}
}
