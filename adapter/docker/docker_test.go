package docker

import (
	"fmt"
	"testing"

	digest "github.com/opencontainers/go-digest"

	"bundle.dev/core/platform"
)

func TestParseWWWAuthenticate(t *testing.T) {
	cases := []struct {
		header                        string
		wantRealm, wantService, wantScope string
		wantOK                        bool
	}{
		{
			header:      `Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:library/nginx:pull"`,
			wantRealm:   "https://auth.docker.io/token",
			wantService: "registry.docker.io",
			wantScope:   "repository:library/nginx:pull",
			wantOK:      true,
		},
		{
			header:    `Basic realm="foo"`,
			wantOK:    false,
		},
		{
			header: "",
			wantOK: false,
		},
	}
	for _, c := range cases {
		realm, service, scope, ok := parseWWWAuthenticate(c.header)
		if ok != c.wantOK {
			t.Errorf("parseWWWAuthenticate(%q) ok = %v, want %v", c.header, ok, c.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if realm != c.wantRealm || service != c.wantService || scope != c.wantScope {
			t.Errorf("parseWWWAuthenticate(%q) = (%q,%q,%q), want (%q,%q,%q)",
				c.header, realm, service, scope, c.wantRealm, c.wantService, c.wantScope)
		}
	}
}

func TestOciArch(t *testing.T) {
	cases := map[platform.Arch]string{
		platform.X86_64: "amd64",
		platform.Arm64:  "arm64",
		platform.I386:   "386",
		platform.ArmV7:  "arm",
		platform.NoArch: "noarch",
	}
	for in, want := range cases {
		if got := ociArch(in); got != want {
			t.Errorf("ociArch(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeTag(t *testing.T) {
	got := sanitizeTag("library/nginx", "1.25")
	want := "library_nginx_1.25"
	if got != want {
		t.Errorf("sanitizeTag = %q, want %q", got, want)
	}
}

func TestBlobFileNameNotDoubleNested(t *testing.T) {
	d := digest.FromString("layer-bytes")
	got := blobFileName(d)
	want := fmt.Sprintf("blobs/%s/%s", d.Algorithm(), d.Encoded())
	if got != want {
		t.Errorf("blobFileName = %q, want %q (must not repeat the artifact's own directory)", got, want)
	}
}

func TestLooksSemverish(t *testing.T) {
	cases := map[string]bool{
		"1.25":    true,
		"v1.25.3": true,
		"latest":  false,
		"sha-abc": false,
		"":        false,
	}
	for in, want := range cases {
		if got := looksSemverish(in); got != want {
			t.Errorf("looksSemverish(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRepoNameAndHost(t *testing.T) {
	a := New(nil, nil, "docker.io", "")
	if got := a.repoName("nginx"); got != "library/nginx" {
		t.Errorf("repoName(nginx) = %q, want library/nginx", got)
	}
	if got := a.repoName("myorg/app"); got != "myorg/app" {
		t.Errorf("repoName(myorg/app) = %q, want myorg/app", got)
	}
	if got := a.host(); got != "registry-1.docker.io" {
		t.Errorf("host() = %q, want registry-1.docker.io", got)
	}

	custom := New(nil, nil, "custom", "registry.internal:5000")
	if got := custom.host(); got != "registry.internal:5000" {
		t.Errorf("custom host() = %q, want registry.internal:5000", got)
	}
	if got := custom.repoName("app"); got != "app" {
		t.Errorf("custom registry should not add library/ prefix, got %q", got)
	}
}
