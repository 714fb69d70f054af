package assemble

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bundle.dev/core/config"
	"bundle.dev/core/resolve"
)

// writeFake lays down src under destDir/packages/rel so the overlays (which
// only ever read already-fetched files) have something to copy, mirroring
// what fetch.Pipeline would have written.
func writeFake(t *testing.T, destDir, rel, body string) {
	t.Helper()
	p := filepath.Join(destDir, "packages", rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestEnsureEmpty(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "bundle")
	a := New(out)
	if err := a.EnsureEmpty(false); err != nil {
		t.Fatalf("fresh dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(out, "leftover"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := a.EnsureEmpty(false); err == nil {
		t.Fatal("expected error for non-empty dir without force")
	}
	if err := a.EnsureEmpty(true); err != nil {
		t.Fatalf("force: %v", err)
	}
}

func TestAssembleDirectory(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "bundle")
	a := New(out)
	if err := a.EnsureEmpty(false); err != nil {
		t.Fatal(err)
	}

	mavenArt := resolve.ResolvedArtifact{
		VersionKey: resolve.VersionKey{
			PackageKey: resolve.PackageKey{System: resolve.Maven, Name: "org.springframework:spring-core"},
			Version:    "5.3.0",
		},
		FileName: "org.springframework_spring-core/spring-core-5.3.0.jar",
		ByteSize: 4,
		IsRoot:   true,
		Auxiliary: []resolve.AuxiliaryFile{
			{Role: "pom", FileName: "spring-core-5.3.0.pom"},
		},
	}
	aptArt := resolve.ResolvedArtifact{
		VersionKey: resolve.VersionKey{
			PackageKey:   resolve.PackageKey{System: resolve.Apt, Name: "curl"},
			Version:      "7.88.1-1",
			Architecture: "amd64",
		},
		FileName: "curl/curl_7.88.1-1_amd64.deb",
		ByteSize: 3,
		Digest:   "abc123",
		IsRoot:   true,
	}

	writeFake(t, out, mavenArt.FileName, "jar!")
	writeFake(t, out, "org.springframework_spring-core/spring-core-5.3.0.pom", "<pom/>")
	writeFake(t, out, aptArt.FileName, "deb")

	cfg := config.Defaults()
	cfg.OutputDir = out
	cfg.OutputFormat = config.FormatDirectory

	outPath, err := a.Assemble(context.Background(), []resolve.ResolvedArtifact{mavenArt, aptArt}, cfg)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if outPath != out {
		t.Fatalf("directory format should return destDir unchanged, got %s", outPath)
	}

	jarPath := filepath.Join(out, "packages", "m2repo", "org", "springframework", "spring-core", "5.3.0", "spring-core-5.3.0.jar")
	if _, err := os.Stat(jarPath); err != nil {
		t.Errorf("maven overlay jar missing: %v", err)
	}
	pomPath := filepath.Join(out, "packages", "m2repo", "org", "springframework", "spring-core", "5.3.0", "spring-core-5.3.0.pom")
	if _, err := os.Stat(pomPath); err != nil {
		t.Errorf("maven overlay pom missing: %v", err)
	}

	debPath := filepath.Join(out, "packages", "repo", "curl_7.88.1-1_amd64.deb")
	if _, err := os.Stat(debPath); err != nil {
		t.Errorf("apt overlay deb missing: %v", err)
	}
	packagesFile := filepath.Join(out, "packages", "repo", "Packages")
	body, err := os.ReadFile(packagesFile)
	if err != nil {
		t.Fatalf("Packages: %v", err)
	}
	if !strings.Contains(string(body), "Package: curl") || !strings.Contains(string(body), "Version: 7.88.1-1") {
		t.Errorf("Packages missing expected stanza: %s", body)
	}
	if _, err := os.Stat(filepath.Join(out, "packages", "repo", "Packages.gz")); err != nil {
		t.Errorf("Packages.gz missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "packages", "repo", "Release")); err != nil {
		t.Errorf("Release missing: %v", err)
	}

	manifestBody, err := os.ReadFile(filepath.Join(out, "manifest.json"))
	if err != nil {
		t.Fatalf("manifest.json: %v", err)
	}
	var m bundleManifest
	if err := json.Unmarshal(manifestBody, &m); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if len(m.Artifacts) != 2 {
		t.Fatalf("expected 2 manifest entries, got %d", len(m.Artifacts))
	}

	sh, err := os.ReadFile(filepath.Join(out, "install.sh"))
	if err != nil {
		t.Fatalf("install.sh: %v", err)
	}
	if !strings.Contains(string(sh), "mvn -Dmaven.repo.local=./packages/m2repo install") {
		t.Errorf("install.sh missing maven command: %s", sh)
	}
	if !strings.Contains(string(sh), "apt install -y ./packages/repo/*.deb") {
		t.Errorf("install.sh missing apt command: %s", sh)
	}
}

func TestAssembleZip(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "bundle")
	a := New(out)
	if err := a.EnsureEmpty(false); err != nil {
		t.Fatal(err)
	}

	art := resolve.ResolvedArtifact{
		VersionKey: resolve.VersionKey{PackageKey: resolve.PackageKey{System: resolve.Pip, Name: "requests"}, Version: "2.31.0"},
		FileName:   "requests-2.31.0-py3-none-any.whl",
		ByteSize:   5,
		IsRoot:     true,
	}
	writeFake(t, out, art.FileName, "whl!!")

	cfg := config.Defaults()
	cfg.OutputDir = out
	cfg.OutputFormat = config.FormatZip
	cfg.IncludeScripts = false

	outPath, err := a.Assemble(context.Background(), []resolve.ResolvedArtifact{art}, cfg)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if outPath != out+".zip" {
		t.Fatalf("expected %s.zip, got %s", out, outPath)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("zip not written: %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("source directory should be removed after zipping, stat err=%v", err)
	}
}

func TestAssembleTarXz(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "bundle")
	a := New(out)
	if err := a.EnsureEmpty(false); err != nil {
		t.Fatal(err)
	}

	art := resolve.ResolvedArtifact{
		VersionKey: resolve.VersionKey{PackageKey: resolve.PackageKey{System: resolve.Pip, Name: "requests"}, Version: "2.31.0"},
		FileName:   "requests-2.31.0-py3-none-any.whl",
		ByteSize:   5,
		IsRoot:     true,
	}
	writeFake(t, out, art.FileName, "whl!!")

	cfg := config.Defaults()
	cfg.OutputDir = out
	cfg.OutputFormat = config.FormatTarXz
	cfg.IncludeScripts = false

	outPath, err := a.Assemble(context.Background(), []resolve.ResolvedArtifact{art}, cfg)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if outPath != out+".tar.xz" {
		t.Fatalf("expected %s.tar.xz, got %s", out, outPath)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("tar.xz not written: %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("source directory should be removed after tar.xz packaging, stat err=%v", err)
	}
}
