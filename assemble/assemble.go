/*
Package assemble implements the Bundle Assembler, spec.md §4.4: once every
artifact in a session's flat closure has reached a terminal fetch state, it
lays the already-downloaded files (under destDir/packages, placed there by
fetch.Pipeline using each ResolvedArtifact's FileName) into the output
bundle: a flat layout (always present), ecosystem-idiomatic overlays for
Maven/yum/apt/Docker, a bundle-wide manifest.json, optional install
scripts, and optional zip/tar-gz packaging of the finished tree.

The Assembler never talks to the network: everything it touches was
already fetched. It owns the output directory from the point fetches
finish until the session reports complete (spec.md §3's "Lifecycle").
*/
package assemble

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"bundle.dev/core/config"
	"bundle.dev/core/logging"
	"bundle.dev/core/resolve"
)

var log = logging.For("assemble")

// Assembler lays a session's fetched artifacts into destDir's final shape.
type Assembler struct {
	destDir string
}

// New creates an Assembler rooted at destDir, the same directory
// fetch.Pipeline downloaded into.
func New(destDir string) *Assembler {
	return &Assembler{destDir: destDir}
}

// EnsureEmpty refuses to proceed if destDir exists and is non-empty,
// per spec.md §5's "owned exclusively by one session" rule, unless the
// caller has already acknowledged overwrite (force).
func (a *Assembler) EnsureEmpty(force bool) error {
	entries, err := os.ReadDir(a.destDir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(a.destDir, 0o755)
		}
		return fmt.Errorf("assemble: stat %s: %w", a.destDir, err)
	}
	if len(entries) > 0 && !force {
		return fmt.Errorf("assemble: %s is not empty (pass force to overwrite)", a.destDir)
	}
	return nil
}

// Assemble materializes the complete output bundle for the given
// artifacts, per spec.md §4.4. cfg controls whether install scripts are
// generated and what final packaging format (if any) is applied.
func (a *Assembler) Assemble(ctx context.Context, artifacts []resolve.ResolvedArtifact, cfg config.Config) (string, error) {
	resolve.SortArtifacts(artifacts)

	if err := a.writeManifest(artifacts); err != nil {
		return "", fmt.Errorf("assemble: manifest: %w", err)
	}

	overlays := []struct {
		name string
		fn   func() error
	}{
		{"maven", func() error { return a.buildMavenOverlay(artifacts) }},
		{"yum", func() error { return a.buildYumOverlay(artifacts) }},
		{"apt", func() error { return a.buildAptOverlay(artifacts) }},
		{"docker", func() error { return a.buildDockerOverlay(artifacts) }},
	}
	for _, ov := range overlays {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err := ov.fn(); err != nil {
			return "", fmt.Errorf("assemble: %s overlay: %w", ov.name, err)
		}
	}

	if cfg.IncludeScripts {
		if err := a.writeInstallScripts(artifacts); err != nil {
			return "", fmt.Errorf("assemble: install scripts: %w", err)
		}
	}

	switch cfg.OutputFormat {
	case config.FormatZip:
		out := a.destDir + ".zip"
		if err := packZip(a.destDir, out); err != nil {
			return "", fmt.Errorf("assemble: zip: %w", err)
		}
		if err := os.RemoveAll(a.destDir); err != nil {
			return "", fmt.Errorf("assemble: remove %s after zip: %w", a.destDir, err)
		}
		return out, nil
	case config.FormatTarGz:
		out := a.destDir + ".tar.gz"
		if err := packTarGz(a.destDir, out); err != nil {
			return "", fmt.Errorf("assemble: tar.gz: %w", err)
		}
		if err := os.RemoveAll(a.destDir); err != nil {
			return "", fmt.Errorf("assemble: remove %s after tar.gz: %w", a.destDir, err)
		}
		return out, nil
	case config.FormatTarXz:
		out := a.destDir + ".tar.xz"
		if err := packTarXz(a.destDir, out); err != nil {
			return "", fmt.Errorf("assemble: tar.xz: %w", err)
		}
		if err := os.RemoveAll(a.destDir); err != nil {
			return "", fmt.Errorf("assemble: remove %s after tar.xz: %w", a.destDir, err)
		}
		return out, nil
	default:
		return a.destDir, nil
	}
}

// manifestEntry is one ResolvedArtifact's record in manifest.json
// (SPEC_FULL §6.2): enough to audit or cross-reference against a
// vulnerability database via PackageURL without re-reading every adapter's
// native metadata format.
type manifestEntry struct {
	Ecosystem  string `json:"ecosystem"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	PackageURL string `json:"packageUrl,omitempty"`
	Digest     string `json:"digest,omitempty"`
	FileName   string `json:"fileName"`
	IsRoot     bool   `json:"isRoot"`
	Parent     string `json:"parent,omitempty"`
}

type bundleManifest struct {
	Artifacts []manifestEntry `json:"artifacts"`
}

func (a *Assembler) writeManifest(artifacts []resolve.ResolvedArtifact) error {
	m := bundleManifest{Artifacts: make([]manifestEntry, 0, len(artifacts))}
	for _, art := range artifacts {
		e := manifestEntry{
			Ecosystem:  art.System.String(),
			Name:       art.Name,
			Version:    art.Version,
			PackageURL: art.PackageURL,
			Digest:     art.Digest,
			FileName:   art.FileName,
			IsRoot:     art.IsRoot,
		}
		if art.Parent.Name != "" {
			e.Parent = art.Parent.String()
		}
		m.Artifacts = append(m.Artifacts, e)
	}
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(a.destDir, "manifest.json"), body, 0o644)
}

// copyFile copies src to dst, creating dst's parent directory, via a
// hardlink when possible (same filesystem, same session) and falling back
// to a plain copy.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (a *Assembler) packagesPath(elem ...string) string {
	return filepath.Join(append([]string{a.destDir, "packages"}, elem...)...)
}
