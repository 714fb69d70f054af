package assemble

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"bundle.dev/core/resolve"
)

// buildAptOverlay reproduces spec.md §4.4's "packages/repo/ with Packages,
// Packages.gz, Release reproduced" — a from-the-bundle control file
// covering exactly the fetched .debs, so `apt install ./*.deb` or a
// `deb [trusted=yes] file:./packages/repo ./` sources-list entry resolves
// offline.
func (a *Assembler) buildAptOverlay(artifacts []resolve.ResolvedArtifact) error {
	var debs []resolve.ResolvedArtifact
	for _, art := range artifacts {
		if art.System == resolve.Apt {
			debs = append(debs, art)
		}
	}
	if len(debs) == 0 {
		return nil
	}

	repoDir := a.packagesPath("repo")
	var buf bytes.Buffer
	for _, art := range debs {
		base := filepath.Base(art.FileName)
		if err := copyFile(a.packagesPath(art.FileName), filepath.Join(repoDir, base)); err != nil {
			return fmt.Errorf("apt overlay %s: %w", art.VersionKey, err)
		}
		fmt.Fprintf(&buf, "Package: %s\n", art.Name)
		fmt.Fprintf(&buf, "Version: %s\n", art.Version)
		fmt.Fprintf(&buf, "Architecture: %s\n", art.Architecture)
		fmt.Fprintf(&buf, "Filename: %s\n", base)
		fmt.Fprintf(&buf, "Size: %d\n", art.ByteSize)
		if art.Digest != "" {
			fmt.Fprintf(&buf, "SHA256: %s\n", art.Digest)
		}
		buf.WriteString("\n")
	}
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(repoDir, "Packages"), buf.Bytes(), 0o644); err != nil {
		return err
	}

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("apt overlay: gzip Packages: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("apt overlay: gzip Packages: %w", err)
	}
	if err := os.WriteFile(filepath.Join(repoDir, "Packages.gz"), gz.Bytes(), 0o644); err != nil {
		return err
	}

	packagesSum := sha256.Sum256(buf.Bytes())
	gzSum := sha256.Sum256(gz.Bytes())
	var release strings.Builder
	release.WriteString("Suite: local\n")
	release.WriteString("Codename: local\n")
	release.WriteString("Components: main\n")
	release.WriteString("Architectures: " + archList(debs) + "\n")
	release.WriteString("SHA256:\n")
	fmt.Fprintf(&release, " %s %d Packages\n", hex.EncodeToString(packagesSum[:]), buf.Len())
	fmt.Fprintf(&release, " %s %d Packages.gz\n", hex.EncodeToString(gzSum[:]), gz.Len())
	return os.WriteFile(filepath.Join(repoDir, "Release"), []byte(release.String()), 0o644)
}

func archList(artifacts []resolve.ResolvedArtifact) string {
	seen := map[string]bool{}
	var archs []string
	for _, a := range artifacts {
		if !seen[a.Architecture] {
			seen[a.Architecture] = true
			archs = append(archs, a.Architecture)
		}
	}
	return strings.Join(archs, " ")
}
