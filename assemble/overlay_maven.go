package assemble

import (
	"fmt"
	"path/filepath"
	"strings"

	"bundle.dev/core/resolve"
)

// splitMavenCoordinate splits a "groupId:artifactId" package name the same
// way adapter/maven's coordinate() does; duplicated here rather than
// imported so the Assembler doesn't depend on an ecosystem adapter package.
func splitMavenCoordinate(name string) (groupID, artifactID string, ok bool) {
	g, a, found := strings.Cut(name, ":")
	if !found || g == "" || a == "" {
		return "", "", false
	}
	return g, a, true
}

func mavenGroupPath(groupID string) string {
	return strings.ReplaceAll(groupID, ".", "/")
}

// buildMavenOverlay reproduces spec.md §4.4's
// "packages/m2repo/{groupPath}/{artifactId}/{version}/{jar,pom,sha1s}"
// layout, so `mvn -Dmaven.repo.local=./packages/m2repo` resolves entirely
// from the bundle.
func (a *Assembler) buildMavenOverlay(artifacts []resolve.ResolvedArtifact) error {
	for _, art := range artifacts {
		if art.System != resolve.Maven {
			continue
		}
		groupID, artifactID, ok := splitMavenCoordinate(art.Name)
		if !ok {
			continue
		}
		dir := filepath.Join(mavenGroupPath(groupID), artifactID, art.Version)

		src := a.packagesPath(art.FileName)
		dst := a.packagesPath("m2repo", dir, filepath.Base(art.FileName))
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("maven overlay %s: %w", art.VersionKey, err)
		}
		for _, aux := range art.Auxiliary {
			src := a.packagesPath(filepath.Dir(art.FileName), aux.FileName)
			dst := a.packagesPath("m2repo", dir, filepath.Base(aux.FileName))
			if err := copyFile(src, dst); err != nil {
				return fmt.Errorf("maven overlay %s (%s): %w", art.VersionKey, aux.Role, err)
			}
		}
	}
	return nil
}
