package assemble

import (
	"os"
	"path/filepath"
	"strings"

	"bundle.dev/core/resolve"
)

// writeInstallScripts emits install.sh and install.ps1, one invocation per
// ecosystem present in the bundle, per spec.md §4.4's command table.
func (a *Assembler) writeInstallScripts(artifacts []resolve.ResolvedArtifact) error {
	present := map[resolve.System]bool{}
	for _, art := range artifacts {
		present[art.System] = true
	}

	var sh strings.Builder
	sh.WriteString("#!/bin/sh\n")
	sh.WriteString("set -e\n")
	sh.WriteString("cd \"$(dirname \"$0\")\"\n\n")

	var ps strings.Builder
	ps.WriteString("$ErrorActionPreference = 'Stop'\n")
	ps.WriteString("Set-Location $PSScriptRoot\n\n")

	if present[resolve.Pip] {
		sh.WriteString("pip install --no-index --find-links ./packages -r requirements.txt 2>/dev/null || pip install --no-index --find-links ./packages ./packages/*.whl ./packages/*.tar.gz\n")
		ps.WriteString("pip install --no-index --find-links .\\packages (Get-ChildItem .\\packages\\*.whl, .\\packages\\*.tar.gz)\n")
	}
	if present[resolve.Conda] {
		sh.WriteString("conda install --offline -c ./packages/repo $(ls ./packages/*.conda ./packages/*.tar.bz2 2>/dev/null)\n")
		ps.WriteString("conda install --offline -c .\\packages\\repo (Get-ChildItem .\\packages\\*.conda, .\\packages\\*.tar.bz2)\n")
	}
	if present[resolve.Maven] {
		sh.WriteString("mvn -Dmaven.repo.local=./packages/m2repo install\n")
		ps.WriteString("mvn -Dmaven.repo.local=.\\packages\\m2repo install\n")
	}
	if present[resolve.NPM] {
		sh.WriteString("npm install --offline --prefix ./packages\n")
		ps.WriteString("npm install --offline --prefix .\\packages\n")
	}
	if present[resolve.Yum] {
		sh.WriteString("yum localinstall -y ./packages/repo/*.rpm\n")
		ps.WriteString("# yum is a Linux-only package manager; no Windows equivalent is emitted.\n")
	}
	if present[resolve.Apt] {
		sh.WriteString("apt install -y ./packages/repo/*.deb\n")
		ps.WriteString("# apt is a Linux-only package manager; no Windows equivalent is emitted.\n")
	}
	if present[resolve.Apk] {
		sh.WriteString("apk add --allow-untrusted ./packages/*.apk\n")
		ps.WriteString("# apk is a Linux-only package manager; no Windows equivalent is emitted.\n")
	}
	if present[resolve.Docker] {
		for _, art := range artifacts {
			if art.System != resolve.Docker {
				continue
			}
			tar := "packages/images/" + strings.ReplaceAll(filepath.Dir(art.FileName), "/", "_") + ".tar"
			sh.WriteString("docker load -i " + tar + "\n")
			ps.WriteString("docker load -i " + strings.ReplaceAll(tar, "/", "\\") + "\n")
		}
	}

	if err := os.WriteFile(filepath.Join(a.destDir, "install.sh"), []byte(sh.String()), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(a.destDir, "install.ps1"), []byte(ps.String()), 0o644)
}
