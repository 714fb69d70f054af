package assemble

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bundle.dev/core/resolve"
)

// dockerSaveManifest is the root-level manifest.json entry `docker load`
// reads: a config file path, the repo:tag this image answers to, and the
// ordered list of layer tar paths, all relative to the tar's root.
type dockerSaveManifest struct {
	Config   string   `json:"Config"`
	RepoTags []string `json:"RepoTags"`
	Layers   []string `json:"Layers"`
}

// buildDockerOverlay assembles spec.md §4.4's
// "packages/images/{name}_{tag}.tar in docker save format" from the OCI
// blobs the fetch pipeline already pulled down (recorded as the artifact's
// oci-config/oci-layer auxiliary files under packages/{dir}/blobs/sha256/).
//
// docker.Adapter's Dependencies always returns nil, so one Docker
// ResolvedArtifact is the whole image: this overlay has no graph to walk,
// only files to repack.
func (a *Assembler) buildDockerOverlay(artifacts []resolve.ResolvedArtifact) error {
	var images []resolve.ResolvedArtifact
	for _, art := range artifacts {
		if art.System == resolve.Docker {
			images = append(images, art)
		}
	}
	if len(images) == 0 {
		return nil
	}
	imagesDir := a.packagesPath("images")
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return err
	}
	for _, art := range images {
		if err := a.buildDockerImageTar(art, imagesDir); err != nil {
			return fmt.Errorf("docker overlay %s: %w", art.VersionKey, err)
		}
	}
	return nil
}

func (a *Assembler) buildDockerImageTar(art resolve.ResolvedArtifact, imagesDir string) error {
	dir := filepath.Dir(art.FileName) // the {name}_{tag} directory the adapter laid blobs under

	var configAux *resolve.AuxiliaryFile
	var layers []resolve.AuxiliaryFile
	for i := range art.Auxiliary {
		switch art.Auxiliary[i].Role {
		case "oci-config":
			configAux = &art.Auxiliary[i]
		case "oci-layer":
			layers = append(layers, art.Auxiliary[i])
		}
	}
	if configAux == nil {
		return fmt.Errorf("no oci-config auxiliary file recorded")
	}

	configName := "config.json"
	layerNames := make([]string, len(layers))
	for i := range layers {
		layerNames[i] = fmt.Sprintf("layer-%d.tar", i)
	}

	repoTag := fmt.Sprintf("%s:%s", art.Name, art.Version)
	manifest := []dockerSaveManifest{{
		Config:   configName,
		RepoTags: []string{repoTag},
		Layers:   layerNames,
	}}
	manifestBody, err := json.Marshal(manifest)
	if err != nil {
		return err
	}

	outName := strings.ReplaceAll(dir, "/", "_") + ".tar"
	outPath := filepath.Join(imagesDir, outName)
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	defer tw.Close()

	if err := addTarFile(tw, "manifest.json", manifestBody); err != nil {
		return err
	}
	configBody, err := os.ReadFile(a.packagesPath(dir, configAux.FileName))
	if err != nil {
		return fmt.Errorf("read config blob: %w", err)
	}
	if err := addTarFile(tw, configName, configBody); err != nil {
		return err
	}
	for i, l := range layers {
		body, err := os.ReadFile(a.packagesPath(dir, l.FileName))
		if err != nil {
			return fmt.Errorf("read layer blob %s: %w", l.Digest, err)
		}
		if err := addTarFile(tw, layerNames[i], body); err != nil {
			return err
		}
	}
	return nil
}

func addTarFile(tw *tar.Writer, name string, body []byte) error {
	hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(body)
	return err
}
