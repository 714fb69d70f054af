package assemble

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"bundle.dev/core/resolve"
)

// rpmEVR splits a "[epoch:]ver[-rel]" string back into its three repodata
// attributes; the inverse of yum.primaryEntry.evr().
func rpmEVR(evr string) (epoch, ver, rel string) {
	epoch = "0"
	if idx := strings.Index(evr, ":"); idx >= 0 {
		epoch = evr[:idx]
		evr = evr[idx+1:]
	}
	if idx := strings.LastIndex(evr, "-"); idx >= 0 {
		return epoch, evr[:idx], evr[idx+1:]
	}
	return epoch, evr, ""
}

type genPrimaryXML struct {
	XMLName  xml.Name         `xml:"http://linux.duke.edu/metadata/common metadata"`
	Packages int              `xml:"packages,attr"`
	Package  []genPrimaryEntry `xml:"package"`
}

type genPrimaryEntry struct {
	Type    string `xml:"type,attr"`
	Name    string `xml:"name"`
	Arch    string `xml:"arch"`
	Version struct {
		Epoch string `xml:"epoch,attr"`
		Ver   string `xml:"ver,attr"`
		Rel   string `xml:"rel,attr"`
	} `xml:"version"`
	Checksum struct {
		Type  string `xml:"type,attr"`
		Pkgid string `xml:"pkgid,attr"`
		Value string `xml:",chardata"`
	} `xml:"checksum"`
	Size struct {
		Package int64 `xml:"package,attr"`
	} `xml:"size"`
	Location struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
}

type genRepomd struct {
	XMLName xml.Name `xml:"http://linux.duke.edu/metadata/repo repomd"`
	Revision int64   `xml:"revision"`
	Data    []genRepomdData `xml:"data"`
}

type genRepomdData struct {
	Type     string `xml:"type,attr"`
	Checksum struct {
		Type  string `xml:"type,attr"`
		Value string `xml:",chardata"`
	} `xml:"checksum"`
	Location struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
	Timestamp int64 `xml:"timestamp"`
	Size      int64 `xml:"size"`
}

// buildYumOverlay reproduces spec.md §4.4's "packages/repo/ with
// repodata/repomd.xml reproduced so that `yum --disablerepo=* --enablerepo=local`
// works" — a from-the-bundle repodata covering exactly the fetched RPMs,
// not a mirror of the upstream repository.
func (a *Assembler) buildYumOverlay(artifacts []resolve.ResolvedArtifact) error {
	var rpms []resolve.ResolvedArtifact
	for _, art := range artifacts {
		if art.System == resolve.Yum {
			rpms = append(rpms, art)
		}
	}
	if len(rpms) == 0 {
		return nil
	}

	repoDir := a.packagesPath("repo")
	doc := genPrimaryXML{Packages: len(rpms)}
	for _, art := range rpms {
		base := filepath.Base(art.FileName)
		if err := copyFile(a.packagesPath(art.FileName), filepath.Join(repoDir, base)); err != nil {
			return fmt.Errorf("yum overlay %s: %w", art.VersionKey, err)
		}
		epoch, ver, rel := rpmEVR(art.Version)
		e := genPrimaryEntry{Type: "rpm", Name: art.Name, Arch: art.Architecture}
		e.Version.Epoch, e.Version.Ver, e.Version.Rel = epoch, ver, rel
		e.Checksum.Type = "sha256"
		e.Checksum.Pkgid = "YES"
		e.Checksum.Value = art.Digest
		e.Size.Package = art.ByteSize
		e.Location.Href = base
		doc.Package = append(doc.Package, e)
	}

	primaryBody, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("yum overlay: marshal primary.xml: %w", err)
	}
	primaryBody = append([]byte(xml.Header), primaryBody...)

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write(primaryBody); err != nil {
		return fmt.Errorf("yum overlay: gzip primary.xml: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("yum overlay: gzip primary.xml: %w", err)
	}

	repodataDir := filepath.Join(repoDir, "repodata")
	if err := os.MkdirAll(repodataDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(repodataDir, "primary.xml.gz"), gz.Bytes(), 0o644); err != nil {
		return err
	}

	sum := sha256.Sum256(gz.Bytes())
	rm := genRepomd{Revision: time.Now().Unix()}
	d := genRepomdData{Type: "primary"}
	d.Checksum.Type = "sha256"
	d.Checksum.Value = hex.EncodeToString(sum[:])
	d.Location.Href = "repodata/primary.xml.gz"
	d.Timestamp = time.Now().Unix()
	d.Size = int64(gz.Len())
	rm.Data = append(rm.Data, d)

	repomdBody, err := xml.MarshalIndent(rm, "", "  ")
	if err != nil {
		return fmt.Errorf("yum overlay: marshal repomd.xml: %w", err)
	}
	repomdBody = append([]byte(xml.Header), repomdBody...)
	return os.WriteFile(filepath.Join(repodataDir, "repomd.xml"), repomdBody, 0o644)
}
