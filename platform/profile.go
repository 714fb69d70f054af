// Package platform describes the target machine a bundle is assembled for:
// its OS, CPU architecture and language-runtime versions. Ecosystem adapters
// consult a Profile to pick the right wheel tag, manylinux platform tag,
// repodata subdir, or OCI manifest-list entry.
package platform

import "fmt"

// OS identifies a target operating system family.
type OS string

const (
	AnyOS   OS = "any"
	Linux   OS = "linux"
	MacOS   OS = "macos"
	Windows OS = "windows"
)

// Arch identifies a target CPU architecture.
type Arch string

const (
	AnyArch Arch = ""
	X86_64  Arch = "x86_64"
	Amd64   Arch = "amd64"
	Arm64   Arch = "arm64"
	Aarch64 Arch = "aarch64"
	I386    Arch = "i386"
	NoArch  Arch = "noarch"
	ArmV7   Arch = "arm/v7"
)

// Normalize maps the various aliases ecosystems use for the same underlying
// architecture onto a single canonical spelling, so adapters can compare
// without repeating synonym tables.
func (a Arch) Normalize() Arch {
	switch a {
	case Amd64:
		return X86_64
	case Aarch64:
		return Arm64
	default:
		return a
	}
}

// Profile is the (OS, architecture, runtime versions) tuple that governs
// artifact selection, per spec.md §3.
type Profile struct {
	OS   OS
	Arch Arch

	// PythonVersion is "major.minor", e.g. "3.11". Used by pip and conda.
	PythonVersion string
	// JavaVersion is used to filter Maven artifacts when a POM declares a
	// release/source compatibility requirement (best effort; Maven rarely
	// encodes this in a machine-checkable way).
	JavaVersion string
	// NodeVersion is used to evaluate npm "engines" fields, when present.
	NodeVersion string

	// CondaChannel is the channel queried for conda packages, e.g.
	// "conda-forge", "anaconda", "bioconda", "pytorch".
	CondaChannel string

	// YumDistribution, AptDistribution and ApkDistribution identify the OS
	// distribution (and optionally an architecture override) whose
	// repositories should be queried.
	YumDistribution Distribution
	AptDistribution Distribution
	ApkDistribution Distribution

	// DockerRegistry is the OCI registry to query (docker.io, ghcr.io,
	// quay.io, public.ecr.aws, or "custom" with DockerCustomRegistry set).
	DockerRegistry       string
	DockerCustomRegistry string
	// DockerArchitecture overrides Arch for image selection, since Docker's
	// architecture vocabulary (amd64, arm64, arm/v7, 386) differs slightly
	// from the generic Arch values used elsewhere.
	DockerArchitecture Arch
}

// Distribution names an OS-package distribution and its base architecture,
// e.g. {ID: "rocky9", Architecture: "x86_64"} for yum, or
// {ID: "bookworm", Architecture: "amd64"} for apt.
type Distribution struct {
	ID           string
	Architecture string
}

// PythonTag returns the CPython ABI tag used in wheel filenames for the
// profile's PythonVersion, e.g. "cp311". Returns "" if PythonVersion is unset.
func (p Profile) PythonTag() string {
	if p.PythonVersion == "" {
		return ""
	}
	var major, minor int
	if _, err := fmt.Sscanf(p.PythonVersion, "%d.%d", &major, &minor); err != nil {
		return ""
	}
	return fmt.Sprintf("cp%d%d", major, minor)
}

// DockerArch returns the effective architecture to match against an OCI
// manifest list's platform.architecture field.
func (p Profile) DockerArch() Arch {
	if p.DockerArchitecture != AnyArch {
		return p.DockerArchitecture
	}
	return p.Arch.Normalize()
}

// LinuxPlatformTags returns the manylinux/musllinux platform tag candidates
// for this profile's architecture, in descending preference order, per
// spec.md §4.1.1 ("manylinux2014_x86_64 ≻ manylinux_2_17_x86_64 ≻
// manylinux1_x86_64 for Linux x86_64, etc.").
func (p Profile) LinuxPlatformTags() []string {
	arch := string(p.Arch.Normalize())
	switch p.OS {
	case Linux:
		return []string{
			"manylinux2014_" + arch,
			"manylinux_2_17_" + arch,
			"manylinux_2_28_" + arch,
			"manylinux1_" + arch,
			"musllinux_1_1_" + arch,
			"musllinux_1_2_" + arch,
			"linux_" + arch,
		}
	case MacOS:
		return []string{
			"macosx_11_0_" + arch,
			"macosx_10_9_" + arch,
			"macosx_10_15_" + arch,
		}
	case Windows:
		if arch == "x86_64" {
			return []string{"win_amd64"}
		}
		return []string{"win32", "win_" + arch}
	default:
		return nil
	}
}

// CondaSubdir returns the repodata.json subdirectory for this profile, e.g.
// "linux-64", "osx-arm64", "win-64".
func (p Profile) CondaSubdir() string {
	arch := p.Arch.Normalize()
	switch p.OS {
	case Linux:
		if arch == Arm64 {
			return "linux-aarch64"
		}
		return "linux-64"
	case MacOS:
		if arch == Arm64 {
			return "osx-arm64"
		}
		return "osx-64"
	case Windows:
		return "win-64"
	default:
		return "noarch"
	}
}
