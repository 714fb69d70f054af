/*
Package config holds the Bundle Engine's strongly-typed configuration, per
spec.md §6's enumerated option set. There is deliberately no generic
viper/YAML-driven config layer here: the option set is small, fixed, and
fully known at compile time, so a plain struct with a Defaults constructor
and explicit Validate method is clearer than a dynamic config framework
(see DESIGN.md).
*/
package config

import (
	"fmt"

	"bundle.dev/core/platform"
)

// OutputFormat is the bundle's final on-disk shape.
type OutputFormat string

const (
	FormatZip       OutputFormat = "zip"
	FormatTarGz     OutputFormat = "tar-gz"
	FormatTarXz     OutputFormat = "tar-xz"
	FormatDirectory OutputFormat = "directory"
)

// Config is the full set of options a bundle session accepts, per spec.md
// §6's "Configuration struct" table.
type Config struct {
	OutputDir           string
	OutputFormat        OutputFormat
	IncludeScripts       bool
	IncludeDependencies  bool
	TargetOS             platform.OS
	Architecture          platform.Arch
	PythonVersion         string
	JavaVersion           string
	NodeVersion           string
	Concurrency           int // 1..10
	CondaChannel          string
	YumDistribution       platform.Distribution
	AptDistribution       platform.Distribution
	ApkDistribution       platform.Distribution
	DockerRegistry        string
	DockerCustomRegistry  string
	DockerArchitecture    platform.Arch
	CachePath             string
}

// Defaults returns a Config with spec.md's implicit defaults: a directory
// bundle, scripts and transitive dependencies included, a linux/x86_64
// target platform, concurrency 3, and conda-forge/docker.io as the default
// registries.
func Defaults() Config {
	return Config{
		OutputDir:           "./bundle",
		OutputFormat:        FormatDirectory,
		IncludeScripts:      true,
		IncludeDependencies: true,
		TargetOS:            platform.Linux,
		Architecture:        platform.X86_64,
		Concurrency:         3,
		CondaChannel:        "conda-forge",
		DockerRegistry:      "docker.io",
		DockerArchitecture:  platform.AnyArch,
		CachePath:           "./.bundle-cache",
	}
}

// Validate reports a descriptive error for any option outside spec.md §6's
// allowed ranges/enums.
func (c Config) Validate() error {
	switch c.OutputFormat {
	case FormatZip, FormatTarGz, FormatTarXz, FormatDirectory:
	default:
		return fmt.Errorf("config: invalid outputFormat %q", c.OutputFormat)
	}
	switch c.TargetOS {
	case platform.Windows, platform.MacOS, platform.Linux, platform.AnyOS:
	default:
		return fmt.Errorf("config: invalid targetOS %q", c.TargetOS)
	}
	if c.Concurrency < 1 || c.Concurrency > 10 {
		return fmt.Errorf("config: concurrency must be in 1..10, got %d", c.Concurrency)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("config: outputDir is required")
	}
	return nil
}

// Profile derives the platform.Profile the resolver and adapters consult
// from this config's target/runtime fields.
func (c Config) Profile() platform.Profile {
	return platform.Profile{
		OS:                   c.TargetOS,
		Arch:                 c.Architecture,
		PythonVersion:        c.PythonVersion,
		JavaVersion:          c.JavaVersion,
		NodeVersion:          c.NodeVersion,
		CondaChannel:         c.CondaChannel,
		YumDistribution:      c.YumDistribution,
		AptDistribution:      c.AptDistribution,
		ApkDistribution:      c.ApkDistribution,
		DockerRegistry:       c.DockerRegistry,
		DockerCustomRegistry: c.DockerCustomRegistry,
		DockerArchitecture:   c.DockerArchitecture,
	}
}
