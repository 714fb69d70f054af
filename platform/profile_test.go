package platform

import (
	"reflect"
	"testing"
)

func TestArchNormalize(t *testing.T) {
	cases := map[Arch]Arch{
		Amd64:   X86_64,
		Aarch64: Arm64,
		X86_64:  X86_64,
		ArmV7:   ArmV7,
	}
	for in, want := range cases {
		if got := in.Normalize(); got != want {
			t.Errorf("Arch(%q).Normalize() = %q, want %q", in, got, want)
		}
	}
}

func TestProfilePythonTag(t *testing.T) {
	cases := []struct {
		version string
		want    string
	}{
		{"3.11", "cp311"},
		{"3.9", "cp39"},
		{"", ""},
		{"not-a-version", ""},
	}
	for _, c := range cases {
		p := Profile{PythonVersion: c.version}
		if got := p.PythonTag(); got != c.want {
			t.Errorf("PythonTag(%q) = %q, want %q", c.version, got, c.want)
		}
	}
}

func TestProfileDockerArch(t *testing.T) {
	p := Profile{Arch: Amd64}
	if got := p.DockerArch(); got != X86_64 {
		t.Errorf("DockerArch() = %q, want %q (normalized from Arch)", got, X86_64)
	}
	p = Profile{Arch: Amd64, DockerArchitecture: ArmV7}
	if got := p.DockerArch(); got != ArmV7 {
		t.Errorf("DockerArch() = %q, want %q (explicit override wins)", got, ArmV7)
	}
}

func TestProfileLinuxPlatformTags(t *testing.T) {
	p := Profile{OS: Linux, Arch: X86_64}
	tags := p.LinuxPlatformTags()
	if len(tags) == 0 || tags[0] != "manylinux2014_x86_64" {
		t.Errorf("LinuxPlatformTags()[0] = %v, want manylinux2014_x86_64 first", tags)
	}
	want := []string{
		"manylinux2014_x86_64",
		"manylinux_2_17_x86_64",
		"manylinux_2_28_x86_64",
		"manylinux1_x86_64",
		"musllinux_1_1_x86_64",
		"musllinux_1_2_x86_64",
		"linux_x86_64",
	}
	if !reflect.DeepEqual(tags, want) {
		t.Errorf("LinuxPlatformTags() = %v, want %v", tags, want)
	}

	win := Profile{OS: Windows, Arch: X86_64}
	if got := win.LinuxPlatformTags(); !reflect.DeepEqual(got, []string{"win_amd64"}) {
		t.Errorf("LinuxPlatformTags() for windows/x86_64 = %v, want [win_amd64]", got)
	}

	mac := Profile{OS: MacOS, Arch: Arm64}
	macTags := mac.LinuxPlatformTags()
	if len(macTags) == 0 || macTags[0] != "macosx_11_0_arm64" {
		t.Errorf("LinuxPlatformTags() for macos/arm64 = %v, want macosx_11_0_arm64 first", macTags)
	}

	unknown := Profile{OS: "plan9"}
	if got := unknown.LinuxPlatformTags(); got != nil {
		t.Errorf("LinuxPlatformTags() for an unknown OS = %v, want nil", got)
	}
}

func TestProfileCondaSubdir(t *testing.T) {
	cases := []struct {
		profile Profile
		want    string
	}{
		{Profile{OS: Linux, Arch: X86_64}, "linux-64"},
		{Profile{OS: Linux, Arch: Arm64}, "linux-aarch64"},
		{Profile{OS: Linux, Arch: Aarch64}, "linux-aarch64"},
		{Profile{OS: MacOS, Arch: X86_64}, "osx-64"},
		{Profile{OS: MacOS, Arch: Arm64}, "osx-arm64"},
		{Profile{OS: Windows, Arch: X86_64}, "win-64"},
		{Profile{OS: "plan9"}, "noarch"},
	}
	for _, c := range cases {
		if got := c.profile.CondaSubdir(); got != c.want {
			t.Errorf("CondaSubdir() for %+v = %q, want %q", c.profile, got, c.want)
		}
	}
}
