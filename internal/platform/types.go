// Package platform describes the machine the sandbox runs on.
//
// Detection uses runtime.GOOS/GOARCH and gopsutil for operating system
// details. The result is published to scripts only through the standard
// system properties (os.name, os.arch, ...), so a sandbox policy decides
// which of them a script may read. Policy files written in Lua also receive
// a read-only platform table for conditional rules.
package platform

import "context"

// Canonical family names for Linux distributions.
const (
	FamilyDebian  = "debian"
	FamilyRHEL    = "rhel"
	FamilyFedora  = "fedora"
	FamilySUSE    = "suse"
	FamilyArch    = "arch"
	FamilyAlpine  = "alpine"
	FamilyGentoo  = "gentoo"
	FamilyUnknown = "unknown"
)

// Info is the result of platform detection.
type Info struct {
	OS       string // "linux", "darwin", "windows", ...
	Arch     string // normalised: "amd64", "arm64", or GOARCH as is
	ArchRaw  string // GOARCH
	Platform string // distribution or OS product id, e.g. "ubuntu", "darwin"
	Family   string // canonical family; Linux only
	Version  string // platform version, e.g. "22.04"
}

// IsLinux reports whether the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsMacOS reports whether the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.OS == "darwin"
}

// IsWindows reports whether the platform is Windows.
func (i *Info) IsWindows() bool {
	return i.OS == "windows"
}

// Detector detects the current platform.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// StaticDetector returns a fixed Info. Useful for tests and for hosts that
// do not want to disclose the real platform.
type StaticDetector struct {
	Info Info
}

func (s StaticDetector) Detect(context.Context) (*Info, error) {
	info := s.Info
	return &info, nil
}
