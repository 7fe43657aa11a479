package platform

import (
	"context"
	"os"
	"runtime"
)

// Property names published by Properties.
const (
	PropOSName        = "os.name"
	PropOSArch        = "os.arch"
	PropOSVersion     = "os.version"
	PropOSFamily      = "os.family"
	PropFileSeparator = "file.separator"
	PropPathSeparator = "path.separator"
	PropLineSeparator = "line.separator"
	PropVersion       = "luaguard.version"
)

// Properties returns the standard system properties for info. version is
// published as luaguard.version when non-empty.
func Properties(info *Info, version string) map[string]string {
	props := map[string]string{
		PropOSName:        info.OS,
		PropOSArch:        info.Arch,
		PropOSVersion:     info.Version,
		PropOSFamily:      info.Family,
		PropFileSeparator: string(os.PathSeparator),
		PropPathSeparator: string(os.PathListSeparator),
		PropLineSeparator: "\n",
	}
	if runtime.GOOS == "windows" {
		props[PropLineSeparator] = "\r\n"
	}
	if info.Family == "" && info.Platform != "" {
		props[PropOSFamily] = info.Platform
	}
	if version != "" {
		props[PropVersion] = version
	}
	return props
}

// DetectProperties runs d and returns the standard system properties.
func DetectProperties(ctx context.Context, d Detector, version string) (map[string]string, error) {
	info, err := d.Detect(ctx)
	if err != nil {
		return nil, err
	}
	return Properties(info, version), nil
}
