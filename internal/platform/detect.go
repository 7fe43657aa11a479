package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector detects the platform of the running process.
type RealDetector struct{}

// NewDetector returns a detector for the running process.
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect reads OS and architecture from the runtime and the platform id,
// family and version from gopsutil. If gopsutil fails the platform fields are
// left empty; only a cancelled context is an error.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:      runtime.GOOS,
		Arch:    normalizeArch(runtime.GOARCH),
		ArchRaw: runtime.GOARCH,
	}

	platform, family, version, err := host.PlatformInformationWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
		}
		return info, nil
	}

	platform = normalizePlatform(platform)
	if platform == "" {
		return info, nil
	}
	info.Platform = platform
	info.Version = normalizePlatform(version)
	if info.IsLinux() {
		info.Family = mapFamily(family)
	}
	return info, nil
}
