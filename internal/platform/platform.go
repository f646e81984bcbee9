package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform represents the detected platform
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL1    Platform = "wsl1"
	PlatformWSL2    Platform = "wsl2"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

// cached detection result
var detectedPlatform Platform
var detectionDone bool

// Detect returns the current platform, caching the result
func Detect() Platform {
	if detectionDone {
		return detectedPlatform
	}

	detectedPlatform = detectPlatform()
	detectionDone = true
	return detectedPlatform
}

func detectPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		// Could be native Linux or WSL - check further
		return detectLinuxOrWSL()
	default:
		return PlatformUnknown
	}
}

// detectLinuxOrWSL distinguishes between native Linux and WSL (1 or 2)
func detectLinuxOrWSL() Platform {
	// Quick check: WSL_DISTRO_NAME is set in WSL environments
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return detectWSLVersion()
	}

	procVersion, err := os.ReadFile("/proc/version")
	if err != nil {
		return PlatformLinux
	}

	versionStr := string(procVersion)
	if strings.Contains(versionStr, "microsoft") || strings.Contains(versionStr, "Microsoft") {
		return detectWSLVersion()
	}

	return PlatformLinux
}

// detectWSLVersion distinguishes between WSL1 and WSL2.
// WSL2 kernels carry "microsoft-standard"; WSL1 has capital-M "Microsoft"
// without "standard". /run/WSL and /dev/vsock exist only under WSL2.
func detectWSLVersion() Platform {
	procVersion, err := os.ReadFile("/proc/version")
	if err == nil {
		versionStr := string(procVersion)
		if strings.Contains(versionStr, "microsoft-standard") {
			return PlatformWSL2
		}
		if strings.Contains(versionStr, "Microsoft") {
			return PlatformWSL1
		}
	}

	if _, err := os.Stat("/run/WSL"); err == nil {
		return PlatformWSL2
	}
	if _, err := os.Stat("/dev/vsock"); err == nil {
		return PlatformWSL2
	}

	// Assume WSL1 when undeterminable; it has the most limitations.
	return PlatformWSL1
}

// IsWSL returns true if running in any WSL environment
func IsWSL() bool {
	p := Detect()
	return p == PlatformWSL1 || p == PlatformWSL2
}

// String returns a human-readable platform name
func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformLinux:
		return "Linux"
	case PlatformWSL1:
		return "WSL1"
	case PlatformWSL2:
		return "WSL2"
	case PlatformWindows:
		return "Windows"
	default:
		return "Unknown"
	}
}

// HasDesktopNotifier reports whether the platform has a usable desktop
// notification mechanism (osascript on macOS, notify-send on Linux and
// WSL2 under WSLg). WSL1 has no reliable desktop interop.
func (p Platform) HasDesktopNotifier() bool {
	switch p {
	case PlatformMacOS, PlatformLinux, PlatformWSL2:
		return true
	default:
		return false
	}
}

// CheckFsnotifySupport checks if a path's filesystem supports fsnotify events
// reliably. Returns a warning message if on a problematic filesystem
// (9p, nfs, cifs, sshfs), or an empty string if fsnotify should work normally.
// Config hot-reload silently degrades to manual reload on these mounts.
func CheckFsnotifySupport(path string) string {
	// Only relevant on Linux (WSL2 uses 9p for Windows filesystem access)
	if runtime.GOOS != "linux" {
		return ""
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}

	mounts, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return ""
	}

	// /proc/mounts format: device mountpoint fstype options ...
	// Find the longest mountpoint prefix of the path.
	var matchedMount, matchedFsType string
	for _, line := range strings.Split(string(mounts), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mountPoint := fields[1]
		fsType := fields[2]

		if strings.HasPrefix(absPath, mountPoint) && len(mountPoint) > len(matchedMount) {
			matchedMount = mountPoint
			matchedFsType = fsType
		}
	}

	switch matchedFsType {
	case "9p", "nfs", "nfs4", "cifs", "fuse.sshfs":
		return "config file is on a " + matchedFsType + " mount; file watch events may not fire"
	}
	return ""
}
