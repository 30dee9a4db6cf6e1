// Package platform detects the host OS flavour where it changes how the
// terminal behaves: clipboard helpers, PTY availability and whether file
// watching can be trusted.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
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

var (
	detectOnce sync.Once
	detected   Platform

	procVersionPath = "/proc/version"
	procMountsPath  = "/proc/mounts"
)

// Detect returns the current platform. The result is computed once.
func Detect() Platform {
	detectOnce.Do(func() {
		detected = detect(runtime.GOOS, os.Getenv("WSL_DISTRO_NAME"), readFile(procVersionPath))
	})
	return detected
}

func readFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(b)
}

// detect classifies a host from GOOS, the WSL distro variable and the
// kernel version banner.
func detect(goos, wslDistro, procVersion string) Platform {
	switch goos {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
	default:
		return PlatformUnknown
	}

	isWSL := wslDistro != "" || strings.Contains(strings.ToLower(procVersion), "microsoft")
	if !isWSL {
		return PlatformLinux
	}
	// WSL2 kernels are "microsoft-standard"; WSL1 reports "Microsoft"
	if strings.Contains(procVersion, "microsoft-standard") {
		return PlatformWSL2
	}
	if _, err := os.Stat("/run/WSL"); err == nil {
		return PlatformWSL2
	}
	return PlatformWSL1
}

// IsWSL returns true if running in any WSL environment
func IsWSL() bool {
	p := Detect()
	return p == PlatformWSL1 || p == PlatformWSL2
}

// SupportsPTY reports whether shells can be hosted on a pseudo-terminal.
func SupportsPTY() bool {
	switch Detect() {
	case PlatformMacOS, PlatformLinux, PlatformWSL1, PlatformWSL2:
		return true
	default:
		return false
	}
}

// ClipboardCommands lists the native clipboard writers to try, in order.
// Each entry is a command followed by its arguments.
func ClipboardCommands() [][]string {
	return clipboardCommands(Detect(), os.Getenv("WAYLAND_DISPLAY") != "")
}

func clipboardCommands(p Platform, wayland bool) [][]string {
	switch p {
	case PlatformMacOS:
		return [][]string{{"pbcopy"}}
	case PlatformWSL1, PlatformWSL2:
		return [][]string{{"clip.exe"}}
	case PlatformLinux:
		var cmds [][]string
		if wayland {
			cmds = append(cmds, []string{"wl-copy"})
		}
		return append(cmds,
			[]string{"xclip", "-selection", "clipboard"},
			[]string{"xsel", "--clipboard", "--input"})
	default:
		return nil
	}
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

// CheckFsnotifySupport returns a warning when path lives on a filesystem
// where change notifications are missing or unreliable (9p, NFS, CIFS,
// SSHFS), or "" when config reloads should work.
func CheckFsnotifySupport(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	return fsWarning(mountType(readFile(procMountsPath), absPath))
}

// mountType returns the filesystem type of the longest mount point that
// contains path. mounts is in /proc/mounts format.
func mountType(mounts, path string) string {
	var matched, fsType string
	for _, line := range strings.Split(mounts, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mp := fields[1]
		if !strings.HasPrefix(path, mp) || len(mp) <= len(matched) {
			continue
		}
		// "/home" must not match "/homework"
		if mp != "/" && len(path) > len(mp) && path[len(mp)] != '/' {
			continue
		}
		matched, fsType = mp, fields[2]
	}
	return fsType
}

func fsWarning(fsType string) string {
	switch {
	case fsType == "9p":
		return "config on 9p mount (WSL2 Windows filesystem): live reload disabled"
	case fsType == "nfs" || fsType == "nfs4":
		return "config on NFS mount: live reload may miss changes"
	case fsType == "cifs" || fsType == "smbfs":
		return "config on CIFS/SMB mount: live reload may miss changes"
	case strings.HasPrefix(fsType, "fuse.sshfs"):
		return "config on SSHFS mount: live reload disabled"
	}
	return ""
}
