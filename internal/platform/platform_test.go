package platform

import (
	"runtime"
	"testing"
)

func TestDetect_Cached(t *testing.T) {
	p := Detect()
	if p == "" {
		t.Fatal("Detect() returned empty platform")
	}
	if runtime.GOOS == "darwin" && p != PlatformMacOS {
		t.Errorf("expected macos on darwin, got %s", p)
	}
	if p2 := Detect(); p != p2 {
		t.Errorf("Detect() not cached: got %s then %s", p, p2)
	}
}

func TestDetect_Classify(t *testing.T) {
	tests := []struct {
		name        string
		goos        string
		wslDistro   string
		procVersion string
		want        Platform
	}{
		{"mac", "darwin", "", "", PlatformMacOS},
		{"windows", "windows", "", "", PlatformWindows},
		{"plan9", "plan9", "", "", PlatformUnknown},
		{"linux", "linux", "", "Linux version 6.8.0-generic", PlatformLinux},
		{"wsl2 banner", "linux", "", "Linux version 5.15.153.1-microsoft-standard-WSL2", PlatformWSL2},
		{"wsl2 by distro", "linux", "Ubuntu", "Linux version 5.15.153.1-microsoft-standard-WSL2", PlatformWSL2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detect(tt.goos, tt.wslDistro, tt.procVersion); got != tt.want {
				t.Errorf("detect() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPlatformString(t *testing.T) {
	tests := []struct {
		platform Platform
		expected string
	}{
		{PlatformMacOS, "macOS"},
		{PlatformLinux, "Linux"},
		{PlatformWSL1, "WSL1"},
		{PlatformWSL2, "WSL2"},
		{PlatformWindows, "Windows"},
		{PlatformUnknown, "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.platform.String(); got != tt.expected {
			t.Errorf("Platform(%s).String() = %s, want %s", tt.platform, got, tt.expected)
		}
	}
}

func TestClipboardCommands(t *testing.T) {
	if got := clipboardCommands(PlatformMacOS, false); len(got) != 1 || got[0][0] != "pbcopy" {
		t.Errorf("macos: %v", got)
	}
	if got := clipboardCommands(PlatformWSL2, false); len(got) != 1 || got[0][0] != "clip.exe" {
		t.Errorf("wsl: %v", got)
	}

	x11 := clipboardCommands(PlatformLinux, false)
	if len(x11) != 2 || x11[0][0] != "xclip" || x11[1][0] != "xsel" {
		t.Errorf("x11: %v", x11)
	}
	wl := clipboardCommands(PlatformLinux, true)
	if len(wl) != 3 || wl[0][0] != "wl-copy" {
		t.Errorf("wayland should try wl-copy first: %v", wl)
	}
	if got := clipboardCommands(PlatformWindows, false); got != nil {
		t.Errorf("windows: %v", got)
	}
}

func TestMountType(t *testing.T) {
	mounts := `rootfs / ext4 rw 0 0
server:/export /home nfs4 rw 0 0
drvfs /mnt/c 9p rw 0 0
user@host:/ /mnt/remote fuse.sshfs rw 0 0
`
	tests := []struct {
		path string
		want string
	}{
		{"/etc/mosaicterm/config.toml", "ext4"},
		{"/home/me/.config/mosaicterm/config.toml", "nfs4"},
		{"/homework/config.toml", "ext4"},
		{"/mnt/c/Users/me/config.toml", "9p"},
		{"/mnt/remote/config.toml", "fuse.sshfs"},
	}
	for _, tt := range tests {
		if got := mountType(mounts, tt.path); got != tt.want {
			t.Errorf("mountType(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestFsWarning(t *testing.T) {
	for _, fs := range []string{"9p", "nfs", "nfs4", "cifs", "smbfs", "fuse.sshfs"} {
		if fsWarning(fs) == "" {
			t.Errorf("expected a warning for %s", fs)
		}
	}
	for _, fs := range []string{"", "ext4", "btrfs", "tmpfs"} {
		if w := fsWarning(fs); w != "" {
			t.Errorf("unexpected warning for %s: %s", fs, w)
		}
	}
}
