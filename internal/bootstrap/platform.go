package bootstrap

import (
	"fmt"
	"runtime"
	"strings"
)

// Platform is an operating system and CPU architecture pair in GOOS/GOARCH terms.
type Platform struct {
	OS   string
	Arch string
}

// HostPlatform returns the platform this binary runs on.
func HostPlatform() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

// ParsePlatform parses "os/arch", e.g. "linux/amd64".
func ParsePlatform(s string) (Platform, error) {
	goos, goarch, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || goos == "" || goarch == "" {
		return Platform{}, fmt.Errorf("platform %q: expected os/arch", s)
	}
	return Platform{OS: goos, Arch: goarch}, nil
}

// String returns the "os/arch" form.
func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// ID returns the identifier used in dependency manifests, e.g. "linux-x64"
// or "osx-arm64". Unknown combinations return "".
func (p Platform) ID() string {
	var osID, arch string
	switch p.OS {
	case "linux":
		osID = "linux"
	case "darwin":
		osID = "osx"
	case "windows":
		osID = "win"
	default:
		return ""
	}
	switch p.Arch {
	case "amd64":
		arch = "x64"
	case "arm64":
		arch = "arm64"
	default:
		return ""
	}
	return osID + "-" + arch
}

// supportedPlatforms is the allow-list checked before any filesystem change.
var supportedPlatforms = map[Platform]bool{
	{OS: "linux", Arch: "amd64"}:   true,
	{OS: "linux", Arch: "arm64"}:   true,
	{OS: "darwin", Arch: "amd64"}:  true,
	{OS: "darwin", Arch: "arm64"}:  true,
	{OS: "windows", Arch: "amd64"}: true,
	{OS: "windows", Arch: "arm64"}: true,
}

// Supported reports whether p is on the allow-list.
func (p Platform) Supported() bool {
	return supportedPlatforms[p]
}

// shell returns the command prefix used to run a manifest command verbatim.
func (p Platform) shell() []string {
	if p.OS == "windows" {
		return []string{"cmd", "/C"}
	}
	return []string{"sh", "-c"}
}
