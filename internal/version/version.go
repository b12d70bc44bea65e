package version

import (
	"runtime/debug"
	"strings"
)

// Overridden at release time via -ldflags "-X".
var (
	Version = "0.1.0"
	Commit  = "unknown"
	Date    = "unknown"
)

// Resolve returns Version, plus a short VCS revision suffix when the binary
// was built from an untagged checkout (no Commit injected by the release).
func Resolve() string {
	info, _ := debug.ReadBuildInfo()
	return resolveVersion(Version, Commit, info)
}

func resolveVersion(base, commit string, info *debug.BuildInfo) string {
	if base == "" {
		base = "0.0.0"
	}
	if commit != "" && commit != "unknown" {
		return base
	}

	suffix := vcsSuffix(info)
	if suffix == "" {
		return base
	}
	return base + "-" + suffix
}

func vcsSuffix(info *debug.BuildInfo) string {
	if info == nil {
		return ""
	}

	var revision string
	var modified bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = strings.TrimSpace(setting.Value)
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if revision == "" {
		return ""
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if modified {
		revision += "-dirty"
	}
	return revision
}
