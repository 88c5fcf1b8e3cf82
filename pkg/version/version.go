// Package version exposes the application version derived from build metadata.
//
// Priority: -ldflags override > VCS info from debug.BuildInfo > "dev" fallback.
//
// Usage:
//
//	version.Version    // "0.1.0"
//	version.Full()     // "openclid/0.1.0+a3f8c2d1"
package version

import "runtime/debug"

// AppName is the application name used in version strings and status payloads.
const AppName = "openclid"

// Version is the daemon release version reported by the status endpoints.
const Version = "0.1.0"

// gitCommitOverride is set via -ldflags at build time for packaged builds
// where .git is unavailable. Empty string means no override.
var gitCommitOverride string

// GitCommit is the short git commit hash (8 chars) from build info.
// Set to "dev" when build info is unavailable (e.g., `go test`, non-git builds).
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		if len(gitCommitOverride) > 8 {
			return gitCommitOverride[:8]
		}
		return gitCommitOverride
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 8 {
				return s.Value[:8]
			}
			return s.Value
		}
	}
	return "dev"
}

// Full returns "openclid/<version>+<commit>" for logging and user-agent strings.
func Full() string {
	return AppName + "/" + Version + "+" + GitCommit
}
