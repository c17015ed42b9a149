// Package version derives the daemon's version string from build metadata.
// An -ldflags override wins, then the VCS revision from debug.BuildInfo,
// then "dev".
package version

import "runtime/debug"

// AppName is used in version strings and protocol handshakes.
const AppName = "loomd"

// gitCommitOverride is set via -ldflags for builds without a .git directory.
var gitCommitOverride string

// GitCommit is the short commit hash, or "dev" when no build info exists
// (go test, non-git builds).
var GitCommit = resolveCommit()

func resolveCommit() string {
	if gitCommitOverride != "" {
		return shorten(gitCommitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return shorten(s.Value)
			}
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "loomd/<commit>" for user-agent strings and logs.
func Full() string { return AppName + "/" + GitCommit }
