// Package version exposes the gateway build version.
//
// The commit comes from -ldflags when set, else from VCS info in
// debug.BuildInfo, else "dev".
package version

import "runtime/debug"

// AppName is the application name used in version strings and the upstream
// User-Agent header.
const AppName = "notebookchat"

// gitCommitOverride is set via -ldflags at build time for container builds
// where .git is unavailable.
var gitCommitOverride string

// GitCommit is the short git commit hash, or "dev".
var GitCommit = resolveCommit(gitCommitOverride, readBuildRevision())

func readBuildRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

func resolveCommit(override, revision string) string {
	commit := override
	if commit == "" {
		commit = revision
	}
	if commit == "" {
		return "dev"
	}
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}

// Full returns "notebookchat/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
