// Package version resolves the build's identifying commit at init time.
// An -ldflags override wins, then the VCS revision stamped into the build
// info, then the literal "dev".
package version

import "runtime/debug"

// AppName names the binary in version strings and protocol handshakes.
const AppName = "parallax"

// gitCommitOverride can be injected with -ldflags for builds done outside
// a git checkout (container image builds, release tarballs).
var gitCommitOverride string

// GitCommit holds the short (8 char) commit hash, or "dev" when no
// revision is available, as under `go test`.
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		return shorten(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return shorten(s.Value)
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

// Full formats the app name and commit ("parallax/a3f8c2d1") for logging
// and user-agent strings.
func Full() string {
	return AppName + "/" + GitCommit
}
