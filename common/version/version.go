// Package version holds build metadata injected via -ldflags.
package version

import "runtime"

var (
	// Version is the semantic version.
	Version = "v0.0.0-dev"

	// GitCommit is the git commit hash.
	GitCommit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Info returns a one-line description suitable for `kioku version`.
func Info() string {
	return "kioku " + Version + " (" + GitCommit + ") built at " + BuildTime + " with " + runtime.Version()
}
