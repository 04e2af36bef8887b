// Package version carries build metadata injected with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release tag of the pedal binary.
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for `pedal --version`.
func String() string {
	return fmt.Sprintf("pedal %s (%s) built %s", Version, GitSHA, BuildTime)
}

// Info returns the build metadata keyed as served by /api/version.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_sha":    GitSHA,
		"build_time": BuildTime,
	}
}
