// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

var (
	// Version is the current console version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for the version command and startup log.
func String() string {
	return fmt.Sprintf("weccap %s (%s, built %s)", Version, GitSHA, BuildTime)
}
