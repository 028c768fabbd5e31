// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// UserAgent identifies the scanner to remote services.
func UserAgent() string {
	return "patternscan/" + Version
}

// Info renders the multi-line build summary printed by the version command.
func Info() string {
	return fmt.Sprintf("patternscan %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildDate)
}
