// Package version provides build and version information for CodeKB.
package version

import (
	"fmt"
	"runtime"
)

// Version is set via ldflags at build time, defaulting to dev:
// -X github.com/codekb/codekb/pkg/version.Version=$(VERSION)
var Version = "dev"

var (
	// Commit is the git commit hash, set via ldflags.
	Commit = "unknown"

	// Date is the build date in RFC3339 format, set via ldflags.
	Date = "unknown"

	// GoVersion is the Go version used to build the binary.
	GoVersion = runtime.Version()
)

// String returns the full version line.
func String() string {
	return fmt.Sprintf("codekb %s (commit: %s, built: %s, go: %s, %s/%s)",
		Version, Commit, Date, GoVersion, runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version.
func Short() string {
	return Version
}
