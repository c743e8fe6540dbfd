// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time:
//
//	-ldflags "-X github.com/MeKo-Tech/shelfscan/internal/version.Version=v1.2.0"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns version, commit and build date.
func Info() (string, string, string) {
	return Version, GitCommit, BuildDate
}

// String is the one-line form printed by the version command.
func String() string {
	return fmt.Sprintf("shelfscan %s (commit %s, built %s, %s)", Version, GitCommit, BuildDate, runtime.Version())
}
