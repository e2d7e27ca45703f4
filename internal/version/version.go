// Package version holds build information for the docchat binary. The
// variables are set at build time via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/docchat-go/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/docchat-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/docchat-go/internal/version.BuildDate=2026-01-01"
//
// Without ldflags they fall back to readable defaults.
package version

import (
	"fmt"
	"runtime"
)

// Version is the semantic version of the binary. "dev" for local builds.
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date.
var BuildDate = "unknown"

// String returns a one-line summary suitable for `docchat version` and the
// User-Agent of outbound requests.
func String() string {
	return fmt.Sprintf("docchat %s (commit %s, built %s, %s)", Version, Commit, BuildDate, runtime.Version())
}

// UserAgent is sent on outbound HTTP requests.
func UserAgent() string {
	return "docchat/" + Version
}
