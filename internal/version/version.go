// Package version reports build information for startup logs and the
// API.
package version

import (
	"fmt"
	"runtime"
)

// Semantic version of the service.
const (
	Major = 0
	Minor = 3
	Patch = 0
)

// GitCommit is injected at build time via -ldflags.
var GitCommit = ""

// String returns the semantic version, with the short commit when
// known.
func String() string {
	v := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if len(GitCommit) >= 7 {
		v += " (" + GitCommit[:7] + ")"
	}
	return v
}

// BuildInfo is the machine-readable version payload.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Info collects the build details.
func Info() BuildInfo {
	return BuildInfo{
		Version:   fmt.Sprintf("%d.%d.%d", Major, Minor, Patch),
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
