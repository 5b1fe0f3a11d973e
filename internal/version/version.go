// Package version carries build information for vidmux.
//
// Version, Commit, and Date are set at build time:
//
//	go build -ldflags "-X github.com/jmylchreest/vidmux/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/vidmux/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/vidmux/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// GoVersion is the Go runtime version.
var GoVersion = runtime.Version()

// ApplicationName is the canonical name of this application.
const ApplicationName = "vidmux"

// Info contains structured version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns the build information. When Commit was not injected it
// falls back to the VCS revision recorded by the Go toolchain.
func GetInfo() Info {
	commit, date := Commit, Date
	if commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				switch s.Key {
				case "vcs.revision":
					commit = s.Value
				case "vcs.time":
					if date == "unknown" {
						date = s.Value
					}
				}
			}
		}
	}
	return Info{
		Version:   Version,
		Commit:    commit,
		Date:      date,
		GoVersion: GoVersion,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// ShortCommit returns the first eight characters of the commit.
func (i Info) ShortCommit() string {
	if len(i.Commit) >= 8 && i.Commit != "unknown" {
		return i.Commit[:8]
	}
	return i.Commit
}

// String returns a human-readable version line.
func String() string {
	info := GetInfo()
	return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
		ApplicationName, info.Version, info.ShortCommit(), info.Date, info.GoVersion, info.Platform)
}

// Short returns the version for CLI --version output.
func Short() string {
	if c := GetInfo().ShortCommit(); c != "unknown" && c != "" {
		return fmt.Sprintf("%s (%s)", Version, c)
	}
	return Version
}

// UserAgent returns the User-Agent sent to upstream servers.
func UserAgent() string {
	return ApplicationName + "/" + Version
}

// IsRelease reports whether this is a tagged release build.
func IsRelease() bool {
	return Version != "dev" && !strings.Contains(Version, "-SNAPSHOT")
}
