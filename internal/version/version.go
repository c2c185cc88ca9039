// Package version holds build metadata. Release builds set the variables
// with -ldflags -X; plain `go build` falls back to the VCS stamp.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Name is the program name used in banners and the API title.
const Name = "framecast"

// Set via -ldflags "-X github.com/smazurov/framecast/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
)

// Info is the build description served by /api/version and `framecast version`.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	Modified  bool   `json:"modified"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var (
	once sync.Once
	info Info
)

// Get returns the build information.
func Get() Info {
	once.Do(func() {
		info = Info{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		}
		if bi, ok := debug.ReadBuildInfo(); ok {
			applyBuildSettings(&info, bi.Settings)
		}
		if info.GitCommit == "" {
			info.GitCommit = "unknown"
		}
		if info.BuildDate == "" {
			info.BuildDate = "unknown"
		}
	})
	return info
}

// applyBuildSettings fills fields the linker flags left empty.
func applyBuildSettings(i *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if i.GitCommit == "" {
				i.GitCommit = s.Value
			}
		case "vcs.time":
			if i.BuildDate == "" {
				i.BuildDate = s.Value
			}
		case "vcs.modified":
			i.Modified = s.Value == "true"
		}
	}
}

// String returns the version alone.
func String() string {
	return Version
}

// Banner is the one-line form printed by the version command and at startup.
func Banner() string {
	i := Get()
	commit := i.GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s %s (%s, built %s, %s %s)", Name, i.Version, commit, i.BuildDate, i.GoVersion, i.Platform)
}
