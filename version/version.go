// Package version exposes build information of the embedding binary, read
// from the metadata the Go toolchain embeds at build time.
package version

import (
	"runtime/debug"
)

// Info describes the running build.
type Info struct {
	GoVersion string `json:"go_version"`
	Module    string `json:"module"`
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
}

// Current reads the build metadata of the running binary. Fields missing
// from the binary stay zero-valued.
func Current() Info {
	info := Info{
		GoVersion: "unknown",
		Module:    "unknown",
		Version:   "unknown",
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}

	info.GoVersion = bi.GoVersion
	info.Module = bi.Path
	if bi.Main.Version != "" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
		case "vcs.time":
			info.BuildTime = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}
