// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. This is set manually for releases.
	Version = "0.1.0-dev"
)

type buildStamp struct {
	commit string
	dirty  bool
	time   string
}

var readStamp = sync.OnceValue(func() buildStamp {
	stamp := buildStamp{commit: GitCommit, dirty: GitDirty == "true", time: BuildTime}
	if GitCommit != "unknown" {
		return stamp
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return stamp
	}
	return stampFromSettings(stamp, info.Settings)
})

func stampFromSettings(stamp buildStamp, settings []debug.BuildSetting) buildStamp {
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			stamp.commit = setting.Value
			if len(stamp.commit) > 12 {
				stamp.commit = stamp.commit[:12]
			}
		case "vcs.modified":
			stamp.dirty = setting.Value == "true"
		case "vcs.time":
			if stamp.time == "unknown" {
				stamp.time = setting.Value
			}
		}
	}
	return stamp
}

// Info returns a formatted version string suitable for --version output.
func Info() string {
	return info(readStamp())
}

func info(stamp buildStamp) string {
	dirty := ""
	if stamp.dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, stamp.commit, dirty, stamp.time)
}

// Full returns detailed version information including Go version.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent returns the User-Agent header value for HTTP requests.
func UserAgent() string {
	return "floppy/" + Version
}
