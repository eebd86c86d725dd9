// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the floppy
// binary.
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// When they are not injected (go install, go run, tests), the commit,
// dirty flag and time are read from the VCS stamp the Go toolchain
// embeds in the binary, if any.
//
// Formatting functions produce human-readable version strings:
//
//   - [Info] -- "0.1.0-dev (abc1234, 2026-02-10T...)" for --version
//   - [Full] -- Info plus Go version and GOOS/GOARCH
//   - [Short] -- just the version number
//   - [UserAgent] -- the HTTP User-Agent sent to homeservers
package version
