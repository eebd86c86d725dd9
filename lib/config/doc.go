// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for floppy.
//
// Configuration is loaded from a single file specified by either the
// FLOPPY_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no ~/.config discovery and no automatic
// file search. Command-line flags may override a few fields afterwards;
// environment variables never do.
//
// Variable expansion is performed on path fields after loading:
// a leading "~/", ${HOME}, and ${VAR:-default} patterns are expanded.
//
// Key exports:
//
//   - [Config] -- the archive run configuration
//   - [Default] -- returns a Config with every default filled in
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- reports every invalid field at once
package config
