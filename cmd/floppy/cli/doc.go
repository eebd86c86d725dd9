// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the floppy CLI.
//
// The central type is [Command], which represents a named subcommand with
// optional nested [Command.Subcommands], a flag factory, and a Run
// function. Commands are assembled into a tree by the commands package
// and dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing, and structured help output with examples.
//
// Flags are usually declared as tagged struct fields and bound with
// [FlagsFromParams]. Embedding [JSONOutput] adds a --json flag.
//
// When a user types an unknown subcommand or flag, the framework computes
// Levenshtein edit distance against all known names and suggests the
// closest match (threshold: distance <= 3).
//
// Errors carry the process exit code. [ToolError] maps its category to
// a code, [WithExitCode] attaches an explicit one, and [ExitError]
// exits silently after the command has written its own output.
package cli
