// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import "errors"

// Failure categories of an archive run. Errors returned by Archiver.Run
// wrap exactly one of these; the CLI maps them to exit codes.
var (
	// ErrAuth means login or key import failed.
	ErrAuth = errors.New("authentication failed")
	// ErrFetch means the initial sync or at least one room's history
	// could not be fetched.
	ErrFetch = errors.New("fetch failed")
	// ErrRender means an output file could not be produced.
	ErrRender = errors.New("output failed")
	// ErrStorage means the output directory is unusable: a path that
	// must be a directory is not one, or another run holds the lock.
	ErrStorage = errors.New("storage conflict")
)
