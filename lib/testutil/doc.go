// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides test helpers shared by floppy packages.
//
// [RequireReceive] and [RequireClosed] bound waits on channels fed by
// goroutines that block on a fake [clock.Clock]. They are the only
// place tests wait on the wall clock, and only to fail instead of
// hanging.
//
// [Secret], [WriteFile] and [ReadFile] build the fixtures most command
// and archive tests need: secret buffers for passwords and passphrases,
// and config, key and output files under t.TempDir().
//
// All helpers call t.Fatalf on failure.
//
// [clock.Clock]: https://pkg.go.dev/github.com/irl/matrix-floppy/lib/clock#Clock
package testutil
