// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"sort"
	"strings"

	"github.com/irl/matrix-floppy/lib/ref"
)

// LockFileName is the lock file that keeps two runs from writing the
// same output directory.
const LockFileName = ".floppy.lock"

// RoomFileBase returns the file name stem for a room's outputs. Room
// IDs are used verbatim except for bytes that cannot appear in a
// single path component.
func RoomFileBase(roomID ref.RoomID) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, roomID.String())
}

// SortByTimestamp returns a copy of events ordered by server timestamp.
// Events with equal timestamps keep their arrival order.
func SortByTimestamp(events []Event) []Event {
	sorted := append([]Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})
	return sorted
}
