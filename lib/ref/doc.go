// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable references for the
// Matrix identifiers that flow through an archive run: room IDs, user
// IDs, event IDs, server names, and media content URIs.
//
// All constructors validate their inputs and return errors for invalid
// identifiers. Types that appear in homeserver JSON implement
// encoding.TextMarshaler and encoding.TextUnmarshaler, so validation
// happens once at the deserialization boundary and the rest of the
// program handles only well-formed values. Because room IDs are text
// unmarshalers they can also be used directly as JSON map keys, which
// is how the /sync response keys its per-room sections.
//
// [ContentURI] is the one identifier that maps onto the local
// filesystem: its server and media path become the directory layout
// of downloaded media under the archive output directory.
package ref
