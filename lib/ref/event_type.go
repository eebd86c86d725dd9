// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix event type (m.room.message,
// m.room.encrypted, m.room.name, ...). It is a named string rather than
// a validated struct: event types are opaque and servers may send any
// namespaced value.
type EventType string

// Event types the archiver interprets. Everything else is archived
// verbatim and rendered as an unclassified event.
const (
	EventTypeMessage        EventType = "m.room.message"
	EventTypeEncrypted      EventType = "m.room.encrypted"
	EventTypeSticker        EventType = "m.sticker"
	EventTypeRoomName       EventType = "m.room.name"
	EventTypeCanonicalAlias EventType = "m.room.canonical_alias"
	EventTypeRoomTopic      EventType = "m.room.topic"
)

// String returns the event type string (e.g., "m.room.message").
func (t EventType) String() string { return string(t) }
