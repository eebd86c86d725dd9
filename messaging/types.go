// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/irl/matrix-floppy/lib/ref"
)

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string          `json:"type"`
	Identifier               *UserIdentifier `json:"identifier,omitempty"`
	Password                 string          `json:"password"`
	DeviceID                 string          `json:"device_id,omitempty"`
	InitialDeviceDisplayName string          `json:"initial_device_display_name,omitempty"`
}

// UserIdentifier names the account in a login request.
type UserIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// Event represents a Matrix event from the server.
//
// Decoding is lenient: an event whose identifiers or timestamp do not
// parse still decodes, with the offending fields left zero and
// Malformed set. Raw always holds the event exactly as received.
type Event struct {
	EventID        ref.EventID     `json:"event_id"`
	Type           ref.EventType   `json:"type"`
	Sender         ref.UserID      `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content,omitempty"`
	RoomID         ref.RoomID      `json:"room_id,omitempty"`
	StateKey       *string         `json:"state_key,omitempty"`
	Unsigned       *EventUnsigned  `json:"unsigned,omitempty"`

	// Raw is the undecoded event JSON.
	Raw json.RawMessage `json:"-"`
	// Malformed is set when a field failed validation during decoding.
	Malformed bool `json:"-"`
	// Decrypted is set on the cleartext form of an m.room.encrypted event.
	Decrypted bool `json:"-"`
}

// EventUnsigned holds optional unsigned data attached to events.
type EventUnsigned struct {
	Age             int64           `json:"age,omitempty"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	RedactedBecause json.RawMessage `json:"redacted_because,omitempty"`
}

// wireEvent mirrors Event with unvalidated fields.
type wireEvent struct {
	EventID        string          `json:"event_id"`
	Type           string          `json:"type"`
	Sender         string          `json:"sender"`
	OriginServerTS json.RawMessage `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
	RoomID         string          `json:"room_id"`
	StateKey       *string         `json:"state_key"`
	Unsigned       *EventUnsigned  `json:"unsigned"`
}

// UnmarshalJSON implements json.Unmarshaler with lenient validation.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire wireEvent
	malformed := false
	if err := json.Unmarshal(data, &wire); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return err
		}
		malformed = true
	}

	*e = Event{
		Type:      ref.EventType(wire.Type),
		Content:   wire.Content,
		StateKey:  wire.StateKey,
		Unsigned:  wire.Unsigned,
		Raw:       append(json.RawMessage(nil), data...),
		Malformed: malformed,
	}

	if wire.EventID != "" {
		if parsed, err := ref.ParseEventID(wire.EventID); err == nil {
			e.EventID = parsed
		} else {
			e.Malformed = true
		}
	}
	if wire.Sender != "" {
		if parsed, err := ref.ParseUserID(wire.Sender); err == nil {
			e.Sender = parsed
		} else {
			e.Malformed = true
		}
	}
	if wire.RoomID != "" {
		if parsed, err := ref.ParseRoomID(wire.RoomID); err == nil {
			e.RoomID = parsed
		} else {
			e.Malformed = true
		}
	}
	if len(wire.OriginServerTS) > 0 {
		if timestamp, err := strconv.ParseInt(string(wire.OriginServerTS), 10, 64); err == nil {
			e.OriginServerTS = timestamp
		} else {
			e.Malformed = true
		}
	}
	return nil
}

// Pagination directions for RoomMessages.
const (
	DirectionBackward = "b"
	DirectionForward  = "f"
)

// RoomMessagesOptions controls pagination for room message fetching.
type RoomMessagesOptions struct {
	From      string // pagination token; empty means "from the end of the timeline"
	Direction string // DirectionBackward (default) or DirectionForward
	Limit     int    // max events to return; 0 uses server default
}

// RoomMessagesResponse is returned by RoomMessages. End is empty when
// there are no further events in the requested direction.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end,omitempty"`
	Chunk []Event `json:"chunk"`
	State []Event `json:"state,omitempty"`
}

// SyncOptions controls the behavior of the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds
	SetTimeout bool   // if true, send the timeout parameter (needed to distinguish "not set" from "0")
	Filter     string // filter ID or inline JSON filter
	FullState  bool   // return the full state of every room, not only changes
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection contains per-room sync data grouped by membership state.
// Map keys are room IDs; encoding/json uses ref.RoomID's TextUnmarshaler
// for validation at deserialization.
type RoomsSection struct {
	Join  map[ref.RoomID]JoinedRoom `json:"join,omitempty"`
	Leave map[ref.RoomID]LeftRoom   `json:"leave,omitempty"`
}

// JoinedRoom contains sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// LeftRoom contains sync data for a room the user has left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// JoinedRoomsResponse is returned by JoinedRooms.
type JoinedRoomsResponse struct {
	JoinedRooms []ref.RoomID `json:"joined_rooms"`
}

// MediaResponse is returned by DownloadMedia.
type MediaResponse struct {
	ContentType string
	Body        []byte
}
