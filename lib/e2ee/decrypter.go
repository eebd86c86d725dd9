// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package e2ee

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/irl/matrix-floppy/lib/ref"
	"github.com/irl/matrix-floppy/messaging"
)

// ErrNoSession is returned when no imported session can decrypt an event.
var ErrNoSession = errors.New("e2ee: no session for event")

// Decrypter converts m.room.encrypted events into their cleartext form
// using sessions from a KeyStore.
type Decrypter struct {
	store *KeyStore
}

// NewDecrypter returns a Decrypter backed by store.
func NewDecrypter(store *KeyStore) *Decrypter {
	return &Decrypter{store: store}
}

// megolmPayload is the decrypted body of a megolm message.
type megolmPayload struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
	RoomID  string          `json:"room_id"`
}

// DecryptEvent returns the cleartext form of an encrypted event: the
// same event with its type, content and raw JSON replaced and Decrypted
// set. Events of any other type are returned unchanged. On failure the
// original event is returned together with the error, wrapping
// ErrNoSession when no key is available.
func (d *Decrypter) DecryptEvent(roomID ref.RoomID, event messaging.Event) (messaging.Event, error) {
	if event.Type != ref.EventTypeEncrypted {
		return event, nil
	}

	content, err := messaging.DecodeContent[messaging.EncryptedContent](event)
	if err != nil {
		return event, fmt.Errorf("e2ee: %w", err)
	}
	if content.Algorithm != AlgorithmMegolm {
		return event, fmt.Errorf("e2ee: event %s uses unsupported algorithm %q", event.EventID, content.Algorithm)
	}

	session := d.store.Lookup(roomID.String(), content.SessionID)
	if session == nil {
		return event, fmt.Errorf("%w %s (session %s)", ErrNoSession, event.EventID, content.SessionID)
	}

	plaintext, index, err := session.Decrypt(content.Ciphertext)
	if err != nil {
		return event, fmt.Errorf("e2ee: decrypting %s at index %d: %w", event.EventID, index, err)
	}

	var payload megolmPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return event, fmt.Errorf("e2ee: decoding cleartext of %s: %w", event.EventID, err)
	}
	if payload.RoomID != "" && payload.RoomID != roomID.String() {
		return event, fmt.Errorf("e2ee: event %s was encrypted for room %s, not %s", event.EventID, payload.RoomID, roomID)
	}
	if payload.Type == "" {
		return event, fmt.Errorf("e2ee: cleartext of %s has no type", event.EventID)
	}

	cleartext := event
	cleartext.Type = ref.EventType(payload.Type)
	cleartext.Content = payload.Content
	cleartext.Decrypted = true
	cleartext.Raw = replaceRaw(event.Raw, payload)
	return cleartext, nil
}

// replaceRaw rewrites the type and content of an event's raw JSON,
// keeping every other field.
func replaceRaw(raw json.RawMessage, payload megolmPayload) json.RawMessage {
	fields := make(map[string]json.RawMessage)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return raw
		}
	}
	typeJSON, _ := json.Marshal(payload.Type)
	fields["type"] = typeJSON
	if len(payload.Content) > 0 {
		fields["content"] = payload.Content
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return raw
	}
	return encoded
}
