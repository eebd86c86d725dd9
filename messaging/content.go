// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"fmt"
)

// DecodeContent unmarshals an event's content into T:
//
//	message, err := messaging.DecodeContent[messaging.MessageContent](event)
//	name, err := messaging.DecodeContent[messaging.RoomNameContent](event)
//
// Returns an error if the event has no content or the content does not
// match T.
func DecodeContent[T any](event Event) (T, error) {
	var result T
	if len(event.Content) == 0 {
		return result, fmt.Errorf("event %s (%s) has no content", event.EventID, event.Type)
	}
	if err := json.Unmarshal(event.Content, &result); err != nil {
		return result, fmt.Errorf("decoding %s content of %s: %w", event.Type, event.EventID, err)
	}
	return result, nil
}

// Message types (the msgtype field of m.room.message).
const (
	MsgTypeText   = "m.text"
	MsgTypeNotice = "m.notice"
	MsgTypeEmote  = "m.emote"
	MsgTypeImage  = "m.image"
	MsgTypeAudio  = "m.audio"
	MsgTypeVideo  = "m.video"
	MsgTypeFile   = "m.file"
)

// FormatHTML is the only rich-text format defined for message bodies.
const FormatHTML = "org.matrix.custom.html"

// MessageContent is the content of an m.room.message (or m.sticker)
// event. Media messages carry either URL (unencrypted rooms) or File
// (encrypted rooms).
type MessageContent struct {
	MsgType       string         `json:"msgtype"`
	Body          string         `json:"body"`
	Format        string         `json:"format,omitempty"`
	FormattedBody string         `json:"formatted_body,omitempty"`
	URL           string         `json:"url,omitempty"`
	File          *EncryptedFile `json:"file,omitempty"`
	Info          *MediaInfo     `json:"info,omitempty"`
	FileName      string         `json:"filename,omitempty"`
}

// MediaInfo describes an attachment.
type MediaInfo struct {
	MimeType string `json:"mimetype,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Width    int    `json:"w,omitempty"`
	Height   int    `json:"h,omitempty"`
	Duration int64  `json:"duration,omitempty"`
}

// EncryptedFile locates and decrypts an attachment in an encrypted room.
type EncryptedFile struct {
	URL    string            `json:"url"`
	Key    JSONWebKey        `json:"key"`
	IV     string            `json:"iv"`
	Hashes map[string]string `json:"hashes"`
	V      string            `json:"v"`
}

// JSONWebKey is the AES-CTR key of an encrypted attachment.
type JSONWebKey struct {
	KeyType   string   `json:"kty"`
	KeyOps    []string `json:"key_ops"`
	Algorithm string   `json:"alg"`
	K         string   `json:"k"`
	Ext       bool     `json:"ext"`
}

// EncryptedContent is the content of an m.room.encrypted event.
type EncryptedContent struct {
	Algorithm  string `json:"algorithm"`
	Ciphertext string `json:"ciphertext"`
	SenderKey  string `json:"sender_key,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
	SessionID  string `json:"session_id"`
}

// RoomNameContent is the content of an m.room.name state event.
type RoomNameContent struct {
	Name string `json:"name"`
}

// CanonicalAliasContent is the content of an m.room.canonical_alias state event.
type CanonicalAliasContent struct {
	Alias string `json:"alias"`
}

// RoomTopicContent is the content of an m.room.topic state event.
type RoomTopicContent struct {
	Topic string `json:"topic"`
}
