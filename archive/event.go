// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/json"

	"github.com/irl/matrix-floppy/lib/ref"
	"github.com/irl/matrix-floppy/messaging"
)

// Kind is the presentation class of an archived event.
type Kind int

const (
	// KindOther is every event that is not a recognized message:
	// state events, undecryptable events, malformed messages.
	KindOther Kind = iota
	// KindText is a plain text message (m.text, m.notice, m.emote).
	KindText
	// KindFormatted is a text message with an HTML formatted body.
	KindFormatted
	KindImage
	KindAudio
	KindVideo
	KindFile
)

// String returns the lower-case name used in templates and the index.
func (k Kind) String() string {
	switch k {
	case KindOther:
		return "other"
	case KindText:
		return "text"
	case KindFormatted:
		return "formatted"
	case KindImage:
		return "image"
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// IsMedia reports whether events of this kind reference downloadable
// content.
func (k Kind) IsMedia() bool {
	switch k {
	case KindImage, KindAudio, KindVideo, KindFile:
		return true
	case KindOther, KindText, KindFormatted:
		return false
	default:
		return false
	}
}

// Event is one archived room event. Events are never modified after
// the Collector stores them.
type Event struct {
	RoomID    ref.RoomID
	EventID   ref.EventID
	Sender    ref.UserID
	Timestamp int64 // origin_server_ts, milliseconds since the epoch
	Type      ref.EventType
	Kind      Kind

	MsgType       string
	Body          string
	FormattedBody string

	// Media is set for media kinds.
	Media MediaReference
	// MediaInfo describes the attachment, when the sender supplied it.
	MediaInfo MediaInfo

	// Decrypted marks an event recovered from m.room.encrypted.
	Decrypted bool
	// Undecryptable marks an m.room.encrypted event with no usable key.
	Undecryptable bool

	// Raw is the event JSON as received (or as decrypted).
	Raw json.RawMessage
}

// MediaInfo is the optional attachment metadata of a media message.
type MediaInfo struct {
	MimeType string
	Size     int64
	FileName string
}

// MediaReference is a content URI discovered in a media-bearing event.
type MediaReference struct {
	URI ref.ContentURI
	// File carries the decryption parameters of an attachment sent to
	// an encrypted room. Nil for unencrypted media.
	File *messaging.EncryptedFile
	// EventID identifies the event the reference came from.
	EventID ref.EventID
}

// IsZero reports whether the reference is unset.
func (m MediaReference) IsZero() bool { return m.URI.IsZero() }

// Classify converts a Matrix event into an archived Event. Classification
// never fails: anything that is not a well-formed message becomes
// KindOther with whatever fields could be read.
func Classify(roomID ref.RoomID, event messaging.Event) Event {
	archived := Event{
		RoomID:        roomID,
		EventID:       event.EventID,
		Sender:        event.Sender,
		Timestamp:     event.OriginServerTS,
		Type:          event.Type,
		Kind:          KindOther,
		Decrypted:     event.Decrypted,
		Undecryptable: event.Type == ref.EventTypeEncrypted,
		Raw:           event.Raw,
	}

	if event.Type != ref.EventTypeMessage && event.Type != ref.EventTypeSticker {
		return archived
	}
	content, err := messaging.DecodeContent[messaging.MessageContent](event)
	if err != nil {
		return archived
	}
	archived.MsgType = content.MsgType
	archived.Body = content.Body
	if event.Malformed {
		return archived
	}

	msgType := content.MsgType
	if event.Type == ref.EventTypeSticker {
		msgType = messaging.MsgTypeImage
	}

	kind := KindOther
	switch msgType {
	case messaging.MsgTypeText, messaging.MsgTypeNotice, messaging.MsgTypeEmote:
		kind = KindText
		if content.Format == messaging.FormatHTML && content.FormattedBody != "" {
			kind = KindFormatted
			archived.FormattedBody = content.FormattedBody
		}
	case messaging.MsgTypeImage:
		kind = KindImage
	case messaging.MsgTypeAudio:
		kind = KindAudio
	case messaging.MsgTypeVideo:
		kind = KindVideo
	case messaging.MsgTypeFile:
		kind = KindFile
	}

	if kind.IsMedia() {
		reference, ok := mediaReference(event.EventID, content)
		if !ok {
			return archived
		}
		archived.Media = reference
		if content.Info != nil {
			archived.MediaInfo.MimeType = content.Info.MimeType
			archived.MediaInfo.Size = content.Info.Size
		}
		archived.MediaInfo.FileName = content.FileName
		if archived.MediaInfo.FileName == "" {
			archived.MediaInfo.FileName = content.Body
		}
	}
	archived.Kind = kind
	return archived
}

// mediaReference extracts the content URI of a media message, from the
// plain url field or from the encrypted file block.
func mediaReference(eventID ref.EventID, content messaging.MessageContent) (MediaReference, bool) {
	raw := content.URL
	if content.File != nil {
		raw = content.File.URL
	}
	uri, err := ref.ParseContentURI(raw)
	if err != nil {
		return MediaReference{}, false
	}
	return MediaReference{URI: uri, File: content.File, EventID: eventID}, true
}
