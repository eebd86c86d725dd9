// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"errors"
	"log/slog"

	"github.com/irl/matrix-floppy/lib/e2ee"
	"github.com/irl/matrix-floppy/lib/ref"
	"github.com/irl/matrix-floppy/messaging"
)

// EventDecrypter turns encrypted events into cleartext events.
// *e2ee.Decrypter implements it.
type EventDecrypter interface {
	DecryptEvent(roomID ref.RoomID, event messaging.Event) (messaging.Event, error)
}

// History is the per-room record of collected events, in arrival order.
// Rooms are kept in the order they were first seen.
type History struct {
	rooms  []ref.RoomID
	events map[ref.RoomID][]Event
}

func newHistory() *History {
	return &History{events: make(map[ref.RoomID][]Event)}
}

// Rooms returns the room IDs in first-seen order.
func (h *History) Rooms() []ref.RoomID {
	return append([]ref.RoomID(nil), h.rooms...)
}

// Events returns a room's events in arrival order. The slice must not
// be modified.
func (h *History) Events(roomID ref.RoomID) []Event {
	return h.events[roomID]
}

// Len returns the total number of events across all rooms.
func (h *History) Len() int {
	total := 0
	for _, events := range h.events {
		total += len(events)
	}
	return total
}

func (h *History) addRoom(roomID ref.RoomID) {
	if _, ok := h.events[roomID]; ok {
		return
	}
	h.rooms = append(h.rooms, roomID)
	h.events[roomID] = []Event{}
}

// CollectorConfig holds the optional collaborators of a Collector.
type CollectorConfig struct {
	// Decrypter recovers encrypted events. Nil archives them as
	// undecryptable.
	Decrypter EventDecrypter
	// DeduplicateEvents drops an event whose ID was already collected
	// for the same room. Repeats are counted either way.
	DeduplicateEvents bool
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Collector accumulates classified events per room and the media they
// reference. It is the single place events enter the archive, whether
// they arrive with the initial sync or from backward pagination, so
// both paths produce the same state for the same events.
//
// A Collector is owned by one archive run and is not safe for
// concurrent use.
type Collector struct {
	decrypter   EventDecrypter
	deduplicate bool
	logger      *slog.Logger

	history *History
	seen    map[ref.RoomID]map[ref.EventID]struct{}
	media   []MediaReference

	duplicates    int
	undecryptable int
}

// NewCollector returns an empty Collector.
func NewCollector(config CollectorConfig) *Collector {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		decrypter:   config.Decrypter,
		deduplicate: config.DeduplicateEvents,
		logger:      logger,
		history:     newHistory(),
		seen:        make(map[ref.RoomID]map[ref.EventID]struct{}),
	}
}

// AddRoom registers a room so that it is archived even if it yields no
// events.
func (c *Collector) AddRoom(roomID ref.RoomID) {
	c.history.addRoom(roomID)
}

// Collect classifies event and appends it to roomID's history. Media
// references of media-bearing events are recorded in discovery order.
// An event whose ID was already collected for the room is counted as a
// repeat, and dropped only when DeduplicateEvents is set.
func (c *Collector) Collect(roomID ref.RoomID, event messaging.Event) {
	c.history.addRoom(roomID)

	if !event.EventID.IsZero() {
		seen := c.seen[roomID]
		if seen == nil {
			seen = make(map[ref.EventID]struct{})
			c.seen[roomID] = seen
		}
		if _, duplicate := seen[event.EventID]; duplicate {
			c.duplicates++
			if c.deduplicate {
				return
			}
		}
		seen[event.EventID] = struct{}{}
	}

	if event.Type == ref.EventTypeEncrypted && c.decrypter != nil {
		decrypted, err := c.decrypter.DecryptEvent(roomID, event)
		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, e2ee.ErrNoSession) {
				level = slog.LevelDebug
			}
			c.logger.Log(context.Background(), level, "cannot decrypt event",
				"room_id", roomID,
				"event_id", event.EventID,
				"error", err,
			)
		} else {
			event = decrypted
		}
	}

	archived := Classify(roomID, event)
	if archived.Undecryptable {
		c.undecryptable++
	}
	if archived.Kind.IsMedia() {
		c.media = append(c.media, archived.Media)
	}
	c.history.events[roomID] = append(c.history.events[roomID], archived)
}

// History returns the collected history.
func (c *Collector) History() *History { return c.history }

// Media returns every media reference in discovery order, including
// repeats of the same URI.
func (c *Collector) Media() []MediaReference {
	return append([]MediaReference(nil), c.media...)
}

// Duplicates returns how many events carried an ID already collected
// for their room.
func (c *Collector) Duplicates() int { return c.duplicates }

// Undecryptable returns how many encrypted events could not be decrypted.
func (c *Collector) Undecryptable() int { return c.undecryptable }
