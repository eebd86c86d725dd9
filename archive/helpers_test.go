// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/irl/matrix-floppy/lib/ref"
	"github.com/irl/matrix-floppy/messaging"
)

var (
	testUser  = ref.MustParseUserID("@archivist:example.org")
	roomAlpha = ref.MustParseRoomID("!alpha:example.org")
	roomBeta  = ref.MustParseRoomID("!beta:example.org")
)

// parseEvent decodes event JSON the way events arrive from the server,
// so Raw and Malformed are populated.
func parseEvent(t *testing.T, raw string) messaging.Event {
	t.Helper()
	var event messaging.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		t.Fatalf("parsing event %s: %v", raw, err)
	}
	return event
}

func textEvent(t *testing.T, eventID string, timestamp int64, body string) messaging.Event {
	t.Helper()
	return parseEvent(t, fmt.Sprintf(
		`{"event_id":%q,"type":"m.room.message","sender":"@a:example.org","origin_server_ts":%d,"content":{"msgtype":"m.text","body":%q}}`,
		eventID, timestamp, body))
}

func imageEvent(t *testing.T, eventID string, timestamp int64, uri string) messaging.Event {
	t.Helper()
	return parseEvent(t, fmt.Sprintf(
		`{"event_id":%q,"type":"m.room.message","sender":"@a:example.org","origin_server_ts":%d,"content":{"msgtype":"m.image","body":"cat.png","url":%q,"info":{"mimetype":"image/png","size":5}}}`,
		eventID, timestamp, uri))
}

// textEvents returns count text events with IDs prefix0..prefixN and
// increasing timestamps starting at base.
func textEvents(t *testing.T, prefix string, base int64, count int) []messaging.Event {
	t.Helper()
	events := make([]messaging.Event, count)
	for i := range events {
		events[i] = textEvent(t, fmt.Sprintf("$%s%d", prefix, i), base+int64(i), fmt.Sprintf("message %d", i))
	}
	return events
}

type scriptedPage struct {
	response *messaging.RoomMessagesResponse
	err      error
}

// fakeSession is a scripted messaging.Session. RoomMessages returns the
// room's pages in order and an empty page once they run out.
type fakeSession struct {
	mu sync.Mutex

	sync     *messaging.SyncResponse
	syncErrs []error

	pages    map[ref.RoomID][]scriptedPage
	requests map[ref.RoomID][]messaging.RoomMessagesOptions

	media     map[string][]byte
	downloads []string

	syncOptions []messaging.SyncOptions
	logoutErr   error
	loggedOut   bool
	closed      bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		sync:     &messaging.SyncResponse{Rooms: messaging.RoomsSection{Join: map[ref.RoomID]messaging.JoinedRoom{}}},
		pages:    make(map[ref.RoomID][]scriptedPage),
		requests: make(map[ref.RoomID][]messaging.RoomMessagesOptions),
		media:    make(map[string][]byte),
	}
}

func (s *fakeSession) addPage(roomID ref.RoomID, end string, events ...messaging.Event) {
	s.pages[roomID] = append(s.pages[roomID], scriptedPage{
		response: &messaging.RoomMessagesResponse{End: end, Chunk: events},
	})
}

func (s *fakeSession) addError(roomID ref.RoomID, err error) {
	s.pages[roomID] = append(s.pages[roomID], scriptedPage{err: err})
}

func (s *fakeSession) joinRoom(roomID ref.RoomID, prevBatch string, timeline []messaging.Event, state ...messaging.Event) {
	s.sync.Rooms.Join[roomID] = messaging.JoinedRoom{
		Timeline: messaging.TimelineSection{Events: timeline, PrevBatch: prevBatch},
		State:    messaging.StateSection{Events: state},
	}
}

func (s *fakeSession) UserID() ref.UserID { return testUser }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) Sync(_ context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncOptions = append(s.syncOptions, options)
	if len(s.syncErrs) > 0 {
		err := s.syncErrs[0]
		s.syncErrs = s.syncErrs[1:]
		return nil, err
	}
	return s.sync, nil
}

func (s *fakeSession) RoomMessages(_ context.Context, roomID ref.RoomID, options messaging.RoomMessagesOptions) (*messaging.RoomMessagesResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[roomID] = append(s.requests[roomID], options)
	pages := s.pages[roomID]
	if len(pages) == 0 {
		return &messaging.RoomMessagesResponse{Start: options.From}, nil
	}
	next := pages[0]
	s.pages[roomID] = pages[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.response, nil
}

func (s *fakeSession) DownloadMedia(_ context.Context, uri ref.ContentURI) (*messaging.MediaResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads = append(s.downloads, uri.String())
	body, ok := s.media[uri.String()]
	if !ok {
		return nil, &messaging.MatrixError{Code: messaging.ErrCodeNotFound, Message: "not found", StatusCode: 404}
	}
	return &messaging.MediaResponse{ContentType: "application/octet-stream", Body: body}, nil
}

func (s *fakeSession) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedOut = true
	return s.logoutErr
}

func (s *fakeSession) requestsFor(roomID ref.RoomID) []messaging.RoomMessagesOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]messaging.RoomMessagesOptions(nil), s.requests[roomID]...)
}

// recordingRenderer captures what the archiver asks it to render.
type recordingRenderer struct {
	calls int
	dir   string
	rooms map[ref.RoomID][]Event
	names map[ref.RoomID]string
	err   error
}

func (r *recordingRenderer) WriteAll(dir string, history *History, names map[ref.RoomID]string) error {
	r.calls++
	r.dir = dir
	r.names = names
	r.rooms = make(map[ref.RoomID][]Event)
	for _, roomID := range history.Rooms() {
		r.rooms[roomID] = SortByTimestamp(history.Events(roomID))
	}
	return r.err
}

func eventIDs(events []Event) []string {
	ids := make([]string, len(events))
	for i, event := range events {
		ids[i] = event.EventID.String()
	}
	return ids
}
