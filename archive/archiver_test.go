// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/irl/matrix-floppy/lib/clock"
	"github.com/irl/matrix-floppy/lib/eventindex"
	"github.com/irl/matrix-floppy/lib/eventlog"
	"github.com/irl/matrix-floppy/lib/ref"
	"github.com/irl/matrix-floppy/lib/testutil"
	"github.com/irl/matrix-floppy/messaging"
)

func stateEvent(t *testing.T, eventType, content string) messaging.Event {
	t.Helper()
	return parseEvent(t, `{"event_id":"$state-`+eventType+`","type":"`+eventType+`","state_key":"","sender":"@a:example.org","origin_server_ts":1,"content":`+content+`}`)
}

// twoRoomSession scripts a homeserver with two joined rooms: alpha has
// one event in the sync timeline and a page of 99 older events that
// repeats it; beta has a name and an image in its sync timeline and
// nothing older.
func twoRoomSession(t *testing.T) *fakeSession {
	t.Helper()
	session := newFakeSession()
	session.joinRoom(roomAlpha, "P1",
		[]messaging.Event{textEvent(t, "$latest", 5000, "latest")},
		stateEvent(t, "m.room.canonical_alias", `{"alias":"#alpha:example.org"}`),
	)
	session.addPage(roomAlpha, "P2", append(textEvents(t, "old", 1000, 99), textEvent(t, "$latest", 5000, "latest"))...)

	session.joinRoom(roomBeta, "Q1",
		[]messaging.Event{imageEvent(t, "$pic", 7000, "mxc://example.org/pic")},
		stateEvent(t, "m.room.name", `{"name":"Beta Room"}`),
		stateEvent(t, "m.room.canonical_alias", `{"alias":"#beta:example.org"}`),
	)
	session.media["mxc://example.org/pic"] = []byte("png!")
	return session
}

func newTestArchiver(t *testing.T, session *fakeSession, renderer Renderer, modify func(*Config)) *Archiver {
	t.Helper()
	config := Config{
		Login: func(context.Context) (messaging.Session, error) {
			return session, nil
		},
		Output:   filepath.Join(t.TempDir(), "saves"),
		Retry:    exactPolicy(2),
		Renderer: renderer,
		RunID:    "test-run",
		Clock:    clock.Fake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
	}
	if modify != nil {
		modify(&config)
	}
	archiver, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return archiver
}

func TestRunArchivesAllRooms(t *testing.T) {
	session := twoRoomSession(t)
	renderer := &recordingRenderer{}
	metricsPath := filepath.Join(t.TempDir(), "floppy.prom")
	logConfig := eventlog.Config{Codec: eventlog.CodecJSONL, Compression: eventlog.CompressionZstd}
	archiver := newTestArchiver(t, session, renderer, func(config *Config) {
		config.EventLog = &logConfig
		config.Index = true
		config.MetricsTextfile = metricsPath
		config.Logout = true
		config.DeduplicateEvents = true
	})

	report, err := archiver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	output := archiver.config.Output

	t.Run("sync", func(t *testing.T) {
		if len(session.syncOptions) != 1 {
			t.Fatalf("synced %d times, want 1", len(session.syncOptions))
		}
		options := session.syncOptions[0]
		if options.Filter != DefaultFilter || !options.FullState || options.Timeout != 30000 || !options.SetTimeout {
			t.Errorf("sync options = %+v", options)
		}
		if got := tokens(session.requestsFor(roomAlpha)); !slices.Equal(got, []string{"P1", "P2"}) {
			t.Errorf("alpha pagination tokens = %v, want [P1 P2]", got)
		}
		if got := tokens(session.requestsFor(roomBeta)); !slices.Equal(got, []string{"Q1"}) {
			t.Errorf("beta pagination tokens = %v, want [Q1]", got)
		}
	})

	t.Run("render", func(t *testing.T) {
		if renderer.calls != 1 || renderer.dir != output {
			t.Fatalf("renderer calls = %d dir = %q", renderer.calls, renderer.dir)
		}
		alpha := renderer.rooms[roomAlpha]
		if len(alpha) != 100 {
			t.Errorf("alpha has %d events, want 100 (the repeated event dropped)", len(alpha))
		}
		if alpha[len(alpha)-1].EventID.String() != "$latest" {
			t.Errorf("last alpha event = %s, want $latest", alpha[len(alpha)-1].EventID)
		}
		if renderer.names[roomAlpha] != "#alpha:example.org" || renderer.names[roomBeta] != "Beta Room" {
			t.Errorf("names = %v", renderer.names)
		}
	})

	t.Run("report", func(t *testing.T) {
		if report.RunID != "test-run" || report.UserID != testUser {
			t.Errorf("report identity = %q %q", report.RunID, report.UserID)
		}
		if len(report.Rooms) != 2 || report.Rooms[0].RoomID != roomAlpha || report.Rooms[1].RoomID != roomBeta {
			t.Fatalf("report rooms = %+v", report.Rooms)
		}
		if report.Rooms[0].Events != 100 || report.Rooms[1].Events != 1 {
			t.Errorf("room event counts = %d, %d", report.Rooms[0].Events, report.Rooms[1].Events)
		}
		if report.Rooms[1].File != "!beta:example.org.html" {
			t.Errorf("beta file = %q", report.Rooms[1].File)
		}
		if report.DuplicateEvents != 1 {
			t.Errorf("DuplicateEvents = %d, want 1", report.DuplicateEvents)
		}
		if report.Media.Downloaded != 1 || report.EventLogs != 2 {
			t.Errorf("media = %+v, event logs = %d", report.Media, report.EventLogs)
		}
		var table strings.Builder
		if err := report.WriteTable(&table); err != nil {
			t.Fatalf("WriteTable: %v", err)
		}
		for _, want := range []string{"!alpha:example.org", "Beta Room", "test-run"} {
			if !strings.Contains(table.String(), want) {
				t.Errorf("table missing %q:\n%s", want, table.String())
			}
		}
	})

	t.Run("media", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(output, "example.org", "pic"))
		if err != nil {
			t.Fatalf("reading media: %v", err)
		}
		if string(data) != "png!" {
			t.Errorf("media content = %q", data)
		}
	})

	t.Run("event logs", func(t *testing.T) {
		events, err := eventlog.ReadFile(EventLogPath(output, roomAlpha, logConfig), logConfig)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if len(events) != 100 {
			t.Fatalf("event log has %d events, want 100", len(events))
		}
		if !strings.Contains(string(events[0]), `"$old0"`) {
			t.Errorf("first logged event = %s, want the oldest", events[0])
		}
	})

	t.Run("index", func(t *testing.T) {
		counts, err := eventindex.Count(context.Background(), filepath.Join(output, eventindex.FileName))
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if counts != (eventindex.Counts{Rooms: 2, Events: 101, Media: 1}) {
			t.Errorf("index counts = %+v", counts)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		data, err := os.ReadFile(metricsPath)
		if err != nil {
			t.Fatalf("reading metrics: %v", err)
		}
		for _, want := range []string{"floppy_events 101", "floppy_last_run_success 1", `floppy_media{status="downloaded"} 1`} {
			if !strings.Contains(string(data), want) {
				t.Errorf("metrics missing %q:\n%s", want, data)
			}
		}
	})

	t.Run("session", func(t *testing.T) {
		if !session.loggedOut || !session.closed {
			t.Errorf("loggedOut = %v closed = %v, want both", session.loggedOut, session.closed)
		}
	})
}

func TestRunRoomFailureContinues(t *testing.T) {
	session := twoRoomSession(t)
	session.pages[roomAlpha] = nil
	session.addError(roomAlpha, &messaging.MatrixError{Code: messaging.ErrCodeForbidden, StatusCode: http.StatusForbidden})
	renderer := &recordingRenderer{}
	archiver := newTestArchiver(t, session, renderer, func(config *Config) { config.Index = true })

	report, err := archiver.Run(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("Run error = %v, want ErrFetch", err)
	}
	if renderer.calls != 1 {
		t.Error("archive not rendered after a room failure")
	}
	failed := report.FailedRooms()
	if len(failed) != 1 || failed[0].RoomID != roomAlpha {
		t.Errorf("failed rooms = %+v, want alpha", failed)
	}
	if len(renderer.rooms[roomAlpha]) != 1 {
		t.Errorf("alpha rendered with %d events, want the sync event", len(renderer.rooms[roomAlpha]))
	}
	if report.Media.Downloaded != 1 {
		t.Errorf("media downloaded = %d, want beta's image", report.Media.Downloaded)
	}
}

func TestRunErrors(t *testing.T) {
	loginFailure := errors.New("bad password")

	tests := []struct {
		name    string
		modify  func(*Config, *fakeSession, *recordingRenderer)
		wantErr error
	}{
		{
			name: "login",
			modify: func(config *Config, _ *fakeSession, _ *recordingRenderer) {
				config.Login = func(context.Context) (messaging.Session, error) { return nil, loginFailure }
			},
			wantErr: ErrAuth,
		},
		{
			name: "sync",
			modify: func(_ *Config, session *fakeSession, _ *recordingRenderer) {
				session.syncErrs = []error{&messaging.MatrixError{Code: messaging.ErrCodeForbidden, StatusCode: 403}}
			},
			wantErr: ErrFetch,
		},
		{
			name: "render",
			modify: func(_ *Config, _ *fakeSession, renderer *recordingRenderer) {
				renderer.err = errors.New("disk full")
			},
			wantErr: ErrRender,
		},
		{
			name: "missing key file",
			modify: func(config *Config, _ *fakeSession, _ *recordingRenderer) {
				config.KeyFile = filepath.Join(t.TempDir(), "missing.txt")
			},
			wantErr: ErrAuth,
		},
		{
			name: "unreadable key export",
			modify: func(config *Config, _ *fakeSession, _ *recordingRenderer) {
				config.KeyFile = testutil.WriteFile(t, filepath.Join(t.TempDir(), "keys.txt"), "not a key export")
			},
			wantErr: ErrAuth,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			session := twoRoomSession(t)
			renderer := &recordingRenderer{}
			passphrase := testutil.Secret(t, "passphrase")

			archiver := newTestArchiver(t, session, renderer, func(config *Config) {
				config.KeyPassphrase = passphrase
				test.modify(config, session, renderer)
			})
			_, err := archiver.Run(context.Background())
			if !errors.Is(err, test.wantErr) {
				t.Errorf("Run error = %v, want %v", err, test.wantErr)
			}
		})
	}
}

func TestRunSyncRetried(t *testing.T) {
	session := twoRoomSession(t)
	session.syncErrs = []error{&messaging.HTTPError{StatusCode: http.StatusBadGateway}}
	archiver := newTestArchiver(t, session, &recordingRenderer{}, func(config *Config) {
		config.Retry.BaseDelay = 0
		config.Retry.MaxDelay = 0
	})
	if _, err := archiver.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(session.syncOptions) != 2 {
		t.Errorf("synced %d times, want 2", len(session.syncOptions))
	}
}

func TestRunOutputLocked(t *testing.T) {
	session := twoRoomSession(t)
	archiver := newTestArchiver(t, session, &recordingRenderer{}, nil)
	if err := os.MkdirAll(archiver.config.Output, 0o755); err != nil {
		t.Fatal(err)
	}
	lock := flock.New(filepath.Join(archiver.config.Output, LockFileName))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		t.Fatalf("TryLock = %v, %v", locked, err)
	}
	defer lock.Unlock()

	report, err := archiver.Run(context.Background())
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("Run error = %v, want ErrStorage", err)
	}
	if report != nil {
		t.Error("report returned for a run that never started")
	}
	if len(session.syncOptions) != 0 {
		t.Error("locked run contacted the homeserver")
	}
}

func TestRunOutputIsFile(t *testing.T) {
	session := twoRoomSession(t)
	archiver := newTestArchiver(t, session, &recordingRenderer{}, nil)
	if err := os.WriteFile(archiver.config.Output, []byte("file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := archiver.Run(context.Background()); !errors.Is(err, ErrStorage) {
		t.Errorf("Run error = %v, want ErrStorage", err)
	}
}

func TestRunRoomSelection(t *testing.T) {
	tests := []struct {
		name    string
		include []ref.RoomID
		exclude []ref.RoomID
		want    []ref.RoomID
	}{
		{name: "all", want: []ref.RoomID{roomAlpha, roomBeta}},
		{name: "include", include: []ref.RoomID{roomBeta}, want: []ref.RoomID{roomBeta}},
		{name: "exclude", exclude: []ref.RoomID{roomBeta}, want: []ref.RoomID{roomAlpha}},
		{name: "include and exclude", include: []ref.RoomID{roomAlpha, roomBeta}, exclude: []ref.RoomID{roomAlpha}, want: []ref.RoomID{roomBeta}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			session := twoRoomSession(t)
			renderer := &recordingRenderer{}
			archiver := newTestArchiver(t, session, renderer, func(config *Config) {
				config.IncludeRooms = test.include
				config.ExcludeRooms = test.exclude
				config.SkipMedia = true
			})
			report, err := archiver.Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			var got []ref.RoomID
			for _, room := range report.Rooms {
				got = append(got, room.RoomID)
			}
			if !slices.Equal(got, test.want) {
				t.Errorf("archived rooms = %v, want %v", got, test.want)
			}
			if len(renderer.rooms) != len(test.want) {
				t.Errorf("rendered %d rooms, want %d", len(renderer.rooms), len(test.want))
			}
			if len(session.downloads) != 0 {
				t.Errorf("downloaded %v with media disabled", session.downloads)
			}
		})
	}
}

func TestRunLogoutFailureIsNotFatal(t *testing.T) {
	session := twoRoomSession(t)
	session.logoutErr = errors.New("token already invalid")
	archiver := newTestArchiver(t, session, &recordingRenderer{}, func(config *Config) { config.Logout = true })
	if _, err := archiver.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !session.loggedOut || !session.closed {
		t.Error("session not logged out and closed")
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected error for empty config")
	}
	for _, want := range []string{"Login", "Output", "Renderer"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}

	_, err = New(Config{
		Login:    func(context.Context) (messaging.Session, error) { return nil, nil },
		Output:   t.TempDir(),
		Renderer: &recordingRenderer{},
		KeyFile:  "keys.txt",
		EventLog: &eventlog.Config{Codec: "xml"},
	})
	if err == nil || !strings.Contains(err.Error(), "KeyPassphrase") || !strings.Contains(err.Error(), "codec") {
		t.Errorf("New error = %v, want missing passphrase and bad codec", err)
	}
}

func TestRoomName(t *testing.T) {
	tests := []struct {
		name string
		room messaging.JoinedRoom
		want string
	}{
		{name: "no state", want: ""},
		{
			name: "alias only",
			room: messaging.JoinedRoom{State: messaging.StateSection{Events: []messaging.Event{
				stateEvent(t, "m.room.canonical_alias", `{"alias":"#a:example.org"}`),
			}}},
			want: "#a:example.org",
		},
		{
			name: "timeline rename",
			room: messaging.JoinedRoom{
				State: messaging.StateSection{Events: []messaging.Event{
					stateEvent(t, "m.room.name", `{"name":"Old"}`),
				}},
				Timeline: messaging.TimelineSection{Events: []messaging.Event{
					stateEvent(t, "m.room.name", `{"name":"New"}`),
				}},
			},
			want: "New",
		},
		{
			name: "non-empty state key ignored",
			room: messaging.JoinedRoom{State: messaging.StateSection{Events: []messaging.Event{
				parseEvent(t, `{"type":"m.room.name","state_key":"x","content":{"name":"Wrong"}}`),
			}}},
			want: "",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := roomName(test.room); got != test.want {
				t.Errorf("roomName = %q, want %q", got, test.want)
			}
		})
	}
}

func TestRoomFileBaseAndSort(t *testing.T) {
	if got := RoomFileBase(ref.MustParseRoomID("!a/b:example.org")); got != "!a_b:example.org" {
		t.Errorf("RoomFileBase = %q", got)
	}

	events := []Event{
		{EventID: ref.MustParseEventID("$late"), Timestamp: 30},
		{EventID: ref.MustParseEventID("$tie1"), Timestamp: 10},
		{EventID: ref.MustParseEventID("$early"), Timestamp: 5},
		{EventID: ref.MustParseEventID("$tie2"), Timestamp: 10},
	}
	sorted := SortByTimestamp(events)
	if got := eventIDs(sorted); !slices.Equal(got, []string{"$early", "$tie1", "$tie2", "$late"}) {
		t.Errorf("sorted = %v, want ties in arrival order", got)
	}
	if events[0].EventID.String() != "$late" {
		t.Error("SortByTimestamp modified its input")
	}
}

func TestRunKeepsRepeatedEventsByDefault(t *testing.T) {
	session := twoRoomSession(t)
	renderer := &recordingRenderer{}
	archiver := newTestArchiver(t, session, renderer, nil)

	report, err := archiver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	alpha := renderer.rooms[roomAlpha]
	if len(alpha) != 101 {
		t.Errorf("alpha has %d events, want 101 (every delivered event kept)", len(alpha))
	}
	if report.Rooms[0].Events != 101 {
		t.Errorf("alpha report events = %d, want 101", report.Rooms[0].Events)
	}
	if report.DuplicateEvents != 1 {
		t.Errorf("DuplicateEvents = %d, want 1", report.DuplicateEvents)
	}
}
