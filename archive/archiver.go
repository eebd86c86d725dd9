// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/irl/matrix-floppy/lib/clock"
	"github.com/irl/matrix-floppy/lib/e2ee"
	"github.com/irl/matrix-floppy/lib/eventindex"
	"github.com/irl/matrix-floppy/lib/eventlog"
	"github.com/irl/matrix-floppy/lib/ref"
	"github.com/irl/matrix-floppy/lib/retry"
	"github.com/irl/matrix-floppy/lib/secret"
	"github.com/irl/matrix-floppy/messaging"
)

// DefaultFilter is the initial sync filter: the most recent timeline
// event of every room, plus full room state. Everything older is
// reached by backward pagination.
const DefaultFilter = `{"room":{"timeline":{"limit":1}}}`

// DefaultSyncTimeout is the long-poll timeout of the initial sync.
const DefaultSyncTimeout = 30 * time.Second

// Renderer writes the human-readable archive. *render.Renderer
// implements it.
type Renderer interface {
	WriteAll(dir string, history *History, names map[ref.RoomID]string) error
}

// Config configures an Archiver.
type Config struct {
	// Login opens the Matrix session. Required.
	Login func(ctx context.Context) (messaging.Session, error)

	// Output is the archive directory. Created if missing.
	Output string

	// KeyFile is an optional megolm key export. KeyPassphrase is its
	// passphrase and is required when KeyFile is set.
	KeyFile       string
	KeyPassphrase *secret.Buffer

	// Filter is the inline JSON sync filter. Empty uses DefaultFilter.
	Filter string
	// SyncTimeout is the initial sync timeout. Zero uses
	// DefaultSyncTimeout.
	SyncTimeout time.Duration

	PageSize int
	Retry    retry.Policy

	// IncludeRooms restricts the run to these rooms when non-empty.
	// ExcludeRooms are skipped.
	IncludeRooms []ref.RoomID
	ExcludeRooms []ref.RoomID

	// DeduplicateEvents drops repeated event IDs within a room.
	DeduplicateEvents bool

	SkipMedia        bool
	DeduplicateMedia bool

	// Renderer writes the HTML archive. Required.
	Renderer Renderer

	// EventLog enables per-room raw event logs when non-nil.
	EventLog *eventlog.Config
	// Index enables the SQLite index.
	Index bool
	// MetricsTextfile, when set, receives Prometheus metrics for the run.
	MetricsTextfile string

	// Logout invalidates the access token at the end of the run.
	Logout bool

	// RunID identifies the run in logs and the report. Empty generates
	// a random UUID.
	RunID string

	Clock    clock.Clock
	Random   func() float64
	Progress Progress
	Logger   *slog.Logger
}

// Archiver runs one archive of a Matrix account.
type Archiver struct {
	config   Config
	clock    clock.Clock
	progress Progress
	logger   *slog.Logger
	runID    string
}

// New validates config and returns an Archiver.
func New(config Config) (*Archiver, error) {
	var errs []error
	if config.Login == nil {
		errs = append(errs, errors.New("archive: Login is required"))
	}
	if config.Output == "" {
		errs = append(errs, errors.New("archive: Output is required"))
	}
	if config.Renderer == nil {
		errs = append(errs, errors.New("archive: Renderer is required"))
	}
	if config.KeyFile != "" && config.KeyPassphrase == nil {
		errs = append(errs, errors.New("archive: KeyPassphrase is required with KeyFile"))
	}
	if config.EventLog != nil {
		if err := config.EventLog.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if config.Retry.MaxAttempts != 0 {
		if err := config.Retry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("archive: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if config.Filter == "" {
		config.Filter = DefaultFilter
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = DefaultSyncTimeout
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultPolicy()
	}
	runID := config.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		config:   config,
		clock:    clk,
		progress: orNopProgress(config.Progress),
		logger:   logger.With("run_id", runID),
		runID:    runID,
	}, nil
}

// RunID returns the identifier of the run.
func (a *Archiver) RunID() string { return a.runID }

// Run archives every selected joined room. The returned Report is
// non-nil whenever the run got past acquiring the output lock, even
// when an error is returned.
//
// Errors wrap ErrAuth, ErrFetch, ErrRender, or ErrStorage. Room
// pagination failures do not stop the run: every phase completes and
// ErrFetch is returned at the end.
func (a *Archiver) Run(ctx context.Context) (*Report, error) {
	output := a.config.Output
	if err := os.MkdirAll(output, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating output directory: %w", ErrStorage, err)
	}
	lock := flock.New(filepath.Join(output, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: locking %s: %w", ErrStorage, output, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s is in use by another run", ErrStorage, output)
	}
	defer lock.Unlock()

	report := &Report{
		RunID:   a.runID,
		Output:  output,
		Started: a.clock.Now(),
	}
	err = a.run(ctx, report)
	report.Finished = a.clock.Now()

	if a.config.MetricsTextfile != "" {
		if metricsErr := WriteMetrics(a.config.MetricsTextfile, report, err == nil); metricsErr != nil {
			a.logger.Warn("metrics textfile not written", "error", metricsErr)
		}
	}
	return report, err
}

func (a *Archiver) run(ctx context.Context, report *Report) error {
	session, err := a.config.Login(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	defer session.Close()
	report.UserID = session.UserID()
	a.logger.Info("logged in", "user_id", session.UserID())

	if a.config.Logout {
		defer func() {
			// Logout runs even after the run context is cancelled.
			logoutContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := session.Logout(logoutContext); err != nil {
				a.logger.Warn("logout failed", "error", err)
				return
			}
			a.logger.Info("logged out")
		}()
	}

	var decrypter EventDecrypter
	if a.config.KeyFile != "" {
		store, err := a.importKeys(report)
		if err != nil {
			return err
		}
		decrypter = e2ee.NewDecrypter(store)
	}
	collector := NewCollector(CollectorConfig{
		Decrypter:         decrypter,
		DeduplicateEvents: a.config.DeduplicateEvents,
		Logger:            a.logger,
	})

	sync, err := a.initialSync(ctx, session)
	if err != nil {
		return err
	}
	rooms := a.selectRooms(sync)
	names := make(map[ref.RoomID]string, len(rooms))
	for _, roomID := range rooms {
		joined := sync.Rooms.Join[roomID]
		names[roomID] = roomName(joined)
		collector.AddRoom(roomID)
		for _, event := range joined.Timeline.Events {
			collector.Collect(roomID, event)
		}
	}
	a.logger.Info("initial sync complete", "rooms", len(rooms), "events", collector.History().Len())

	fetchFailed, err := a.fetchRooms(ctx, session, collector, sync, rooms, names, report)
	if err != nil {
		return err
	}
	report.DuplicateEvents = collector.Duplicates()
	report.Undecryptable = collector.Undecryptable()

	if !a.config.SkipMedia {
		fetcher := NewMediaFetcher(session, a.config.Output, a.logger)
		summary, err := fetcher.FetchAll(ctx, collector.Media(), a.config.DeduplicateMedia, a.progress)
		report.Media = summary
		if err != nil {
			return err
		}
		a.logger.Info("media phase complete",
			"downloaded", summary.Downloaded,
			"failed", summary.Failed,
			"skipped", summary.Skipped,
			"bytes", summary.Bytes,
		)
	}

	if err := a.writeOutputs(ctx, collector.History(), names, report); err != nil {
		return err
	}

	if fetchFailed > 0 {
		return fmt.Errorf("%w: %d of %d rooms incomplete", ErrFetch, fetchFailed, len(rooms))
	}
	return nil
}

func (a *Archiver) importKeys(report *Report) (*e2ee.KeyStore, error) {
	data, err := os.ReadFile(a.config.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reading key export: %w", ErrAuth, err)
	}
	exported, err := e2ee.ParseKeyExport(data, a.config.KeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	store := e2ee.NewKeyStore()
	imported, err := store.Import(exported)
	if err != nil {
		a.logger.Warn("some room keys could not be imported", "error", err)
	}
	report.KeysImported = imported
	a.logger.Info("room keys imported", "sessions", imported, "rooms", len(store.Rooms()))
	return store, nil
}

func (a *Archiver) initialSync(ctx context.Context, session messaging.Session) (*messaging.SyncResponse, error) {
	var response *messaging.SyncResponse
	err := a.config.Retry.Do(ctx, retry.Options{
		Clock:    a.clock,
		Classify: ClassifyError,
		Random:   a.config.Random,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			a.logger.Warn("initial sync failed, retrying", "error", err, "retry", attempt, "backoff", delay)
		},
	}, func(ctx context.Context) error {
		sync, err := session.Sync(ctx, messaging.SyncOptions{
			Filter:     a.config.Filter,
			FullState:  true,
			Timeout:    int(a.config.SyncTimeout.Milliseconds()),
			SetTimeout: true,
		})
		if err != nil {
			return err
		}
		response = sync
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: initial sync: %w", ErrFetch, err)
	}
	return response, nil
}

// selectRooms returns the joined rooms to archive, sorted by room ID.
func (a *Archiver) selectRooms(sync *messaging.SyncResponse) []ref.RoomID {
	include := make(map[ref.RoomID]bool, len(a.config.IncludeRooms))
	for _, roomID := range a.config.IncludeRooms {
		include[roomID] = true
	}
	exclude := make(map[ref.RoomID]bool, len(a.config.ExcludeRooms))
	for _, roomID := range a.config.ExcludeRooms {
		exclude[roomID] = true
	}

	rooms := make([]ref.RoomID, 0, len(sync.Rooms.Join))
	for roomID := range sync.Rooms.Join {
		if len(include) > 0 && !include[roomID] {
			continue
		}
		if exclude[roomID] {
			continue
		}
		rooms = append(rooms, roomID)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].String() < rooms[j].String() })
	return rooms
}

func (a *Archiver) fetchRooms(ctx context.Context, session messaging.Session, collector *Collector, sync *messaging.SyncResponse, rooms []ref.RoomID, names map[ref.RoomID]string, report *Report) (int, error) {
	fetcher, err := NewFetcher(FetcherConfig{
		Session:   session,
		Collector: collector,
		Policy:    a.config.Retry,
		PageSize:  a.config.PageSize,
		Clock:     a.clock,
		Random:    a.config.Random,
		Logger:    a.logger,
	})
	if err != nil {
		return 0, err
	}

	a.progress.StartPhase("Fetching room history", len(rooms))
	defer a.progress.EndPhase()

	failed := 0
	for _, roomID := range rooms {
		a.progress.Step(displayName(roomID, names[roomID]))
		stats, err := fetcher.FetchRoom(ctx, roomID, sync.Rooms.Join[roomID].Timeline.PrevBatch)
		if err != nil && ctx.Err() != nil {
			return failed, ctx.Err()
		}
		roomReport := RoomReport{
			RoomID: roomID,
			Name:   names[roomID],
			File:   RoomFileBase(roomID) + ".html",
			Stats:  stats,
			Err:    err,
		}
		if err != nil {
			failed++
			a.logger.Error("room history incomplete", "room_id", roomID, "error", err)
		} else {
			a.logger.Info("room history fetched",
				"room_id", roomID,
				"pages", stats.Pages,
				"events", stats.Events,
				"retries", stats.Retries,
			)
		}
		report.Rooms = append(report.Rooms, roomReport)
	}
	for index := range report.Rooms {
		report.Rooms[index].Events = len(collector.History().Events(report.Rooms[index].RoomID))
	}
	return failed, nil
}

func (a *Archiver) writeOutputs(ctx context.Context, history *History, names map[ref.RoomID]string, report *Report) error {
	steps := 1
	if a.config.EventLog != nil {
		steps++
	}
	if a.config.Index {
		steps++
	}
	a.progress.StartPhase("Writing archive", steps)
	defer a.progress.EndPhase()

	a.progress.Step("html")
	if err := a.config.Renderer.WriteAll(a.config.Output, history, names); err != nil {
		return fmt.Errorf("%w: rendering: %w", ErrRender, err)
	}
	a.logger.Info("archive rendered", "rooms", len(history.Rooms()), "output", a.config.Output)

	if a.config.EventLog != nil {
		a.progress.Step("event logs")
		written, err := writeEventLogs(a.config.Output, history, *a.config.EventLog)
		report.EventLogs = written
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRender, err)
		}
		a.logger.Info("event logs written", "rooms", written, "format", a.config.EventLog.Extension())
	}

	if a.config.Index {
		a.progress.Step("index")
		path := filepath.Join(a.config.Output, eventindex.FileName)
		if err := eventindex.Write(ctx, path, indexSnapshot(history, names, report), a.logger); err != nil {
			return fmt.Errorf("%w: %w", ErrRender, err)
		}
		a.logger.Info("index written", "path", path)
	}
	return nil
}

// EventLogPath returns the event log file of a room.
func EventLogPath(dir string, roomID ref.RoomID, config eventlog.Config) string {
	return filepath.Join(dir, RoomFileBase(roomID)+".events."+config.Extension())
}

func writeEventLogs(dir string, history *History, config eventlog.Config) (int, error) {
	written := 0
	for _, roomID := range history.Rooms() {
		sorted := SortByTimestamp(history.Events(roomID))
		raw := make([]json.RawMessage, 0, len(sorted))
		for _, event := range sorted {
			if len(event.Raw) > 0 {
				raw = append(raw, event.Raw)
			}
		}
		if err := eventlog.WriteFile(EventLogPath(dir, roomID, config), raw, config); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func indexSnapshot(history *History, names map[ref.RoomID]string, report *Report) eventindex.Snapshot {
	var snapshot eventindex.Snapshot

	fetchErrors := make(map[ref.RoomID]string, len(report.Rooms))
	for _, room := range report.Rooms {
		if room.Err != nil {
			fetchErrors[room.RoomID] = room.Err.Error()
		}
	}

	for _, roomID := range history.Rooms() {
		events := SortByTimestamp(history.Events(roomID))
		snapshot.Rooms = append(snapshot.Rooms, eventindex.Room{
			RoomID:     roomID.String(),
			Name:       names[roomID],
			EventCount: len(events),
			FetchError: fetchErrors[roomID],
		})
		for _, event := range events {
			snapshot.Events = append(snapshot.Events, eventindex.Event{
				EventID:   event.EventID.String(),
				RoomID:    roomID.String(),
				Sender:    event.Sender.String(),
				Timestamp: event.Timestamp,
				Type:      event.Type.String(),
				Kind:      event.Kind.String(),
				Body:      event.Body,
				MediaURI:  event.Media.URI.String(),
			})
		}
	}

	for _, result := range report.Media.Results {
		row := eventindex.Media{
			URI:    result.Reference.URI.String(),
			Path:   MediaPath(result.Reference.URI),
			Size:   result.Size,
			Status: string(result.Status),
		}
		if result.Status == MediaDownloaded {
			row.Digest = result.Digest.String()
		}
		if result.Err != nil {
			row.Error = result.Err.Error()
		}
		snapshot.Media = append(snapshot.Media, row)
	}
	return snapshot
}

// roomName returns the room's m.room.name, falling back to its
// canonical alias. State in the timeline overrides the state section.
func roomName(room messaging.JoinedRoom) string {
	var name, alias string
	events := append(append([]messaging.Event(nil), room.State.Events...), room.Timeline.Events...)
	for _, event := range events {
		if event.StateKey == nil || *event.StateKey != "" {
			continue
		}
		switch event.Type {
		case ref.EventTypeRoomName:
			if content, err := messaging.DecodeContent[messaging.RoomNameContent](event); err == nil {
				name = content.Name
			}
		case ref.EventTypeCanonicalAlias:
			if content, err := messaging.DecodeContent[messaging.CanonicalAliasContent](event); err == nil {
				alias = content.Alias
			}
		}
	}
	if name != "" {
		return name
	}
	return alias
}

func displayName(roomID ref.RoomID, name string) string {
	if name == "" {
		return roomID.String()
	}
	return name
}
