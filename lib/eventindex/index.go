// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventindex writes the SQLite index of an archive.
//
// The index is derived data: [Write] replaces any existing database
// with one describing the current run. It holds three tables:
//
//   - rooms: one row per archived room, with its display name, event
//     count, and the fetch error if pagination failed.
//   - events: one row per archived event.
//   - media: one row per media download attempt, with the local path,
//     size, and BLAKE3 digest of the stored bytes.
package eventindex

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/irl/matrix-floppy/lib/sqlitepool"
)

// FileName is the index database name inside an archive directory.
const FileName = "index.db"

const schema = `
	CREATE TABLE IF NOT EXISTS rooms (
		room_id     TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		event_count INTEGER NOT NULL,
		fetch_error TEXT
	);

	CREATE TABLE IF NOT EXISTS events (
		event_id         TEXT,
		room_id          TEXT NOT NULL REFERENCES rooms(room_id),
		sender           TEXT NOT NULL,
		origin_server_ts INTEGER NOT NULL,
		type             TEXT NOT NULL,
		kind             TEXT NOT NULL,
		body             TEXT,
		media_uri        TEXT
	);
	CREATE INDEX IF NOT EXISTS events_room_time ON events (room_id, origin_server_ts);
	CREATE INDEX IF NOT EXISTS events_id ON events (event_id);

	CREATE TABLE IF NOT EXISTS media (
		uri    TEXT NOT NULL,
		path   TEXT NOT NULL,
		size   INTEGER NOT NULL,
		blake3 TEXT,
		status TEXT NOT NULL,
		error  TEXT
	);
	CREATE INDEX IF NOT EXISTS media_uri ON media (uri);
`

// Room is one row of the rooms table. An empty FetchError means the
// room's history was fetched completely.
type Room struct {
	RoomID     string
	Name       string
	EventCount int
	FetchError string
}

// Event is one row of the events table. EventID is empty for events
// the server delivered without one.
type Event struct {
	EventID   string
	RoomID    string
	Sender    string
	Timestamp int64
	Type      string
	Kind      string
	Body      string
	MediaURI  string
}

// Media is one row of the media table. Digest is the hex BLAKE3 digest
// of the stored bytes and is empty when nothing was stored.
type Media struct {
	URI    string
	Path   string
	Size   int64
	Digest string
	Status string
	Error  string
}

// StatusDownloaded is the media status of a stored download.
const StatusDownloaded = "downloaded"

// Snapshot is the complete content of an index.
type Snapshot struct {
	Rooms  []Room
	Events []Event
	Media  []Media
}

// Counts reports how many rows each table holds.
type Counts struct {
	Rooms  int
	Events int
	Media  int
}

// Write replaces the database at path with one holding snapshot. All
// rows are inserted in a single transaction.
func Write(ctx context.Context, path string, snapshot Snapshot, logger *slog.Logger) error {
	pool, err := open(path, true, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	err = pool.Transaction(ctx, func(conn *sqlite.Conn) error {
		for _, room := range snapshot.Rooms {
			if err := insertRoom(conn, room); err != nil {
				return err
			}
		}
		for _, event := range snapshot.Events {
			if err := insertEvent(conn, event); err != nil {
				return err
			}
		}
		for _, media := range snapshot.Media {
			if err := insertMedia(conn, media); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("eventindex: writing %s: %w", path, err)
	}
	return nil
}

// Count opens an existing index and returns its row counts.
func Count(ctx context.Context, path string) (Counts, error) {
	pool, err := open(path, false, nil)
	if err != nil {
		return Counts{}, err
	}
	defer pool.Close()

	conn, err := pool.Take(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("eventindex: %w", err)
	}
	defer pool.Put(conn)

	var counts Counts
	for _, table := range []struct {
		name   string
		target *int
	}{
		{"rooms", &counts.Rooms},
		{"events", &counts.Events},
		{"media", &counts.Media},
	} {
		err := sqlitex.Execute(conn, "SELECT count(*) FROM "+table.name, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				*table.target = stmt.ColumnInt(0)
				return nil
			},
		})
		if err != nil {
			return Counts{}, fmt.Errorf("eventindex: counting %s: %w", table.name, err)
		}
	}
	return counts, nil
}

// DownloadedMedia opens an existing index and returns the media rows
// whose bytes were stored, in insertion order.
func DownloadedMedia(ctx context.Context, path string) ([]Media, error) {
	pool, err := open(path, false, nil)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	conn, err := pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventindex: %w", err)
	}
	defer pool.Put(conn)

	var media []Media
	err = sqlitex.Execute(conn,
		"SELECT uri, path, size, coalesce(blake3, ''), status FROM media WHERE status = ? ORDER BY rowid",
		&sqlitex.ExecOptions{
			Args: []any{StatusDownloaded},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				media = append(media, Media{
					URI:    stmt.ColumnText(0),
					Path:   stmt.ColumnText(1),
					Size:   stmt.ColumnInt64(2),
					Digest: stmt.ColumnText(3),
					Status: stmt.ColumnText(4),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("eventindex: listing media: %w", err)
	}
	return media, nil
}

func open(path string, recreate bool, logger *slog.Logger) (*sqlitepool.Pool, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: 1,
		Recreate: recreate,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("eventindex: %w", err)
	}
	return pool, nil
}

func insertRoom(conn *sqlite.Conn, room Room) error {
	err := sqlitex.Execute(conn,
		"INSERT INTO rooms (room_id, name, event_count, fetch_error) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{room.RoomID, room.Name, room.EventCount, nullable(room.FetchError)},
		})
	if err != nil {
		return fmt.Errorf("room %s: %w", room.RoomID, err)
	}
	return nil
}

func insertEvent(conn *sqlite.Conn, event Event) error {
	err := sqlitex.Execute(conn,
		`INSERT INTO events (event_id, room_id, sender, origin_server_ts, type, kind, body, media_uri)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				nullable(event.EventID),
				event.RoomID,
				event.Sender,
				event.Timestamp,
				event.Type,
				event.Kind,
				nullable(event.Body),
				nullable(event.MediaURI),
			},
		})
	if err != nil {
		return fmt.Errorf("event %q in %s: %w", event.EventID, event.RoomID, err)
	}
	return nil
}

func insertMedia(conn *sqlite.Conn, media Media) error {
	err := sqlitex.Execute(conn,
		"INSERT INTO media (uri, path, size, blake3, status, error) VALUES (?, ?, ?, ?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{media.URI, media.Path, media.Size, nullable(media.Digest), media.Status, nullable(media.Error)},
		})
	if err != nil {
		return fmt.Errorf("media %s: %w", media.URI, err)
	}
	return nil
}

// nullable maps empty strings to SQL NULL.
func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
