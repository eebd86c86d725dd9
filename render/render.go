// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package render writes the human-readable side of an archive: one
// static HTML page per room and an index page linking them.
//
// Pages are produced with html/template from embedded defaults, or from
// operator-supplied template files. Template functions classify events
// (isText, isFormatted, isImage, isAudio, isVideo, isFile), format
// timestamps, link to downloaded media, and render message bodies:
// plain bodies as GitHub-flavoured markdown, formatted bodies through
// an HTML allowlist, and everything else as highlighted event JSON.
//
// Output depends only on the events and the configuration. Rendering
// the same history twice produces byte-identical files.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/irl/matrix-floppy/archive"
	"github.com/irl/matrix-floppy/lib/ref"
)

//go:embed templates/*.tmpl
var templateFiles embed.FS

// IndexFileName is the index page written next to the room pages.
const IndexFileName = "index.html"

// DefaultHighlightStyle is the chroma style for event source.
const DefaultHighlightStyle = "github"

// Config configures a Renderer.
type Config struct {
	// RoomTemplate and IndexTemplate are optional template files that
	// replace the embedded defaults.
	RoomTemplate  string
	IndexTemplate string

	// Location is the time zone of rendered timestamps. Nil uses
	// time.Local.
	Location *time.Location

	// AllowFormattedHTML renders the allowed subset of formatted
	// message bodies. When false only their text is shown.
	AllowFormattedHTML bool

	// HighlightStyle names the chroma style for event source. Empty
	// uses DefaultHighlightStyle.
	HighlightStyle string

	Logger *slog.Logger
}

// Renderer renders room histories to HTML. It implements
// archive.Renderer.
type Renderer struct {
	room   *template.Template
	index  *template.Template
	logger *slog.Logger
}

type roomPage struct {
	RoomID ref.RoomID
	Name   string
	Events []archive.Event
}

type indexPage struct {
	Rooms []indexEntry
}

type indexEntry struct {
	RoomID ref.RoomID
	Name   string
	File   string
	Events int
}

// New parses the room and index templates.
func New(config Config) (*Renderer, error) {
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.HighlightStyle == "" {
		config.HighlightStyle = DefaultHighlightStyle
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	helpers, err := newFuncs(config.Location, config.AllowFormattedHTML, config.HighlightStyle)
	if err != nil {
		return nil, err
	}
	room, err := loadTemplate("room", config.RoomTemplate, "templates/room.html.tmpl", helpers.funcMap())
	if err != nil {
		return nil, err
	}
	index, err := loadTemplate("index", config.IndexTemplate, "templates/index.html.tmpl", helpers.funcMap())
	if err != nil {
		return nil, err
	}
	return &Renderer{room: room, index: index, logger: config.Logger}, nil
}

func loadTemplate(name, path, embedded string, funcMap template.FuncMap) (*template.Template, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = templateFiles.ReadFile(embedded)
	}
	if err != nil {
		return nil, fmt.Errorf("render: reading %s template: %w", name, err)
	}
	parsed, err := template.New(name).Funcs(funcMap).Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("render: parsing %s template: %w", name, err)
	}
	return parsed, nil
}

// RenderRoom writes the page of one room. Events are shown in server
// timestamp order; events with equal timestamps keep their given order.
// An empty name displays the room ID.
func (r *Renderer) RenderRoom(w io.Writer, roomID ref.RoomID, name string, events []archive.Event) error {
	if name == "" {
		name = roomID.String()
	}
	page := roomPage{RoomID: roomID, Name: name, Events: archive.SortByTimestamp(events)}
	if err := r.room.Execute(w, page); err != nil {
		return fmt.Errorf("render: room %s: %w", roomID, err)
	}
	return nil
}

// RenderIndex writes the index page for the given rooms, in order.
func (r *Renderer) RenderIndex(w io.Writer, history *archive.History, names map[ref.RoomID]string) error {
	page := indexPage{Rooms: []indexEntry{}}
	for _, roomID := range history.Rooms() {
		name := names[roomID]
		if name == "" {
			name = roomID.String()
		}
		page.Rooms = append(page.Rooms, indexEntry{
			RoomID: roomID,
			Name:   name,
			File:   RoomFileName(roomID),
			Events: len(history.Events(roomID)),
		})
	}
	if err := r.index.Execute(w, page); err != nil {
		return fmt.Errorf("render: index: %w", err)
	}
	return nil
}

// WriteAll renders every room of history into dir, followed by the
// index page. Each file is written completely before it replaces an
// earlier version.
func (r *Renderer) WriteAll(dir string, history *archive.History, names map[ref.RoomID]string) error {
	for _, roomID := range history.Rooms() {
		var buffer bytes.Buffer
		if err := r.RenderRoom(&buffer, roomID, names[roomID], history.Events(roomID)); err != nil {
			return err
		}
		path := filepath.Join(dir, RoomFileName(roomID))
		if err := writeFile(path, buffer.Bytes()); err != nil {
			return err
		}
		r.logger.Debug("room page written", "room_id", roomID, "path", path, "events", len(history.Events(roomID)))
	}

	var buffer bytes.Buffer
	if err := r.RenderIndex(&buffer, history, names); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, IndexFileName), buffer.Bytes())
}

// RoomFileName returns the page file name of a room.
func RoomFileName(roomID ref.RoomID) string {
	return archive.RoomFileBase(roomID) + ".html"
}

func writeFile(path string, data []byte) (err error) {
	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	defer func() {
		if err != nil {
			file.Close()
			os.Remove(file.Name())
		}
	}()
	if _, err = file.Write(data); err != nil {
		return fmt.Errorf("render: writing %s: %w", path, err)
	}
	if err = file.Chmod(0o644); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err = file.Close(); err != nil {
		return fmt.Errorf("render: closing %s: %w", path, err)
	}
	if err = os.Rename(file.Name(), path); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return nil
}
