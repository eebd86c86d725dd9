// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/irl/matrix-floppy/lib/ref"
)

// RoomReport is the outcome of archiving one room.
type RoomReport struct {
	RoomID ref.RoomID
	Name   string
	// File is the rendered HTML file name, relative to the output
	// directory.
	File   string
	Events int
	Stats  FetchStats
	// Err is the pagination failure, if any. Events collected before
	// the failure are still archived.
	Err error
}

// Report summarizes an archive run.
type Report struct {
	RunID    string
	UserID   ref.UserID
	Output   string
	Started  time.Time
	Finished time.Time

	KeysImported    int
	Rooms           []RoomReport
	Media           MediaSummary
	DuplicateEvents int
	Undecryptable   int
	EventLogs       int
}

// Events returns the number of events archived across all rooms.
func (r *Report) Events() int {
	total := 0
	for _, room := range r.Rooms {
		total += room.Events
	}
	return total
}

// FailedRooms returns the rooms whose history could not be fetched
// completely.
func (r *Report) FailedRooms() []RoomReport {
	var failed []RoomReport
	for _, room := range r.Rooms {
		if room.Err != nil {
			failed = append(failed, room)
		}
	}
	return failed
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// WriteTable renders the per-room summary and the run totals.
func (r *Report) WriteTable(w io.Writer) error {
	rooms := table.NewWriter()
	rooms.SetStyle(table.StyleRounded)
	rooms.AppendHeader(table.Row{"Room", "Name", "Events", "Pages", "Retries", "Status"})
	for _, room := range r.Rooms {
		status := "ok"
		if room.Err != nil {
			status = "failed: " + room.Err.Error()
		}
		rooms.AppendRow(table.Row{
			room.RoomID.String(),
			room.Name,
			room.Events,
			room.Stats.Pages,
			room.Stats.Retries,
			status,
		})
	}
	rooms.AppendFooter(table.Row{"", "Total", r.Events(), "", "", strconv.Itoa(len(r.FailedRooms())) + " failed"})
	rooms.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, WidthMax: 60},
	})

	totals := table.NewWriter()
	totals.SetStyle(table.StyleRounded)
	totals.AppendRows([]table.Row{
		{"Run", r.RunID},
		{"User", r.UserID.String()},
		{"Output", r.Output},
		{"Duration", r.Duration().Round(time.Millisecond).String()},
		{"Keys imported", r.KeysImported},
		{"Events repeated", r.DuplicateEvents},
		{"Undecryptable events", r.Undecryptable},
		{"Media downloaded", fmt.Sprintf("%d (%d bytes)", r.Media.Downloaded, r.Media.Bytes)},
		{"Media failed", r.Media.Failed},
		{"Media repeated", fmt.Sprintf("%d (%d skipped)", r.Media.Duplicates, r.Media.Skipped)},
		{"Event logs", r.EventLogs},
	})
	totals.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})

	_, err := fmt.Fprintf(w, "%s\n%s\n", rooms.Render(), totals.Render())
	return err
}
