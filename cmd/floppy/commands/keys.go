// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/irl/matrix-floppy/cmd/floppy/cli"
	"github.com/irl/matrix-floppy/lib/e2ee"
)

func keysCommand() *cli.Command {
	return &cli.Command{
		Name:    "keys",
		Summary: "Inspect megolm key exports",
		Subcommands: []*cli.Command{
			keysInspectCommand(),
		},
	}
}

type keysInspectParams struct {
	cli.JSONOutput
	PassphraseFile string `flag:"passphrase-file" desc:"file holding the export passphrase, - for standard input"`
}

type keysRoom struct {
	RoomID   string `json:"room_id"`
	Sessions int    `json:"sessions"`
}

type keysInspectOutput struct {
	Exported int        `json:"exported"`
	Usable   int        `json:"usable"`
	Errors   []string   `json:"errors"`
	Rooms    []keysRoom `json:"rooms"`
}

// keysInspectCommand decrypts a key export and reports which rooms it
// holds keys for, the same import an archive run performs.
func keysInspectCommand() *cli.Command {
	var params keysInspectParams

	return &cli.Command{
		Name:    "inspect",
		Summary: "Summarize the sessions in a key export",
		Description: `Decrypt a megolm key export (as produced by Element's "Export E2E
room keys") and list the rooms it holds session keys for. Sessions that
cannot be imported are reported as errors.`,
		Usage: "floppy keys inspect [flags] <file>",
		Examples: []cli.Example{
			{
				Description: "Inspect an export, prompting for the passphrase",
				Command:     "floppy keys inspect element-keys.txt",
			},
		},
		Params: func() any { return &params },
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("expected exactly one key export file, got %d arguments", len(args))
			}
			path := args[0]

			data, err := os.ReadFile(path)
			if errors.Is(err, fs.ErrNotExist) {
				return cli.NotFound("%w", err)
			}
			if err != nil {
				return cli.Internal("%w", err)
			}
			passphrase, err := cli.ReadSecret(params.PassphraseFile, "Passphrase for "+path)
			if err != nil {
				return err
			}
			defer passphrase.Close()

			exported, err := e2ee.ParseKeyExport(data, passphrase)
			if err != nil {
				return cli.Forbidden("%s: %w", path, err)
			}
			store := e2ee.NewKeyStore()
			usable, importErr := store.Import(exported)

			output := keysInspectOutput{Exported: len(exported), Usable: usable}
			if importErr != nil {
				for _, line := range unjoin(importErr) {
					output.Errors = append(output.Errors, line.Error())
				}
			}
			for roomID, sessions := range store.Rooms() {
				output.Rooms = append(output.Rooms, keysRoom{RoomID: roomID, Sessions: sessions})
			}
			slices.SortFunc(output.Rooms, func(a, b keysRoom) int {
				return cmp.Compare(a.RoomID, b.RoomID)
			})

			if done, err := params.EmitJSON(output); done {
				return err
			}

			rooms := table.NewWriter()
			rooms.SetStyle(table.StyleRounded)
			rooms.AppendHeader(table.Row{"Room", "Sessions"})
			for _, room := range output.Rooms {
				rooms.AppendRow(table.Row{room.RoomID, room.Sessions})
			}
			rooms.AppendFooter(table.Row{"Total", output.Usable})
			rooms.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
			fmt.Fprintln(os.Stdout, rooms.Render())

			fmt.Fprintf(os.Stdout, "%d of %d exported sessions usable\n", output.Usable, output.Exported)
			for _, line := range output.Errors {
				fmt.Fprintf(os.Stdout, "  %s\n", line)
			}
			return nil
		},
	}
}

// unjoin splits an errors.Join result into its parts.
func unjoin(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
