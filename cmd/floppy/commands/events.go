// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"filippo.io/age"

	"github.com/irl/matrix-floppy/cmd/floppy/cli"
	"github.com/irl/matrix-floppy/lib/eventlog"
)

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:    "events",
		Summary: "Read raw event logs",
		Subcommands: []*cli.Command{
			eventsDumpCommand(),
		},
	}
}

type eventsDumpParams struct {
	Identities []string `flag:"identity,i" desc:"age identity file for encrypted logs (repeatable)"`
}

// eventsDumpCommand prints a room's event log as JSON lines, whatever
// codec, compression and encryption it was written with.
func eventsDumpCommand() *cli.Command {
	var params eventsDumpParams

	return &cli.Command{
		Name:    "dump",
		Summary: "Print an event log as JSON lines",
		Description: `Decode an event log written by "floppy archive" and print one raw
event per line. The codec, compression, and encryption are taken from
the file extension (for example ".events.cbor.zst.age"). Encrypted logs
need an age identity file holding a matching private key.`,
		Usage: "floppy events dump [flags] <file>",
		Examples: []cli.Example{
			{
				Description: "Search an encrypted room log with jq",
				Command:     "floppy events dump -i ~/.config/floppy/age.key saves/room.events.jsonl.zst.age | jq .type",
			},
		},
		Params: func() any { return &params },
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("expected exactly one event log, got %d arguments", len(args))
			}

			var identities []age.Identity
			for _, path := range params.Identities {
				parsed, err := readIdentities(path)
				if err != nil {
					return err
				}
				identities = append(identities, parsed...)
			}

			events, err := eventlog.ReadPath(args[0], identities...)
			if errors.Is(err, fs.ErrNotExist) {
				return cli.NotFound("%w", err)
			}
			if err != nil {
				return cli.Validation("%w", err)
			}

			output := bufio.NewWriter(os.Stdout)
			for _, event := range events {
				output.Write(event)
				output.WriteByte('\n')
			}
			if err := output.Flush(); err != nil {
				return cli.Internal("writing events: %w", err)
			}
			return nil
		},
	}
}

func readIdentities(path string) ([]age.Identity, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, cli.NotFound("%w", err)
	}
	if err != nil {
		return nil, cli.Internal("%w", err)
	}
	defer file.Close()
	identities, err := age.ParseIdentities(file)
	if err != nil {
		return nil, cli.Validation("identity file %s: %w", path, err)
	}
	return identities, nil
}
