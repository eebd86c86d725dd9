// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the floppy CLI command tree.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/irl/matrix-floppy/cmd/floppy/cli"
	"github.com/irl/matrix-floppy/lib/version"
)

// Root builds and returns the complete floppy CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "floppy",
		Description: `Floppy: Matrix chat history archiver.

Logs in to a Matrix homeserver, fetches the complete history of every
joined room, and writes a static HTML archive with downloaded media.`,
		Subcommands: []*cli.Command{
			archiveCommand(),
			whoamiCommand(),
			keysCommand(),
			eventsCommand(),
			indexCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Printf("floppy %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
