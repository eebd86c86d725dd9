// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Floppy archives the history of every Matrix room an account has
// joined into a browsable static HTML archive.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/irl/matrix-floppy/cmd/floppy/cli"
	"github.com/irl/matrix-floppy/cmd/floppy/commands"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	err := commands.Root().Execute(ctx, os.Args[1:])
	if err == nil {
		return cli.ExitOK
	}
	// Commands that print their own output return an ExitError. Don't
	// print a redundant "error:" line for those.
	var silent *cli.ExitError
	if errors.As(err, &silent) {
		return silent.Code
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return cli.ExitUsage
}
