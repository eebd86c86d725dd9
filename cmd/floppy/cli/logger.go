// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Log formats accepted by NewCommandLogger.
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

// NewCommandLogger creates a structured logger writing to output. The
// auto format uses slog.TextHandler when output is a terminal and
// slog.JSONHandler when it is piped or redirected (cron, systemd, CI).
//
// Callers scope the logger with command-specific context via With():
//
//	logger := cli.NewCommandLogger(os.Stderr, cli.FormatAuto, slog.LevelInfo).With(
//	    "command", "archive",
//	    "homeserver", cfg.Homeserver,
//	)
func NewCommandLogger(output io.Writer, format string, level slog.Leveler) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if format == FormatText || (format != FormatJSON && isTerminal(output)) {
		return slog.New(slog.NewTextHandler(output, options))
	}
	return slog.New(slog.NewJSONHandler(output, options))
}

func isTerminal(output io.Writer) bool {
	file, ok := output.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
