// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package progress reports the phases of an archive run to an operator.
//
// On a terminal, [Terminal] draws a progress bar for the current phase
// with bubbletea and prints a line as each phase completes. Anywhere
// else, [Log] emits structured log records instead. Both satisfy the
// archiver's progress interface: StartPhase, a Step per item, EndPhase.
package progress

import (
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/irl/matrix-floppy/lib/clock"
)

// Reporter receives progress notifications. Close releases the
// reporter's output and must be called once the run is over.
type Reporter interface {
	StartPhase(name string, total int)
	Step(detail string)
	EndPhase()
	Close() error
}

// New returns a Terminal reporter when output is a terminal and a Log
// reporter otherwise. The returned logger must be used for the rest of
// the run: on a terminal it prints records above the progress bar so
// they do not tear the display.
func New(output *os.File, logger *slog.Logger, level slog.Leveler) (Reporter, *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if output == nil || !term.IsTerminal(int(output.Fd())) {
		return NewLog(logger, clock.Real()), logger
	}
	terminal := NewTerminal(output)
	return terminal, slog.New(terminal.LogHandler(level))
}

// Log reports progress as log records: one at the start and end of
// each phase, and a debug record per step.
type Log struct {
	logger *slog.Logger
	clock  clock.Clock

	phase   string
	total   int
	steps   int
	started int64
}

// NewLog returns a Log reporter. A nil logger uses slog.Default().
func NewLog(logger *slog.Logger, clock clock.Clock) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger, clock: clock}
}

func (l *Log) StartPhase(name string, total int) {
	l.phase = name
	l.total = total
	l.steps = 0
	l.started = l.clock.Now().UnixMilli()
	l.logger.Info("phase started", "phase", name, "total", total)
}

func (l *Log) Step(detail string) {
	l.steps++
	l.logger.Debug("phase step", "phase", l.phase, "step", l.steps, "total", l.total, "detail", detail)
}

func (l *Log) EndPhase() {
	elapsed := l.clock.Now().UnixMilli() - l.started
	l.logger.Info("phase finished", "phase", l.phase, "steps", l.steps, "elapsed_ms", elapsed)
	l.phase = ""
}

func (l *Log) Close() error { return nil }

// Discard ignores all progress.
type Discard struct{}

func (Discard) StartPhase(string, int) {}
func (Discard) Step(string)            {}
func (Discard) EndPhase()              {}
func (Discard) Close() error           { return nil }
