// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package progress

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// logHandler formats records as text and prints them above the
// progress bar. Handlers derived with WithAttrs and WithGroup share the
// terminal and the format buffer.
type logHandler struct {
	terminal *Terminal
	lock     *sync.Mutex
	buffer   *bytes.Buffer
	inner    slog.Handler
}

// LogHandler returns a slog.Handler that prints records at or above
// level through the display.
func (t *Terminal) LogHandler(level slog.Leveler) slog.Handler {
	buffer := &bytes.Buffer{}
	return &logHandler{
		terminal: t,
		lock:     &sync.Mutex{},
		buffer:   buffer,
		inner:    slog.NewTextHandler(buffer, &slog.HandlerOptions{Level: level}),
	}
}

func (h *logHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *logHandler) Handle(ctx context.Context, record slog.Record) error {
	h.lock.Lock()
	h.buffer.Reset()
	err := h.inner.Handle(ctx, record)
	line := h.buffer.String()
	h.lock.Unlock()
	if err != nil {
		return err
	}
	h.terminal.println(line)
	return nil
}

func (h *logHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &logHandler{terminal: h.terminal, lock: h.lock, buffer: h.buffer, inner: h.inner.WithAttrs(attrs)}
}

func (h *logHandler) WithGroup(name string) slog.Handler {
	return &logHandler{terminal: h.terminal, lock: h.lock, buffer: h.buffer, inner: h.inner.WithGroup(name)}
}
