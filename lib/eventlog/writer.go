// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/irl/matrix-floppy/lib/codec"
)

// Writer appends raw events to an event log. Close must be called to
// flush the compression and encryption layers; it does not close the
// underlying writer.
type Writer struct {
	codec    Codec
	buffered *bufio.Writer
	encoder  *codec.Encoder

	// closers run in order on Close: compression first, then age.
	closers []io.Closer
	count   int
	closed  bool
}

// NewWriter returns a Writer that encodes events according to config
// and writes the result to w.
func NewWriter(w io.Writer, config Config) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	recipients, err := config.recipients()
	if err != nil {
		return nil, err
	}

	var closers []io.Closer
	sink := w
	if len(recipients) > 0 {
		encrypted, err := age.Encrypt(sink, recipients...)
		if err != nil {
			return nil, fmt.Errorf("eventlog: starting age encryption: %w", err)
		}
		closers = append(closers, encrypted)
		sink = encrypted
	}

	switch config.compression() {
	case CompressionZstd:
		compressed, err := zstd.NewWriter(sink, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("eventlog: starting zstd: %w", err)
		}
		closers = append([]io.Closer{compressed}, closers...)
		sink = compressed
	case CompressionLZ4:
		compressed := lz4.NewWriter(sink)
		closers = append([]io.Closer{compressed}, closers...)
		sink = compressed
	}

	writer := &Writer{
		codec:    config.codec(),
		buffered: bufio.NewWriter(sink),
		closers:  closers,
	}
	if writer.codec == CodecCBOR {
		writer.encoder = codec.NewEncoder(writer.buffered)
	}
	return writer, nil
}

// Write appends one event. The event must be a single valid JSON value.
func (w *Writer) Write(event json.RawMessage) error {
	if w.closed {
		return errors.New("eventlog: write after close")
	}
	switch w.codec {
	case CodecCBOR:
		if err := codec.EncodeJSON(w.encoder, event); err != nil {
			return fmt.Errorf("eventlog: event %d: %w", w.count, err)
		}
	default:
		var compacted bytes.Buffer
		if err := json.Compact(&compacted, event); err != nil {
			return fmt.Errorf("eventlog: event %d: %w", w.count, err)
		}
		compacted.WriteByte('\n')
		if _, err := w.buffered.Write(compacted.Bytes()); err != nil {
			return fmt.Errorf("eventlog: writing event %d: %w", w.count, err)
		}
	}
	w.count++
	return nil
}

// Count returns the number of events written so far.
func (w *Writer) Count() int { return w.count }

// Close flushes buffered data and finalizes the compression and
// encryption layers. Idempotent.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.buffered.Flush(); err != nil {
		return fmt.Errorf("eventlog: flushing: %w", err)
	}
	for _, closer := range w.closers {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("eventlog: finalizing: %w", err)
		}
	}
	return nil
}

// WriteFile writes events to path atomically: the log is written to a
// temporary file in the same directory and renamed into place.
func WriteFile(path string, events []json.RawMessage, config Config) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("eventlog: creating %s: %w", path, err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if err := writeAll(temporary, events, config); err != nil {
		temporary.Close()
		return fmt.Errorf("eventlog: writing %s: %w", path, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("eventlog: closing %s: %w", path, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("eventlog: renaming into %s: %w", path, err)
	}
	return nil
}

func writeAll(file *os.File, events []json.RawMessage, config Config) error {
	writer, err := NewWriter(file, config)
	if err != nil {
		return err
	}
	for _, event := range events {
		if err := writer.Write(event); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return file.Sync()
}
