// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"bufio"
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

// maxLineSize bounds a single JSON lines record. Matrix limits events
// to 64 KiB; the margin covers decrypted payloads and whitespace.
const maxLineSize = 1 << 20

// Reader iterates over the events of an event log.
type Reader struct {
	codec   Codec
	scanner *bufio.Scanner
	decoder *codec.Decoder
	zstd    *zstd.Decoder
	count   int
}

// NewReader opens an event log stream written with config. Encrypted
// logs require at least one matching age identity.
func NewReader(r io.Reader, config Config, identities ...age.Identity) (*Reader, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	source := r
	if len(config.Recipients) > 0 {
		if len(identities) == 0 {
			return nil, errors.New("eventlog: log is encrypted but no identity was provided")
		}
		decrypted, err := age.Decrypt(source, identities...)
		if err != nil {
			return nil, fmt.Errorf("eventlog: decrypting: %w", err)
		}
		source = decrypted
	}
	return newReader(source, config)
}

func newReader(source io.Reader, config Config) (*Reader, error) {
	reader := &Reader{codec: config.codec()}
	switch config.compression() {
	case CompressionZstd:
		decompressed, err := zstd.NewReader(source)
		if err != nil {
			return nil, fmt.Errorf("eventlog: starting zstd: %w", err)
		}
		reader.zstd = decompressed
		source = decompressed
	case CompressionLZ4:
		source = lz4.NewReader(source)
	}

	if reader.codec == CodecCBOR {
		reader.decoder = codec.NewDecoder(source)
	} else {
		reader.scanner = bufio.NewScanner(source)
		reader.scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	}
	return reader, nil
}

// Next returns the next event. Returns io.EOF after the last event.
func (r *Reader) Next() (json.RawMessage, error) {
	if r.codec == CodecCBOR {
		event, err := codec.DecodeJSON(r.decoder)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("eventlog: event %d: %w", r.count, err)
		}
		r.count++
		return event, nil
	}

	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return nil, fmt.Errorf("eventlog: event %d is not valid JSON", r.count)
		}
		r.count++
		return append(json.RawMessage(nil), line...), nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: event %d: %w", r.count, err)
	}
	return nil, io.EOF
}

// Close releases decompression resources. It does not close the
// underlying reader.
func (r *Reader) Close() error {
	if r.zstd != nil {
		r.zstd.Close()
	}
	return nil
}

// ReadFile reads every event from the log at path.
func ReadFile(path string, config Config, identities ...age.Identity) ([]json.RawMessage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: %w", err)
	}
	defer file.Close()

	reader, err := NewReader(file, config, identities...)
	if err != nil {
		return nil, err
	}
	return readAll(path, reader)
}

// ReadPath reads every event from the log at path, taking its layers
// from the file name as [ParseName] does. Encrypted logs need a
// matching identity.
func ReadPath(path string, identities ...age.Identity) ([]json.RawMessage, error) {
	config, encrypted, err := ParseName(filepath.Base(path))
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: %w", err)
	}
	defer file.Close()

	var source io.Reader = file
	if encrypted {
		if len(identities) == 0 {
			return nil, errors.New("eventlog: log is encrypted but no identity was provided")
		}
		decrypted, err := age.Decrypt(file, identities...)
		if err != nil {
			return nil, fmt.Errorf("eventlog: decrypting %s: %w", path, err)
		}
		source = decrypted
	}
	reader, err := newReader(source, config)
	if err != nil {
		return nil, err
	}
	return readAll(path, reader)
}

func readAll(path string, reader *Reader) ([]json.RawMessage, error) {
	defer reader.Close()

	var events []json.RawMessage
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("eventlog: reading %s: %w", path, err)
		}
		events = append(events, event)
	}
}
