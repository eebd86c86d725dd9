// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventlog writes and reads raw Matrix event dumps.
//
// An event log is a stream of raw events in one of two codecs: JSON
// lines (one event per line, exactly as received) or a CBOR sequence
// (one deterministic CBOR data item per event). The stream may be
// compressed with zstd or lz4, and the compressed stream may be
// encrypted to one or more age X25519 recipients:
//
//	file ← age (optional) ← zstd | lz4 (optional) ← jsonl | cbor
//
// The file extension records every layer, so "events.jsonl.zst.age" is
// a zstd-compressed JSON lines log encrypted with age. [Config.Extension]
// derives it.
package eventlog

import (
	"errors"
	"fmt"
	"strings"

	"filippo.io/age"
)

// Codec selects how individual events are encoded.
type Codec string

const (
	// CodecJSONL writes each event's raw JSON on its own line.
	CodecJSONL Codec = "jsonl"

	// CodecCBOR writes a CBOR sequence (RFC 8742) using Core
	// Deterministic Encoding.
	CodecCBOR Codec = "cbor"
)

// Compression selects the stream compression applied over the codec.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// Config describes the layers of an event log. The zero value is an
// uncompressed, unencrypted JSON lines log.
type Config struct {
	Codec       Codec       `yaml:"codec"`
	Compression Compression `yaml:"compression"`

	// Recipients are age X25519 public keys ("age1..."). When
	// non-empty the log is encrypted to all of them.
	Recipients []string `yaml:"recipients"`
}

// Validate checks that the codec and compression are known and that
// every recipient parses as an age X25519 public key.
func (c Config) Validate() error {
	var errs []error
	switch c.codec() {
	case CodecJSONL, CodecCBOR:
	default:
		errs = append(errs, fmt.Errorf("eventlog: unknown codec %q (want jsonl or cbor)", c.Codec))
	}
	switch c.compression() {
	case CompressionNone, CompressionZstd, CompressionLZ4:
	default:
		errs = append(errs, fmt.Errorf("eventlog: unknown compression %q (want none, zstd, or lz4)", c.Compression))
	}
	if _, err := c.recipients(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Extension returns the file extension for logs written with this
// configuration, without a leading dot (e.g., "cbor.lz4.age").
func (c Config) Extension() string {
	parts := []string{string(c.codec())}
	switch c.compression() {
	case CompressionZstd:
		parts = append(parts, "zst")
	case CompressionLZ4:
		parts = append(parts, "lz4")
	}
	if len(c.Recipients) > 0 {
		parts = append(parts, "age")
	}
	return strings.Join(parts, ".")
}

func (c Config) codec() Codec {
	if c.Codec == "" {
		return CodecJSONL
	}
	return c.Codec
}

func (c Config) compression() Compression {
	if c.Compression == "" {
		return CompressionNone
	}
	return c.Compression
}

func (c Config) recipients() ([]age.Recipient, error) {
	recipients := make([]age.Recipient, 0, len(c.Recipients))
	for index, encoded := range c.Recipients {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(encoded))
		if err != nil {
			return nil, fmt.Errorf("eventlog: recipient %d: %w", index, err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

// ParseName recovers the layers of a log from its file name, the
// inverse of [Config.Extension]. The returned Config has no recipients;
// encrypted reports whether the name ends in ".age".
func ParseName(name string) (config Config, encrypted bool, err error) {
	parts := strings.Split(name, ".")
	last := len(parts) - 1
	if last > 0 && parts[last] == "age" {
		encrypted = true
		last--
	}
	if last > 0 {
		switch parts[last] {
		case "zst":
			config.Compression = CompressionZstd
			last--
		case "lz4":
			config.Compression = CompressionLZ4
			last--
		}
	}
	if last < 1 {
		return Config{}, false, fmt.Errorf("eventlog: %q has no codec extension", name)
	}
	switch Codec(parts[last]) {
	case CodecJSONL, CodecCBOR:
		config.Codec = Codec(parts[last])
	default:
		return Config{}, false, fmt.Errorf("eventlog: %q has unknown codec extension %q", name, parts[last])
	}
	return config, encrypted, nil
}
