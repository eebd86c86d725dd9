// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O helpers and transport error
// classification for the homeserver client.
//
// Response helpers bound every body read so that a misbehaving server
// cannot exhaust memory: JSON API responses at MaxResponseSize, media
// downloads at a caller-chosen limit with overflow reported as an
// error rather than silent truncation.
//
// IsTransient separates failures worth retrying (connection resets,
// DNS errors, timeouts, truncated bodies) from everything else.
package netutil

import (
	"errors"
	"fmt"
	"io"
)

// MaxResponseSize is the bound on JSON API response body reads: 256 MB.
// Legitimate responses are orders of magnitude smaller.
const MaxResponseSize int64 = 256 << 20

// ErrTooLarge is returned by ReadLimited when the body exceeds the limit.
var ErrTooLarge = errors.New("response body exceeds size limit")

// ReadResponse reads a JSON API response body up to MaxResponseSize bytes.
// Use instead of io.ReadAll when reading HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// ReadLimited reads body completely, failing with ErrTooLarge if it holds
// more than limit bytes. A non-positive limit means MaxResponseSize.
func ReadLimited(body io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = MaxResponseSize
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return data, nil
}

// ErrorBody reads an HTTP error response body and returns it as a string
// for diagnostic error messages. Read errors are ignored: a partial body
// is still useful in an error message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	return string(data)
}
