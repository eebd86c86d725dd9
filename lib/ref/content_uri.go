// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ContentURI is a validated media content URI (e.g.,
// "mxc://matrix.org/AbCdEf"). The authority names the server that
// stores the media and the path identifies the content on that server.
//
// The scheme is kept but not restricted to mxc: bridges and older
// clients have emitted other schemes, and the local layout depends only
// on the server and path. The media path may contain '/' separators,
// each of which becomes a directory level on disk.
//
// ContentURI is an immutable value type. The zero value is not valid;
// use IsZero to check.
type ContentURI struct {
	raw    string
	server ServerName
	path   string
}

// ParseContentURI validates and wraps a raw content URI string.
// Returns an error if the URI has no scheme, an invalid server, or a
// path that would escape the server's directory.
func ParseContentURI(raw string) (ContentURI, error) {
	if raw == "" {
		return ContentURI{}, fmt.Errorf("empty content URI")
	}
	schemeEnd := strings.Index(raw, "://")
	if schemeEnd <= 0 {
		return ContentURI{}, fmt.Errorf("content URI %q has no scheme", raw)
	}
	rest := raw[schemeEnd+3:]
	if cut := strings.IndexAny(rest, "?#"); cut >= 0 {
		rest = rest[:cut]
	}
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return ContentURI{}, fmt.Errorf("content URI %q has no media path", raw)
	}
	server, err := ParseServerName(rest[:slash])
	if err != nil {
		return ContentURI{}, fmt.Errorf("content URI %q: %w", raw, err)
	}
	path := rest[slash+1:]
	if err := validateMediaPath(path); err != nil {
		return ContentURI{}, fmt.Errorf("content URI %q: %w", raw, err)
	}
	return ContentURI{raw: raw, server: server, path: path}, nil
}

// MustParseContentURI is like ParseContentURI but panics on error.
func MustParseContentURI(raw string) ContentURI {
	c, err := ParseContentURI(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseContentURI(%q): %v", raw, err))
	}
	return c
}

// String returns the URI exactly as it appeared in the event.
func (c ContentURI) String() string { return c.raw }

// IsZero reports whether the ContentURI is the zero value.
func (c ContentURI) IsZero() bool { return c.raw == "" }

// Server returns the server that hosts the media.
func (c ContentURI) Server() ServerName { return c.server }

// MediaID returns the media path without its leading '/'. For mxc URIs
// this is the opaque media ID; for other schemes it may contain '/'.
func (c ContentURI) MediaID() string { return c.path }

// RelativePath returns the local path of the media relative to an
// archive root: the server name followed by each path segment, joined
// with the OS separator ("serverA/media/abc123").
func (c ContentURI) RelativePath() string {
	segments := append([]string{c.server.String()}, strings.Split(c.path, "/")...)
	return filepath.Join(segments...)
}

// MarshalText implements encoding.TextMarshaler.
func (c ContentURI) MarshalText() ([]byte, error) {
	return []byte(c.raw), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (c *ContentURI) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*c = ContentURI{}
		return nil
	}
	parsed, err := ParseContentURI(string(data))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
