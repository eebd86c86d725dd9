// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// validateServer checks that a Matrix server name is minimally valid:
// non-empty, no control characters, no Matrix sigils, and no path
// separators (server names become directory names).
func validateServer(server string) error {
	if server == "" {
		return fmt.Errorf("server name is empty")
	}
	if server == "." || server == ".." {
		return fmt.Errorf("server name %q is a relative path component", server)
	}
	for i := 0; i < len(server); i++ {
		c := server[i]
		if c <= ' ' || c == '@' || c == '#' || c == '/' || c == '\\' {
			return fmt.Errorf("server name %q: invalid character at position %d", server, i)
		}
	}
	return nil
}

// validateMediaPath enforces filesystem safety for the path portion of
// a content URI: no empty segments, no "." or ".." segments, no NUL or
// backslash bytes. The path has already had its leading '/' removed.
func validateMediaPath(path string) error {
	if path == "" {
		return fmt.Errorf("media path is empty")
	}
	if strings.ContainsAny(path, "\x00\\") {
		return fmt.Errorf("media path %q contains an invalid character", path)
	}
	for _, segment := range strings.Split(path, "/") {
		switch segment {
		case "":
			return fmt.Errorf("media path %q contains empty segment", path)
		case ".", "..":
			return fmt.Errorf("media path %q contains %q segment (path traversal)", path, segment)
		}
	}
	return nil
}

// parseMatrixID extracts localpart and server from @localpart:server.
func parseMatrixID(matrixID string) (localpart, server string, err error) {
	return parsePrefixedID(matrixID, '@', "Matrix user ID")
}

// parsePrefixedID extracts localpart and server from a Matrix identifier
// with the given sigil prefix.
func parsePrefixedID(identifier string, sigil byte, kind string) (localpart, server string, err error) {
	if len(identifier) < 2 || identifier[0] != sigil {
		return "", "", fmt.Errorf("invalid %s %q: must start with %c", kind, identifier, sigil)
	}
	colonIndex := strings.Index(identifier[1:], ":")
	if colonIndex < 0 {
		return "", "", fmt.Errorf("invalid %s %q: missing :server", kind, identifier)
	}
	colonIndex++ // adjust for [1:] offset
	if colonIndex < 2 {
		return "", "", fmt.Errorf("invalid %s %q: empty localpart", kind, identifier)
	}
	localpart = identifier[1:colonIndex]
	server = identifier[colonIndex+1:]
	if server == "" {
		return "", "", fmt.Errorf("invalid %s %q: empty server", kind, identifier)
	}
	return localpart, server, nil
}
