// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/term"

	"github.com/irl/matrix-floppy/lib/secret"
)

// ReadSecret reads a password or passphrase. A non-empty path is read
// with [secret.ReadFromPath] ("-" is standard input). An empty path
// prompts on the terminal without echo. The caller closes the returned
// buffer.
func ReadSecret(path, prompt string) (*secret.Buffer, error) {
	if path != "" {
		buffer, err := secret.ReadFromPath(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NotFound("%s: %w", path, err)
		}
		if err != nil {
			return nil, Validation("reading %s: %w", path, err)
		}
		return buffer, nil
	}

	stdin := int(os.Stdin.Fd())
	if !term.IsTerminal(stdin) {
		return nil, Validation("%s: no file configured and standard input is not a terminal", prompt)
	}
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	data, err := term.ReadPassword(stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, Internal("reading %s: %w", prompt, err)
	}
	if len(data) == 0 {
		return nil, Validation("%s is empty", prompt)
	}
	return secret.NewFromBytes(data)
}
