// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// Process exit codes. Scripts and schedulers rely on these values.
const (
	ExitOK      = 0
	ExitUsage   = 1
	ExitAuth    = 2
	ExitFetch   = 3
	ExitRender  = 4
	ExitStorage = 5
)

// ExitError signals a non-zero exit code without printing an extra
// error message. The command is expected to have already written its
// own output.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code. main checks for this interface on
// returned errors.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// CodedError is an error that should be printed and then exit the
// process with Code.
type CodedError struct {
	Code int
	Err  error
}

// WithExitCode attaches an exit code to err. Returns nil if err is nil.
func WithExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Err: err}
}

func (e *CodedError) Error() string { return e.Err.Error() }

func (e *CodedError) Unwrap() error { return e.Err }

// ExitCode returns the exit code.
func (e *CodedError) ExitCode() int { return e.Code }
