// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package retry runs an operation under a bounded exponential backoff
// policy.
//
// A [Policy] is a plain value (attempt budget, base delay, delay cap,
// jitter fraction) so that it can be loaded from configuration and
// compared in tests. [Policy.Do] waits between attempts on an injected
// [clock.Clock] and returns as soon as the context is cancelled.
// Whether a failure is worth retrying is decided by the caller's
// classifier: the policy knows nothing about networks.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/irl/matrix-floppy/lib/clock"
)

// Policy bounds how often and how long an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the
	// first. Must be at least 1.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the wait before the first retry. Each further retry
	// doubles it.
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the wait between attempts, after jitter.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Jitter is the fraction in [0, 1] by which each delay is randomly
	// stretched or shrunk. Zero gives exact, reproducible delays.
	Jitter float64 `yaml:"jitter"`
}

// DefaultPolicy returns the policy used when configuration does not
// override it: 8 attempts starting at 5 seconds, capped at 2 minutes,
// with 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 8,
		BaseDelay:   5 * time.Second,
		MaxDelay:    2 * time.Minute,
		Jitter:      0.2,
	}
}

// Validate reports every invalid field.
func (p Policy) Validate() error {
	var errs []error
	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts))
	}
	if p.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("base_delay must not be negative, got %s", p.BaseDelay))
	}
	if p.MaxDelay < p.BaseDelay {
		errs = append(errs, fmt.Errorf("max_delay (%s) must not be less than base_delay (%s)", p.MaxDelay, p.BaseDelay))
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		errs = append(errs, fmt.Errorf("jitter must be between 0 and 1, got %g", p.Jitter))
	}
	return errors.Join(errs...)
}

// Delay returns the wait before retry number retry (1 for the first
// retry). random must be in [0, 1); 0.5 yields the unjittered delay.
func (p Policy) Delay(retry int, random float64) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := p.BaseDelay
	for i := 1; i < retry && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if p.Jitter > 0 {
		factor := 1 + p.Jitter*(2*random-1)
		delay = time.Duration(float64(delay) * factor)
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Decision is a classifier's verdict on a failed attempt.
type Decision struct {
	// Retry is true if the same operation may succeed if repeated.
	Retry bool

	// After is a lower bound on the wait requested by the server
	// (for example a rate-limit retry_after_ms). Zero means no hint.
	After time.Duration
}

// Options carries the collaborators for Do.
type Options struct {
	// Clock provides the waits between attempts. Nil uses clock.Real().
	Clock clock.Clock

	// Classify decides whether an error is retryable. Nil treats every
	// error as permanent.
	Classify func(error) Decision

	// OnRetry is called before each wait with the number of the
	// upcoming retry, the wait, and the error that caused it.
	OnRetry func(retry int, delay time.Duration, err error)

	// Random returns values in [0, 1) for jitter. Nil uses math/rand/v2.
	Random func() float64
}

// ExhaustedError is returned when every attempt failed with a retryable
// error. It unwraps to the last failure.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls operation until it succeeds, fails with a non-retryable
// error, the attempt budget is spent, or ctx is cancelled. A
// non-retryable error is returned unchanged; a spent budget returns
// *ExhaustedError; cancellation returns ctx.Err().
func (p Policy) Do(ctx context.Context, options Options, operation func(context.Context) error) error {
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	random := options.Random
	if random == nil {
		random = rand.Float64
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var decision Decision
		if options.Classify != nil {
			decision = options.Classify(err)
		}
		if !decision.Retry {
			return err
		}
		if attempt >= maxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := p.Delay(attempt, random())
		if decision.After > delay {
			delay = decision.After
		}
		if options.OnRetry != nil {
			options.OnRetry(attempt, delay, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(delay):
		}
	}
}
