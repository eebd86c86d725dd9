// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/irl/matrix-floppy/lib/clock"
	"github.com/irl/matrix-floppy/lib/testutil"
)

var errFlaky = errors.New("connection reset")

func alwaysRetry(error) Decision { return Decision{Retry: true} }

func exactPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: 5 * time.Second, MaxDelay: time.Minute}
}

func TestPolicyDelay(t *testing.T) {
	policy := exactPolicy(10)
	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, time.Minute, time.Minute}
	for index, expected := range want {
		if got := policy.Delay(index+1, 0.5); got != expected {
			t.Errorf("Delay(%d) = %s, want %s", index+1, got, expected)
		}
	}

	jittered := Policy{MaxAttempts: 3, BaseDelay: 10 * time.Second, MaxDelay: time.Minute, Jitter: 0.2}
	if got := jittered.Delay(1, 0); got < 7900*time.Millisecond || got > 8*time.Second {
		t.Errorf("Delay with minimum jitter = %s, want 8s", got)
	}
	if got := jittered.Delay(1, 0.999999); got < 11*time.Second || got > 12*time.Second {
		t.Errorf("Delay with maximum jitter = %s, want just under 12s", got)
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("DefaultPolicy().Validate() = %v", err)
	}
	bad := Policy{MaxAttempts: 0, BaseDelay: time.Minute, MaxDelay: time.Second, Jitter: 2}
	err := bad.Validate()
	if err == nil {
		t.Fatal("Validate succeeded for invalid policy")
	}
	for _, fragment := range []string{"max_attempts", "max_delay", "jitter"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("Validate error %q does not mention %s", err, fragment)
		}
	}
}

func TestDoSucceedsAfterRetry(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	calls := 0
	var retries []time.Duration

	done := make(chan error, 1)
	go func() {
		done <- exactPolicy(3).Do(context.Background(), Options{
			Clock:    fake,
			Classify: alwaysRetry,
			OnRetry:  func(_ int, delay time.Duration, _ error) { retries = append(retries, delay) },
		}, func(context.Context) error {
			calls++
			if calls == 1 {
				return errFlaky
			}
			return nil
		})
	}()

	fake.WaitForTimers(1)
	fake.Advance(5 * time.Second)

	if err := testutil.RequireReceive(t, done, 5*time.Second, "Do did not return after the backoff elapsed"); err != nil {
		t.Fatalf("Do = %v, want nil", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(retries) != 1 || retries[0] != 5*time.Second {
		t.Errorf("retries = %v, want [5s]", retries)
	}
}

func TestDoPermanentError(t *testing.T) {
	permanent := errors.New("M_FORBIDDEN")
	calls := 0
	err := exactPolicy(5).Do(context.Background(), Options{
		Clock:    clock.Fake(time.Now()),
		Classify: func(err error) Decision { return Decision{Retry: !errors.Is(err, permanent)} },
	}, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Do = %v, want the permanent error", err)
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Error("permanent error was reported as exhausted")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoExhausted(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- exactPolicy(3).Do(context.Background(), Options{Clock: fake, Classify: alwaysRetry},
			func(context.Context) error {
				calls++
				return errFlaky
			})
	}()

	fake.WaitForTimers(1)
	fake.Advance(5 * time.Second)
	fake.WaitForTimers(1)
	fake.Advance(10 * time.Second)

	err := testutil.RequireReceive(t, done, 5*time.Second, "Do did not give up")
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Do = %v, want *ExhaustedError", err)
	}
	if exhausted.Attempts != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3 and 3", exhausted.Attempts, calls)
	}
	if !errors.Is(err, errFlaky) {
		t.Error("ExhaustedError does not unwrap to the last failure")
	}
}

func TestDoHonoursServerHint(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- exactPolicy(2).Do(context.Background(), Options{
			Clock:    fake,
			Classify: func(error) Decision { return Decision{Retry: true, After: 30 * time.Second} },
		}, func(context.Context) error {
			calls++
			if calls == 1 {
				return errFlaky
			}
			return nil
		})
	}()

	fake.WaitForTimers(1)
	if requested := fake.Requested(); len(requested) != 1 || requested[0] != 30*time.Second {
		t.Fatalf("requested waits = %v, want [30s]", requested)
	}
	fake.Advance(30 * time.Second)
	if err := testutil.RequireReceive(t, done, 5*time.Second, "Do did not retry after the hint"); err != nil {
		t.Fatalf("Do = %v", err)
	}
}

func TestDoCancelledDuringWait(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- exactPolicy(5).Do(ctx, Options{Clock: fake, Classify: alwaysRetry},
			func(context.Context) error { return errFlaky })
	}()

	fake.WaitForTimers(1)
	cancel()

	if err := testutil.RequireReceive(t, done, 5*time.Second, "Do did not observe cancellation"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Do = %v, want context.Canceled", err)
	}
}
