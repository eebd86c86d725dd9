// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Code that waits (retry backoff) or stamps times (run reports, index
// rows) takes a Clock instead of calling the time package directly.
// Production passes Real(); tests pass Fake() and drive time with
// Advance, using WaitForTimers to avoid racing the goroutine that
// registers the wait:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go fetcher.FetchRoom(ctx, roomID, token) // blocks in backoff
//	c.WaitForTimers(1)
//	c.Advance(5 * time.Second)
package clock

import "time"

// Clock abstracts the time operations used by the archiver.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the current goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
