// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/irl/matrix-floppy/lib/clock"
	"github.com/irl/matrix-floppy/lib/retry"
	"github.com/irl/matrix-floppy/lib/testutil"
	"github.com/irl/matrix-floppy/messaging"
)

func exactPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		BaseDelay:   5 * time.Second,
		MaxDelay:    time.Minute,
	}
}

func newTestFetcher(t *testing.T, session MessagePager, clk clock.Clock) (*Fetcher, *Collector) {
	t.Helper()
	collector := NewCollector(CollectorConfig{})
	fetcher, err := NewFetcher(FetcherConfig{
		Session:   session,
		Collector: collector,
		Policy:    exactPolicy(3),
		Clock:     clk,
	})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	return fetcher, collector
}

func tokens(requests []messaging.RoomMessagesOptions) []string {
	var result []string
	for _, request := range requests {
		result = append(result, request.From)
	}
	return result
}

func TestFetchRoomPaginatesUntilEmptyPage(t *testing.T) {
	session := newFakeSession()
	session.addPage(roomAlpha, "T2", textEvents(t, "e", 1000, 100)...)
	session.addPage(roomAlpha, "T3")

	fetcher, collector := newTestFetcher(t, session, clock.Fake(time.Unix(0, 0)))
	stats, err := fetcher.FetchRoom(context.Background(), roomAlpha, "T1")
	if err != nil {
		t.Fatalf("FetchRoom: %v", err)
	}

	requests := session.requestsFor(roomAlpha)
	if got := tokens(requests); !slices.Equal(got, []string{"T1", "T2"}) {
		t.Errorf("request tokens = %v, want [T1 T2]", got)
	}
	for _, request := range requests {
		if request.Direction != messaging.DirectionBackward || request.Limit != DefaultPageSize {
			t.Errorf("request = %+v, want backward pages of %d", request, DefaultPageSize)
		}
	}
	if got := len(collector.History().Events(roomAlpha)); got != 100 {
		t.Errorf("collected %d events, want 100", got)
	}
	if stats != (FetchStats{Pages: 2, Events: 100}) {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFetchRoomHistoryIsConcatenationOfPages(t *testing.T) {
	first := []messaging.Event{textEvent(t, "$a", 3, "a"), textEvent(t, "$b", 2, "b")}
	second := []messaging.Event{textEvent(t, "$b", 2, "b"), textEvent(t, "$c", 1, "c")}
	session := newFakeSession()
	session.addPage(roomAlpha, "T2", first...)
	session.addPage(roomAlpha, "T3", second...)

	fetcher, collector := newTestFetcher(t, session, clock.Fake(time.Unix(0, 0)))
	stats, err := fetcher.FetchRoom(context.Background(), roomAlpha, "T1")
	if err != nil {
		t.Fatalf("FetchRoom: %v", err)
	}

	want := []string{"$a", "$b", "$b", "$c"}
	if got := eventIDs(collector.History().Events(roomAlpha)); !slices.Equal(got, want) {
		t.Errorf("history = %v, want the pages in order %v", got, want)
	}
	if stats.Events != 4 {
		t.Errorf("stats.Events = %d, want 4", stats.Events)
	}
	if collector.Duplicates() != 1 {
		t.Errorf("Duplicates = %d, want 1", collector.Duplicates())
	}
}

func TestFetchRoomStopsAtStartOfTimeline(t *testing.T) {
	tests := []struct {
		name string
		end  string
	}{
		{name: "no end token", end: ""},
		{name: "end equals request token", end: "T1"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			session := newFakeSession()
			session.addPage(roomAlpha, test.end, textEvents(t, "e", 0, 3)...)

			fetcher, collector := newTestFetcher(t, session, clock.Fake(time.Unix(0, 0)))
			if _, err := fetcher.FetchRoom(context.Background(), roomAlpha, "T1"); err != nil {
				t.Fatalf("FetchRoom: %v", err)
			}
			if got := len(session.requestsFor(roomAlpha)); got != 1 {
				t.Errorf("made %d requests, want 1", got)
			}
			if got := len(collector.History().Events(roomAlpha)); got != 3 {
				t.Errorf("collected %d events, want 3", got)
			}
		})
	}
}

func TestFetchRoomRetriesTransientFailure(t *testing.T) {
	session := newFakeSession()
	session.addError(roomAlpha, io.ErrUnexpectedEOF)
	session.addPage(roomAlpha, "T2", textEvents(t, "e", 0, 5)...)

	fakeClock := clock.Fake(time.Unix(0, 0))
	fetcher, collector := newTestFetcher(t, session, fakeClock)

	type outcome struct {
		stats FetchStats
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		stats, err := fetcher.FetchRoom(context.Background(), roomAlpha, "T1")
		done <- outcome{stats, err}
	}()

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(5 * time.Second)

	result := testutil.RequireReceive(t, done, 5*time.Second, "FetchRoom did not return")
	if result.err != nil {
		t.Fatalf("FetchRoom: %v", result.err)
	}
	if got := tokens(session.requestsFor(roomAlpha)); !slices.Equal(got, []string{"T1", "T1", "T2"}) {
		t.Errorf("request tokens = %v, want the failed token retried: [T1 T1 T2]", got)
	}
	if got := len(collector.History().Events(roomAlpha)); got != 5 {
		t.Errorf("collected %d events, want 5", got)
	}
	if result.stats.Retries != 1 {
		t.Errorf("Retries = %d, want 1", result.stats.Retries)
	}
	if requested := fakeClock.Requested(); !slices.Equal(requested, []time.Duration{5 * time.Second}) {
		t.Errorf("waits = %v, want [5s]", requested)
	}
}

func TestFetchRoomHonorsRetryAfter(t *testing.T) {
	session := newFakeSession()
	session.addError(roomAlpha, &messaging.MatrixError{
		Code:         messaging.ErrCodeLimitExceeded,
		StatusCode:   http.StatusTooManyRequests,
		RetryAfterMS: 30000,
	})

	fakeClock := clock.Fake(time.Unix(0, 0))
	fetcher, _ := newTestFetcher(t, session, fakeClock)

	done := make(chan error, 1)
	go func() {
		_, err := fetcher.FetchRoom(context.Background(), roomAlpha, "T1")
		done <- err
	}()
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(30 * time.Second)
	if err := testutil.RequireReceive(t, done, 5*time.Second, "FetchRoom did not return"); err != nil {
		t.Fatalf("FetchRoom: %v", err)
	}
	if requested := fakeClock.Requested(); !slices.Equal(requested, []time.Duration{30 * time.Second}) {
		t.Errorf("waits = %v, want the server's 30s", requested)
	}
}

func TestFetchRoomProtocolErrorAbortsRoom(t *testing.T) {
	session := newFakeSession()
	session.addPage(roomAlpha, "T2", textEvents(t, "e", 0, 2)...)
	forbidden := &messaging.MatrixError{Code: messaging.ErrCodeForbidden, StatusCode: http.StatusForbidden}
	session.addError(roomAlpha, forbidden)

	fetcher, collector := newTestFetcher(t, session, clock.Fake(time.Unix(0, 0)))
	_, err := fetcher.FetchRoom(context.Background(), roomAlpha, "T1")

	var matrixErr *messaging.MatrixError
	if !errors.As(err, &matrixErr) || matrixErr.Code != messaging.ErrCodeForbidden {
		t.Fatalf("FetchRoom error = %v, want M_FORBIDDEN", err)
	}
	if got := len(session.requestsFor(roomAlpha)); got != 2 {
		t.Errorf("made %d requests, want 2 (no retry of a protocol error)", got)
	}
	if got := len(collector.History().Events(roomAlpha)); got != 2 {
		t.Errorf("kept %d events, want the 2 collected before the failure", got)
	}
}

func TestFetchRoomExhaustsRetries(t *testing.T) {
	session := newFakeSession()
	for range 3 {
		session.addError(roomAlpha, io.ErrUnexpectedEOF)
	}

	fakeClock := clock.Fake(time.Unix(0, 0))
	fetcher, _ := newTestFetcher(t, session, fakeClock)

	done := make(chan error, 1)
	go func() {
		_, err := fetcher.FetchRoom(context.Background(), roomAlpha, "T1")
		done <- err
	}()
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(5 * time.Second)
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(10 * time.Second)

	err := testutil.RequireReceive(t, done, 5*time.Second, "FetchRoom did not give up")
	var exhausted *retry.ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 3 {
		t.Fatalf("FetchRoom error = %v, want exhaustion after 3 attempts", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("error does not wrap the last failure: %v", err)
	}
}

func TestFetchRoomCancelledDuringWait(t *testing.T) {
	session := newFakeSession()
	session.addError(roomAlpha, io.ErrUnexpectedEOF)

	fakeClock := clock.Fake(time.Unix(0, 0))
	fetcher, _ := newTestFetcher(t, session, fakeClock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := fetcher.FetchRoom(ctx, roomAlpha, "T1")
		done <- err
	}()
	fakeClock.WaitForTimers(1)
	cancel()

	if err := testutil.RequireReceive(t, done, 5*time.Second, "FetchRoom did not observe cancellation"); !errors.Is(err, context.Canceled) {
		t.Errorf("FetchRoom error = %v, want context.Canceled", err)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		retry bool
		after time.Duration
	}{
		{name: "transport", err: io.ErrUnexpectedEOF, retry: true},
		{name: "rate limited", err: &messaging.MatrixError{Code: messaging.ErrCodeLimitExceeded, StatusCode: 429, RetryAfterMS: 1500}, retry: true, after: 1500 * time.Millisecond},
		{name: "429 without errcode", err: &messaging.MatrixError{Code: messaging.ErrCodeUnknown, StatusCode: 429}, retry: true},
		{name: "forbidden", err: &messaging.MatrixError{Code: messaging.ErrCodeForbidden, StatusCode: 403}},
		{name: "bad gateway", err: &messaging.HTTPError{StatusCode: http.StatusBadGateway}, retry: true},
		{name: "internal error page", err: &messaging.HTTPError{StatusCode: http.StatusInternalServerError}},
		{name: "cancelled", err: context.Canceled},
		{name: "plain", err: errors.New("boom")},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			decision := ClassifyError(test.err)
			if decision.Retry != test.retry || decision.After != test.after {
				t.Errorf("ClassifyError = %+v, want retry=%v after=%v", decision, test.retry, test.after)
			}
		})
	}
}

func TestNewFetcherValidation(t *testing.T) {
	if _, err := NewFetcher(FetcherConfig{Collector: NewCollector(CollectorConfig{})}); err == nil {
		t.Error("expected error without a session")
	}
	if _, err := NewFetcher(FetcherConfig{Session: newFakeSession()}); err == nil {
		t.Error("expected error without a collector")
	}
	_, err := NewFetcher(FetcherConfig{
		Session:   newFakeSession(),
		Collector: NewCollector(CollectorConfig{}),
		Policy:    retry.Policy{MaxAttempts: 2, BaseDelay: time.Minute, MaxDelay: time.Second},
	})
	if err == nil {
		t.Error("expected error for an invalid policy")
	}
}
