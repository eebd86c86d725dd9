// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/irl/matrix-floppy/lib/clock"
	"github.com/irl/matrix-floppy/lib/netutil"
	"github.com/irl/matrix-floppy/lib/ref"
	"github.com/irl/matrix-floppy/lib/retry"
	"github.com/irl/matrix-floppy/messaging"
)

// DefaultPageSize is the number of events requested per page.
const DefaultPageSize = 100

// MessagePager is the part of messaging.Session the Fetcher uses.
type MessagePager interface {
	RoomMessages(ctx context.Context, roomID ref.RoomID, options messaging.RoomMessagesOptions) (*messaging.RoomMessagesResponse, error)
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Session   MessagePager
	Collector *Collector

	// Policy bounds retries of transport failures. Zero MaxAttempts
	// uses retry.DefaultPolicy().
	Policy retry.Policy
	// PageSize is the page limit sent to the server. Zero uses
	// DefaultPageSize.
	PageSize int

	// Clock provides retry waits. Nil uses clock.Real().
	Clock clock.Clock
	// Random supplies jitter. Nil uses math/rand.
	Random func() float64
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FetchStats describes one room's pagination.
type FetchStats struct {
	Pages   int
	Events  int
	Retries int
}

// Fetcher pages backward through room history and feeds every event
// to a Collector.
type Fetcher struct {
	session   MessagePager
	collector *Collector
	policy    retry.Policy
	pageSize  int
	clock     clock.Clock
	random    func() float64
	logger    *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(config FetcherConfig) (*Fetcher, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("archive: fetcher requires a session")
	}
	if config.Collector == nil {
		return nil, fmt.Errorf("archive: fetcher requires a collector")
	}
	policy := config.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("archive: invalid retry policy: %w", err)
	}
	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		session:   config.Session,
		collector: config.Collector,
		policy:    policy,
		pageSize:  pageSize,
		clock:     clk,
		random:    config.Random,
		logger:    logger,
	}, nil
}

// FetchRoom pages backward from startToken until the server returns an
// empty page, collecting every event in the order received.
//
// Transport failures and rate limiting are retried with the same token
// under the retry policy. Any other error response aborts the room and
// is returned, as is an exhausted retry budget. Events collected before
// the failure stay in the history.
func (f *Fetcher) FetchRoom(ctx context.Context, roomID ref.RoomID, startToken string) (FetchStats, error) {
	var stats FetchStats
	token := startToken
	logger := f.logger.With("room_id", roomID)

	for {
		var page *messaging.RoomMessagesResponse
		err := f.policy.Do(ctx, retry.Options{
			Clock:    f.clock,
			Classify: ClassifyError,
			Random:   f.random,
			OnRetry: func(attempt int, delay time.Duration, err error) {
				stats.Retries++
				logger.Warn("fetching room messages failed, retrying",
					"error", err,
					"retry", attempt,
					"backoff", delay,
				)
			},
		}, func(ctx context.Context) error {
			response, err := f.session.RoomMessages(ctx, roomID, messaging.RoomMessagesOptions{
				From:      token,
				Direction: messaging.DirectionBackward,
				Limit:     f.pageSize,
			})
			if err != nil {
				return err
			}
			page = response
			return nil
		})
		if err != nil {
			return stats, fmt.Errorf("fetching %s at token %q: %w", roomID, token, err)
		}

		stats.Pages++
		if len(page.Chunk) == 0 {
			logger.Debug("room history exhausted", "pages", stats.Pages, "events", stats.Events)
			return stats, nil
		}
		for _, event := range page.Chunk {
			f.collector.Collect(roomID, event)
		}
		stats.Events += len(page.Chunk)

		// A page without a new end token is the start of the timeline.
		// Requesting from "" again would restart at the live end and
		// loop forever.
		if page.End == "" || page.End == token {
			logger.Debug("room history reached start of timeline", "pages", stats.Pages, "events", stats.Events)
			return stats, nil
		}
		token = page.End
	}
}

// ClassifyError decides whether a failed Matrix request may succeed if
// repeated: transport failures, rate limiting, and gateway errors from
// a proxy in front of the homeserver are retried; every other error
// response is permanent.
func ClassifyError(err error) retry.Decision {
	var matrixErr *messaging.MatrixError
	if errors.As(err, &matrixErr) {
		if matrixErr.Code == messaging.ErrCodeLimitExceeded || matrixErr.StatusCode == http.StatusTooManyRequests {
			return retry.Decision{Retry: true, After: matrixErr.RetryAfter()}
		}
		return retry.Decision{}
	}
	var httpErr *messaging.HTTPError
	if errors.As(err, &httpErr) {
		return retry.Decision{Retry: httpErr.IsGatewayFailure() || httpErr.StatusCode == http.StatusTooManyRequests}
	}
	return retry.Decision{Retry: netutil.IsTransient(err)}
}
