// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"

	"github.com/irl/matrix-floppy/lib/ref"
)

// Session is the set of Matrix operations an archive run performs.
// *DirectSession is the production implementation; tests substitute
// scripted fakes.
type Session interface {
	// UserID returns the fully-qualified Matrix user ID.
	UserID() ref.UserID

	// Close releases any resources held by the session. Idempotent.
	Close() error

	// Sync performs a sync with the homeserver.
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)

	// RoomMessages fetches one page of a room's timeline.
	RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error)

	// DownloadMedia fetches the content behind a media URI.
	DownloadMedia(ctx context.Context, uri ref.ContentURI) (*MediaResponse, error)

	// Logout invalidates the session's access token.
	Logout(ctx context.Context) error
}

// Compile-time check: *DirectSession implements Session.
var _ Session = (*DirectSession)(nil)
