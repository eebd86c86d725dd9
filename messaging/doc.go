// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the parts of the Matrix client-server API that
// an archive run needs.
//
// [Client] is an unauthenticated client holding the homeserver URL and
// HTTP transport. [Client.Login] performs password login and returns a
// [DirectSession], which carries the access token in mmap-backed
// [secret.Buffer] memory and exposes the archive operations: initial
// /sync (with filter and full_state), backward room pagination via
// /messages, media download, WhoAmI, and logout. The [Session]
// interface narrows DirectSession to those operations so the archive
// pipeline can be tested against fakes.
//
// All API errors are returned as [*MatrixError] with the standard Matrix
// error code (M_FORBIDDEN, M_LIMIT_EXCEEDED, etc.) and HTTP status code.
// A server that answers with a non-JSON error body (typically a reverse
// proxy) produces [*HTTPError] instead. Transport failures are returned
// wrapped, unclassified; callers decide whether to retry with
// netutil.IsTransient. Request URLs are built by string concatenation
// rather than url.URL to avoid double-encoding of escaped path segments.
package messaging
