// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/irl/matrix-floppy/lib/digest"
	"github.com/irl/matrix-floppy/lib/e2ee"
	"github.com/irl/matrix-floppy/lib/ref"
	"github.com/irl/matrix-floppy/messaging"
)

// MediaDownloader is the part of messaging.Session the MediaFetcher uses.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, uri ref.ContentURI) (*messaging.MediaResponse, error)
}

// MediaStatus is the outcome of one media reference.
type MediaStatus string

const (
	MediaDownloaded MediaStatus = "downloaded"
	MediaFailed     MediaStatus = "failed"
	// MediaSkipped marks a repeated URI when deduplication is on.
	MediaSkipped MediaStatus = "skipped"
)

// MediaResult describes one processed media reference.
type MediaResult struct {
	Reference MediaReference
	// Path is the file the media was written to.
	Path   string
	Size   int64
	Digest digest.Hash
	Status MediaStatus
	Err    error
}

// MediaSummary totals a media phase.
type MediaSummary struct {
	Results    []MediaResult
	Downloaded int
	Failed     int
	Skipped    int
	// Duplicates counts references whose URI appeared earlier in the
	// list, whether or not they were downloaded again.
	Duplicates int
	Bytes      int64
}

// MediaPath returns the location of a media file relative to the
// archive root: the URI's server followed by its path segments. The
// renderer links to media with this path.
func MediaPath(uri ref.ContentURI) string {
	return uri.RelativePath()
}

// MediaFetcher downloads media references into an archive directory.
type MediaFetcher struct {
	session MediaDownloader
	root    string
	logger  *slog.Logger
}

// NewMediaFetcher returns a MediaFetcher writing below root. A nil
// logger uses slog.Default().
func NewMediaFetcher(session MediaDownloader, root string, logger *slog.Logger) *MediaFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaFetcher{session: session, root: root, logger: logger}
}

// Path returns the file path of uri below the fetcher's root.
func (m *MediaFetcher) Path(uri ref.ContentURI) string {
	return filepath.Join(m.root, MediaPath(uri))
}

// Fetch downloads one media reference and writes it to its derived
// path, replacing any existing file. Parent directories are created as
// needed. A path component that exists but is not a directory, or a
// file that cannot be written, is an ErrStorage error. Download and
// decryption failures are returned unwrapped from ErrStorage.
func (m *MediaFetcher) Fetch(ctx context.Context, reference MediaReference) (MediaResult, error) {
	result := MediaResult{Reference: reference, Status: MediaFailed}
	if reference.IsZero() {
		return result, fmt.Errorf("media reference has no URI")
	}
	path := m.Path(reference.URI)
	result.Path = path

	if err := ensureDirectory(filepath.Dir(path)); err != nil {
		return result, err
	}

	response, err := m.session.DownloadMedia(ctx, reference.URI)
	if err != nil {
		return result, fmt.Errorf("downloading %s: %w", reference.URI, err)
	}
	body := response.Body
	if reference.File != nil {
		body, err = e2ee.DecryptAttachment(body, reference.File)
		if err != nil {
			return result, fmt.Errorf("decrypting %s: %w", reference.URI, err)
		}
	}

	if err := os.WriteFile(path, body, 0o644); err != nil {
		return result, fmt.Errorf("%w: writing %s: %w", ErrStorage, path, err)
	}

	result.Size = int64(len(body))
	result.Digest = digest.Sum(body)
	result.Status = MediaDownloaded
	return result, nil
}

// FetchAll downloads references sequentially in order. A failed
// download is logged and skipped; a storage error or cancellation stops
// the phase and is returned with the results so far. With deduplicate
// set, each URI is downloaded at most once.
func (m *MediaFetcher) FetchAll(ctx context.Context, references []MediaReference, deduplicate bool, progress Progress) (MediaSummary, error) {
	var summary MediaSummary
	progress = orNopProgress(progress)
	progress.StartPhase("Downloading media", len(references))
	defer progress.EndPhase()

	seen := make(map[string]struct{}, len(references))
	for _, reference := range references {
		progress.Step(reference.URI.String())

		_, duplicate := seen[reference.URI.String()]
		seen[reference.URI.String()] = struct{}{}
		if duplicate {
			summary.Duplicates++
			if deduplicate {
				summary.Skipped++
				summary.Results = append(summary.Results, MediaResult{
					Reference: reference,
					Path:      m.Path(reference.URI),
					Status:    MediaSkipped,
				})
				continue
			}
		}

		result, err := m.Fetch(ctx, reference)
		summary.Results = append(summary.Results, result)
		if err != nil {
			if errors.Is(err, ErrStorage) {
				return summary, err
			}
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			result.Err = err
			summary.Results[len(summary.Results)-1] = result
			summary.Failed++
			m.logger.Warn("media download failed, skipping",
				"uri", reference.URI,
				"event_id", reference.EventID,
				"error", err,
			)
			continue
		}
		summary.Downloaded++
		summary.Bytes += result.Size
	}

	if summary.Duplicates > 0 {
		m.logger.Info("repeated media references",
			"duplicates", summary.Duplicates,
			"deduplicated", deduplicate,
		)
	}
	return summary, nil
}

// ensureDirectory creates dir and its parents. An existing directory is
// accepted; an existing non-directory anywhere on the path is an
// ErrStorage error.
func ensureDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating directory %s: %w", ErrStorage, dir, err)
	}
	return nil
}
