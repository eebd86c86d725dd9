// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/irl/matrix-floppy/archive"
	"github.com/irl/matrix-floppy/cmd/floppy/cli"
	"github.com/irl/matrix-floppy/lib/config"
	"github.com/irl/matrix-floppy/lib/eventlog"
	"github.com/irl/matrix-floppy/lib/progress"
	"github.com/irl/matrix-floppy/lib/ref"
	"github.com/irl/matrix-floppy/lib/secret"
	"github.com/irl/matrix-floppy/messaging"
	"github.com/irl/matrix-floppy/render"
)

// newReporter starts the progress display. Tests replace it.
var newReporter = progress.New

type archiveParams struct {
	ConfigParams
	Output     string   `flag:"output,o"    desc:"archive directory (overrides the configuration)"`
	KeyFile    string   `flag:"key-file"    desc:"megolm key export used to decrypt encrypted rooms"`
	Rooms      []string `flag:"room"        desc:"archive only this room ID (repeatable)"`
	NoMedia    bool     `flag:"no-media"    desc:"do not download media"`
	NoProgress bool     `flag:"no-progress" desc:"disable the progress display and per-phase logging"`
}

func archiveCommand() *cli.Command {
	var params archiveParams

	return &cli.Command{
		Name:    "archive",
		Summary: "Archive every joined room",
		Description: `Log in, fetch the complete history of every joined room, and
write a static HTML archive.

The output directory receives one HTML page per room, an index page,
and the media each room references under <server>/<media-id>. With
event logs and the index enabled, the raw events and a SQLite index
are written alongside.

Exit status: 0 on success, 1 for usage or configuration errors, 2 when
login or key import fails, 3 when a room could not be fetched, 4 when
rendering fails, and 5 for storage errors.`,
		Usage: "floppy archive [flags]",
		Examples: []cli.Example{
			{
				Description: "Archive using a configuration file",
				Command:     "floppy archive --config ~/.config/floppy/config.yaml",
			},
			{
				Description: "Archive two rooms without media, reading the password from stdin",
				Command:     "pass matrix | floppy archive -c floppy.yaml --password-file - --room '!a:example.org' --room '!b:example.org' --no-media",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			return runArchive(ctx, &params)
		},
	}
}

func runArchive(ctx context.Context, params *archiveParams) error {
	cfg, err := params.load()
	if err != nil {
		return err
	}
	if err := params.apply(cfg); err != nil {
		return err
	}
	logger, level, err := validate(cfg, "archive")
	if err != nil {
		return err
	}

	filter, err := syncFilter(cfg)
	if err != nil {
		return err
	}
	location, err := cfg.Location()
	if err != nil {
		return cli.Validation("%w", err)
	}
	renderer, err := render.New(render.Config{
		RoomTemplate:       cfg.Render.Template,
		IndexTemplate:      cfg.Render.IndexTemplate,
		Location:           location,
		AllowFormattedHTML: cfg.Render.AllowFormattedHTML,
		HighlightStyle:     cfg.Render.HighlightStyle,
		Logger:             logger,
	})
	if err != nil {
		return cli.WithExitCode(cli.ExitRender, err)
	}

	// Secrets are read before the progress display takes the terminal.
	password, err := cli.ReadSecret(cfg.PasswordFile, "Password for "+cfg.Username)
	if err != nil {
		return err
	}
	defer password.Close()

	var passphrase *secret.Buffer
	if cfg.KeyFile != "" {
		passphrase, err = cli.ReadSecret(cfg.KeyPassphraseFile, "Passphrase for "+cfg.KeyFile)
		if err != nil {
			return err
		}
		defer passphrase.Close()
	}

	var reporter progress.Reporter = progress.Discard{}
	if !params.NoProgress {
		reporter, logger = newReporter(os.Stderr, logger, level)
	}

	// The client logs through the reporter's logger so its lines do not
	// tear the progress bar.
	client, err := newClient(cfg, logger)
	if err != nil {
		reporter.Close()
		return err
	}

	var eventLog *eventlog.Config
	if cfg.EventLog.Enabled {
		eventLog = &cfg.EventLog.Config
	}

	archiver, err := archive.New(archive.Config{
		Login: func(ctx context.Context) (messaging.Session, error) {
			session, err := client.Login(ctx, cfg.Username, password)
			if err != nil {
				return nil, err
			}
			return session, nil
		},
		Output:            cfg.Output,
		KeyFile:           cfg.KeyFile,
		KeyPassphrase:     passphrase,
		Filter:            filter,
		SyncTimeout:       cfg.SyncTimeout(),
		PageSize:          cfg.Fetch.PageSize,
		Retry:             cfg.Retry,
		IncludeRooms:      cfg.Rooms.Include,
		ExcludeRooms:      cfg.Rooms.Exclude,
		SkipMedia:         !cfg.Media.Enabled,
		DeduplicateMedia:  cfg.Media.Deduplicate,
		DeduplicateEvents: cfg.Fetch.DeduplicateEvents,
		Renderer:          renderer,
		EventLog:          eventLog,
		Index:             cfg.Index.Enabled,
		MetricsTextfile:   cfg.Metrics.Textfile,
		Logout:            cfg.Logout,
		Progress:          reporter,
		Logger:            logger,
	})
	if err != nil {
		reporter.Close()
		return cli.Validation("%w", err)
	}

	report, runErr := archiver.Run(ctx)
	if err := reporter.Close(); err != nil {
		logger.Warn("closing progress display", "error", err)
	}
	if report != nil {
		if err := report.WriteTable(os.Stdout); err != nil {
			return errors.Join(exitError(runErr), fmt.Errorf("writing report: %w", err))
		}
	}
	return exitError(runErr)
}

// apply layers the archive flags over cfg.
func (p *archiveParams) apply(cfg *config.Config) error {
	if p.Output != "" {
		cfg.Output = p.Output
	}
	if p.KeyFile != "" {
		cfg.KeyFile = p.KeyFile
	}
	if p.NoMedia {
		cfg.Media.Enabled = false
	}
	if len(p.Rooms) > 0 {
		rooms := make([]ref.RoomID, 0, len(p.Rooms))
		for _, raw := range p.Rooms {
			roomID, err := ref.ParseRoomID(raw)
			if err != nil {
				return cli.Validation("--room: %w", err)
			}
			rooms = append(rooms, roomID)
		}
		cfg.Rooms.Include = rooms
	}
	return nil
}

// syncFilter returns the inline filter for the initial sync: the
// configured filter file when set, otherwise one limited to the
// included rooms with the configured timeline limit.
func syncFilter(cfg *config.Config) (string, error) {
	if cfg.Sync.FilterFile != "" {
		data, err := os.ReadFile(cfg.Sync.FilterFile)
		if errors.Is(err, fs.ErrNotExist) {
			return "", cli.NotFound("sync filter: %w", err)
		}
		if err != nil {
			return "", cli.Internal("sync filter: %w", err)
		}
		filter, err := messaging.ParseFilter(data)
		if err != nil {
			return "", cli.Validation("sync filter %s: %w", cfg.Sync.FilterFile, err)
		}
		return filter, nil
	}
	rooms := make([]string, 0, len(cfg.Rooms.Include))
	for _, roomID := range cfg.Rooms.Include {
		rooms = append(rooms, roomID.String())
	}
	return messaging.BuildFilter(messaging.SyncFilter{
		TimelineLimit: cfg.Sync.TimelineLimit,
		Rooms:         rooms,
	}), nil
}
