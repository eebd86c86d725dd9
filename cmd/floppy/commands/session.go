// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/irl/matrix-floppy/archive"
	"github.com/irl/matrix-floppy/cmd/floppy/cli"
	"github.com/irl/matrix-floppy/lib/config"
	"github.com/irl/matrix-floppy/lib/version"
	"github.com/irl/matrix-floppy/messaging"
)

// ConfigParams selects the configuration file and the account
// settings most often overridden on the command line.
type ConfigParams struct {
	ConfigPath   string `flag:"config,c"      desc:"configuration file (default: $FLOPPY_CONFIG)"`
	Homeserver   string `flag:"homeserver"    desc:"homeserver URL (overrides the configuration)"`
	Username     string `flag:"username,u"    desc:"account to log in as (overrides the configuration)"`
	PasswordFile string `flag:"password-file" desc:"file holding the password, - for standard input"`
}

// load reads the configuration named by --config or $FLOPPY_CONFIG,
// falling back to the defaults when neither is set, and applies the
// flag overrides. The result is not yet validated.
func (p *ConfigParams) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case p.ConfigPath != "":
		cfg, err = config.LoadFile(p.ConfigPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, cli.NotFound("%w", err)
	}
	if err != nil {
		return nil, cli.Validation("%w", err)
	}

	if p.Homeserver != "" {
		cfg.Homeserver = p.Homeserver
	}
	if p.Username != "" {
		cfg.Username = p.Username
	}
	if p.PasswordFile != "" {
		cfg.PasswordFile = p.PasswordFile
	}
	return cfg, nil
}

// validate checks cfg and builds the command logger it describes.
func validate(cfg *config.Config, command string) (*slog.Logger, slog.Level, error) {
	if err := cfg.Validate(); err != nil {
		return nil, 0, cli.Validation("invalid configuration:\n%w", err)
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, 0, cli.Validation("%w", err)
	}
	logger := cli.NewCommandLogger(os.Stderr, cfg.Log.Format, level).With(
		"command", command,
		"homeserver", cfg.Homeserver,
	)
	return logger, level, nil
}

func newClient(cfg *config.Config, logger *slog.Logger) (*messaging.Client, error) {
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Homeserver,
		Logger:        logger,
		UserAgent:     version.UserAgent(),
	})
	if err != nil {
		return nil, cli.Validation("%w", err)
	}
	return client, nil
}

// exitError attaches the process exit code for an archive run failure.
func exitError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, archive.ErrAuth):
		return cli.WithExitCode(cli.ExitAuth, err)
	case errors.Is(err, archive.ErrFetch):
		return cli.WithExitCode(cli.ExitFetch, err)
	case errors.Is(err, archive.ErrRender):
		return cli.WithExitCode(cli.ExitRender, err)
	case errors.Is(err, archive.ErrStorage):
		return cli.WithExitCode(cli.ExitStorage, err)
	}
	return err
}
