// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/irl/matrix-floppy/cmd/floppy/cli"
	"github.com/irl/matrix-floppy/messaging"
)

type whoamiParams struct {
	ConfigParams
	cli.JSONOutput
}

type whoamiOutput struct {
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
	Homeserver  string `json:"homeserver"`
	JoinedRooms int    `json:"joined_rooms"`
}

// whoamiCommand logs in with the configured credentials and reports the
// account the homeserver resolved them to. Useful for checking a
// configuration before a long archive run.
func whoamiCommand() *cli.Command {
	var params whoamiParams

	return &cli.Command{
		Name:    "whoami",
		Summary: "Check the configured credentials",
		Description: `Log in with the configured credentials and print the user ID and
device the homeserver assigned, along with the number of joined rooms
an archive run would find. The device is logged out again unless
logout is disabled in the configuration.`,
		Usage: "floppy whoami [flags]",
		Examples: []cli.Example{
			{
				Description: "Check credentials from a configuration file",
				Command:     "floppy whoami -c floppy.yaml",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}

			output, err := whoami(ctx, &params)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(output); done {
				return err
			}
			fmt.Fprintf(os.Stdout, "User ID:    %s\n", output.UserID)
			fmt.Fprintf(os.Stdout, "Device:     %s\n", output.DeviceID)
			fmt.Fprintf(os.Stdout, "Homeserver: %s\n", output.Homeserver)
			fmt.Fprintf(os.Stdout, "Rooms:      %d joined\n", output.JoinedRooms)
			return nil
		},
	}
}

// whoami logs in, asks the homeserver who the session belongs to and
// which rooms it has joined, then logs out when configured to.
func whoami(ctx context.Context, params *whoamiParams) (whoamiOutput, error) {
	cfg, err := params.load()
	if err != nil {
		return whoamiOutput{}, err
	}
	logger, _, err := validate(cfg, "whoami")
	if err != nil {
		return whoamiOutput{}, err
	}
	password, err := cli.ReadSecret(cfg.PasswordFile, "Password for "+cfg.Username)
	if err != nil {
		return whoamiOutput{}, err
	}
	defer password.Close()

	client, err := newClient(cfg, logger)
	if err != nil {
		return whoamiOutput{}, err
	}
	session, err := client.Login(ctx, cfg.Username, password)
	if err != nil {
		if messaging.IsAuthError(err) {
			return whoamiOutput{}, cli.Forbidden("login as %s: %w", cfg.Username, err)
		}
		return whoamiOutput{}, cli.Transient("login as %s: %w", cfg.Username, err)
	}
	defer session.Close()
	if cfg.Logout {
		defer func() {
			if err := session.Logout(ctx); err != nil {
				logger.Warn("logout failed", "error", err)
			}
		}()
	}

	userID, err := session.WhoAmI(ctx)
	if err != nil {
		return whoamiOutput{}, cli.Transient("whoami: %w", err)
	}
	rooms, err := session.JoinedRooms(ctx)
	if err != nil {
		return whoamiOutput{}, cli.Transient("listing joined rooms: %w", err)
	}
	return whoamiOutput{
		UserID:      userID.String(),
		DeviceID:    session.DeviceID(),
		Homeserver:  cfg.Homeserver,
		JoinedRooms: len(rooms),
	}, nil
}
