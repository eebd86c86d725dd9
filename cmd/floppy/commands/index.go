// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/irl/matrix-floppy/cmd/floppy/cli"
	"github.com/irl/matrix-floppy/lib/digest"
	"github.com/irl/matrix-floppy/lib/eventindex"
)

func indexCommand() *cli.Command {
	return &cli.Command{
		Name:    "index",
		Summary: "Query the archive index",
		Subcommands: []*cli.Command{
			indexStatsCommand(),
			indexVerifyCommand(),
		},
	}
}

type indexStatsParams struct {
	cli.JSONOutput
}

type indexStatsOutput struct {
	Path   string `json:"path"`
	Rooms  int    `json:"rooms"`
	Events int    `json:"events"`
	Media  int    `json:"media"`
}

func indexStatsCommand() *cli.Command {
	var params indexStatsParams

	return &cli.Command{
		Name:    "stats",
		Summary: "Count the rooms, events, and media in an archive",
		Description: `Open the SQLite index written by "floppy archive" and print how many
rooms, events, and media files the last run recorded.`,
		Usage: "floppy index stats [flags] <archive-directory>",
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("expected exactly one archive directory, got %d arguments", len(args))
			}
			path, err := indexPath(args[0])
			if err != nil {
				return err
			}

			counts, err := eventindex.Count(ctx, path)
			if err != nil {
				return cli.Internal("%w", err)
			}
			output := indexStatsOutput{
				Path:   path,
				Rooms:  counts.Rooms,
				Events: counts.Events,
				Media:  counts.Media,
			}
			if done, err := params.EmitJSON(output); done {
				return err
			}
			fmt.Fprintf(os.Stdout, "Rooms:  %d\n", output.Rooms)
			fmt.Fprintf(os.Stdout, "Events: %d\n", output.Events)
			fmt.Fprintf(os.Stdout, "Media:  %d\n", output.Media)
			return nil
		},
	}
}

// indexPath returns the index database inside an archive directory.
func indexPath(directory string) (string, error) {
	path := filepath.Join(directory, eventindex.FileName)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", cli.NotFound("no index at %s (was the archive written with the index enabled?)", path)
	}
	return path, nil
}

type indexVerifyParams struct {
	cli.JSONOutput
}

type mediaProblem struct {
	URI     string `json:"uri"`
	Path    string `json:"path"`
	Problem string `json:"problem"`
}

type indexVerifyOutput struct {
	Checked  int            `json:"checked"`
	Bytes    int64          `json:"bytes"`
	Problems []mediaProblem `json:"problems"`
}

func indexVerifyCommand() *cli.Command {
	var params indexVerifyParams

	return &cli.Command{
		Name:    "verify",
		Summary: "Check stored media against the digests in the index",
		Description: `Re-hash every media file the index records as downloaded and compare
its size and BLAKE3 digest with the values recorded at download time.
Missing or altered files are listed and the command exits with the
storage error code.`,
		Usage:  "floppy index verify [flags] <archive-directory>",
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("expected exactly one archive directory, got %d arguments", len(args))
			}
			output, err := verifyMedia(ctx, args[0])
			if err != nil {
				return err
			}
			done, err := params.EmitJSON(output)
			if err != nil {
				return err
			}
			if !done {
				writeVerifyTable(os.Stdout, output)
			}
			if len(output.Problems) > 0 {
				return cli.WithExitCode(cli.ExitStorage,
					fmt.Errorf("%d of %d media files failed verification", len(output.Problems), output.Checked))
			}
			return nil
		},
	}
}

// verifyMedia re-hashes the downloaded media of the archive in directory.
func verifyMedia(ctx context.Context, directory string) (indexVerifyOutput, error) {
	path, err := indexPath(directory)
	if err != nil {
		return indexVerifyOutput{}, err
	}
	media, err := eventindex.DownloadedMedia(ctx, path)
	if err != nil {
		return indexVerifyOutput{}, cli.Internal("%w", err)
	}

	output := indexVerifyOutput{Problems: []mediaProblem{}}
	for _, row := range media {
		if err := ctx.Err(); err != nil {
			return output, err
		}
		output.Checked++
		problem := func(format string, args ...any) {
			output.Problems = append(output.Problems, mediaProblem{
				URI:     row.URI,
				Path:    row.Path,
				Problem: fmt.Sprintf(format, args...),
			})
		}

		recorded, err := digest.Parse(row.Digest)
		if err != nil {
			problem("index holds no usable digest: %v", err)
			continue
		}
		file, err := os.Open(filepath.Join(directory, row.Path))
		if err != nil {
			problem("cannot open: %v", err)
			continue
		}
		actual, size, err := digest.SumReader(file)
		file.Close()
		if err != nil {
			problem("cannot read: %v", err)
			continue
		}
		output.Bytes += size
		switch {
		case size != row.Size:
			problem("size is %d bytes, index records %d", size, row.Size)
		case actual != recorded:
			problem("digest is %s, index records %s", actual, recorded)
		}
	}
	return output, nil
}

func writeVerifyTable(w io.Writer, output indexVerifyOutput) {
	fmt.Fprintf(w, "Checked %d media files (%s)\n", output.Checked, humanize.Bytes(uint64(output.Bytes)))
	if len(output.Problems) == 0 {
		return
	}
	problems := table.NewWriter()
	problems.SetStyle(table.StyleRounded)
	problems.AppendHeader(table.Row{"Path", "URI", "Problem"})
	for _, problem := range output.Problems {
		problems.AppendRow(table.Row{problem.Path, problem.URI, problem.Problem})
	}
	fmt.Fprintln(w, problems.Render())
}
