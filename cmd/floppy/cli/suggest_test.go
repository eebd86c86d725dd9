// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1}, // substitution
		{"abc", "ab", 1},  // deletion
		{"ab", "abc", 1},  // insertion
		{"abc", "bac", 2}, // transposition (counted as 2 edits)
		{"kitten", "sitting", 3},
		{"archive", "archvie", 2},
		{"whoami", "whomai", 2},
		{"inspect", "inspet", 1},
	}

	for _, test := range tests {
		t.Run(test.a+"->"+test.b, func(t *testing.T) {
			if got := levenshtein(test.a, test.b); got != test.want {
				t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
			}
			if reverse := levenshtein(test.b, test.a); reverse != test.want {
				t.Errorf("levenshtein(%q, %q) = %d, want %d", test.b, test.a, reverse, test.want)
			}
		})
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []*Command{
		{Name: "archive"},
		{Name: "whoami"},
		{Name: "version"},
		{Name: "keys"},
		{Name: "events"},
	}

	tests := []struct {
		input string
		want  string
	}{
		{"archvie", "archive"}, // transposition
		{"whoam", "whoami"},    // missing letter
		{"versionn", "version"},
		{"key", "keys"},
		{"evnts", "events"},
		{"zzzzzzzzz", ""}, // nothing close
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			if got := suggestCommand(test.input, commands); got != test.want {
				t.Errorf("suggestCommand(%q) = %q, want %q", test.input, got, test.want)
			}
		})
	}
}

func TestSuggestFlag(t *testing.T) {
	makeFlagSet := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flagSet.String("homeserver", "", "")
		flagSet.String("output", "", "")
		flagSet.Bool("no-media", false, "")
		flagSet.Bool("json", false, "")
		return flagSet
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "close typo", args: []string{"--homserver"}, want: "--homeserver"},
		{name: "flag with equals", args: []string{"--homserver=https://matrix.org"}, want: "--homeserver"},
		{name: "defined flag is skipped", args: []string{"--json", "--outptu"}, want: "--output"},
		{name: "nothing close", args: []string{"--zzzzzzzzz"}, want: ""},
		{name: "no flags", args: []string{"positional"}, want: ""},
		{name: "after terminator", args: []string{"--", "--homserver"}, want: ""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := suggestFlag(test.args, makeFlagSet()); got != test.want {
				t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
			}
		})
	}
}
