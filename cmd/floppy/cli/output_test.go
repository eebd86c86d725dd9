// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	var buffer bytes.Buffer
	var rooms []string
	if err := WriteJSON(&buffer, normalizeNilSlice(rooms)); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if got := strings.TrimSpace(buffer.String()); got != "[]" {
		t.Errorf("nil slice encoded as %q, want []", got)
	}

	buffer.Reset()
	if err := WriteJSON(&buffer, map[string]int{"rooms": 2}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if got := buffer.String(); got != "{\n  \"rooms\": 2\n}\n" {
		t.Errorf("WriteJSON = %q, want indented object", got)
	}
}

func TestEmitJSONDisabled(t *testing.T) {
	var output JSONOutput
	done, err := output.EmitJSON(map[string]int{"rooms": 2})
	if done || err != nil {
		t.Errorf("EmitJSON = (%v, %v), want (false, nil) without --json", done, err)
	}
}

func TestNewCommandLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buffer bytes.Buffer
		logger := NewCommandLogger(&buffer, FormatJSON, slog.LevelInfo)
		logger.Debug("hidden")
		logger.Info("archive rendered", "rooms", 3)

		var record map[string]any
		if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
			t.Fatalf("output is not one JSON record: %v\n%s", err, buffer.String())
		}
		if record["msg"] != "archive rendered" || record["rooms"] != float64(3) {
			t.Errorf("record = %v", record)
		}
	})

	t.Run("text", func(t *testing.T) {
		var buffer bytes.Buffer
		NewCommandLogger(&buffer, FormatText, slog.LevelDebug).Debug("page fetched", "events", 100)
		if !strings.Contains(buffer.String(), "msg=\"page fetched\" events=100") {
			t.Errorf("text output = %q", buffer.String())
		}
	})

	t.Run("auto is json off a terminal", func(t *testing.T) {
		var buffer bytes.Buffer
		NewCommandLogger(&buffer, FormatAuto, slog.LevelInfo).Info("done")
		if !json.Valid(bytes.TrimSpace(buffer.Bytes())) {
			t.Errorf("auto output = %q, want JSON", buffer.String())
		}
	})
}

func TestReadSecret(t *testing.T) {
	directory := t.TempDir()

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(directory, "password")
		if err := os.WriteFile(path, []byte("  hunter2\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		buffer, err := ReadSecret(path, "Password")
		if err != nil {
			t.Fatalf("ReadSecret: %v", err)
		}
		defer buffer.Close()
		if buffer.String() != "hunter2" {
			t.Errorf("secret = %q, want hunter2", buffer.String())
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadSecret(filepath.Join(directory, "absent"), "Password")
		toolErr, ok := err.(*ToolError)
		if !ok || toolErr.Category != CategoryNotFound {
			t.Errorf("ReadSecret = %v, want a not-found ToolError", err)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(directory, "empty")
		if err := os.WriteFile(path, []byte("\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		_, err := ReadSecret(path, "Password")
		toolErr, ok := err.(*ToolError)
		if !ok || toolErr.Category != CategoryValidation {
			t.Errorf("ReadSecret = %v, want a validation ToolError", err)
		}
	})
}
