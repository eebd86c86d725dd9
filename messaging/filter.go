// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"
)

// SyncFilter selects what the initial /sync returns.
type SyncFilter struct {
	// TimelineLimit is the number of most recent timeline events per
	// room. Older events are fetched by backward pagination from the
	// room's prev_batch token.
	TimelineLimit int

	// Rooms restricts the sync to these room IDs. Empty means all rooms.
	Rooms []string
}

// BuildFilter encodes filter as an inline JSON filter for SyncOptions.
// Presence and account data are excluded: an archive has no use for them.
func BuildFilter(filter SyncFilter) string {
	roomFilter := map[string]any{}
	if filter.TimelineLimit > 0 {
		roomFilter["timeline"] = map[string]any{"limit": filter.TimelineLimit}
	}
	if len(filter.Rooms) > 0 {
		roomFilter["rooms"] = filter.Rooms
	}

	top := map[string]any{
		"room":         roomFilter,
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}

	data, _ := json.Marshal(top)
	return string(data)
}

// ParseFilter converts a user-supplied filter document, which may carry
// comments and trailing commas, into compact inline JSON.
func ParseFilter(source []byte) (string, error) {
	standard := jsonc.ToJSON(source)
	var document map[string]any
	if err := json.Unmarshal(standard, &document); err != nil {
		return "", fmt.Errorf("messaging: invalid sync filter: %w", err)
	}
	compact, err := json.Marshal(document)
	if err != nil {
		return "", fmt.Errorf("messaging: encoding sync filter: %w", err)
	}
	return string(compact), nil
}
