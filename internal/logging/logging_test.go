// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "deepchat.log")

	logger, closer, err := Setup(Options{Level: "debug", Format: "json", Output: "file", FilePath: path})
	require.NoError(t, err)

	WithChat(WithComponent(logger, "engine"), "chat-1").Debug("turn committed", "frames", 3)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "turn committed", entry["msg"])
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "chat-1", entry["chat_id"])
	assert.EqualValues(t, 3, entry["frames"])
	assert.Contains(t, entry["time"], "T")
}

func TestSetupRejectsBadOptions(t *testing.T) {
	_, _, err := Setup(Options{Output: "file"})
	assert.Error(t, err, "file output without path")

	_, _, err = Setup(Options{Output: "syslog"})
	assert.Error(t, err)

	_, _, err = Setup(Options{Format: "xml"})
	assert.Error(t, err)

	_, _, err = Setup(Options{Level: "verbose"})
	assert.Error(t, err)
}
