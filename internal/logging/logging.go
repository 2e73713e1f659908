// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Options controls how Setup builds the logger.
type Options struct {
	Level     string // debug, info, warn, error
	Format    string // text, json
	Output    string // stderr, stdout, file
	FilePath  string // required when Output is "file"
	AddSource bool
}

// timeFormat is RFC3339 with milliseconds.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// =============================================================================
// SETUP
// =============================================================================

// Setup builds a logger from opts. The returned closer releases the log
// file, if any, and must be called on shutdown.
func Setup(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	var (
		writer io.Writer
		closer io.Closer = nopCloser{}
	)
	switch strings.ToLower(opts.Output) {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	case "file":
		if opts.FilePath == "" {
			return nil, nil, fmt.Errorf("log file path is required when output is 'file'")
		}
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0700); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writer = file
		closer = file
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", opts.Output)
	}

	handler, err := newHandler(writer, opts.Format, &slog.HandlerOptions{
		Level:     level,
		AddSource: opts.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().Format(timeFormat))
			}
			return a
		},
	})
	if err != nil {
		closer.Close()
		return nil, nil, err
	}

	return slog.New(handler), closer, nil
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) (slog.Handler, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}

// ParseLevel parses a level name. The empty string means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// WithComponent tags a logger with the emitting component.
func WithComponent(l *slog.Logger, component string) *slog.Logger {
	return OrDefault(l).With("component", component)
}

// WithChat tags a logger with a chat ID.
func WithChat(l *slog.Logger, chatID string) *slog.Logger {
	return OrDefault(l).With("chat_id", chatID)
}
