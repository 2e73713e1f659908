// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures structured logging for deepchat.
//
// All components log through log/slog. Setup builds a handler from the
// [log] section of the configuration; components receive the resulting
// *slog.Logger at construction and fall back to slog.Default() when given nil.
//
// The REPL writes its own output to the terminal, so the CLI defaults to a
// log file under the config directory at warn level.
package logging
