// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the deepchat command line.
//
// # Commands
//
//   - chat: interactive session with history, /think and /retry
//   - ask: one-shot question, reading stdin when no text is given
//   - list, show, rename, delete, export: manage stored chats
//   - config show|get|set|keys|path: inspect and edit the configuration
//
// Colors follow the terminal: they are disabled when stdout is not a TTY,
// when NO_COLOR is set, or with --no-color. FORCE_COLOR turns them back on.
package cli
