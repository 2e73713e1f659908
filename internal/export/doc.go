// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes chats to shareable formats.
//
// # Formats
//
//   - Markdown: front matter, one section per message, reasoning in a
//     collapsible block, failed replies marked
//   - JSON: the stored chat as-is
//
// # Usage
//
//	exp, err := export.ForFormat("markdown", export.DefaultOptions())
//	path, err := export.ToFile(chat, exp, opts)
package export
