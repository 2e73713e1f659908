// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the deepchat packages.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: crash-safe file replacement with fsync
//
// Display:
//   - TruncateWidth, PadWidth: column-aware string shaping (CJK safe)
//   - TimeAgo: relative timestamps for chat lists
//
// # Usage
//
//	err := util.AtomicWriteFile(path, data, 0600)
//	label := util.TimeAgo(chat.UpdatedAt, time.Now())
package util
