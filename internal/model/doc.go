// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
//
// # Key Types
//
//   - Chat: a titled, ordered transcript with creation/update timestamps
//   - Message: one user or assistant message with its delivery status
//   - Role: user or assistant
//   - Status: sending, streaming, success, failed
//
// # Invariants
//
// Only assistant messages carry reasoning content. StatusStreaming is a
// transient in-memory state and is never written to storage. A chat's
// UpdatedAt never moves backwards, and its title is derived once from the
// first user message.
//
// # Usage
//
//	chat := model.NewChat(time.Now())
//	msg := model.NewUserMessage("Hello", time.Now())
//	chat.Append(msg, time.Now())
package model
