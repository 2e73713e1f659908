// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation runs chat turns: it persists the user's message,
// streams the assistant reply into a placeholder, and commits the result.
//
// # Key Types
//
//   - Engine: owns the per-chat turn lock and the collaborators
//   - Turn: one user message and its reply, with the current State
//   - Opener: starts a completion stream (ClientOpener wraps cloud.Client)
//   - SettingsProvider: supplies the read-once request settings
//
// # Turn States
//
//	Idle -> UserPersisting -> AwaitingFirstToken -> Streaming -> Finalizing -> Committed | Failed
//
// A user-message persistence failure ends the turn in Failed before any
// placeholder or stream exists. A failed or canceled stream keeps whatever
// content arrived.
//
// # Usage
//
//	engine := conversation.NewEngine(store, gateway, conversation.ClientOpener{Client: client})
//	chat := engine.NewChat()
//	turn, err := engine.Send(ctx, chat, "Hello",
//	    conversation.WithUpdate(func(t *conversation.Turn) { render(t.Reply) }))
//	if errors.Is(err, conversation.ErrCommitFailed) {
//	    err = engine.RetryCommit(ctx, turn)
//	}
package conversation
