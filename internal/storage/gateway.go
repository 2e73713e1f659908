// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jeranaias/deepchat/internal/model"
)

// Gateway persists chats and their messages. Implementations serialize
// writes and never store a message in the streaming state: SaveChat skips
// such messages and SaveMessage rejects them.
//
// Every error returned is a *Error whose kind is one of ErrConnection,
// ErrQuery, ErrInsert, ErrUpdate or ErrDelete.
type Gateway interface {
	// SaveChat upserts the chat row and all its persistable messages.
	SaveChat(ctx context.Context, chat *model.Chat) error
	// SaveMessage upserts one message of an existing chat.
	SaveMessage(ctx context.Context, msg *model.Message, chatID string) error
	// GetChat loads a chat with its messages in order. A missing chat is a
	// query error wrapping ErrNotFound.
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	// FetchAllChats returns every chat, most recently updated first.
	FetchAllChats(ctx context.Context) ([]*model.Chat, error)
	// DeleteChat removes the chat's messages, then the chat.
	DeleteChat(ctx context.Context, chat *model.Chat) error
	// RenameChat replaces the title of an existing chat.
	RenameChat(ctx context.Context, id, title string) error
	// Close releases the backing resources.
	Close() error
}

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
)

// Open creates the gateway for driver at path: a database file for sqlite,
// a directory for json.
func Open(driver, path string, logger *slog.Logger) (Gateway, error) {
	switch driver {
	case "", DriverSQLite:
		return NewSQLiteStore(path, logger)
	case DriverJSON:
		return NewFileStore(path, logger)
	default:
		return nil, newError(KindConnection, "open", fmt.Errorf("unknown storage driver %q", driver))
	}
}
