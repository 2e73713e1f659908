// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides chat persistence for deepchat.
//
// # Key Types
//
//   - Gateway: the persistence interface the conversation engine writes through
//   - SQLiteStore: default implementation, one SQLite file (modernc.org/sqlite)
//   - FileStore: one JSON document per chat, for plain-file setups
//   - Error: failure with a Kind (connection, query, insert, update, delete)
//
// # Usage
//
//	gw, err := storage.Open(storage.DriverSQLite, "~/.deepchat/deepchat.db", logger)
//	if err != nil {
//	    return err
//	}
//	defer gw.Close()
//
//	chats, err := gw.FetchAllChats(ctx)
//	if errors.Is(err, storage.ErrQuery) {
//	    // ...
//	}
//
// # Storage Location
//
// By default chats are stored in ~/.deepchat/deepchat.db, or as JSON files
// in ~/.deepchat/chats/ with the json driver.
package storage
