// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/deepchat/internal/logging"
	"github.com/jeranaias/deepchat/internal/model"
)

// =============================================================================
// SCHEMA
// =============================================================================

// SchemaVersion tracks the database schema version for migrations.
const SchemaVersion = 1

// Schema creates the chat tables. Timestamps are Unix nanoseconds; seq is
// the message position within its chat and breaks timestamp ties.
const Schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chats_updated_at ON chats(updated_at);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    chat_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    reasoning_content TEXT,
    timestamp INTEGER NOT NULL,
    status TEXT NOT NULL,
    FOREIGN KEY(chat_id) REFERENCES chats(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, seq);
`

const upsertChatSQL = `
INSERT INTO chats (id, title, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    title = excluded.title,
    updated_at = excluded.updated_at`

// upsertMessageSQL keeps the original seq on update; a new message goes
// after the last one in its chat unless an explicit seq is given.
const upsertMessageSQL = `
INSERT INTO messages (id, chat_id, seq, role, content, reasoning_content, timestamp, status)
VALUES (?, ?, COALESCE(?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE chat_id = ?)), ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    chat_id = excluded.chat_id,
    content = excluded.content,
    reasoning_content = excluded.reasoning_content,
    timestamp = excluded.timestamp,
    status = excluded.status`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore is the default Gateway, backed by a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, newError(KindConnection, "open", errors.Wrap(err, "creating database directory"))
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, newError(KindConnection, "open", errors.Wrap(err, "opening database"))
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, newError(KindConnection, "open", errors.Wrapf(err, "setting %s", pragma))
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, newError(KindConnection, "open", errors.Wrap(err, "creating schema"))
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(SchemaVersion)); err != nil {
		db.Close()
		return nil, newError(KindConnection, "open", errors.Wrap(err, "recording schema version"))
	}

	return &SQLiteStore{
		db:     db,
		path:   path,
		logger: logging.WithComponent(logger, "storage.sqlite"),
	}, nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return newError(KindConnection, "close", err)
	}
	return nil
}

// =============================================================================
// WRITES
// =============================================================================

// SaveChat upserts the chat and every message not in the streaming state,
// in one transaction.
func (s *SQLiteStore) SaveChat(ctx context.Context, chat *model.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newError(KindConnection, "save chat", errors.Wrap(err, "beginning transaction"))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertChatSQL,
		chat.ID, chat.Title, chat.CreatedAt.UnixNano(), chat.UpdatedAt.UnixNano(),
	); err != nil {
		return newError(KindInsert, "save chat", errors.Wrapf(err, "upserting chat %s", chat.ID))
	}

	for i, msg := range chat.Messages {
		if msg.Status == model.StatusStreaming {
			continue
		}
		if err := msg.ValidateForStorage(); err != nil {
			return newError(KindInsert, "save chat", errors.Wrapf(err, "message %s", msg.ID))
		}
		seq := int64(i)
		if err := upsertMessage(ctx, tx, msg, chat.ID, &seq); err != nil {
			return newError(KindInsert, "save chat", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return newError(KindInsert, "save chat", errors.Wrap(err, "committing"))
	}
	s.logger.Debug("chat saved", "chat_id", chat.ID, "messages", len(chat.Messages))
	return nil
}

// SaveMessage upserts one message. The chat must already exist.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *model.Message, chatID string) error {
	if err := msg.ValidateForStorage(); err != nil {
		return newError(KindInsert, "save message", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := upsertMessage(ctx, s.db, msg, chatID, nil); err != nil {
		return newError(KindInsert, "save message", err)
	}
	s.logger.Debug("message saved", "chat_id", chatID, "message_id", msg.ID, "status", msg.Status)
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertMessage(ctx context.Context, db execer, msg *model.Message, chatID string, seq *int64) error {
	var reasoning sql.NullString
	if msg.ReasoningContent != nil {
		reasoning = sql.NullString{String: *msg.ReasoningContent, Valid: true}
	}
	var seqArg sql.NullInt64
	if seq != nil {
		seqArg = sql.NullInt64{Int64: *seq, Valid: true}
	}

	_, err := db.ExecContext(ctx, upsertMessageSQL,
		msg.ID, chatID, seqArg, chatID,
		string(msg.Role), msg.Content, reasoning,
		msg.Timestamp.UnixNano(), string(msg.Status),
	)
	return errors.Wrapf(err, "upserting message %s", msg.ID)
}

// DeleteChat removes the chat's messages and then the chat row.
func (s *SQLiteStore) DeleteChat(ctx context.Context, chat *model.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newError(KindConnection, "delete chat", errors.Wrap(err, "beginning transaction"))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chat.ID); err != nil {
		return newError(KindDelete, "delete chat", errors.Wrap(err, "deleting messages"))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chat.ID); err != nil {
		return newError(KindDelete, "delete chat", errors.Wrap(err, "deleting chat"))
	}
	if err := tx.Commit(); err != nil {
		return newError(KindDelete, "delete chat", errors.Wrap(err, "committing"))
	}
	s.logger.Debug("chat deleted", "chat_id", chat.ID)
	return nil
}

// RenameChat sets a new title on an existing chat.
func (s *SQLiteStore) RenameChat(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE chats SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return newError(KindUpdate, "rename chat", errors.Wrap(err, "updating title"))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return newError(KindUpdate, "rename chat", ErrNotFound)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// GetChat loads one chat with its messages.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		chat             model.Chat
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM chats WHERE id = ?`, id,
	).Scan(&chat.ID, &chat.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(KindQuery, "get chat", ErrNotFound)
	}
	if err != nil {
		return nil, newError(KindQuery, "get chat", errors.Wrap(err, "querying chat"))
	}
	chat.CreatedAt = time.Unix(0, created)
	chat.UpdatedAt = time.Unix(0, updated)

	byChat, err := s.loadMessages(ctx, `WHERE chat_id = ?`, id)
	if err != nil {
		return nil, newError(KindQuery, "get chat", err)
	}
	chat.Messages = byChat[id]
	if chat.Messages == nil {
		chat.Messages = make([]*model.Message, 0)
	}
	return &chat, nil
}

// FetchAllChats returns all chats with messages, newest update first.
func (s *SQLiteStore) FetchAllChats(ctx context.Context) ([]*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM chats ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, newError(KindQuery, "fetch chats", errors.Wrap(err, "querying chats"))
	}

	// Drain rows before the next query; there is only one connection.
	var chats []*model.Chat
	for rows.Next() {
		var (
			chat             model.Chat
			created, updated int64
		)
		if err := rows.Scan(&chat.ID, &chat.Title, &created, &updated); err != nil {
			rows.Close()
			return nil, newError(KindQuery, "fetch chats", errors.Wrap(err, "scanning chat"))
		}
		chat.CreatedAt = time.Unix(0, created)
		chat.UpdatedAt = time.Unix(0, updated)
		chat.Messages = make([]*model.Message, 0)
		chats = append(chats, &chat)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, newError(KindQuery, "fetch chats", errors.Wrap(err, "iterating chats"))
	}
	rows.Close()

	byChat, err := s.loadMessages(ctx, "")
	if err != nil {
		return nil, newError(KindQuery, "fetch chats", err)
	}
	for _, chat := range chats {
		if msgs, ok := byChat[chat.ID]; ok {
			chat.Messages = msgs
		}
	}
	return chats, nil
}

// loadMessages reads messages grouped by chat, each group in order.
func (s *SQLiteStore) loadMessages(ctx context.Context, where string, args ...any) (map[string][]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, reasoning_content, timestamp, status
		FROM messages `+where+`
		ORDER BY chat_id, seq ASC, timestamp ASC`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	defer rows.Close()

	out := make(map[string][]*model.Message)
	for rows.Next() {
		var (
			msg       model.Message
			chatID    string
			role      string
			status    string
			reasoning sql.NullString
			ts        int64
		)
		if err := rows.Scan(&msg.ID, &chatID, &role, &msg.Content, &reasoning, &ts, &status); err != nil {
			return nil, errors.Wrap(err, "scanning message")
		}
		msg.Role = model.Role(role)
		msg.Status = model.ParseStatus(status)
		msg.Timestamp = time.Unix(0, ts)
		if reasoning.Valid {
			r := reasoning.String
			msg.ReasoningContent = &r
		}
		out[chatID] = append(out[chatID], &msg)
	}
	return out, errors.Wrap(rows.Err(), "iterating messages")
}
