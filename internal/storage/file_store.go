// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jeranaias/deepchat/internal/logging"
	"github.com/jeranaias/deepchat/internal/model"
	"github.com/jeranaias/deepchat/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps one JSON document per chat in BaseDir. Writes go through
// an atomic replace, so a crash leaves either the old or the new file.
type FileStore struct {
	// BaseDir is the directory for storing chats.
	// Default: ~/.deepchat/chats/
	BaseDir string

	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(baseDir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, newError(KindConnection, "open", fmt.Errorf("creating chat directory: %w", err))
	}
	return &FileStore{
		BaseDir: baseDir,
		logger:  logging.WithComponent(logger, "storage.file"),
	}, nil
}

// Close is a no-op; files are not held open.
func (s *FileStore) Close() error {
	return nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// SaveChat writes the chat and its persistable messages, replacing any
// previous document.
func (s *FileStore) SaveChat(ctx context.Context, chat *model.Chat) error {
	if err := ctx.Err(); err != nil {
		return newError(KindConnection, "save chat", err)
	}

	doc := chat.Clone()
	doc.Messages = doc.Messages[:0]
	for _, msg := range chat.Messages {
		if msg.Status == model.StatusStreaming {
			continue
		}
		if err := msg.ValidateForStorage(); err != nil {
			return newError(KindInsert, "save chat", fmt.Errorf("message %s: %w", msg.ID, err))
		}
		doc.Messages = append(doc.Messages, msg.Clone())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(doc); err != nil {
		return newError(KindInsert, "save chat", err)
	}
	s.logger.Debug("chat saved", "chat_id", chat.ID, "messages", len(doc.Messages))
	return nil
}

// SaveMessage inserts or replaces one message in an existing chat document.
func (s *FileStore) SaveMessage(ctx context.Context, msg *model.Message, chatID string) error {
	if err := ctx.Err(); err != nil {
		return newError(KindConnection, "save message", err)
	}
	if err := msg.ValidateForStorage(); err != nil {
		return newError(KindInsert, "save message", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(chatID)
	if err != nil {
		return newError(KindInsert, "save message", err)
	}

	replaced := false
	for i, existing := range doc.Messages {
		if existing.ID == msg.ID {
			doc.Messages[i] = msg.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Messages = append(doc.Messages, msg.Clone())
	}

	if err := s.write(doc); err != nil {
		return newError(KindInsert, "save message", err)
	}
	s.logger.Debug("message saved", "chat_id", chatID, "message_id", msg.ID, "status", msg.Status)
	return nil
}

// RenameChat replaces the title of an existing chat.
func (s *FileStore) RenameChat(ctx context.Context, id, title string) error {
	if err := ctx.Err(); err != nil {
		return newError(KindConnection, "rename chat", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(id)
	if err != nil {
		return newError(KindUpdate, "rename chat", err)
	}
	doc.Title = title
	if err := s.write(doc); err != nil {
		return newError(KindUpdate, "rename chat", err)
	}
	return nil
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// GetChat loads a chat by ID.
func (s *FileStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindConnection, "get chat", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(id)
	if err != nil {
		return nil, newError(KindQuery, "get chat", err)
	}
	return doc, nil
}

// FetchAllChats returns every readable chat, most recently updated first.
// Corrupted files are skipped and logged.
func (s *FileStore) FetchAllChats(ctx context.Context) ([]*model.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindConnection, "fetch chats", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*model.Chat{}, nil
		}
		return nil, newError(KindQuery, "fetch chats", err)
	}

	chats := make([]*model.Chat, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		chat, err := s.read(id)
		if err != nil {
			s.logger.Warn("skipping unreadable chat file", "file", entry.Name(), "error", err)
			continue
		}
		chats = append(chats, chat)
	}

	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// DeleteChat removes the chat document. Messages live inside it, so they
// go with it. Deleting a missing chat is not an error.
func (s *FileStore) DeleteChat(ctx context.Context, chat *model.Chat) error {
	if err := ctx.Err(); err != nil {
		return newError(KindConnection, "delete chat", err)
	}
	path, err := s.filePath(chat.ID)
	if err != nil {
		return newError(KindDelete, "delete chat", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return newError(KindDelete, "delete chat", err)
	}
	s.logger.Debug("chat deleted", "chat_id", chat.ID)
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// filePath returns the file path for a chat ID. IDs that could escape
// BaseDir are rejected.
func (s *FileStore) filePath(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.BaseDir, id+".json"), nil
}

func (s *FileStore) read(id string) (*model.Chat, error) {
	path, err := s.filePath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var chat model.Chat
	if err := json.Unmarshal(data, &chat); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	if chat.Messages == nil {
		chat.Messages = make([]*model.Message, 0)
	}
	return &chat, nil
}

func (s *FileStore) write(chat *model.Chat) error {
	path, err := s.filePath(chat.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(chat, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(path, data, 0600)
}
