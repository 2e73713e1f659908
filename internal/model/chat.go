// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// TitleMaxRunes is how many characters of the first message become the title.
const TitleMaxRunes = 20

// DefaultTitle is the title of a chat before its first message.
const DefaultTitle = "New Chat"

// =============================================================================
// CHAT TYPE
// =============================================================================

// Chat is a titled, ordered transcript of messages.
type Chat struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Messages  []*Message `json:"messages"`
}

// NewChat creates an empty chat with a fresh ID.
func NewChat(now time.Time) *Chat {
	return &Chat{
		ID:        NewID(),
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
	}
}

// Touch advances UpdatedAt to now. It never moves the timestamp backwards.
func (c *Chat) Touch(now time.Time) {
	if now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
}

// Append adds a message and touches the chat.
func (c *Chat) Append(msg *Message, now time.Time) {
	c.Messages = append(c.Messages, msg)
	c.Touch(now)
}

// MessageCount returns the number of messages in the chat.
func (c *Chat) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty reports whether the chat has no messages.
func (c *Chat) IsEmpty() bool {
	return len(c.Messages) == 0
}

// HasAssistantReply reports whether any assistant message completed successfully.
func (c *Chat) HasAssistantReply() bool {
	for _, m := range c.Messages {
		if m.Role == RoleAssistant && m.Status == StatusSuccess {
			return true
		}
	}
	return false
}

// LastMessage returns the final message, or nil for an empty chat.
func (c *Chat) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// Clone returns a deep copy of the chat and its messages.
func (c *Chat) Clone() *Chat {
	out := *c
	out.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.Clone()
	}
	return &out
}

// =============================================================================
// TITLE DERIVATION
// =============================================================================

// DeriveTitle builds a chat title from the first user message: the first
// TitleMaxRunes characters, trimmed of surrounding whitespace. Input is
// NFC-normalized first so composed characters count once.
func DeriveTitle(content string) string {
	s := norm.NFC.String(content)
	if utf8.RuneCountInString(s) > TitleMaxRunes {
		s = string([]rune(s)[:TitleMaxRunes])
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultTitle
	}
	return s
}
