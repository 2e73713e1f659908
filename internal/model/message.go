// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// STATUS TYPE
// =============================================================================

// Status is the delivery state of a message.
type Status string

const (
	StatusSending   Status = "sending"
	StatusStreaming Status = "streaming"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSending, StatusStreaming, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Persistable reports whether a message in this status may be written to
// storage. Streaming is an in-memory state only.
func (s Status) Persistable() bool {
	return s.Valid() && s != StatusStreaming
}

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ParseStatus converts a stored status string. Unknown values map to
// StatusSuccess, matching how older rows without a status were read.
func ParseStatus(s string) Status {
	st := Status(s)
	if !st.Valid() {
		return StatusSuccess
	}
	return st
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Errors returned by Message.Validate.
var (
	ErrInvalidRole         = errors.New("invalid message role")
	ErrInvalidStatus       = errors.New("invalid message status")
	ErrReasoningNotAllowed = errors.New("only assistant messages may carry reasoning content")
	ErrTransientStatus     = errors.New("streaming messages cannot be persisted")
)

// Message is a single message in a chat.
type Message struct {
	ID               string    `json:"id"`
	Content          string    `json:"content"`
	ReasoningContent *string   `json:"reasoning_content,omitempty"`
	Role             Role      `json:"role"`
	Timestamp        time.Time `json:"timestamp"`
	Status           Status    `json:"status"`
}

// NewID returns a fresh opaque identifier for chats and messages.
func NewID() string {
	return uuid.NewString()
}

// NewUserMessage creates a user message in the sending state.
func NewUserMessage(content string, now time.Time) *Message {
	return &Message{
		ID:        NewID(),
		Content:   content,
		Role:      RoleUser,
		Timestamp: now,
		Status:    StatusSending,
	}
}

// NewAssistantPlaceholder creates the empty assistant message a reply streams into.
func NewAssistantPlaceholder(now time.Time) *Message {
	return &Message{
		ID:        NewID(),
		Role:      RoleAssistant,
		Timestamp: now,
		Status:    StatusStreaming,
	}
}

// Reasoning returns the reasoning text, or "" when there is none.
func (m *Message) Reasoning() string {
	if m.ReasoningContent == nil {
		return ""
	}
	return *m.ReasoningContent
}

// HasReasoning reports whether the message carries non-empty reasoning.
func (m *Message) HasReasoning() bool {
	return m.ReasoningContent != nil && *m.ReasoningContent != ""
}

// SetReasoning replaces the reasoning text. An empty string clears it.
func (m *Message) SetReasoning(reasoning string) {
	if reasoning == "" {
		m.ReasoningContent = nil
		return
	}
	m.ReasoningContent = &reasoning
}

// Validate checks the structural invariants of a message.
func (m *Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, m.Role)
	}
	if !m.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, m.Status)
	}
	if m.ReasoningContent != nil && m.Role != RoleAssistant {
		return ErrReasoningNotAllowed
	}
	return nil
}

// ValidateForStorage is Validate plus the rule that streaming messages are
// never persisted.
func (m *Message) ValidateForStorage() error {
	if err := m.Validate(); err != nil {
		return err
	}
	if !m.Status.Persistable() {
		return ErrTransientStatus
	}
	return nil
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	if m.ReasoningContent != nil {
		r := *m.ReasoningContent
		c.ReasoningContent = &r
	}
	return &c
}
