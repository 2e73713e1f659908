// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"testing"
	"time"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short", "Hello", "Hello"},
		{"truncated and trimmed", "What is the capital of France, and why?", "What is the capital"},
		{"exactly twenty", "12345678901234567890", "12345678901234567890"},
		{"leading whitespace", "   hi there   ", "hi there"},
		{"only whitespace", "    ", DefaultTitle},
		{"empty", "", DefaultTitle},
		{"cjk", "这是一个非常长的中文标题用于测试截断功能是否正确", "这是一个非常长的中文标题用于测试截断功能"},
		{"decomposed accents", "éé", "éé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveTitle(tt.content); got != tt.want {
				t.Errorf("DeriveTitle(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestChatTouchMonotonic(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	chat := NewChat(start)

	chat.Touch(start.Add(time.Minute))
	if !chat.UpdatedAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("UpdatedAt = %v, want %v", chat.UpdatedAt, start.Add(time.Minute))
	}

	chat.Touch(start)
	if !chat.UpdatedAt.Equal(start.Add(time.Minute)) {
		t.Errorf("Touch moved UpdatedAt backwards to %v", chat.UpdatedAt)
	}
	if !chat.CreatedAt.Equal(start) {
		t.Errorf("CreatedAt changed to %v", chat.CreatedAt)
	}
}

func TestChatAppend(t *testing.T) {
	now := time.Now()
	chat := NewChat(now)
	if !chat.IsEmpty() || chat.Title != DefaultTitle {
		t.Fatalf("new chat: empty=%v title=%q", chat.IsEmpty(), chat.Title)
	}

	user := NewUserMessage("Hello", now)
	chat.Append(user, now.Add(time.Second))
	if chat.MessageCount() != 1 {
		t.Fatalf("MessageCount() = %d, want 1", chat.MessageCount())
	}
	if chat.LastMessage() != user {
		t.Error("LastMessage is not the appended message")
	}
}

func TestHasAssistantReply(t *testing.T) {
	now := time.Now()
	chat := NewChat(now)
	chat.Append(NewUserMessage("Hello", now), now)
	if chat.HasAssistantReply() {
		t.Error("chat with only a user message reports an assistant reply")
	}

	placeholder := NewAssistantPlaceholder(now)
	chat.Append(placeholder, now)
	placeholder.Content = "Hi"
	if chat.HasAssistantReply() {
		t.Error("streaming assistant placeholder counted as a reply")
	}

	placeholder.Status = StatusFailed
	if chat.HasAssistantReply() {
		t.Error("failed assistant message counted as a reply")
	}

	placeholder.Status = StatusSuccess
	if !chat.HasAssistantReply() {
		t.Error("successful assistant reply not detected")
	}
}

func TestMessageValidate(t *testing.T) {
	reasoning := "thinking"

	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{"user ok", Message{Role: RoleUser, Status: StatusSuccess}, nil},
		{"assistant with reasoning", Message{Role: RoleAssistant, Status: StatusSuccess, ReasoningContent: &reasoning}, nil},
		{"user with reasoning", Message{Role: RoleUser, Status: StatusSuccess, ReasoningContent: &reasoning}, ErrReasoningNotAllowed},
		{"bad role", Message{Role: "system", Status: StatusSuccess}, ErrInvalidRole},
		{"bad status", Message{Role: RoleUser, Status: "done"}, ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateForStorageRejectsStreaming(t *testing.T) {
	msg := NewAssistantPlaceholder(time.Now())
	if err := msg.ValidateForStorage(); !errors.Is(err, ErrTransientStatus) {
		t.Errorf("ValidateForStorage() = %v, want ErrTransientStatus", err)
	}
	msg.Status = StatusFailed
	if err := msg.ValidateForStorage(); err != nil {
		t.Errorf("ValidateForStorage() on failed message = %v", err)
	}
}

func TestStatusHelpers(t *testing.T) {
	if StatusStreaming.Persistable() {
		t.Error("streaming should not be persistable")
	}
	for _, s := range []Status{StatusSending, StatusSuccess, StatusFailed} {
		if !s.Persistable() {
			t.Errorf("%s should be persistable", s)
		}
	}
	if ParseStatus("bogus") != StatusSuccess {
		t.Error("unknown status should parse as success")
	}
	if ParseStatus("failed") != StatusFailed {
		t.Error("failed did not round-trip")
	}
}

func TestSetReasoning(t *testing.T) {
	msg := NewAssistantPlaceholder(time.Now())
	msg.SetReasoning("step one")
	if !msg.HasReasoning() || msg.Reasoning() != "step one" {
		t.Errorf("reasoning = %q", msg.Reasoning())
	}
	msg.SetReasoning("")
	if msg.ReasoningContent != nil {
		t.Error("empty reasoning should clear the pointer")
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	chat := NewChat(now)
	reply := NewAssistantPlaceholder(now)
	reply.SetReasoning("r")
	chat.Append(reply, now)

	clone := chat.Clone()
	clone.Messages[0].Content = "changed"
	*clone.Messages[0].ReasoningContent = "changed"

	if reply.Content != "" || reply.Reasoning() != "r" {
		t.Error("Clone shares message state with the original")
	}
}
