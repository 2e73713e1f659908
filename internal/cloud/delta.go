// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"encoding/json"
	"strings"
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is the result of decoding one frame.
type Snapshot struct {
	// ContentDelta is the answer text carried by this frame only.
	ContentDelta string
	// Reasoning is the cumulative reasoning text so far.
	Reasoning string
	// HasReasoning is set when this frame carried a reasoning_content field.
	HasReasoning bool
	// Thinking mirrors reasoning_flag when the frame carried one. It is
	// informational and never affects what is emitted.
	Thinking *bool
}

// =============================================================================
// DELTA DECODER
// =============================================================================

// streamChunk is the subset of a chat.completion.chunk we read. Delta is
// kept raw so a non-object delta can be discarded instead of failing the
// whole frame.
type streamChunk struct {
	Choices []struct {
		Delta json.RawMessage `json:"delta"`
	} `json:"choices"`
}

// deltaFields uses pointers so absent keys stay distinguishable from empty
// strings.
type deltaFields struct {
	Content          *string `json:"content"`
	ReasoningContent *string `json:"reasoning_content"`
	ReasoningFlag    *bool   `json:"reasoning_flag"`
}

// DeltaDecoder decodes frame payloads for one stream. It owns the running
// reasoning accumulator, so use a fresh decoder per stream.
type DeltaDecoder struct {
	reasoning strings.Builder
	thinking  *bool
}

// NewDeltaDecoder returns a decoder with an empty accumulator.
func NewDeltaDecoder() *DeltaDecoder {
	return &DeltaDecoder{}
}

// Decode parses one payload. ok is false when the payload is malformed,
// has no choices, has a non-object delta, or carries neither content nor
// reasoning_content. Such payloads leave the accumulator untouched.
func (d *DeltaDecoder) Decode(payload string) (snap Snapshot, ok bool) {
	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return Snapshot{}, false
	}
	if len(chunk.Choices) == 0 {
		return Snapshot{}, false
	}

	raw := bytes.TrimSpace(chunk.Choices[0].Delta)
	if len(raw) == 0 || raw[0] != '{' {
		return Snapshot{}, false
	}
	var delta deltaFields
	if err := json.Unmarshal(raw, &delta); err != nil {
		return Snapshot{}, false
	}

	if delta.ReasoningFlag != nil {
		flag := *delta.ReasoningFlag
		d.thinking = &flag
		snap.Thinking = &flag
	}
	if delta.Content == nil && delta.ReasoningContent == nil {
		return Snapshot{}, false
	}

	if delta.Content != nil {
		snap.ContentDelta = *delta.Content
	}
	if delta.ReasoningContent != nil {
		d.reasoning.WriteString(*delta.ReasoningContent)
		snap.HasReasoning = true
	}
	snap.Reasoning = d.reasoning.String()
	return snap, true
}

// Reasoning returns the reasoning accumulated so far.
func (d *DeltaDecoder) Reasoning() string {
	return d.reasoning.String()
}

// Thinking returns the last reasoning_flag seen, or nil if none was sent.
func (d *DeltaDecoder) Thinking() *bool {
	if d.thinking == nil {
		return nil
	}
	v := *d.thinking
	return &v
}
