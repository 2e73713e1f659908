// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/deepchat/internal/conversation"
	"github.com/jeranaias/deepchat/internal/model"
)

// progressInterval bounds how often the reasoning progress line is redrawn.
const progressInterval = 100 * time.Millisecond

// turnRenderer writes a streaming reply as it grows. Content is written
// incrementally. While only reasoning has arrived, a terminal gets a
// "thinking" progress line that is redrawn at most every progressInterval.
type turnRenderer struct {
	out           io.Writer
	tty           bool
	showReasoning bool
	limiter       *rate.Limiter

	written      int  // bytes of reply content already written
	progress     bool // progress line currently on screen
	reasoningOut bool // full reasoning already written
}

func newTurnRenderer(out io.Writer, tty, showReasoning bool) *turnRenderer {
	return &turnRenderer{
		out:           out,
		tty:           tty,
		showReasoning: showReasoning,
		limiter:       rate.NewLimiter(rate.Every(progressInterval), 1),
	}
}

// Update renders the reply's new state. It is the conversation update callback.
func (r *turnRenderer) Update(t *conversation.Turn) {
	reply := t.Reply
	if reply == nil {
		return
	}

	if len(reply.Content) > r.written {
		r.clearProgress()
		if r.written == 0 {
			r.writeReasoning(reply)
		}
		io.WriteString(r.out, reply.Content[r.written:])
		r.written = len(reply.Content)
		return
	}

	if r.written == 0 && r.tty && reply.HasReasoning() && r.limiter.Allow() {
		clearLine(r.out)
		fmt.Fprint(r.out, DimStyle.Render(fmt.Sprintf("thinking... %d chars", len([]rune(reply.Reasoning())))))
		r.progress = true
	}
}

// Finish ends the reply block and reports the outcome of the turn.
func (r *turnRenderer) Finish(t *conversation.Turn, err error) {
	r.clearProgress()
	if t != nil && t.Reply != nil && r.written == 0 {
		r.writeReasoning(t.Reply)
	}
	if r.written > 0 {
		io.WriteString(r.out, "\n")
	}
	if t == nil || t.Reply == nil {
		return
	}

	switch {
	case t.Canceled:
		fmt.Fprintln(r.out, WarningStyle.Render("[canceled]"))
	case t.Reply.Status == model.StatusFailed:
		fmt.Fprintln(r.out, ErrorStyle.Render("[failed]"))
	}
	if t.CommitErr != nil {
		fmt.Fprintln(r.out, WarningStyle.Render("[not saved]"))
	}
}

func (r *turnRenderer) writeReasoning(reply *model.Message) {
	if !r.showReasoning || r.reasoningOut || !reply.HasReasoning() {
		return
	}
	r.reasoningOut = true
	fmt.Fprintln(r.out, DimStyle.Render(strings.TrimSpace(reply.Reasoning())))
	fmt.Fprintln(r.out, RenderSeparator(20))
}

func (r *turnRenderer) clearProgress() {
	if r.progress {
		clearLine(r.out)
		r.progress = false
	}
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// renderMessage writes one stored message. Failed messages are marked and
// drawn in the error style.
func renderMessage(w io.Writer, msg *model.Message, showReasoning bool) {
	header := RenderRole(msg.Role)
	if status := RenderStatus(msg.Status); status != "" {
		header += " " + status
	}
	fmt.Fprintf(w, "%s %s\n", header, DimStyle.Render(msg.Timestamp.Local().Format("2006-01-02 15:04")))

	if showReasoning && msg.HasReasoning() {
		fmt.Fprintln(w, DimStyle.Render(strings.TrimSpace(msg.Reasoning())))
		fmt.Fprintln(w, RenderSeparator(20))
	}

	content := msg.Content
	if content == "" && msg.Status == model.StatusFailed {
		content = "(no content)"
	}
	if msg.Status == model.StatusFailed {
		content = ErrorStyle.Render(content)
	}
	fmt.Fprintln(w, content)
}

// renderTranscript writes every message of a chat.
func renderTranscript(w io.Writer, chat *model.Chat, showReasoning bool) {
	fmt.Fprintln(w, TitleStyle.Render(chat.Title))
	fmt.Fprintln(w, DimStyle.Render(fmt.Sprintf("%s  %d messages", chat.ID, chat.MessageCount())))
	for _, msg := range chat.Messages {
		fmt.Fprintln(w)
		renderMessage(w, msg, showReasoning)
	}
}
