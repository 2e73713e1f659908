// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/deepchat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports chats to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a chat to Markdown.
func (e *MarkdownExporter) Export(chat *model.Chat) ([]byte, error) {
	if chat == nil {
		return nil, fmt.Errorf("chat is nil")
	}
	if chat.IsEmpty() {
		return nil, ErrEmptyChat
	}
	if chat.CreatedAt.IsZero() {
		return nil, fmt.Errorf("chat has invalid creation timestamp")
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(chat.Title))
		fmt.Fprintf(&sb, "id: %s\n", chat.ID)
		fmt.Fprintf(&sb, "date: %s\n", chat.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "updated: %s\n", chat.UpdatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", chat.MessageCount())
		fmt.Fprintf(&sb, "exported: %s\n", e.options.now().Format(time.RFC3339))
		sb.WriteString("generator: deepchat\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(chat.Title))

	if e.options.IncludeMetadata {
		sb.WriteString("- **Created**: " + formatTimestamp(chat.CreatedAt) + "\n")
		sb.WriteString("- **Last Updated**: " + formatTimestamp(chat.UpdatedAt) + "\n")
		fmt.Fprintf(&sb, "- **Messages**: %d\n\n---\n\n", chat.MessageCount())
	}

	for i, msg := range chat.Messages {
		label := formatRoleLabel(msg.Role)
		if msg.Status == model.StatusFailed {
			label += " (failed)"
		}
		if e.options.IncludeTimestamps {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(msg.Timestamp))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		if e.options.IncludeReasoning && msg.HasReasoning() {
			sb.WriteString("<details>\n<summary>Reasoning</summary>\n\n")
			sb.WriteString(strings.TrimSpace(msg.Reasoning()))
			sb.WriteString("\n\n</details>\n\n")
		}

		content := strings.TrimSpace(msg.Content)
		if content == "" {
			content = "*(no content)*"
		}
		sb.WriteString(content)
		sb.WriteString("\n\n")

		if i < len(chat.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	fmt.Fprintf(&sb, "\n---\n\n*Exported from deepchat on %s*\n",
		e.options.now().Format("January 2, 2006 at 3:04 PM"))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

func formatRoleLabel(role model.Role) string {
	if role.Valid() {
		return role.DisplayName()
	}
	return "Unknown"
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer(
		"#", "\\#",
		"*", "\\*",
		"_", "\\_",
		"[", "\\[",
		"]", "\\]",
	)
	return r.Replace(s)
}

// escapeYAML quotes a front matter value when it holds special characters.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		r := strings.NewReplacer(
			"\\", "\\\\",
			"\"", "\\\"",
			"\n", "\\n",
			"\r", "\\r",
		)
		return "\"" + r.Replace(s) + "\""
	}
	return s
}
