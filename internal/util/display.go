// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// =============================================================================
// COLUMN SHAPING
// =============================================================================

// TruncateWidth shortens s to at most width terminal columns, appending
// "..." when something was cut. Wide (CJK) characters count as two columns.
func TruncateWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

// PadWidth truncates s to width columns and pads it with spaces up to width.
func PadWidth(s string, width int) string {
	return runewidth.FillRight(TruncateWidth(s, width), width)
}

// SingleLine collapses newlines so that a message fits a list row.
func SingleLine(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\n", " ")), " ")
}

// =============================================================================
// RELATIVE TIME
// =============================================================================

// TimeAgo renders t relative to now the way the chat list shows it:
// "just now", "N minutes ago", "N hours ago", "N days ago", and a plain
// month-day date once the timestamp is older than a week.
func TimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}

	switch days := int(d / (24 * time.Hour)); {
	case days > 7:
		return t.Format("01-02")
	case days > 0:
		return plural(days, "day")
	}
	if hours := int(d / time.Hour); hours > 0 {
		return plural(hours, "hour")
	}
	if minutes := int(d / time.Minute); minutes > 0 {
		return plural(minutes, "minute")
	}
	if d > 30*time.Second {
		return "within a minute"
	}
	return "just now"
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
