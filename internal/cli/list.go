// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/deepchat/internal/model"
	"github.com/jeranaias/deepchat/internal/util"
)

const (
	idColumnWidth    = 8
	titleColumnWidth = 24
	agoColumnWidth   = 14
)

func newListCmd(a *app) *cobra.Command {
	var opts struct {
		limit int
	}

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List chats, most recently updated first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine()
			if err != nil {
				return err
			}
			chats, err := engine.ListChats(cmd.Context())
			if err != nil {
				return err
			}
			if opts.limit > 0 && len(chats) > opts.limit {
				chats = chats[:opts.limit]
			}
			writeChatList(a.out, chats, a.now(), GetTerminalWidth())
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "show at most n chats")
	return cmd
}

// writeChatList prints one row per chat: short ID, title, age and a preview
// of the last message, fitted to width columns.
func writeChatList(w io.Writer, chats []*model.Chat, now time.Time, width int) {
	if len(chats) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No chats yet. Start one with: deepchat chat"))
		return
	}

	previewWidth := width - idColumnWidth - titleColumnWidth - agoColumnWidth - 6
	for _, chat := range chats {
		id := chat.ID
		if len(id) > idColumnWidth {
			id = id[:idColumnWidth]
		}
		row := fmt.Sprintf("%s  %s  %s",
			DimStyle.Render(id),
			util.PadWidth(chat.Title, titleColumnWidth),
			DimStyle.Render(util.PadWidth(util.TimeAgo(chat.UpdatedAt, now), agoColumnWidth)),
		)
		if previewWidth > 10 {
			preview := util.TruncateWidth(util.SingleLine(lastContent(chat)), previewWidth)
			if last := chat.LastMessage(); last != nil && last.Status == model.StatusFailed {
				preview = ErrorStyle.Render(preview)
			}
			row += "  " + preview
		}
		fmt.Fprintln(w, row)
	}
}

func lastContent(chat *model.Chat) string {
	if last := chat.LastMessage(); last != nil {
		return last.Content
	}
	return ""
}
