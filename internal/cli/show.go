// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newShowCmd(a *app) *cobra.Command {
	var opts struct {
		reasoning bool
	}

	cmd := &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Print a chat transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine()
			if err != nil {
				return err
			}
			chat, err := a.resolveChat(cmd.Context(), engine, args[0])
			if err != nil {
				return err
			}
			renderTranscript(a.out, chat, opts.reasoning)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&opts.reasoning, "reasoning", "r", false, "include the reasoning of assistant replies")
	return cmd
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <chat-id> <title...>",
		Short: "Set the title of a chat",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine()
			if err != nil {
				return err
			}
			chat, err := a.resolveChat(cmd.Context(), engine, args[0])
			if err != nil {
				return err
			}
			if err := engine.RenameChat(cmd.Context(), chat, strings.Join(args[1:], " ")); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s %s\n", SuccessStyle.Render("Renamed:"), chat.Title)
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	var opts struct {
		yes bool
	}

	cmd := &cobra.Command{
		Use:     "delete <chat-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a chat and its messages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine()
			if err != nil {
				return err
			}
			chat, err := a.resolveChat(cmd.Context(), engine, args[0])
			if err != nil {
				return err
			}

			if !opts.yes {
				if !isTerminal(a.in) {
					return usageErrorf("refusing to delete without --yes when stdin is not a terminal")
				}
				fmt.Fprintf(a.out, "Delete %q (%d messages)? [y/N] ", chat.Title, chat.MessageCount())
				answer, _ := bufio.NewReader(a.in).ReadString('\n')
				if reply := strings.ToLower(strings.TrimSpace(answer)); reply != "y" && reply != "yes" {
					fmt.Fprintln(a.out, DimStyle.Render("Canceled."))
					return nil
				}
			}

			if err := engine.DeleteChat(cmd.Context(), chat); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s %s\n", SuccessStyle.Render("Deleted:"), chat.Title)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
