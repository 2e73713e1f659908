// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/deepchat/internal/conversation"
	"github.com/jeranaias/deepchat/internal/model"
)

func newAskCmd(a *app) *cobra.Command {
	var opts struct {
		think         bool
		chatID        string
		showReasoning bool
	}

	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask a single question and print the streamed reply",
		Long: "Ask a single question. Without arguments the question is read from stdin.\n" +
			"The exchange is saved as a new chat unless --chat continues an existing one.",
		Example: "  deepchat ask \"What is the capital of France?\"\n" +
			"  git diff | deepchat ask --think\n" +
			"  deepchat ask --chat 3f2a \"And of Spain?\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				if isTerminal(a.in) {
					return usageErrorf("no question given")
				}
				data, err := io.ReadAll(a.in)
				if err != nil {
					return err
				}
				question = strings.TrimSpace(string(data))
			}
			if question == "" {
				return usageErrorf("no question given")
			}

			engine, err := a.openEngine()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			onInterrupt, stop := cancelOnInterrupt()
			defer stop()

			var chat *model.Chat
			if opts.chatID != "" {
				chat, err = a.resolveChat(ctx, engine, opts.chatID)
				if err != nil {
					return err
				}
			} else {
				chat = engine.NewChat()
			}

			renderer := newTurnRenderer(a.out, isTerminal(a.out), opts.showReasoning)
			turn, err := engine.Send(ctx, chat, question,
				conversation.WithDeepThinking(opts.think),
				conversation.WithUpdate(renderer.Update),
				onInterrupt,
			)
			renderer.Finish(turn, err)
			return err
		},
	}

	cmd.Flags().BoolVarP(&opts.think, "think", "t", false, "use the reasoner model")
	cmd.Flags().StringVarP(&opts.chatID, "chat", "c", "", "continue the chat with this ID or ID prefix")
	cmd.Flags().BoolVarP(&opts.showReasoning, "show-reasoning", "r", false, "print the reasoning before the answer")
	return cmd
}
