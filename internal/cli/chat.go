// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/deepchat/internal/config"
	"github.com/jeranaias/deepchat/internal/conversation"
	"github.com/jeranaias/deepchat/internal/model"
)

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads REPL input.
type lineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// linerReader provides history and line editing on a terminal.
type linerReader struct {
	line        *liner.State
	historyFile string
}

func newLinerReader() *linerReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &linerReader{line: line}
	if dir, err := config.ConfigDir(); err == nil {
		r.historyFile = filepath.Join(dir, "chat_history")
		if f, err := os.Open(r.historyFile); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	return r
}

func (r *linerReader) ReadLine(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", io.EOF
		}
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (r *linerReader) Close() error {
	if r.historyFile != "" {
		if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
			if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
				r.line.WriteHistory(f)
				f.Close()
			}
		}
	}
	return r.line.Close()
}

// scanReader reads piped input one line at a time, without prompts.
type scanReader struct {
	scanner *bufio.Scanner
}

func newScanReader(in io.Reader) *scanReader {
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	return &scanReader{scanner: s}
}

func (r *scanReader) ReadLine(string) (string, error) {
	if r.scanner.Scan() {
		return r.scanner.Text(), nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (r *scanReader) Close() error { return nil }

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// parseSlash splits "/cmd rest" into its lowercased name and argument.
// ok is false for input that is not a slash command.
func parseSlash(input string) (name, arg string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") || len(input) == 1 {
		return "", "", false
	}
	name, arg, _ = strings.Cut(input[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

const chatHelp = `Commands:
  /think [on|off]   toggle the reasoner model for the next messages
  /new              start a new chat
  /title <text>     rename this chat
  /history          print this chat again
  /retry            save the last reply again after a storage error
  /help             show this help
  /quit             leave (Ctrl+D also works)
Ctrl+C while a reply streams stops it and keeps what arrived.`

// =============================================================================
// SESSION
// =============================================================================

// chatSession is one interactive REPL.
type chatSession struct {
	app           *app
	engine        *conversation.Engine
	chat          *model.Chat
	think         bool
	showReasoning bool
	tty           bool
	lastTurn      *conversation.Turn
	logger        *slog.Logger
}

func newChatCmd(a *app) *cobra.Command {
	var opts struct {
		think         bool
		chatID        string
		showReasoning bool
	}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.openEngine()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			s := &chatSession{
				app:           a,
				engine:        engine,
				think:         opts.think,
				showReasoning: opts.showReasoning,
				tty:           isTerminal(a.in) && isTerminal(a.out),
				logger:        a.logger,
			}
			if opts.chatID != "" {
				if s.chat, err = a.resolveChat(ctx, engine, opts.chatID); err != nil {
					return err
				}
			} else {
				s.chat = engine.NewChat()
			}

			// Pick up edits to the config file, e.g. a new key, between turns.
			watchCtx, stopWatch := context.WithCancel(ctx)
			defer stopWatch()
			if err := a.store.Watch(watchCtx); err != nil {
				a.logger.Debug("config watch unavailable", "error", err)
			}

			var reader lineReader
			if s.tty {
				reader = newLinerReader()
			} else {
				reader = newScanReader(a.in)
			}
			defer reader.Close()

			return s.run(ctx, reader)
		},
	}

	cmd.Flags().BoolVarP(&opts.think, "think", "t", false, "start with the reasoner model")
	cmd.Flags().StringVarP(&opts.chatID, "chat", "c", "", "resume the chat with this ID or ID prefix")
	cmd.Flags().BoolVarP(&opts.showReasoning, "show-reasoning", "r", false, "print reasoning before each answer")
	return cmd
}

func (s *chatSession) run(ctx context.Context, reader lineReader) error {
	out := s.app.out
	if s.tty {
		fmt.Fprintln(out, TitleStyle.Render("deepchat")+" "+DimStyle.Render("/help for commands"))
		if !s.chat.IsEmpty() {
			renderTranscript(out, s.chat, s.showReasoning)
			fmt.Fprintln(out)
		}
	}

	for {
		input, err := reader.ReadLine(s.prompt())
		if err != nil {
			if errors.Is(err, io.EOF) {
				if s.tty {
					fmt.Fprintln(out)
				}
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if name, arg, ok := parseSlash(input); ok {
			quit, err := s.handleSlash(ctx, name, arg)
			if err != nil {
				DisplayError(s.app.errOut, err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := s.send(ctx, input); err != nil {
			DisplayError(s.app.errOut, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *chatSession) prompt() string {
	if !s.tty {
		return ""
	}
	if s.think {
		return PromptStyle.Render("think> ")
	}
	return PromptStyle.Render("you> ")
}

// send runs one turn. Ctrl+C during the turn cancels only the turn.
func (s *chatSession) send(ctx context.Context, input string) error {
	onInterrupt, stop := cancelOnInterrupt()
	defer stop()

	renderer := newTurnRenderer(s.app.out, s.tty, s.showReasoning)
	turn, err := s.engine.Send(ctx, s.chat, input,
		conversation.WithDeepThinking(s.think),
		conversation.WithUpdate(renderer.Update),
		onInterrupt,
	)
	renderer.Finish(turn, err)
	if turn != nil {
		s.lastTurn = turn
		stats := turn.Stats()
		s.logger.Debug("turn complete",
			"chat_id", s.chat.ID,
			"state", turn.State(),
			"succeeded", turn.Succeeded(),
			"first_token", stats.FirstToken,
			"snapshots", stats.Snapshots,
		)
	}
	return err
}

// cancelOnInterrupt returns a send option that cancels the turn on Ctrl+C
// and a stop func that releases the signal handler.
func cancelOnInterrupt() (conversation.SendOption, func()) {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	done := make(chan struct{})

	opt := conversation.WithStart(func(t *conversation.Turn) {
		go func() {
			select {
			case <-interrupts:
				t.Cancel()
			case <-done:
			}
		}()
	})
	return opt, func() {
		signal.Stop(interrupts)
		close(done)
	}
}

// handleSlash runs a slash command and reports whether to leave the REPL.
func (s *chatSession) handleSlash(ctx context.Context, name, arg string) (bool, error) {
	out := s.app.out
	switch name {
	case "quit", "exit", "q":
		return true, nil

	case "help", "?":
		fmt.Fprintln(out, chatHelp)

	case "think":
		switch strings.ToLower(arg) {
		case "":
			s.think = !s.think
		case "on":
			s.think = true
		case "off":
			s.think = false
		default:
			return false, usageErrorf("usage: /think [on|off]")
		}
		state := "off"
		if s.think {
			state = "on"
		}
		fmt.Fprintln(out, DimStyle.Render("deep thinking "+state))

	case "new":
		s.chat = s.engine.NewChat()
		s.lastTurn = nil
		fmt.Fprintln(out, DimStyle.Render("new chat"))

	case "title":
		if s.chat.IsEmpty() {
			return false, usageErrorf("send a message before renaming the chat")
		}
		if err := s.engine.RenameChat(ctx, s.chat, arg); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "%s %s\n", SuccessStyle.Render("Renamed:"), s.chat.Title)

	case "history":
		renderTranscript(out, s.chat, s.showReasoning)

	case "retry":
		if s.lastTurn == nil || s.lastTurn.CommitErr == nil {
			fmt.Fprintln(out, DimStyle.Render("nothing to save"))
			return false, nil
		}
		if err := s.engine.RetryCommit(ctx, s.lastTurn); err != nil {
			return false, err
		}
		fmt.Fprintln(out, SuccessStyle.Render("Saved."))

	default:
		return false, usageErrorf("unknown command /%s (try /help)", name)
	}
	return false, nil
}
