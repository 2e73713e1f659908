// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/deepchat/internal/cloud"
	"github.com/jeranaias/deepchat/internal/config"
	"github.com/jeranaias/deepchat/internal/conversation"
	"github.com/jeranaias/deepchat/internal/logging"
	"github.com/jeranaias/deepchat/internal/model"
	"github.com/jeranaias/deepchat/internal/storage"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// APPLICATION
// =============================================================================

// app holds what the commands share. Storage and the engine are opened on
// first use so config commands work without a database.
type app struct {
	configPath string
	noColor    bool
	logLevel   string

	in     io.Reader
	out    io.Writer
	errOut io.Writer
	now    func() time.Time

	store   *config.Store
	logger  *slog.Logger
	gateway storage.Gateway
	engine  *conversation.Engine
	closers []io.Closer
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: in, out: out, errOut: errOut, now: time.Now}
}

// setup loads the configuration and logging. It runs before every command.
func (a *app) setup() error {
	path := a.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	file, err := config.LoadFileFromPath(path)
	if err != nil {
		return err
	}
	cfg, err := config.Resolve(file)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	logger, closer, err := logging.Setup(cfg.Log.Options())
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closer)
	a.logger = logger
	a.store = config.NewStore(path, file, logger)

	applyColorProfile(a.noColor)
	logger.Debug("configuration loaded", "path", path, "storage", cfg.Storage.Driver)
	return nil
}

// openEngine opens the chat store and builds the engine.
func (a *app) openEngine() (*conversation.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}

	cfg := a.store.Config()
	path, err := cfg.StoragePath()
	if err != nil {
		return nil, err
	}
	gw, err := storage.Open(cfg.Storage.Driver, path, a.logger)
	if err != nil {
		return nil, err
	}
	a.gateway = gw
	a.closers = append(a.closers, gw)

	client := cloud.NewClient(
		cloud.WithTimeout(cfg.API.Timeout()),
		cloud.WithIdleTimeout(cfg.API.IdleTimeout()),
		cloud.WithSampling(samplingFrom(cfg.Sampling)),
		cloud.WithUserAgent("deepchat/"+Version),
		cloud.WithLogger(a.logger),
	)
	a.engine = conversation.NewEngine(a.store, gw, conversation.ClientOpener{Client: client},
		conversation.WithLogger(a.logger),
		conversation.WithClock(a.now),
	)
	return a.engine, nil
}

func samplingFrom(s config.SamplingConfig) cloud.Sampling {
	return cloud.Sampling{
		Temperature:      s.Temperature,
		MaxTokens:        s.MaxTokens,
		TopP:             s.TopP,
		FrequencyPenalty: s.FrequencyPenalty,
		PresencePenalty:  s.PresencePenalty,
	}
}

// close releases everything opened by setup and openEngine, last first.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.logger != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// resolveChat finds a chat by ID or unique ID prefix.
func (a *app) resolveChat(ctx context.Context, engine *conversation.Engine, ref string) (*model.Chat, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, usageErrorf("chat ID is required")
	}
	chat, err := engine.LoadChat(ctx, ref)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	chats, err := engine.ListChats(ctx)
	if err != nil {
		return nil, err
	}
	var match *model.Chat
	for _, c := range chats {
		if !strings.HasPrefix(c.ID, ref) {
			continue
		}
		if match != nil {
			return nil, usageErrorf("chat ID prefix %q is ambiguous", ref)
		}
		match = c
	}
	if match == nil {
		return nil, fmt.Errorf("chat %q: %w", ref, storage.ErrNotFound)
	}
	return match, nil
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "deepchat",
		Short:         "Streaming chat client for DeepSeek-compatible APIs",
		Long:          "deepchat talks to an OpenAI-compatible chat completions API, streams replies\n(including the reasoning channel) and keeps every conversation locally.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Message: err.Error()}
	})
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.deepchat/config.toml)")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	flags.StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		newChatCmd(a),
		newAskCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newRenameCmd(a),
		newDeleteCmd(a),
		newExportCmd(a),
		newConfigCmd(a),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	defer a.close()
	return run(ctx, a, args)
}

func run(ctx context.Context, a *app, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		DisplayError(a.errOut, err)
		return GetExitCode(err)
	}
	return ExitSuccess
}
