// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/deepchat/internal/cloud"
	"github.com/jeranaias/deepchat/internal/config"
	"github.com/jeranaias/deepchat/internal/logging"
	"github.com/jeranaias/deepchat/internal/model"
	"github.com/jeranaias/deepchat/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidConfiguration is returned before anything else when the
	// request settings are incomplete. It is joined with the
	// config.ValidateErrors naming the missing fields.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrTurnInProgress is returned when the chat already has an open turn.
	ErrTurnInProgress = errors.New("a reply is already in progress for this chat")

	// ErrUserPersist means the user's message could not be saved; no
	// request was made.
	ErrUserPersist = errors.New("failed to save message")

	// ErrCommitFailed means the final state of the turn could not be saved.
	// The turn is complete in memory and RetryCommit can repeat the writes.
	ErrCommitFailed = errors.New("failed to save reply")

	// ErrEmptyMessage is returned for a message with no visible text.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrEmptyTitle is returned when renaming a chat to blank.
	ErrEmptyTitle = errors.New("title is empty")
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// SettingsProvider supplies the request settings. It is read once per turn.
type SettingsProvider interface {
	Settings() config.Settings
}

// StaticSettings is a SettingsProvider that never changes.
type StaticSettings config.Settings

// Settings returns s.
func (s StaticSettings) Settings() config.Settings {
	return config.Settings(s)
}

// Stream is the consumer side of a completion stream.
type Stream interface {
	Next() bool
	Current() cloud.Snapshot
	Err() error
	Cancel()
}

// Opener starts completion streams.
type Opener interface {
	Open(ctx context.Context, req cloud.Request) (Stream, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, req cloud.Request) (Stream, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, req cloud.Request) (Stream, error) {
	return f(ctx, req)
}

// ClientOpener opens streams with a cloud.Client.
type ClientOpener struct {
	Client *cloud.Client
}

// Open starts a stream on the wrapped client.
func (o ClientOpener) Open(ctx context.Context, req cloud.Request) (Stream, error) {
	s, err := o.Client.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs turns against a gateway and a stream opener.
type Engine struct {
	settings SettingsProvider
	store    storage.Gateway
	opener   Opener
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	open map[string]*Turn
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = logging.WithComponent(l, "conversation") }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. All three collaborators are required.
func NewEngine(settings SettingsProvider, store storage.Gateway, opener Opener, opts ...Option) *Engine {
	e := &Engine{
		settings: settings,
		store:    store,
		opener:   opener,
		logger:   logging.WithComponent(nil, "conversation"),
		now:      time.Now,
		open:     make(map[string]*Turn),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SendOption configures a single turn.
type SendOption func(*sendOptions)

type sendOptions struct {
	deepThinking bool
	onUpdate     func(*Turn)
	onStart      func(*Turn)
}

// WithDeepThinking sends the turn to the reasoner model.
func WithDeepThinking(enabled bool) SendOption {
	return func(o *sendOptions) { o.deepThinking = enabled }
}

// WithUpdate registers a callback invoked after every applied snapshot, on
// the goroutine running Send.
func WithUpdate(fn func(*Turn)) SendOption {
	return func(o *sendOptions) { o.onUpdate = fn }
}

// WithStart registers a callback invoked once the turn exists, before the
// user message is persisted. Callers use it to obtain the Turn for Cancel.
func WithStart(fn func(*Turn)) SendOption {
	return func(o *sendOptions) { o.onStart = fn }
}

// =============================================================================
// SEND
// =============================================================================

// Send runs one turn on chat: it appends and persists the user message,
// streams the reply into an assistant placeholder, and commits the final
// state. It blocks until the turn is terminal.
//
// The returned Turn is non-nil whenever a turn was started, including on
// error. Canceling ctx cancels the stream; the reply keeps what arrived
// and is still committed. A ctx deadline is a transport failure: the reply
// is committed as failed and the error is returned.
func (e *Engine) Send(ctx context.Context, chat *model.Chat, content string, opts ...SendOption) (*Turn, error) {
	settings := e.settings.Settings()
	if err := settings.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfiguration, err)
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	turn := &Turn{Chat: chat, Model: settings.ChatModel}
	if o.deepThinking {
		turn.Model = settings.ReasonerModel
	}
	if !e.begin(chat.ID, turn) {
		return nil, ErrTurnInProgress
	}
	defer e.end(chat.ID)
	if o.onStart != nil {
		o.onStart(turn)
	}

	log := logging.WithChat(e.logger, chat.ID)

	// Idle -> UserPersisting
	turn.setState(StateUserPersisting)
	history := historyOf(chat)
	now := e.now()
	if chat.IsEmpty() && (chat.Title == "" || chat.Title == model.DefaultTitle) {
		chat.Title = model.DeriveTitle(content)
	}
	user := model.NewUserMessage(content, now)
	chat.Append(user, now)
	turn.User = user

	if err := e.persistUser(ctx, chat, user); err != nil {
		user.Status = model.StatusFailed
		turn.setState(StateFailed)
		e.saveFailedUser(ctx, chat, user, log)
		log.Warn("user message not persisted", "error", err)
		return turn, fmt.Errorf("%w: %w", ErrUserPersist, err)
	}

	// UserPersisting -> AwaitingFirstToken
	reply := model.NewAssistantPlaceholder(e.now())
	chat.Append(reply, reply.Timestamp)
	turn.Reply = reply
	turn.startedAt = e.now()
	turn.setState(StateAwaitingFirstToken)

	req := cloud.Request{
		Endpoint: settings.APIEndpoint,
		APIKey:   settings.APIKey,
		Model:    turn.Model,
		Messages: append(history, cloud.ChatMessage{Role: string(model.RoleUser), Content: content}),
	}
	log.Debug("turn started", "model", turn.Model, "history", len(req.Messages))

	stream, err := e.opener.Open(ctx, req)
	if err != nil {
		return turn, e.finalize(ctx, turn, err)
	}
	turn.attach(stream)

	for stream.Next() {
		snap := stream.Current()
		if turn.State() == StateAwaitingFirstToken {
			turn.setState(StateStreaming)
		}
		reply.Content += snap.ContentDelta
		if snap.HasReasoning {
			reply.SetReasoning(snap.Reasoning)
		}
		turn.recordSnapshot(e.now())
		if o.onUpdate != nil {
			o.onUpdate(turn)
		}
	}

	return turn, e.finalize(ctx, turn, stream.Err())
}

// persistUser saves the chat (creating it on the first turn) and then the
// user message with its success status.
func (e *Engine) persistUser(ctx context.Context, chat *model.Chat, user *model.Message) error {
	if err := e.store.SaveChat(ctx, chat); err != nil {
		return err
	}
	user.Status = model.StatusSuccess
	if err := e.store.SaveMessage(ctx, user, chat.ID); err != nil {
		user.Status = model.StatusSending
		return err
	}
	return nil
}

// saveFailedUser records the failed status when the chat row exists. It is
// best effort: the store has just failed once.
func (e *Engine) saveFailedUser(ctx context.Context, chat *model.Chat, user *model.Message, log *slog.Logger) {
	if err := e.store.SaveMessage(context.WithoutCancel(ctx), user, chat.ID); err != nil {
		log.Debug("failed status not recorded", "message_id", user.ID, "error", err)
	}
}

// finalize applies the terminal signal to the reply and commits it. It runs
// once per turn.
func (e *Engine) finalize(ctx context.Context, turn *Turn, streamErr error) error {
	turn.mu.Lock()
	if turn.finalized {
		turn.mu.Unlock()
		return nil
	}
	turn.finalized = true
	turn.stream = nil
	turn.mu.Unlock()

	turn.setState(StateFinalizing)
	reply := turn.Reply
	log := logging.WithChat(e.logger, turn.Chat.ID)

	var outcome error
	switch {
	case streamErr == nil:
		reply.Status = model.StatusSuccess
	case errors.Is(streamErr, cloud.ErrStreamCanceled):
		turn.Canceled = true
		if reply.Content != "" {
			reply.Status = model.StatusSuccess
		} else {
			reply.Status = model.StatusFailed
		}
	default:
		turn.StreamErr = streamErr
		reply.Status = model.StatusFailed
		outcome = fmt.Errorf("reply failed: %w", streamErr)
		log.Warn("stream failed", "error", streamErr, "partial_len", len(reply.Content))
	}
	if reply.Reasoning() == "" {
		reply.ReasoningContent = nil
	}

	if reply.Status == model.StatusSuccess {
		turn.setState(StateCommitted)
	} else {
		turn.setState(StateFailed)
	}

	if err := e.commit(ctx, turn); err != nil {
		return errors.Join(outcome, err)
	}
	log.Debug("turn finished",
		"state", turn.State(),
		"canceled", turn.Canceled,
		"content_len", len(reply.Content),
		"reasoning", reply.HasReasoning(),
	)
	return outcome
}

// commit writes the reply and bumps the chat. Writes ignore cancellation of
// ctx so a canceled turn still keeps its partial reply.
func (e *Engine) commit(ctx context.Context, turn *Turn) error {
	wctx := context.WithoutCancel(ctx)
	turn.Chat.Touch(e.now())

	err := e.store.SaveMessage(wctx, turn.Reply, turn.Chat.ID)
	if err == nil {
		err = e.store.SaveChat(wctx, turn.Chat)
	}
	if err != nil {
		turn.CommitErr = err
		logging.WithChat(e.logger, turn.Chat.ID).Error("reply not persisted", "message_id", turn.Reply.ID, "error", err)
		return fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	turn.CommitErr = nil
	return nil
}

// RetryCommit repeats the final writes of a turn whose commit failed. The
// in-memory reply is not changed. A turn without a pending commit error is
// left alone.
func (e *Engine) RetryCommit(ctx context.Context, turn *Turn) error {
	if turn == nil || turn.Reply == nil || turn.CommitErr == nil {
		return nil
	}
	return e.commit(ctx, turn)
}

// =============================================================================
// TURN LOCK
// =============================================================================

func (e *Engine) begin(chatID string, turn *Turn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.open[chatID]; busy {
		return false
	}
	e.open[chatID] = turn
	return true
}

func (e *Engine) end(chatID string) {
	e.mu.Lock()
	delete(e.open, chatID)
	e.mu.Unlock()
}

// ActiveTurn returns the open turn of a chat, or nil.
func (e *Engine) ActiveTurn(chatID string) *Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open[chatID]
}

// historyOf returns the prior successful messages with content, in order.
func historyOf(chat *model.Chat) []cloud.ChatMessage {
	history := make([]cloud.ChatMessage, 0, len(chat.Messages)+1)
	for _, m := range chat.Messages {
		if m.Status != model.StatusSuccess || m.Content == "" {
			continue
		}
		history = append(history, cloud.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return history
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// NewChat returns an empty chat. It is stored on its first turn.
func (e *Engine) NewChat() *model.Chat {
	return model.NewChat(e.now())
}

// LoadChat reads a chat with its messages.
func (e *Engine) LoadChat(ctx context.Context, id string) (*model.Chat, error) {
	return e.store.GetChat(ctx, id)
}

// ListChats returns every chat, most recently updated first.
func (e *Engine) ListChats(ctx context.Context) ([]*model.Chat, error) {
	return e.store.FetchAllChats(ctx)
}

// DeleteChat removes a chat and its messages. A chat with an open turn
// cannot be deleted.
func (e *Engine) DeleteChat(ctx context.Context, chat *model.Chat) error {
	if e.ActiveTurn(chat.ID) != nil {
		return ErrTurnInProgress
	}
	if err := e.store.DeleteChat(ctx, chat); err != nil {
		return err
	}
	e.logger.Info("chat deleted", "chat_id", chat.ID)
	return nil
}

// RenameChat sets an explicit title. It bypasses title derivation and
// leaves the update time alone.
func (e *Engine) RenameChat(ctx context.Context, chat *model.Chat, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	if err := e.store.RenameChat(ctx, chat.ID, title); err != nil {
		return err
	}
	chat.Title = title
	return nil
}

// HasAssistantReply reports whether the chat holds a completed reply.
func (e *Engine) HasAssistantReply(chat *model.Chat) bool {
	return chat.HasAssistantReply()
}
