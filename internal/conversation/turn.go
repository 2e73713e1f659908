// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/deepchat/internal/model"
)

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle position of a turn.
type State int32

const (
	StateIdle State = iota
	StateUserPersisting
	StateAwaitingFirstToken
	StateStreaming
	StateFinalizing
	StateCommitted
	StateFailed
)

var stateNames = [...]string{
	StateIdle:               "idle",
	StateUserPersisting:     "user_persisting",
	StateAwaitingFirstToken: "awaiting_first_token",
	StateStreaming:          "streaming",
	StateFinalizing:         "finalizing",
	StateCommitted:          "committed",
	StateFailed:             "failed",
}

// String returns the state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions happen.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// =============================================================================
// TURN
// =============================================================================

// Turn is one user message and the assistant reply it produced.
//
// Chat, User and Reply are mutated only by the goroutine running Send.
// State, Cancel and Stats are safe to call from anywhere.
type Turn struct {
	Chat  *model.Chat
	User  *model.Message
	Reply *model.Message // nil when the user message could not be persisted

	// Model is the model the request was sent to.
	Model string

	// Canceled is set when the stream was canceled before completing.
	Canceled bool

	// StreamErr holds the stream failure, if any.
	StreamErr error

	// CommitErr holds the last failed attempt to persist the final state.
	// RetryCommit clears it on success.
	CommitErr error

	state atomic.Int32

	mu         sync.Mutex
	stream     Stream
	cancelReq  bool
	startedAt  time.Time
	firstToken time.Duration
	snapshots  int
	finalized  bool
}

// State returns the current state.
func (t *Turn) State() State {
	return State(t.state.Load())
}

func (t *Turn) setState(s State) {
	t.state.Store(int32(s))
}

// Cancel stops the turn's stream. Content already received is kept. Calling
// Cancel before the stream opens cancels it as soon as it does.
func (t *Turn) Cancel() {
	t.mu.Lock()
	t.cancelReq = true
	s := t.stream
	t.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

// attach records the active stream, canceling it immediately when Cancel
// was already requested.
func (t *Turn) attach(s Stream) {
	t.mu.Lock()
	t.stream = s
	canceled := t.cancelReq
	t.mu.Unlock()
	if canceled {
		s.Cancel()
	}
}

// TurnStats summarizes a turn's stream.
type TurnStats struct {
	FirstToken time.Duration
	Snapshots  int
}

// Stats returns the time to first snapshot and the number applied.
func (t *Turn) Stats() TurnStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TurnStats{FirstToken: t.firstToken, Snapshots: t.snapshots}
}

func (t *Turn) recordSnapshot(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshots == 0 {
		t.firstToken = now.Sub(t.startedAt)
	}
	t.snapshots++
}

// Succeeded reports whether the reply committed with success status.
func (t *Turn) Succeeded() bool {
	return t.State() == StateCommitted && t.CommitErr == nil
}
