// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jeranaias/deepchat/internal/cloud"
	"github.com/jeranaias/deepchat/internal/config"
	"github.com/jeranaias/deepchat/internal/conversation"
	"github.com/jeranaias/deepchat/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates a configuration problem
	ExitConfigError = 3
	// ExitAuthError indicates the API rejected the key
	ExitAuthError = 4
	// ExitNetworkError indicates a connection or stream failure
	ExitNetworkError = 5
	// ExitStorageError indicates the chat store failed
	ExitStorageError = 6
	// ExitNotFoundError indicates a chat was not found
	ExitNotFoundError = 7
)

// UsageError is returned for bad arguments.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

func usageErrorf(format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// GetExitCode maps an error to the process exit code.
func GetExitCode(err error) int {
	var usage *UsageError
	var netErr net.Error
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.Is(err, conversation.ErrInvalidConfiguration),
		errors.Is(err, cloud.ErrNotConfigured):
		return ExitConfigError
	case errors.As(err, new(config.ValidateErrors)):
		return ExitConfigError
	case errors.Is(err, cloud.ErrAuthFailed):
		return ExitAuthError
	case errors.Is(err, storage.ErrNotFound):
		return ExitNotFoundError
	case errors.Is(err, conversation.ErrUserPersist),
		errors.Is(err, conversation.ErrCommitFailed),
		errors.As(err, new(*storage.Error)):
		return ExitStorageError
	case errors.As(err, new(*cloud.StreamError)),
		errors.As(err, &netErr),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded):
		return ExitNetworkError
	default:
		return ExitGeneralError
	}
}

// hint returns a suggestion for fixing err, or "".
func hint(err error) string {
	switch {
	case errors.Is(err, conversation.ErrInvalidConfiguration):
		return "Set the missing values with: deepchat config set api.key <key>"
	case errors.Is(err, cloud.ErrAuthFailed):
		return "Check the API key with: deepchat config get api.key"
	case errors.Is(err, cloud.ErrInsufficientCredits):
		return "The account has no remaining balance."
	case errors.Is(err, cloud.ErrModelNotFound):
		return "Check api.chat_model and api.reasoner_model."
	case errors.Is(err, cloud.ErrRateLimited):
		return "Rate limited; wait a moment and try again."
	case errors.Is(err, cloud.ErrIdleTimeout), errors.Is(err, context.DeadlineExceeded):
		return "The server stopped responding; the partial reply was saved as failed."
	case errors.Is(err, conversation.ErrCommitFailed):
		return "The reply is shown but not saved. In chat, /retry saves it again."
	case errors.Is(err, storage.ErrNotFound):
		return "List chats with: deepchat list"
	}
	return ""
}

// DisplayError prints err and its hint.
func DisplayError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", ErrorStyle.Render("Error:"), err)
	if h := hint(err); h != "" {
		fmt.Fprintln(w, DimStyle.Render(h))
	}
}
