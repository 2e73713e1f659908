// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

// Kind classifies a storage failure.
type Kind int

const (
	KindConnection Kind = iota + 1
	KindQuery
	KindInsert
	KindUpdate
	KindDelete
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindQuery:
		return "query"
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrConnection = &Error{Kind: KindConnection}
	ErrQuery      = &Error{Kind: KindQuery}
	ErrInsert     = &Error{Kind: KindInsert}
	ErrUpdate     = &Error{Kind: KindUpdate}
	ErrDelete     = &Error{Kind: KindDelete}
)

// ErrNotFound is wrapped when a chat does not exist.
var ErrNotFound = errors.New("chat not found")

// ErrInvalidID is wrapped when an ID cannot be used as a key.
var ErrInvalidID = errors.New("invalid id")

// Error is a storage failure with its kind and the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("storage %s error: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("storage %s error: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("storage %s error: %s", e.Kind, e.Op)
	default:
		return fmt.Sprintf("storage %s error", e.Kind)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrInsert)
// holds for every insert failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
