// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/deepagro/internal/advisor"
	"github.com/jeranaias/deepagro/internal/auth"
	"github.com/jeranaias/deepagro/internal/config"
	"github.com/jeranaias/deepagro/internal/storage"
	"github.com/jeranaias/deepagro/internal/stream"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitAuthError    = 4
	ExitNetworkError = 5
	ExitNotFound     = 7
	ExitTimeout      = 8
	// ExitRateLimited is returned when the backend throttles or the quota is spent
	ExitRateLimited = 9
)

// ErrNotSignedIn is returned by commands that need a local session.
var ErrNotSignedIn = errors.New("not signed in; run 'deepagro user login'")

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // e.g. "history"
	Action  string // e.g. "clear"
	Err     error
}

func (e *CommandError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewCommandError wraps err with the command that produced it. A nil err
// stays nil.
func NewCommandError(command, action string, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Command: command, Action: action, Err: err}
}

// usageError marks argument problems so they exit with ExitUsageError.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	var (
		usage  *usageError
		cfg    config.ValidateErrors
		cfgOne config.ValidationError
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &usage), errors.Is(err, advisor.ErrInvalidInput):
		return ExitUsageError
	case errors.As(err, &cfg), errors.As(err, &cfgOne):
		return ExitConfigError
	case errors.Is(err, ErrNotSignedIn),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidSession),
		errors.Is(err, auth.ErrInvalidCode),
		errors.Is(err, auth.ErrMFARequired),
		errors.Is(err, auth.ErrLocked):
		return ExitAuthError
	case errors.Is(err, storage.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, stream.ErrRateLimited), errors.Is(err, stream.ErrQuotaExceeded):
		return ExitRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeout
	case errors.Is(err, stream.ErrRequestFailed):
		return ExitNetworkError
	default:
		return ExitGeneralError
	}
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// DisplayError prints err to w, as a JSON envelope in JSON mode.
func DisplayError(w io.Writer, command string, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		_ = NewJSONErrorResponse(command, err).Write(w)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}
