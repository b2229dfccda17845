// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"

	"github.com/jeranaias/gptchat/internal/api"
	"github.com/jeranaias/gptchat/internal/auth"
	"github.com/jeranaias/gptchat/internal/config"
	"github.com/jeranaias/gptchat/internal/session"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
)

// configError marks failures while loading configuration.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// usageError marks bad arguments.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func newUsageError(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		ce  *configError
		ue  *usageError
		ve  *auth.ValidationError
		ne  *api.NetworkError
		cve config.ValidateErrors
	)
	switch {
	case errors.As(err, &ce), errors.As(err, &cve):
		return ExitConfigError
	case errors.As(err, &ue), errors.As(err, &ve):
		return ExitUsageError
	case errors.Is(err, session.ErrUnauthenticated), api.IsUnauthorized(err):
		return ExitAuthError
	case errors.As(err, &ne):
		return ExitNetworkError
	case errors.Is(err, session.ErrUnknownConversation), api.IsNotFound(err):
		return ExitNotFoundError
	default:
		return ExitGeneralError
	}
}

// userMessage renders err for the terminal. Remote and network failures
// use the same wording as the chat view; everything else is shown as is.
func userMessage(err error) string {
	var (
		re *api.RemoteError
		ne *api.NetworkError
	)
	switch {
	case errors.As(err, &re), errors.As(err, &ne):
		return api.UserMessage(err)
	case errors.Is(err, session.ErrUnauthenticated):
		return "Not logged in. Run 'gptchat login' first."
	default:
		return err.Error()
	}
}
