// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// GenericFailureMessage is shown when the server gives no detail.
const GenericFailureMessage = "Something went wrong. Please try again."

// ServerNotRespondingMessage is shown for transport failures.
const ServerNotRespondingMessage = "Server not responding. Please try again later."

// RemoteError is a non-2xx response.
type RemoteError struct {
	Status int
	// Detail is the server's "detail" field, verbatim. May be empty.
	Detail string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("server error (HTTP %d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("server error (HTTP %d)", e.Status)
}

// Message is the user-facing text: the detail when present, otherwise a
// generic fallback.
func (e *RemoteError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return GenericFailureMessage
}

// NetworkError means the endpoint could not be reached.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: server not responding: %v", e.Method, e.Path, e.Err)
}

// Unwrap returns the transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Status == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Status == http.StatusUnauthorized
}

// UserMessage renders err the way it should be shown to a person.
func UserMessage(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Message()
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ServerNotRespondingMessage
	}
	return GenericFailureMessage
}

// detailBody is the server's error envelope. FastAPI style validation
// errors put a list in "detail"; only string details are surfaced.
type detailBody struct {
	Detail json.RawMessage `json:"detail"`
}

func newRemoteError(status int, body []byte) *RemoteError {
	re := &RemoteError{Status: status}
	var env detailBody
	if err := json.Unmarshal(body, &env); err != nil || len(env.Detail) == 0 {
		return re
	}
	var detail string
	if err := json.Unmarshal(env.Detail, &detail); err == nil {
		re.Detail = strings.TrimSpace(detail)
	}
	return re
}
