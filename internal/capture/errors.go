package capture

import (
	"context"
	"errors"
	"strings"
)

// Code classifies a capture failure. The API layer maps codes onto
// HTTP statuses.
type Code string

const (
	CodeInvalidRequest     Code = "invalid_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeTooManyRequests    Code = "too_many_requests"
	CodeTimeout            Code = "timeout"
	CodeBrowserUnavailable Code = "browser_unavailable"
	CodeUpstreamError      Code = "upstream_error"
	CodeInternal           Code = "internal_error"
)

// Error is a classified capture failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds a classified error wrapping cause.
func newError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// Error text Chrome produces when the process or a session died under
// us. Matching is case-insensitive on substrings because the text
// arrives from several layers with different framing.
var closedMarkers = []string{
	"target closed",
	"browser closed",
	"session closed",
	"target crashed",
	"websocket: close",
	"context canceled: chrome failed",
	"connection reset",
}

// isClosed reports whether err indicates the browser or the capture's
// target is gone, meaning the shared browser must be relaunched.
func isClosed(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, m := range closedMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// classify turns an error from the browser pipeline into a coded
// Error. Deadline errors become timeouts, dead-browser errors become
// browser_unavailable, anything else is an upstream failure.
func classify(err error, message string) *Error {
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newError(CodeTimeout, message+" timed out", err)
	case isClosed(err):
		return newError(CodeBrowserUnavailable, "browser connection lost", err)
	default:
		return newError(CodeUpstreamError, message+" failed", err)
	}
}
