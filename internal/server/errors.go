package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/npezzotti/go-consult/internal/consultation"
)

type ErrorCode string

const (
	CodeAuth              ErrorCode = "AuthError"
	CodeForbidden         ErrorCode = "ForbiddenError"
	CodeRoomFull          ErrorCode = "RoomFullError"
	CodeValidation        ErrorCode = "ValidationError"
	CodeDependencyTimeout ErrorCode = "DependencyTimeout"
	CodeNotFound          ErrorCode = "NotFoundError"
	CodeRateLimited       ErrorCode = "RateLimited"
	CodeInternal          ErrorCode = "InternalError"
)

// Error is reported back to the originating client as an error message with
// a stable code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Err.Error())
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on code so callers can compare against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrAuth              = &Error{Code: CodeAuth, Message: "authentication required"}
	ErrForbidden         = &Error{Code: CodeForbidden, Message: "you cannot join this call"}
	ErrRoomFull          = &Error{Code: CodeRoomFull, Message: "call already has two participants"}
	ErrValidation        = &Error{Code: CodeValidation, Message: "invalid request"}
	ErrDependencyTimeout = &Error{Code: CodeDependencyTimeout, Message: "please try again"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrRateLimited       = &Error{Code: CodeRateLimited, Message: "too many messages"}
	ErrInternal          = &Error{Code: CodeInternal, Message: "internal server error"}
)

// errRoomClosed is returned when a request reaches a room whose actor has
// already exited. It never leaves the package.
var errRoomClosed = errors.New("room closed")

var errHubStopped = errors.New("hub stopped")

// errStaleConnection rejects requests from a connection that has been
// superseded or closed.
var errStaleConnection = &Error{Code: CodeAuth, Message: "you have connected elsewhere"}

func newError(base *Error, message string, err error) *Error {
	if message == "" {
		message = base.Message
	}
	return &Error{Code: base.Code, Message: message, Err: err}
}

func validationError(message string) *Error {
	return newError(ErrValidation, message, nil)
}

func notFoundError(message string) *Error {
	return newError(ErrNotFound, message, nil)
}

// dependencyError maps a failure of the records service. Anything other than
// an explicit not-found is treated as the service being unreachable.
func dependencyError(err error) *Error {
	if errors.Is(err, consultation.ErrNotFound) {
		return notFoundError("consultation not found")
	}

	return newError(ErrDependencyTimeout, "", err)
}

// storeError maps a persistence failure.
func storeError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(ErrDependencyTimeout, "", err)
	}

	return newError(ErrInternal, "", err)
}

// AsError converts any error into the client-facing taxonomy.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrDependencyTimeout, "", err)
	}

	return newError(ErrInternal, "", err)
}
