package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-consult/internal/server"
)

type ApiError struct {
	StatusCode int              `json:"status_code"`
	Code       server.ErrorCode `json:"code,omitempty"`
	Message    string           `json:"message"`
	Err        error            `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Code:       server.CodeInternal,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Code:       server.CodeAuth,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
		Err:        err,
	}
}

func NewServiceUnavailableError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusServiceUnavailable,
		Code:       server.CodeDependencyTimeout,
		Message:    lower(http.StatusText(http.StatusServiceUnavailable)),
		Err:        err,
	}
}
