package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-relay/internal/server"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
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

func newApiError(code int, err error) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    strings.ToLower(http.StatusText(code)),
		Err:        err,
	}
}

func NewBadRequestError(reason string) *ApiError {
	e := newApiError(http.StatusBadRequest, nil)
	if reason != "" {
		e.Message = reason
	}
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized, nil)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden, nil)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, nil)
}

func NewInternalServerError(err error) *ApiError {
	return newApiError(http.StatusInternalServerError, err)
}

func NewServiceUnavailableError(err error) *ApiError {
	return newApiError(http.StatusServiceUnavailable, err)
}

// errorFor maps an error from the relay to the response sent to the caller.
// Err is never serialized, so storage details stay in the log.
func errorFor(err error) *ApiError {
	if errors.Is(err, server.ErrServerClosed) {
		return NewServiceUnavailableError(err)
	}
	return NewInternalServerError(err)
}
