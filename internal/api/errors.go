package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-chatsync/internal/server"
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

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(code int) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    lower(http.StatusText(code)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError)
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden)
}

func NewMethodNotAllowedError() *ApiError {
	return newApiError(http.StatusMethodNotAllowed)
}

func NewConflictError() *ApiError {
	return newApiError(http.StatusConflict)
}

func NewServiceUnavailableError(err error) *ApiError {
	e := newApiError(http.StatusServiceUnavailable)
	e.Err = err
	return e
}

// fromChatError maps an error from the chat core onto an ApiError. Client
// errors carry the core's message, server errors keep it out of the body.
func fromChatError(err error) *ApiError {
	code, msg := server.ErrorStatus(err)
	switch code {
	case http.StatusInternalServerError:
		return NewInternalServerError(err)
	case http.StatusServiceUnavailable:
		return NewServiceUnavailableError(err)
	}

	return &ApiError{
		StatusCode: code,
		Message:    msg,
		Err:        err,
	}
}
