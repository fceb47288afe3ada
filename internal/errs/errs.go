package errs

import (
	"errors"
	"net/http"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("not authorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrTransport    = errors.New("transport failure")
	ErrInternal     = errors.New("internal")
)

// Error wraps one of the sentinels above with a stable code and a human message.
type Error struct {
	Err     error
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

func New(sentinel error, code, message string) *Error {
	return &Error{Err: sentinel, Code: code, Message: message}
}

func Validation(code, message string) *Error {
	return New(ErrValidation, code, message)
}

func Unauthorized(code, message string) *Error {
	return New(ErrUnauthorized, code, message)
}

func NotFound(code, message string) *Error {
	return New(ErrNotFound, code, message)
}

func Conflict(code, message string) *Error {
	return New(ErrConflict, code, message)
}

func Transport(code, message string) *Error {
	return New(ErrTransport, code, message)
}

// Code returns the code of the first *Error in the chain, or "".
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Status maps an error to the HTTP status the API answers with.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTransport):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// FromStatus rebuilds a taxonomy error from an API error response.
func FromStatus(status int, code, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}

	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return Validation(code, message)
	case http.StatusUnauthorized, http.StatusForbidden:
		return Unauthorized(code, message)
	case http.StatusNotFound, http.StatusGone:
		return NotFound(code, message)
	case http.StatusConflict:
		return Conflict(code, message)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return Transport(code, message)
	}
	return New(ErrInternal, code, message)
}
