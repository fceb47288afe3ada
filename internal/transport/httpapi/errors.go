package httpapi

import (
	"errors"
	"net/http"

	"github.com/kgellert/hodatay-classroom/internal/errs"
)

func MapError(err error) (status int, code, msg string) {
	var e *errs.Error
	if errors.As(err, &e) {
		return errs.Status(e), e.Code, e.Message
	}

	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusForbidden, "forbidden", err.Error()
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	}

	return http.StatusInternalServerError, "internal_error", "internal server error"
}

// BadRequest is used for malformed path params and bodies.
func BadRequest(msg string) error {
	return errs.Validation("invalid_request", msg)
}
