package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		sentinel error
	}{
		{"validation", Validation("empty", "empty"), http.StatusBadRequest, ErrValidation},
		{"unauthorized", Unauthorized("not_author", "nope"), http.StatusForbidden, ErrUnauthorized},
		{"not found", NotFound("message_not_found", "gone"), http.StatusNotFound, ErrNotFound},
		{"conflict", Conflict("exists", "exists"), http.StatusConflict, ErrConflict},
		{"plain", errors.New("boom"), http.StatusInternalServerError, ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("op: %w", tt.err)
			status := Status(wrapped)
			assert.Equal(t, tt.status, status)

			back := FromStatus(status, Code(wrapped), wrapped.Error())
			assert.ErrorIs(t, back, tt.sentinel)
			assert.Equal(t, Code(tt.err), back.Code)
		})
	}
}

func TestFromStatusDefaultsMessage(t *testing.T) {
	err := FromStatus(http.StatusGatewayTimeout, "", "")
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, http.StatusText(http.StatusGatewayTimeout), err.Error())
}
