package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgellert/hodatay-classroom/internal/errs"
	response "github.com/kgellert/hodatay-classroom/internal/lib"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"coded validation", errs.Validation("text_or_attachments_required", "text or attachments is required"), http.StatusBadRequest, "text_or_attachments_required"},
		{"wrapped coded", fmt.Errorf("service: %w", errs.Unauthorized("not_author", "only the author can edit")), http.StatusForbidden, "not_author"},
		{"bare sentinel", fmt.Errorf("repo: %w", errs.ErrNotFound), http.StatusNotFound, "not_found"},
		{"unknown", errors.New("db down"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _ := MapError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	WriteError(rec, req, errs.NotFound("message_not_found", "message not found"))

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body response.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "message_not_found", body.Error.Code)
	assert.Equal(t, "message not found", body.Error.Message)
}
